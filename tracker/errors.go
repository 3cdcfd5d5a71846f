package tracker

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrTransient marks store conditions worth retrying: lock contention,
	// disk I/O failures, corrupted-page reads.
	ErrTransient = errors.New("transient store error")

	// ErrRetryExhausted terminates a bounded retry loop.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrUnsupportedDevice means no registered extractor claimed the capture.
	ErrUnsupportedDevice = errors.New("unsupported device type")
)

var transientFragments = []string{
	"SQLITE_BUSY",
	"database is locked",
	"database table is locked",
	"disk I/O error",
	"database disk image is malformed",
}

// IsTransient reports whether err should be retried by the wrapping layer.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	msg := err.Error()
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// IsDuplicate reports a uniqueness violation. Duplicates are benign: the
// offending record is discarded and the rest of a batch proceeds.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

package tracker

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type StoreOptions struct {
	// BusyTimeout is handed to SQLite so short reader/writer overlap waits
	// instead of failing. Zero means 5s.
	BusyTimeout time.Duration
	Retry       RetryConfig
}

// Store is the tracking store handle. Callers own it explicitly; there is
// no package-level singleton.
type Store struct {
	db    *gorm.DB
	retry RetryConfig
}

// Open opens (or creates) the tracking database and migrates the schema.
// The database runs in WAL journal mode so report queries are not blocked
// by an in-flight folder commit.
func Open(path string, opts StoreOptions) (*Store, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", path, busy.Milliseconds())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Firewall{}, &Policy{}, &PolicyHistory{}, &ProcessedFile{}); err != nil {
		return nil, err
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	return &Store{db: db, retry: retry}, nil
}

// OpenQuery opens an existing tracking database for querying without
// mutating its schema. Used by report tooling against historical databases.
func OpenQuery(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, retry: DefaultRetryConfig()}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	s.db = nil
	return err
}

package tracker

import (
	"encoding/json"
	"time"
)

type Firewall struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"uniqueIndex:uniq_fw_name_type;size:255"`
	DeviceType string `gorm:"uniqueIndex:uniq_fw_name_type;size:32"`
}

type Policy struct {
	ID              uint   `gorm:"primaryKey"`
	FirewallID      uint   `gorm:"uniqueIndex:uniq_policy_fw_name"`
	Name            string `gorm:"uniqueIndex:uniq_policy_fw_name;size:512"`
	CurrentHitCount int64
	LastSeen        time.Time `gorm:"index"`
	// FirstZeroHit/LastZeroHit bound the current zero-hit streak.
	// Invariant: both nil or both set, and FirstZeroHit <= LastZeroHit.
	FirstZeroHit *time.Time
	LastZeroHit  *time.Time `gorm:"index"`
	// RuleDetails is a schema-versioned JSON sidecar; the key set varies per vendor.
	RuleDetails string `gorm:"type:text"`
}

// PolicyHistory rows are append-only; one per applied update, never mutated.
type PolicyHistory struct {
	ID       uint `gorm:"primaryKey"`
	PolicyID uint `gorm:"index"`
	HitCount int64
	Date     time.Time `gorm:"index"`
}

// ProcessedFile is the dedup ledger. Filename is stored in normalized
// (slash-separated, cleaned) form.
type ProcessedFile struct {
	ID            uint   `gorm:"primaryKey"`
	FirewallID    uint   `gorm:"uniqueIndex:uniq_file_fw_name"`
	Filename      string `gorm:"uniqueIndex:uniq_file_fw_name;size:1024"`
	ProcessedDate time.Time `gorm:"index"`
}

const ruleDetailsSchema = 1

type ruleDetailsDoc struct {
	Schema int               `json:"schema"`
	Keys   map[string]string `json:"keys"`
}

func PackRuleDetails(keys map[string]string) string {
	if len(keys) == 0 {
		return ""
	}
	b, err := json.Marshal(ruleDetailsDoc{Schema: ruleDetailsSchema, Keys: keys})
	if err != nil {
		return ""
	}
	return string(b)
}

func UnpackRuleDetails(packed string) map[string]string {
	if packed == "" {
		return nil
	}
	var doc ruleDetailsDoc
	if err := json.Unmarshal([]byte(packed), &doc); err != nil {
		return nil
	}
	return doc.Keys
}

// mergeRuleDetails folds incoming keys into an existing sidecar. Empty
// incoming values never overwrite stored ones.
func mergeRuleDetails(existing string, incoming map[string]string) string {
	if len(incoming) == 0 {
		return existing
	}
	merged := UnpackRuleDetails(existing)
	if merged == nil {
		merged = make(map[string]string, len(incoming))
	}
	for k, v := range incoming {
		if v == "" {
			continue
		}
		merged[k] = v
	}
	return PackRuleDetails(merged)
}

// dateOnly truncates to a UTC calendar date. All dates in the store pass
// through here so text comparisons in SQLite stay consistent.
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"gorm.io/gorm"
)

// PolicyUpdate is one normalized hit observation for one policy.
type PolicyUpdate struct {
	Firewall    string
	DeviceType  string
	Policy      string
	HitCount    int64
	Date        time.Time
	RuleDetails map[string]string
}

// BatchResult summarizes one committed batch.
type BatchResult struct {
	Applied   int
	Discarded int
	Firewalls int
}

// HistoryPoint is one audit-trail row, oldest first.
type HistoryPoint struct {
	Date     time.Time
	HitCount int64
}

// UnusedPolicy is one match of the unused-policy query.
type UnusedPolicy struct {
	Firewall     string
	DeviceType   string
	Policy       string
	FirstZeroHit time.Time
	LastZeroHit  time.Time
	RuleDetails  map[string]string
}

// UpsertFirewall resolves or creates a firewall identity. Firewalls are
// created lazily on first sighting and never deleted.
func (s *Store) UpsertFirewall(name, deviceType string) (Firewall, error) {
	var fw Firewall
	err := s.db.Where(&Firewall{Name: name, DeviceType: deviceType}).FirstOrCreate(&fw).Error
	return fw, err
}

// ApplyUpdate applies a single update atomically. The batch variant is
// preferred for pipeline throughput.
func (s *Store) ApplyUpdate(u PolicyUpdate) error {
	_, err := s.ApplyBatch([]PolicyUpdate{u})
	return err
}

// ApplyBatch applies updates in input order within one transaction,
// amortizing write-lock acquisition across a folder's worth of files.
// A uniqueness violation discards only the offending record; the rest of
// the batch proceeds. Callers must present updates for the same policy in
// chronological order.
func (s *Store) ApplyBatch(updates []PolicyUpdate) (BatchResult, error) {
	var res BatchResult
	if len(updates) == 0 {
		return res, nil
	}
	firewalls := make(map[[2]string]struct{})
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := applyOne(tx, u); err != nil {
				if IsDuplicate(err) {
					res.Discarded++
					continue
				}
				return err
			}
			res.Applied++
			firewalls[[2]string{u.Firewall, u.DeviceType}] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	res.Firewalls = len(firewalls)
	return res, nil
}

// ApplyBatchRetry wraps ApplyBatch in the bounded transient-error retry.
func (s *Store) ApplyBatchRetry(ctx context.Context, updates []PolicyUpdate) (BatchResult, error) {
	return RetryWithResult(ctx, s.retry, func() (BatchResult, error) {
		return s.ApplyBatch(updates)
	})
}

// applyOne runs the hit-count state machine for one update inside tx.
//
// hitCount == 0 starts or extends a zero-hit streak: first_zero_hit is set
// when the previous count was positive (or was never set), last_zero_hit
// always moves to the update date. hitCount > 0 clears both bounds.
func applyOne(tx *gorm.DB, u PolicyUpdate) error {
	date := dateOnly(u.Date)

	var fw Firewall
	if err := tx.Where(&Firewall{Name: u.Firewall, DeviceType: u.DeviceType}).FirstOrCreate(&fw).Error; err != nil {
		return err
	}

	var p Policy
	err := tx.Where("firewall_id = ? AND name = ?", fw.ID, u.Policy).First(&p).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p = Policy{
			FirewallID:      fw.ID,
			Name:            u.Policy,
			CurrentHitCount: u.HitCount,
			LastSeen:        date,
			RuleDetails:     mergeRuleDetails("", u.RuleDetails),
		}
		if u.HitCount == 0 {
			p.FirstZeroHit = &date
			p.LastZeroHit = &date
		}
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if u.HitCount == 0 {
			if p.CurrentHitCount > 0 || p.FirstZeroHit == nil {
				p.FirstZeroHit = &date
			}
			p.LastZeroHit = &date
		} else {
			p.FirstZeroHit = nil
			p.LastZeroHit = nil
		}
		p.CurrentHitCount = u.HitCount
		p.LastSeen = date
		if len(u.RuleDetails) > 0 {
			p.RuleDetails = mergeRuleDetails(p.RuleDetails, u.RuleDetails)
		}
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
	}

	return tx.Create(&PolicyHistory{PolicyID: p.ID, HitCount: u.HitCount, Date: date}).Error
}

// NormalizeFilename converts a capture path to the ledger key form:
// cleaned, slash-separated.
func NormalizeFilename(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// IsFileProcessed reports whether a capture file was already committed for
// the named firewall. An unknown firewall is simply "not processed".
func (s *Store) IsFileProcessed(firewall, filename string) (bool, error) {
	var n int64
	err := s.db.Model(&ProcessedFile{}).
		Joins("JOIN firewalls ON firewalls.id = processed_files.firewall_id").
		Where("firewalls.name = ? AND processed_files.filename = ?", firewall, NormalizeFilename(filename)).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFileProcessed records a file in the dedup ledger. Re-marking an
// already-recorded file is benign.
func (s *Store) MarkFileProcessed(firewall, deviceType, filename string, date time.Time) error {
	fw, err := s.UpsertFirewall(firewall, deviceType)
	if err != nil {
		return err
	}
	pf := ProcessedFile{
		FirewallID:    fw.ID,
		Filename:      NormalizeFilename(filename),
		ProcessedDate: dateOnly(date),
	}
	if err := s.db.Create(&pf).Error; err != nil && !IsDuplicate(err) {
		return err
	}
	return nil
}

// MarkFileProcessedRetry wraps MarkFileProcessed in the transient retry.
func (s *Store) MarkFileProcessedRetry(ctx context.Context, firewall, deviceType, filename string, date time.Time) error {
	return Retry(ctx, s.retry, func() error {
		return s.MarkFileProcessed(firewall, deviceType, filename, date)
	})
}

// LatestProcessedFile returns the most recently processed capture for the
// named firewall, used to source config text for rule-detail extraction.
func (s *Store) LatestProcessedFile(firewall string) (ProcessedFile, bool, error) {
	var pf ProcessedFile
	err := s.db.Model(&ProcessedFile{}).
		Joins("JOIN firewalls ON firewalls.id = processed_files.firewall_id").
		Where("firewalls.name = ?", firewall).
		Order("processed_files.processed_date DESC, processed_files.id DESC").
		First(&pf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProcessedFile{}, false, nil
	}
	if err != nil {
		return ProcessedFile{}, false, err
	}
	return pf, true, nil
}

// HasNewerImport reports whether any policy of the named firewall was last
// seen on or after date. Captures older than tracked state are skipped so
// a stray old file cannot corrupt streaks.
func (s *Store) HasNewerImport(firewall string, date time.Time) (bool, error) {
	var n int64
	err := s.db.Model(&Policy{}).
		Joins("JOIN firewalls ON firewalls.id = policies.firewall_id").
		Where("firewalls.name = ? AND policies.last_seen >= ?", firewall, dateOnly(date)).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasCompleteRuleDetails reports whether every tracked policy of the named
// firewall already carries a rule-detail sidecar. Firewalls whose device
// type has no rule-detail extractor count as complete; there is nothing to
// backfill for them.
func (s *Store) HasCompleteRuleDetails(firewall string) (bool, error) {
	var fws []Firewall
	if err := s.db.Where("name = ?", firewall).Find(&fws).Error; err != nil {
		return false, err
	}
	if len(fws) == 0 {
		return false, nil
	}
	ids := make([]uint, 0, len(fws))
	for _, fw := range fws {
		if SupportsRuleDetails(fw.DeviceType) {
			ids = append(ids, fw.ID)
		}
	}
	if len(ids) == 0 {
		return true, nil
	}
	var total, missing int64
	if err := s.db.Model(&Policy{}).Where("firewall_id IN ?", ids).Count(&total).Error; err != nil {
		return false, err
	}
	if total == 0 {
		return false, nil
	}
	if err := s.db.Model(&Policy{}).Where("firewall_id IN ? AND (rule_details IS NULL OR rule_details = '')", ids).Count(&missing).Error; err != nil {
		return false, err
	}
	return missing == 0, nil
}

// UnusedPolicies returns every policy whose zero-hit streak started at
// least thresholdDays before today.
func (s *Store) UnusedPolicies(thresholdDays int, today time.Time) ([]UnusedPolicy, error) {
	cutoff := dateOnly(today).AddDate(0, 0, -thresholdDays)

	var policies []Policy
	err := s.db.
		Where("current_hit_count = 0 AND last_zero_hit IS NOT NULL AND first_zero_hit <= ?", cutoff).
		Order("firewall_id ASC, name ASC").
		Find(&policies).Error
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(policies))
	for _, p := range policies {
		ids = append(ids, p.FirewallID)
	}
	var fws []Firewall
	if err := s.db.Where("id IN ?", ids).Find(&fws).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]Firewall, len(fws))
	for _, fw := range fws {
		byID[fw.ID] = fw
	}

	out := make([]UnusedPolicy, 0, len(policies))
	for _, p := range policies {
		fw := byID[p.FirewallID]
		out = append(out, UnusedPolicy{
			Firewall:     fw.Name,
			DeviceType:   fw.DeviceType,
			Policy:       p.Name,
			FirstZeroHit: *p.FirstZeroHit,
			LastZeroHit:  *p.LastZeroHit,
			RuleDetails:  UnpackRuleDetails(p.RuleDetails),
		})
	}
	return out, nil
}

// History returns the full audit trail for one policy, oldest first.
// Unknown firewall or policy yields an empty result, never an error.
func (s *Store) History(firewall, deviceType, policy string) ([]HistoryPoint, error) {
	var fw Firewall
	err := s.db.Where(&Firewall{Name: firewall, DeviceType: deviceType}).First(&fw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p Policy
	err = s.db.Where("firewall_id = ? AND name = ?", fw.ID, policy).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []PolicyHistory
	if err := s.db.Where("policy_id = ?", p.ID).Order("date ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]HistoryPoint, 0, len(rows))
	for _, h := range rows {
		out = append(out, HistoryPoint{Date: h.Date, HitCount: h.HitCount})
	}
	return out, nil
}

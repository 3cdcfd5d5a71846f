package tracker

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ReportRow is one flagged policy in the unused-policy report.
type ReportRow struct {
	Firewall            string
	DeviceType          string
	Policy              string
	LastSeenUnused      time.Time
	FirstSeenUnused     time.Time
	DaysSinceLastImport int
	TotalDaysUnused     int
	RuleDetails         map[string]string
	Status              string
}

const reportStatusFlagged = "Flagged for Removal"

// BuildUnusedReport snapshots the store's unused-policy query and derives
// the per-row day arithmetic relative to today.
func BuildUnusedReport(s *Store, thresholdDays int, today time.Time) ([]ReportRow, error) {
	unused, err := s.UnusedPolicies(thresholdDays, today)
	if err != nil {
		return nil, err
	}
	day := dateOnly(today)
	rows := make([]ReportRow, 0, len(unused))
	for _, u := range unused {
		rows = append(rows, ReportRow{
			Firewall:            u.Firewall,
			DeviceType:          u.DeviceType,
			Policy:              u.Policy,
			LastSeenUnused:      u.LastZeroHit,
			FirstSeenUnused:     u.FirstZeroHit,
			DaysSinceLastImport: daysBetween(u.LastZeroHit, day),
			TotalDaysUnused:     daysBetween(u.FirstZeroHit, day),
			RuleDetails:         u.RuleDetails,
			Status:              reportStatusFlagged,
		})
	}
	return rows, nil
}

// WriteCSV renders report rows to w. Rule details collapse into one
// "key=value" column since the key set varies per vendor.
func WriteCSV(w io.Writer, rows []ReportRow) error {
	cw := csv.NewWriter(w)
	header := []string{
		"Firewall",
		"Device Type",
		"Policy",
		"Last Seen Unused",
		"First Seen Unused",
		"Days Since Last Import",
		"Total Days Unused",
		"Rule Details",
		"Status",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Firewall,
			r.DeviceType,
			r.Policy,
			r.LastSeenUnused.Format("2006-01-02"),
			r.FirstSeenUnused.Format("2006-01-02"),
			strconv.Itoa(r.DaysSinceLastImport),
			strconv.Itoa(r.TotalDaysUnused),
			formatDetails(r.RuleDetails),
			r.Status,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatDetails(details map[string]string) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+details[k])
	}
	return strings.Join(parts, "|")
}

func daysBetween(from, to time.Time) int {
	return int(dateOnly(to).Sub(dateOnly(from)).Hours() / 24)
}

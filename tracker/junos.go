package tracker

import (
	"regexp"
	"strconv"
	"strings"
)

// junosExtractor handles Juniper SRX "show security policies hit-count"
// captures.
type junosExtractor struct{}

func init() {
	Register("junos", junosExtractor{})
}

var (
	junosCmdRe    = regexp.MustCompile(`.*show security policies hit-count.*\n?`)
	junosHeaderRe = regexp.MustCompile(`Index\s+From zone\s+To zone\s+Name\s+Policy count`)
	junosSpacesRe = regexp.MustCompile(` +`)
	junosRowRe    = regexp.MustCompile(`^\s*\S+\s(\S+)\s(\S+)\s(\S+)\s(\d+)\s*$`)
)

func (junosExtractor) Detect(raw string) bool {
	return strings.Contains(raw, "show security policies hit-count")
}

// PreProcess strips the command echo and the column header, then collapses
// runs of spaces so rows delimit cleanly.
func (junosExtractor) PreProcess(raw string) string {
	clean := junosCmdRe.ReplaceAllString(raw, "")
	clean = junosHeaderRe.ReplaceAllString(clean, "")
	return junosSpacesRe.ReplaceAllString(clean, " ")
}

// Extract reads the tabular rows: index, from-zone, to-zone, name, count.
// The policy identity carries the zone pair, since names are only unique
// per zone pair on SRX.
func (junosExtractor) Extract(clean string) []Hit {
	var hits []Hit
	for _, line := range strings.Split(clean, "\n") {
		m := junosRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		hits = append(hits, Hit{
			Policy: "from-zone " + m[1] + " to-zone " + m[2] + " policy-name " + m[3],
			Count:  parseCount(m[4]),
		})
	}
	return hits
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

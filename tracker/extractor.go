package tracker

import (
	"bufio"
	"log"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Hit is one normalized (policy, hit count) observation.
type Hit struct {
	Policy string
	Count  int64
}

// Extractor maps raw vendor capture text to normalized hits. Extractors
// are pure: no I/O, no store access, safe to run concurrently.
type Extractor interface {
	// Detect reports whether the raw capture looks like this vendor's output.
	Detect(raw string) bool
	// PreProcess strips command echo, headers and other non-policy noise.
	PreProcess(raw string) string
	// Extract parses the cleaned text into hits.
	Extract(clean string) []Hit
}

// RuleDetailer is implemented by extractors that can derive a
// vendor-specific detail map for one policy from separately captured
// configuration text. Vendors without structured details leave it out.
type RuleDetailer interface {
	RuleDetails(policy, config string) map[string]string
}

// SupportsRuleDetails reports whether the registered extractor for the
// device type derives rule details.
func SupportsRuleDetails(deviceType string) bool {
	e, ok := registry[deviceType]
	if !ok {
		return false
	}
	_, ok = e.(RuleDetailer)
	return ok
}

// The registry is a closed, static set. Adding a vendor means adding an
// Extractor implementation and a Register call in its file's init.
var registry = map[string]Extractor{}

func Register(name string, e Extractor) {
	registry[name] = e
}

// DetectDeviceType asks each registered extractor, in stable name order,
// to claim the capture.
func DetectDeviceType(raw string) (string, Extractor, bool) {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if e := registry[name]; e.Detect(raw) {
			return name, e, true
		}
	}
	return "", nil, false
}

// FilterLines drops every capture line whose start matches an exclusion
// pattern. Matching is anchored at the beginning of the line, so a bare
// "#" pattern drops comment lines without eating lines that merely
// contain a "#".
func FilterLines(raw string, patterns []*regexp.Regexp) string {
	if len(patterns) == 0 {
		return raw
	}
	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, line := range lines {
		excluded := false
		for _, re := range patterns {
			if loc := re.FindStringIndex(line); loc != nil && loc[0] == 0 {
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// LoadExclusionPatterns compiles the exclusion list from a .rxp file, one
// pattern per line. Comment lines (^#) are always excluded regardless of
// the file; a missing file or a bad pattern is logged and skipped.
func LoadExclusionPatterns(path string) []*regexp.Regexp {
	patterns := []*regexp.Regexp{regexp.MustCompile(`^#`)}
	if path == "" {
		return patterns
	}
	f, err := os.Open(path)
	if err != nil {
		log.Printf("exclusion file %q not readable, using default patterns: %v", path, err)
		return patterns
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		re, err := regexp.Compile(line)
		if err != nil {
			log.Printf("skipping invalid exclusion pattern %q: %v", line, err)
			continue
		}
		patterns = append(patterns, re)
	}
	return patterns
}

package tracker

import (
	"regexp"
	"sort"
	"strings"
)

// asaExtractor handles Cisco ASA "show access-list" captures.
type asaExtractor struct{}

func init() {
	Register("asa", asaExtractor{})
}

var (
	asaDetectRe = regexp.MustCompile(`access-list.*hitcnt=`)
	asaHitRe    = regexp.MustCompile(`access-list\s+(\S+)\s+.*hitcnt=(\d+)`)

	asaInactiveRe  = regexp.MustCompile(`\binactive\b`)
	asaRemarkRe    = regexp.MustCompile(`^\s*access-list\s+\S+\s+(line\s+\d+\s+)?remark\s`)
	asaLogRe       = regexp.MustCompile(`\s+log$|\s+log\s+.*$`)
	asaLineNumRe   = regexp.MustCompile(`\sline\s\d+`)
	asaHitcntRe    = regexp.MustCompile(`\s\(hitcnt=\d+\)`)
	asaHashTailRe  = regexp.MustCompile(`\s+0x\w+\s*$`)
	asaIPv4Re      = regexp.MustCompile(`^(([0-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5])\.){3}([0-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5])$`)
)

const asaAnyV6 = "0000:0000:0000:0000:0000:0000:0000:0000 0000:0000:0000:0000:0000:0000:0000:0000"

func (asaExtractor) Detect(raw string) bool {
	return asaDetectRe.MatchString(raw)
}

// PreProcess drops remark and inactive lines; hit counting only cares
// about live ACEs.
func (asaExtractor) PreProcess(raw string) string {
	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if asaRemarkRe.MatchString(line) || asaInactiveRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func (asaExtractor) Extract(clean string) []Hit {
	var hits []Hit
	for _, line := range strings.Split(clean, "\n") {
		m := asaHitRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		hits = append(hits, Hit{Policy: m[1], Count: parseCount(m[2])})
	}
	return hits
}

// RuleDetails condenses every extended ACE of the named access list into
// one detail map: distinct sources, destinations, services and actions
// joined with ";".
func (asaExtractor) RuleDetails(policy, config string) map[string]string {
	srcs := map[string]struct{}{}
	dsts := map[string]struct{}{}
	srcSvcs := map[string]struct{}{}
	dstSvcs := map[string]struct{}{}
	actions := map[string]struct{}{}

	prefix := "access-list " + policy + " "
	matched := false
	for _, line := range strings.Split(config, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, prefix) || asaInactiveRe.MatchString(line) {
			continue
		}
		ace, ok := parseExtendedACE(line)
		if !ok {
			continue
		}
		matched = true
		addNonEmpty(srcs, ace.src)
		addNonEmpty(dsts, ace.dst)
		addNonEmpty(srcSvcs, ace.srcService)
		addNonEmpty(dstSvcs, ace.dstService)
		addNonEmpty(actions, ace.action)
	}
	if !matched {
		return nil
	}
	return map[string]string{
		"Source IP":           joinSorted(srcs),
		"Destination IP":      joinSorted(dsts),
		"Source Service":      joinSorted(srcSvcs),
		"Destination Service": joinSorted(dstSvcs),
		"Action":              joinSorted(actions),
	}
}

type asaACE struct {
	src        string
	dst        string
	srcService string
	dstService string
	action     string
}

// parseExtendedACE delimits one "access-list NAME extended ACTION ..." line.
// The grammar is positional; object/object-group/host/range operands each
// consume a fixed number of tokens.
func parseExtendedACE(line string) (asaACE, bool) {
	line = asaLogRe.ReplaceAllString(line, "")
	line = asaLineNumRe.ReplaceAllString(line, "")
	line = asaHitcntRe.ReplaceAllString(line, "")
	line = asaHashTailRe.ReplaceAllString(line, "")

	f := strings.Fields(line)
	if len(f) < 6 || f[0] != "access-list" || f[2] != "extended" {
		return asaACE{}, false
	}
	ace := asaACE{action: f[3]}
	rest := f[4:]
	peek := func(i int) string {
		if i < len(rest) {
			return rest[i]
		}
		return ""
	}
	pop := func(n int) {
		if n > len(rest) {
			n = len(rest)
		}
		rest = rest[n:]
	}

	// Protocol, or a service object standing in for it.
	var proto, svc string
	switch peek(0) {
	case "object-group", "object":
		svc = peek(1)
		pop(2)
	default:
		proto = peek(0)
		pop(1)
	}

	// Source.
	switch peek(0) {
	case "object-group", "object", "host":
		ace.src = peek(1)
		pop(2)
	case "range":
		ace.src = peek(1) + "-" + peek(2)
		pop(3)
	default:
		if len(rest) < 2 {
			return asaACE{}, false
		}
		ace.src = peek(0) + " " + peek(1)
		pop(2)
	}

	// Source ports.
	var srcPort string
	switch peek(0) {
	case "eq", "lt", "gt", "neq":
		srcPort = peek(0) + " " + peek(1)
		pop(2)
	case "range":
		if !asaIPv4Re.MatchString(peek(1)) {
			srcPort = peek(1) + "-" + peek(2)
			pop(3)
		}
	}

	// Destination.
	switch peek(0) {
	case "object-group", "object", "host":
		ace.dst = peek(1)
		pop(2)
	case "range":
		ace.dst = peek(1) + "-" + peek(2)
		pop(3)
	default:
		if len(rest) >= 2 {
			ace.dst = peek(0) + " " + peek(1)
			pop(2)
		}
	}

	// Whatever remains is the destination service.
	dstPort := svc
	switch {
	case len(rest) > 1 && peek(0) == "object-group":
		dstPort = peek(1)
	case len(rest) > 0:
		dstPort = strings.Join(rest, " ")
	case dstPort == "":
		dstPort = proto
	}

	ace.src = subAny(ace.src)
	ace.dst = subAny(ace.dst)
	if srcPort != "" && proto != "" {
		ace.srcService = strings.ToUpper(proto) + "/" + srcPort
	}
	if dstPort != "" {
		if proto != "" {
			ace.dstService = strings.ToUpper(proto) + "/" + dstPort
		} else {
			ace.dstService = dstPort
		}
	}
	return ace, true
}

// subAny rewrites the "any"/"any4"/"any6" keywords into explicit wildcard
// address pairs so detail values compare across devices.
func subAny(addr string) string {
	switch addr {
	case "any", "any4":
		return "0.0.0.0 0.0.0.0"
	case "any6":
		return asaAnyV6 + " " + asaAnyV6
	}
	fields := strings.Fields(addr)
	for i, f := range fields {
		switch f {
		case "any", "any4":
			fields[i] = "0.0.0.0 0.0.0.0"
		case "any6":
			fields[i] = asaAnyV6 + " " + asaAnyV6
		}
	}
	return strings.Join(fields, " ")
}

func addNonEmpty(set map[string]struct{}, v string) {
	if v != "" {
		set[v] = struct{}{}
	}
}

func joinSorted(set map[string]struct{}) string {
	vals := make([]string, 0, len(set))
	for v := range set {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	return strings.Join(vals, ";")
}

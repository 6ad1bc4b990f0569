// Package filter parses event id expressions and compiles filter criteria
// into record predicates.
package filter

import (
	"slices"
	"strconv"
	"strings"
)

// Range is an inclusive id interval with Lo <= Hi.
type Range struct {
	Lo, Hi int
}

func (r Range) contains(id int) bool { return id >= r.Lo && id <= r.Hi }

// IDFilter is a parsed id expression such as "10,20-25,-22".
type IDFilter struct {
	Include       map[int]struct{}
	IncludeRanges []Range
	Exclude       map[int]struct{}
	ExcludeRanges []Range
}

// ParseIDs parses a comma separated id expression. Tokens are "n", "a-b",
// "-n" and "-a-b"; a leading "-" excludes. Malformed tokens are dropped, so
// parsing never fails and an unparseable expression matches everything.
func ParseIDs(expr string) IDFilter {
	f := IDFilter{
		Include: make(map[int]struct{}),
		Exclude: make(map[int]struct{}),
	}
	for _, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		exclude := false
		if strings.HasPrefix(tok, "-") {
			exclude = true
			tok = strings.TrimSpace(tok[1:])
		}
		lo, hi, isRange, ok := parseToken(tok)
		if !ok {
			continue
		}
		switch {
		case exclude && isRange:
			f.ExcludeRanges = append(f.ExcludeRanges, Range{Lo: lo, Hi: hi})
		case exclude:
			f.Exclude[lo] = struct{}{}
		case isRange:
			f.IncludeRanges = append(f.IncludeRanges, Range{Lo: lo, Hi: hi})
		default:
			f.Include[lo] = struct{}{}
		}
	}
	return f
}

func parseToken(tok string) (lo, hi int, isRange, ok bool) {
	if tok == "" {
		return 0, 0, false, false
	}
	left, right, found := strings.Cut(tok, "-")
	if !found {
		n, ok := parseID(tok)
		if !ok {
			return 0, 0, false, false
		}
		return n, n, false, true
	}
	a, okA := parseID(strings.TrimSpace(left))
	b, okB := parseID(strings.TrimSpace(right))
	if !okA || !okB {
		return 0, 0, false, false
	}
	if a > b {
		a, b = b, a
	}
	return a, b, true, true
}

// parseID accepts unsigned decimal ids only.
func parseID(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Empty reports whether the filter has no tokens at all.
func (f IDFilter) Empty() bool {
	return len(f.Include) == 0 && len(f.IncludeRanges) == 0 &&
		len(f.Exclude) == 0 && len(f.ExcludeRanges) == 0
}

// Match reports whether id passes the filter. Exclusions always win.
func (f IDFilter) Match(id int) bool {
	if _, ok := f.Exclude[id]; ok {
		return false
	}
	for _, r := range f.ExcludeRanges {
		if r.contains(id) {
			return false
		}
	}
	if len(f.Include) == 0 && len(f.IncludeRanges) == 0 {
		return true
	}
	if _, ok := f.Include[id]; ok {
		return true
	}
	for _, r := range f.IncludeRanges {
		if r.contains(id) {
			return true
		}
	}
	return false
}

// String renders the filter in canonical form: includes, ranges, then
// exclusions, each group sorted.
func (f IDFilter) String() string {
	var parts []string
	for _, id := range sortedKeys(f.Include) {
		parts = append(parts, strconv.Itoa(id))
	}
	for _, r := range f.IncludeRanges {
		parts = append(parts, strconv.Itoa(r.Lo)+"-"+strconv.Itoa(r.Hi))
	}
	for _, id := range sortedKeys(f.Exclude) {
		parts = append(parts, "-"+strconv.Itoa(id))
	}
	for _, r := range f.ExcludeRanges {
		parts = append(parts, "-"+strconv.Itoa(r.Lo)+"-"+strconv.Itoa(r.Hi))
	}
	return strings.Join(parts, ",")
}

func sortedKeys(m map[int]struct{}) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

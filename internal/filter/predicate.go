package filter

import (
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/tuanbt/logscope/internal/eventlog"
)

// Predicate reports whether a record is visible.
type Predicate func(eventlog.Record) bool

// MatchAll accepts every record.
func MatchAll(eventlog.Record) bool { return true }

// Criteria is an immutable snapshot of the structured filter.
type Criteria struct {
	Levels   []eventlog.Level `json:"levels,omitempty"`
	IDs      string           `json:"ids,omitempty"`
	Source   string           `json:"source,omitempty"`
	Keyword  string           `json:"keyword,omitempty"`
	User     string           `json:"user,omitempty"`
	Computer string           `json:"computer,omitempty"`
}

// IsZero reports whether the criteria filter nothing.
func (c Criteria) IsZero() bool {
	return len(c.Levels) == 0 &&
		strings.TrimSpace(c.IDs) == "" &&
		strings.TrimSpace(c.Source) == "" &&
		strings.TrimSpace(c.Keyword) == "" &&
		strings.TrimSpace(c.User) == "" &&
		strings.TrimSpace(c.Computer) == ""
}

// Equal compares two criteria, treating the level list as a set.
func (c Criteria) Equal(o Criteria) bool {
	if c.IDs != o.IDs || c.Source != o.Source || c.Keyword != o.Keyword ||
		c.User != o.User || c.Computer != o.Computer {
		return false
	}
	return sameLevels(c.Levels, o.Levels)
}

func sameLevels(a, b []eventlog.Level) bool {
	set := make(map[eventlog.Level]bool, len(a))
	for _, l := range a {
		set[l] = true
	}
	other := make(map[eventlog.Level]bool, len(b))
	for _, l := range b {
		if !set[l] {
			return false
		}
		other[l] = true
	}
	return len(set) == len(other)
}

// ParseLevels parses a comma separated list of level names. Unknown names are
// dropped.
func ParseLevels(list string) []eventlog.Level {
	var levels []eventlog.Level
	seen := make(map[eventlog.Level]bool)
	for _, name := range strings.Split(list, ",") {
		if l, ok := eventlog.ParseLevel(name); ok && !seen[l] {
			seen[l] = true
			levels = append(levels, l)
		}
	}
	return levels
}

// Build compiles criteria into a predicate that ANDs every set dimension.
// Failures never propagate: they are logged and the predicate degrades to
// matching everything.
func Build(c Criteria, logger *slog.Logger) (pred Predicate) {
	defer func() {
		if r := recover(); r != nil {
			warn(logger, "filter build failed, matching all records", r)
			pred = MatchAll
		}
	}()

	var checks []Predicate

	if len(c.Levels) > 0 {
		allowed := make(map[eventlog.Level]bool, len(c.Levels))
		for _, l := range c.Levels {
			allowed[l] = true
		}
		checks = append(checks, func(r eventlog.Record) bool { return allowed[r.Level] })
	}

	if strings.TrimSpace(c.IDs) != "" {
		ids := ParseIDs(c.IDs)
		if ids.Empty() && logger != nil {
			logger.Warn("id filter has no valid tokens, matching all ids", "expression", c.IDs)
		}
		if !ids.Empty() {
			checks = append(checks, func(r eventlog.Record) bool { return ids.Match(r.EventID) })
		}
	}

	if m := contains(c.Source); m != nil {
		checks = append(checks, func(r eventlog.Record) bool { return m(r.Provider) })
	}
	if m := contains(c.Keyword); m != nil {
		checks = append(checks, func(r eventlog.Record) bool { return m(r.Description) })
	}
	if m := contains(c.User); m != nil {
		checks = append(checks, func(r eventlog.Record) bool { return m(r.User) })
	}
	if m := contains(c.Computer); m != nil {
		checks = append(checks, func(r eventlog.Record) bool { return m(r.Computer) })
	}

	if len(checks) == 0 {
		return MatchAll
	}
	return guard(logger, func(r eventlog.Record) bool {
		for _, check := range checks {
			if !check(r) {
				return false
			}
		}
		return true
	})
}

// Search compiles free-text search over provider, description, category and
// event id.
func Search(text string, logger *slog.Logger) Predicate {
	m := contains(text)
	if m == nil {
		return MatchAll
	}
	return guard(logger, func(r eventlog.Record) bool {
		return m(r.Provider) || m(r.Description) || m(r.Category) || m(strconv.Itoa(r.EventID))
	})
}

// And combines predicates; nil entries are ignored.
func And(preds ...Predicate) Predicate {
	var active []Predicate
	for _, p := range preds {
		if p != nil {
			active = append(active, p)
		}
	}
	switch len(active) {
	case 0:
		return MatchAll
	case 1:
		return active[0]
	}
	return func(r eventlog.Record) bool {
		for _, p := range active {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// contains returns a case-insensitive substring matcher, or nil for an empty
// needle.
func contains(needle string) func(string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return nil
	}
	folded := cases.Fold().String(needle)
	return func(haystack string) bool {
		return strings.Contains(cases.Fold().String(haystack), folded)
	}
}

// guard turns a panicking predicate into a permissive one.
func guard(logger *slog.Logger, p Predicate) Predicate {
	return func(r eventlog.Record) (ok bool) {
		defer func() {
			if rec := recover(); rec != nil {
				warn(logger, "filter evaluation failed, record kept", rec)
				ok = true
			}
		}()
		return p(r)
	}
}

func warn(logger *slog.Logger, msg string, cause any) {
	if logger != nil {
		logger.Warn(msg, "cause", cause)
	}
}

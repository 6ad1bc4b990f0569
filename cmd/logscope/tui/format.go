package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/filter"
	"github.com/tuanbt/logscope/internal/session"
)

// FormatCount renders the record count for the header.
func FormatCount(c session.CountInfo) string {
	switch {
	case c.Unavailable:
		return "n/a"
	case c.Final:
		return humanize.Comma(c.Value)
	case c.Estimate:
		return "~" + humanize.Comma(c.Value)
	case c.InProgress && c.Value > 0:
		return humanize.Comma(c.Value) + "+"
	case c.InProgress:
		return "counting"
	default:
		return "-"
	}
}

// ParseFilter reads "key=value" tokens: level, ids, source, keyword, user
// and computer. A bare word is taken as a keyword.
func ParseFilter(text string) filter.Criteria {
	var c filter.Criteria
	var keywords []string
	for _, tok := range strings.Fields(text) {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			keywords = append(keywords, tok)
			continue
		}
		switch strings.ToLower(key) {
		case "level", "levels":
			c.Levels = filter.ParseLevels(value)
		case "id", "ids":
			c.IDs = value
		case "source", "provider":
			c.Source = value
		case "keyword":
			keywords = append(keywords, value)
		case "user":
			c.User = value
		case "computer", "host":
			c.Computer = value
		default:
			keywords = append(keywords, tok)
		}
	}
	c.Keyword = strings.Join(keywords, " ")
	return c
}

// FormatFilter renders criteria back into the syntax ParseFilter reads.
func FormatFilter(c filter.Criteria) string {
	var parts []string
	if len(c.Levels) > 0 {
		names := make([]string, len(c.Levels))
		for i, l := range c.Levels {
			names[i] = strings.ToLower(string(l))
		}
		parts = append(parts, "level="+strings.Join(names, ","))
	}
	add := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			parts = append(parts, key+"="+value)
		}
	}
	add("ids", c.IDs)
	add("source", c.Source)
	add("user", c.User)
	add("computer", c.Computer)
	if c.Keyword != "" {
		parts = append(parts, c.Keyword)
	}
	return strings.Join(parts, " ")
}

// ParseSince accepts a duration back from now ("24h") or an RFC 3339 time.
// Empty input clears the lower bound.
func ParseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(text); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", text, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", text)
}

func recordDetail(rec eventlog.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Log:        %s\n", rec.Channel)
	fmt.Fprintf(&b, "Level:      %s\n", rec.Level)
	fmt.Fprintf(&b, "Time:       %s\n", rec.Time.Local().Format(time.RFC3339))
	fmt.Fprintf(&b, "Source:     %s\n", rec.Provider)
	fmt.Fprintf(&b, "Event ID:   %d\n", rec.EventID)
	fmt.Fprintf(&b, "Category:   %s\n", rec.Category)
	fmt.Fprintf(&b, "Record ID:  %d\n", rec.RecordID)
	if rec.User != "" {
		fmt.Fprintf(&b, "User:       %s\n", rec.User)
	}
	if rec.Computer != "" {
		fmt.Fprintf(&b, "Computer:   %s\n", rec.Computer)
	}
	b.WriteString("\n")
	b.WriteString(rec.Description)
	return b.String()
}

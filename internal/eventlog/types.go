// Package eventlog defines the records, sources and error taxonomy shared by
// the query, counting, monitor and session packages.
package eventlog

import (
	"strings"
	"time"
)

// AllChannels selects the merged "all logs" view in page and count requests.
const AllChannels = "*"

// Level is the canonical severity of a record.
type Level string

const (
	LevelCritical    Level = "Critical"
	LevelError       Level = "Error"
	LevelWarning     Level = "Warning"
	LevelInformation Level = "Information"
	LevelVerbose     Level = "Verbose"
	LevelUnknown     Level = "Unknown"
)

// Levels lists the selectable levels in severity order.
var Levels = []Level{LevelCritical, LevelError, LevelWarning, LevelInformation, LevelVerbose}

// ParseLevel resolves a level name case-insensitively.
func ParseLevel(name string) (Level, bool) {
	name = strings.TrimSpace(name)
	for _, l := range Levels {
		if strings.EqualFold(name, string(l)) {
			return l, true
		}
	}
	switch strings.ToLower(name) {
	case "info":
		return LevelInformation, true
	case "warn":
		return LevelWarning, true
	case "crit":
		return LevelCritical, true
	}
	return "", false
}

// Record is one immutable log entry.
type Record struct {
	Channel     string    `json:"channel"`
	Level       Level     `json:"level"`
	Time        time.Time `json:"time"`
	Provider    string    `json:"provider"`
	EventID     int       `json:"event_id"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Raw         []byte    `json:"-"`
	RecordID    int64     `json:"record_id"`
	User        string    `json:"user,omitempty"`
	Computer    string    `json:"computer,omitempty"`
}

// PageRequest asks for one bounded page of a channel.
type PageRequest struct {
	Channel   string
	Since     time.Time
	PageIndex int
	PageSize  int
}

// PageResult is a page of records ordered newest first.
type PageResult struct {
	Records []Record
	HasMore bool
	// Skipped counts malformed records passed over while scanning.
	Skipped int
}

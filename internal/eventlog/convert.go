package eventlog

import (
	"fmt"
	"strings"
)

// ReadMode selects how out-of-range levels are resolved.
type ReadMode int

const (
	// PageRead maps unknown levels to LevelUnknown.
	PageRead ReadMode = iota
	// LiveRead maps unknown levels to LevelInformation.
	LiveRead
)

// NoCategory is used when a record's task name cannot be resolved.
const NoCategory = "None"

// LevelNumber is the raw level a provider stores for l, or 0 when l has
// none.
func LevelNumber(l Level) int {
	for i, known := range Levels {
		if known == l {
			return i + 1
		}
	}
	return 0
}

// LevelFromRaw maps a provider level to its canonical name.
func LevelFromRaw(raw int, ok bool, mode ReadMode) Level {
	if ok {
		switch raw {
		case 1:
			return LevelCritical
		case 2:
			return LevelError
		case 3:
			return LevelWarning
		case 4:
			return LevelInformation
		case 5:
			return LevelVerbose
		}
	}
	if mode == LiveRead {
		return LevelInformation
	}
	return LevelUnknown
}

// MissingDescription is the placeholder used when formatting fails.
func MissingDescription(eventID int) string {
	return fmt.Sprintf("The description for Event ID %d could not be found.", eventID)
}

// FromRaw converts a provider record. Records without a timestamp cannot be
// ordered and are rejected with ErrMalformedRecord.
func FromRaw(channel string, raw RawRecord, mode ReadMode) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedRecord, r)
		}
	}()

	ts, ok := raw.Time()
	if !ok {
		return Record{}, fmt.Errorf("%w: record %d has no timestamp", ErrMalformedRecord, raw.RecordID())
	}

	lvl, hasLevel := raw.Level()
	provider, _ := raw.Provider()
	id := raw.EventID()

	return Record{
		Channel:     channel,
		Level:       LevelFromRaw(lvl, hasLevel, mode),
		Time:        ts.UTC(),
		Provider:    provider,
		EventID:     id,
		Category:    safeCategory(raw),
		Description: safeDescription(raw, id),
		Raw:         raw.Raw(),
		RecordID:    raw.RecordID(),
		User:        raw.User(),
		Computer:    raw.Computer(),
	}, nil
}

func safeCategory(raw RawRecord) (category string) {
	defer func() {
		if recover() != nil {
			category = NoCategory
		}
	}()
	name, err := raw.Category()
	if err != nil || strings.TrimSpace(name) == "" {
		return NoCategory
	}
	return name
}

func safeDescription(raw RawRecord, id int) (desc string) {
	defer func() {
		if recover() != nil {
			desc = MissingDescription(id)
		}
	}()
	text, err := raw.Description()
	if err != nil {
		return MissingDescription(id)
	}
	return text
}

// Orderable reports whether raw carries a timestamp, the minimum needed for a
// record to be listed or counted.
func Orderable(raw RawRecord) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_, ok = raw.Time()
	return ok
}

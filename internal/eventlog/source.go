package eventlog

import (
	"context"
	"time"
)

// RawRecord is a record as the provider hands it over. Category and
// Description are best-effort and may fail; conversion recovers from both.
type RawRecord interface {
	Level() (int, bool)
	Time() (time.Time, bool)
	Provider() (string, bool)
	EventID() int
	RecordID() int64
	Category() (string, error)
	Description() (string, error)
	User() string
	Computer() string
	Raw() []byte
}

// Cursor is a forward-only scan over a time-filtered query. Next returns
// io.EOF when exhausted. An error wrapping ErrMalformedRecord reports a single
// unreadable record; the cursor stays usable after it.
type Cursor interface {
	Next(ctx context.Context) (RawRecord, error)
	Close() error
}

// Watch is a live push feed for one channel. Records and Errors are closed
// once the watch ends. Close releases the underlying handle and is idempotent.
type Watch interface {
	Records() <-chan RawRecord
	Errors() <-chan error
	Close() error
}

// Estimator produces a cheap, non-authoritative record count.
type Estimator interface {
	EstimateCount(ctx context.Context, channel string, since time.Time) (int64, error)
}

// Capabilities lists optional features of a Source. Nil fields are absent.
type Capabilities struct {
	Estimator Estimator
}

// Source is an append-only, host-managed event log provider.
type Source interface {
	ListChannels(ctx context.Context) ([]string, error)
	// OpenQuery returns records with Time >= since, newest first.
	OpenQuery(ctx context.Context, channel string, since time.Time) (Cursor, error)
	Watch(ctx context.Context, channel string) (Watch, error)
	Capabilities() Capabilities
}

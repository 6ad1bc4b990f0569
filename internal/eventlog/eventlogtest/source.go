// Package eventlogtest provides an in-memory eventlog.Source for tests.
package eventlogtest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuanbt/logscope/internal/eventlog"
)

// Record is a configurable eventlog.RawRecord.
type Record struct {
	ID        int64
	At        time.Time
	NoTime    bool
	Lvl       int
	NoLevel   bool
	Prov      string
	Event     int
	Task      string
	TaskErr   error
	Desc      string
	DescErr   error
	DescPanic bool
	UserName  string
	Host      string
	// Malformed makes the cursor report this record as unreadable.
	Malformed bool
}

func (r *Record) Level() (int, bool)       { return r.Lvl, !r.NoLevel }
func (r *Record) Time() (time.Time, bool)  { return r.At, !r.NoTime && !r.At.IsZero() }
func (r *Record) Provider() (string, bool) { return r.Prov, r.Prov != "" }
func (r *Record) EventID() int             { return r.Event }
func (r *Record) RecordID() int64          { return r.ID }
func (r *Record) User() string             { return r.UserName }
func (r *Record) Computer() string         { return r.Host }
func (r *Record) Raw() []byte              { return []byte(fmt.Sprintf(`{"record_id":%d}`, r.ID)) }

func (r *Record) Category() (string, error) {
	if r.TaskErr != nil {
		return "", r.TaskErr
	}
	return r.Task, nil
}

func (r *Record) Description() (string, error) {
	if r.DescPanic {
		panic("message table unavailable")
	}
	if r.DescErr != nil {
		return "", r.DescErr
	}
	return r.Desc, nil
}

// Source is an in-memory eventlog.Source. The zero value is not usable; call New.
type Source struct {
	mu        sync.Mutex
	channels  map[string][]*Record
	order     []string
	queryErr  map[string]error
	scanErr   map[string]scanFailure
	watchErr  map[string]error
	watches   map[string][]*Watch
	estimate  int64
	estimator bool

	// ScanDelay slows every cursor step so cancellation can be observed.
	ScanDelay time.Duration

	opened  atomic.Int32
	closed  atomic.Int32
	watched atomic.Int32
	release atomic.Int32
}

// New returns an empty source.
func New() *Source {
	return &Source{
		channels: make(map[string][]*Record),
		queryErr: make(map[string]error),
		scanErr:  make(map[string]scanFailure),
		watchErr: make(map[string]error),
		watches:  make(map[string][]*Watch),
	}
}

// AddChannel registers an empty channel.
func (s *Source) AddChannel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[name]; !ok {
		s.channels[name] = nil
		s.order = append(s.order, name)
	}
}

// Append stores records in the channel without notifying watchers.
func (s *Source) Append(channel string, recs ...*Record) {
	s.AddChannel(channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel] = append(s.channels[channel], recs...)
}

// Generate appends n records one second apart ending at end, ids 1..n.
func (s *Source) Generate(channel string, n int, end time.Time) {
	recs := make([]*Record, 0, n)
	for i := 1; i <= n; i++ {
		recs = append(recs, &Record{
			ID:    int64(i),
			At:    end.Add(-time.Duration(n-i) * time.Second),
			Lvl:   4,
			Prov:  "Generator",
			Event: 1000 + i%10,
			Task:  "General",
			Desc:  fmt.Sprintf("event %d", i),
		})
	}
	s.Append(channel, recs...)
}

// Push appends a record and delivers it to every live watch of the channel.
func (s *Source) Push(channel string, rec *Record) {
	s.Append(channel, rec)
	s.mu.Lock()
	targets := append([]*Watch(nil), s.watches[channel]...)
	s.mu.Unlock()
	for _, w := range targets {
		w.deliver(rec)
	}
}

// FailWatches sends err to every live watch of the channel and ends it.
func (s *Source) FailWatches(channel string, err error) {
	s.mu.Lock()
	targets := append([]*Watch(nil), s.watches[channel]...)
	s.mu.Unlock()
	for _, w := range targets {
		w.fail(err)
	}
}

// SetQueryError makes OpenQuery fail for channel.
func (s *Source) SetQueryError(channel string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr[channel] = err
}

type scanFailure struct {
	after int
	err   error
}

// SetScanError makes cursors on channel fail with err after yielding
// after records.
func (s *Source) SetScanError(channel string, after int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanErr[channel] = scanFailure{after: after, err: err}
}

// SetWatchError makes Watch fail for channel.
func (s *Source) SetWatchError(channel string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchErr[channel] = err
}

// SetEstimate enables the Estimator capability with a fixed answer.
func (s *Source) SetEstimate(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimate = n
	s.estimator = true
}

// OpenCursors reports cursors opened but not yet closed.
func (s *Source) OpenCursors() int { return int(s.opened.Load() - s.closed.Load()) }

// LiveWatches reports watches created but not yet released.
func (s *Source) LiveWatches() int { return int(s.watched.Load() - s.release.Load()) }

func (s *Source) ListChannels(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

func (s *Source) OpenQuery(ctx context.Context, channel string, since time.Time) (eventlog.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.queryErr[channel]; err != nil {
		return nil, err
	}
	recs, ok := s.channels[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", eventlog.ErrNotFound, channel)
	}
	var matched []*Record
	for _, r := range recs {
		if !since.IsZero() && !r.NoTime && r.At.Before(since) {
			continue
		}
		matched = append(matched, r)
	}
	// Newest first; equal timestamps keep the latest append first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].At.After(matched[j].At) })
	s.opened.Add(1)
	cur := &cursor{src: s, recs: matched, delay: s.ScanDelay}
	if f, ok := s.scanErr[channel]; ok {
		cur.failAt, cur.failErr = f.after, f.err
	}
	return cur, nil
}

func (s *Source) Watch(ctx context.Context, channel string) (eventlog.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.watchErr[channel]; err != nil {
		return nil, err
	}
	if _, ok := s.channels[channel]; !ok {
		return nil, fmt.Errorf("%w: %s", eventlog.ErrNotFound, channel)
	}
	w := &Watch{
		src:     s,
		channel: channel,
		records: make(chan eventlog.RawRecord, 64),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	s.watches[channel] = append(s.watches[channel], w)
	s.watched.Add(1)
	return w, nil
}

func (s *Source) Capabilities() eventlog.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.estimator {
		return eventlog.Capabilities{}
	}
	return eventlog.Capabilities{Estimator: estimator{n: s.estimate}}
}

type estimator struct{ n int64 }

func (e estimator) EstimateCount(ctx context.Context, channel string, since time.Time) (int64, error) {
	return e.n, nil
}

type cursor struct {
	src    *Source
	recs   []*Record
	pos    int
	delay  time.Duration
	closed bool

	failAt  int
	failErr error
}

func (c *cursor) Next(ctx context.Context) (eventlog.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.delay):
		}
	}
	if c.failErr != nil && c.pos >= c.failAt {
		return nil, c.failErr
	}
	if c.pos >= len(c.recs) {
		return nil, io.EOF
	}
	r := c.recs[c.pos]
	c.pos++
	if r.Malformed {
		return nil, fmt.Errorf("%w: record %d", eventlog.ErrMalformedRecord, r.ID)
	}
	return r, nil
}

func (c *cursor) Close() error {
	if !c.closed {
		c.closed = true
		c.src.closed.Add(1)
	}
	return nil
}

// Watch is the fake live feed returned by Source.Watch.
type Watch struct {
	src     *Source
	channel string
	records chan eventlog.RawRecord
	errs    chan error
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	ended   bool
}

func (w *Watch) Records() <-chan eventlog.RawRecord { return w.records }
func (w *Watch) Errors() <-chan error               { return w.errs }

func (w *Watch) deliver(rec *Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return
	}
	select {
	case w.records <- rec:
	case <-w.done:
	}
}

func (w *Watch) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return
	}
	select {
	case w.errs <- err:
	default:
	}
	w.ended = true
	close(w.records)
	close(w.errs)
}

func (w *Watch) Close() error {
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		if !w.ended {
			w.ended = true
			close(w.records)
			close(w.errs)
		}
		w.mu.Unlock()

		w.src.mu.Lock()
		list := w.src.watches[w.channel]
		for i, other := range list {
			if other == w {
				w.src.watches[w.channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		w.src.mu.Unlock()
		w.src.release.Add(1)
	})
	return nil
}

// Package counting computes record totals in the background, one task at a
// time, with cancellable progress reporting.
package counting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tuanbt/logscope/internal/eventlog"
)

// CountUnavailable is reported when the total could not be computed.
const CountUnavailable int64 = -1

// DefaultProgressInterval is the number of records between running counts.
const DefaultProgressInterval = 500

// Kind tags a progress notification.
type Kind int

const (
	// Estimate is a cheap, non-authoritative total delivered before scanning.
	Estimate Kind = iota
	// Running is a monotonically increasing partial count.
	Running
	// Final is the exact total.
	Final
	// Unavailable reports a failed count; Count is CountUnavailable.
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Estimate:
		return "estimate"
	case Running:
		return "running"
	case Final:
		return "final"
	default:
		return "unavailable"
	}
}

// Progress is one notification from a counting task.
type Progress struct {
	TaskID  string
	Channel string
	Since   time.Time
	Kind    Kind
	Count   int64
}

// Authoritative reports whether Count is an exact total.
func (p Progress) Authoritative() bool { return p.Kind == Final }

// Sink receives progress. It runs on the counting goroutine and must return
// promptly once ctx is done.
type Sink func(ctx context.Context, p Progress)

// Coordinator runs at most one counting task at a time.
type Coordinator struct {
	source   eventlog.Source
	logger   *slog.Logger
	interval int

	mu     sync.Mutex
	active *Task
}

// NewCoordinator creates a coordinator. interval <= 0 selects
// DefaultProgressInterval.
func NewCoordinator(source eventlog.Source, logger *slog.Logger, interval int) *Coordinator {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &Coordinator{source: source, logger: logger, interval: interval}
}

// Task is one counting run.
type Task struct {
	ID      string
	Channel string
	Since   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	sink   Sink
	done   chan struct{}

	emitMu  sync.Mutex
	stopped bool
}

// Done is closed when the scan goroutine has exited and released its cursor.
func (t *Task) Done() <-chan struct{} { return t.done }

// emit delivers p unless the task has been stopped.
func (t *Task) emit(p Progress) bool {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	if t.stopped || t.ctx.Err() != nil {
		return false
	}
	p.TaskID = t.ID
	p.Channel = t.Channel
	p.Since = t.Since
	if t.sink != nil {
		t.sink(t.ctx, p)
	}
	return true
}

// stop cancels the scan and closes the emission gate. No notification fires
// after it returns.
func (t *Task) stop() {
	t.cancel()
	t.emitMu.Lock()
	t.stopped = true
	t.emitMu.Unlock()
	<-t.done
}

// Start cancels any running task and begins counting channel from since.
func (c *Coordinator) Start(channel string, since time.Time, sink Sink) *Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.logger.Debug("superseding counting task", "task_id", c.active.ID, "channel", c.active.Channel)
		c.active.stop()
		c.active = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		ID:      uuid.NewString(),
		Channel: channel,
		Since:   since,
		ctx:     ctx,
		cancel:  cancel,
		sink:    sink,
		done:    make(chan struct{}),
	}
	c.active = t

	go c.run(t)
	return t
}

// Stop cancels the running task, if any. It is idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return
	}
	c.active.stop()
	c.logger.Debug("counting task stopped", "task_id", c.active.ID)
	c.active = nil
}

// Active returns the running task, or nil.
func (c *Coordinator) Active() *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Coordinator) run(t *Task) {
	defer close(t.done)
	defer t.cancel()

	c.logger.Info("counting started", "task_id", t.ID, "channel", t.Channel)

	if est := c.source.Capabilities().Estimator; est != nil {
		if n, err := est.EstimateCount(t.ctx, t.Channel, t.Since); err == nil {
			t.emit(Progress{Kind: Estimate, Count: n})
		} else if t.ctx.Err() == nil {
			c.logger.Debug("count estimate unavailable", "channel", t.Channel, "error", err)
		}
	}

	total, err := scanTotal(t.ctx, c.source, c.logger, t.Channel, t.Since, c.interval, func(n int64) {
		t.emit(Progress{Kind: Running, Count: n})
	})
	if err != nil {
		if eventlog.Classify(err) == eventlog.KindCanceled {
			c.logger.Debug("counting cancelled", "task_id", t.ID)
			return
		}
		c.logger.Error("counting failed", "task_id", t.ID, "channel", t.Channel, "error", err)
		t.emit(Progress{Kind: Unavailable, Count: CountUnavailable})
		return
	}

	if t.emit(Progress{Kind: Final, Count: total}) {
		c.logger.Info("counting finished", "task_id", t.ID, "channel", t.Channel, "count", total)
	}
}

// Count computes the exact total synchronously.
func Count(ctx context.Context, source eventlog.Source, logger *slog.Logger, channel string, since time.Time) (int64, error) {
	return scanTotal(ctx, source, logger, channel, since, DefaultProgressInterval, nil)
}

func scanTotal(ctx context.Context, source eventlog.Source, logger *slog.Logger, channel string, since time.Time, interval int, progress func(int64)) (int64, error) {
	if channel != eventlog.AllChannels {
		return scanChannel(ctx, source, logger, channel, since, interval, 0, progress)
	}

	channels, err := source.ListChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", eventlog.Wrap(eventlog.ErrProvider, err))
	}
	report := progress
	if progress != nil {
		// A channel that fails mid-scan has already reported partial counts.
		var emitted int64
		report = func(n int64) {
			if n > emitted {
				emitted = n
				progress(n)
			}
		}
	}

	var (
		total    int64
		failed   int
		firstErr error
	)
	for _, ch := range channels {
		n, err := scanChannel(ctx, source, logger, ch, since, interval, total, report)
		if err != nil {
			if eventlog.Classify(err) == eventlog.KindCanceled {
				return 0, err
			}
			failed++
			if firstErr == nil {
				firstErr = err
			}
			logger.Warn("channel omitted from total", "channel", ch, "error", err)
			continue
		}
		total += n
	}
	if len(channels) > 0 && failed == len(channels) {
		return 0, firstErr
	}
	return total, nil
}

// scanChannel counts convertible records. base offsets progress so running
// counts across channels stay monotonic.
func scanChannel(ctx context.Context, source eventlog.Source, logger *slog.Logger, channel string, since time.Time, interval int, base int64, progress func(int64)) (int64, error) {
	cur, err := source.OpenQuery(ctx, channel, since)
	if err != nil {
		return 0, fmt.Errorf("open query %s: %w", channel, eventlog.Wrap(eventlog.ErrProvider, err))
	}
	defer cur.Close()

	var n int64
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		raw, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, eventlog.ErrMalformedRecord) {
				skipped++
				continue
			}
			return 0, fmt.Errorf("read %s: %w", channel, eventlog.Wrap(eventlog.ErrProvider, err))
		}
		if !eventlog.Orderable(raw) {
			skipped++
			continue
		}
		n++
		if progress != nil && n%int64(interval) == 0 {
			progress(base + n)
		}
	}
	if skipped > 0 {
		logger.Warn("skipped unreadable records while counting", "channel", channel, "count", skipped)
	}
	return n, nil
}

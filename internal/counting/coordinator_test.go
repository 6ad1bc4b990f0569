package counting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/eventlog/eventlogtest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collector struct {
	mu    sync.Mutex
	items []Progress
}

func (c *collector) sink(ctx context.Context, p Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, p)
}

func (c *collector) snapshot() []Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Progress(nil), c.items...)
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("counting task did not finish")
	}
}

func TestCountFinal(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("System", 1234, time.Now())
	coord := NewCoordinator(src, testLogger(), 100)

	var c collector
	task := coord.Start("System", time.Time{}, c.sink)
	waitDone(t, task)

	got := c.snapshot()
	if len(got) == 0 {
		t.Fatal("expected progress notifications")
	}
	last := got[len(got)-1]
	if last.Kind != Final || last.Count != 1234 || !last.Authoritative() {
		t.Errorf("expected final count 1234, got %+v", last)
	}
	if last.TaskID != task.ID || last.Channel != "System" {
		t.Errorf("expected progress tagged with task, got %+v", last)
	}

	var prev int64
	for _, p := range got[:len(got)-1] {
		if p.Kind != Running {
			t.Fatalf("expected running progress before final, got %v", p.Kind)
		}
		if p.Count <= prev {
			t.Errorf("expected monotonic running counts, got %d after %d", p.Count, prev)
		}
		prev = p.Count
	}
	if len(got) != 13 {
		t.Errorf("expected 12 running counts and a final, got %d notifications", len(got))
	}
	if src.OpenCursors() != 0 {
		t.Errorf("expected cursor closed")
	}
}

func TestCountEstimateFirst(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("Application", 10, time.Now())
	src.SetEstimate(12)
	coord := NewCoordinator(src, testLogger(), 0)

	var c collector
	waitDone(t, coord.Start("Application", time.Time{}, c.sink))

	got := c.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected estimate then final, got %+v", got)
	}
	if got[0].Kind != Estimate || got[0].Count != 12 || got[0].Authoritative() {
		t.Errorf("expected non-authoritative estimate 12, got %+v", got[0])
	}
	if got[1].Kind != Final || got[1].Count != 10 {
		t.Errorf("expected final 10, got %+v", got[1])
	}
}

func TestCountUnavailable(t *testing.T) {
	src := eventlogtest.New()
	src.AddChannel("Broken")
	src.SetQueryError("Broken", errors.New("rpc server unavailable"))
	coord := NewCoordinator(src, testLogger(), 0)

	var c collector
	waitDone(t, coord.Start("Broken", time.Time{}, c.sink))

	got := c.snapshot()
	if len(got) != 1 || got[0].Kind != Unavailable || got[0].Count != CountUnavailable {
		t.Errorf("expected single unavailable notification, got %+v", got)
	}
}

func TestStartSupersedesRunningTask(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("System", 200, time.Now())
	src.Generate("Application", 5, time.Now())
	src.ScanDelay = 2 * time.Millisecond
	coord := NewCoordinator(src, testLogger(), 1)

	var c collector
	first := coord.Start("System", time.Time{}, c.sink)
	time.Sleep(20 * time.Millisecond)

	second := coord.Start("Application", time.Time{}, c.sink)
	select {
	case <-first.Done():
	default:
		t.Fatal("expected superseded task to have exited when Start returned")
	}
	cutoff := len(c.snapshot())

	waitDone(t, second)
	got := c.snapshot()
	for _, p := range got[cutoff:] {
		if p.TaskID == first.ID {
			t.Fatalf("superseded task emitted after cancellation: %+v", p)
		}
	}
	for _, p := range got {
		if p.TaskID == first.ID && p.Kind == Final {
			t.Fatalf("superseded task must not report a final count")
		}
	}
	last := got[len(got)-1]
	if last.TaskID != second.ID || last.Kind != Final || last.Count != 5 {
		t.Errorf("expected final count from second task, got %+v", last)
	}
	if src.OpenCursors() != 0 {
		t.Errorf("expected every cursor released, %d open", src.OpenCursors())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("System", 100, time.Now())
	src.ScanDelay = 2 * time.Millisecond
	coord := NewCoordinator(src, testLogger(), 1)

	var c collector
	task := coord.Start("System", time.Time{}, c.sink)
	time.Sleep(10 * time.Millisecond)
	coord.Stop()
	coord.Stop()

	if coord.Active() != nil {
		t.Error("expected no active task after Stop")
	}
	select {
	case <-task.Done():
	default:
		t.Fatal("expected task finished once Stop returned")
	}
	n := len(c.snapshot())
	time.Sleep(20 * time.Millisecond)
	if len(c.snapshot()) != n {
		t.Error("expected no notifications after Stop")
	}
	for _, p := range c.snapshot() {
		if p.Kind == Final || p.Kind == Unavailable {
			t.Errorf("cancelled task must stay silent, got %+v", p)
		}
	}
}

func TestCountAllChannels(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("Application", 7, time.Now())
	src.Generate("System", 5, time.Now())
	src.AddChannel("Security")
	src.SetQueryError("Security", eventlog.ErrAccessDenied)

	n, err := Count(context.Background(), src, testLogger(), eventlog.AllChannels, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 12 {
		t.Errorf("expected 12 records across readable channels, got %d", n)
	}
}

func TestCountAllChannelsRunningStaysMonotonic(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("Application", 10, time.Now())
	src.SetScanError("Application", 5, errors.New("rpc connection reset"))
	src.Generate("System", 3, time.Now())
	coord := NewCoordinator(src, testLogger(), 1)

	var c collector
	waitDone(t, coord.Start(eventlog.AllChannels, time.Time{}, c.sink))

	got := c.snapshot()
	if len(got) == 0 {
		t.Fatal("expected progress notifications")
	}
	var last int64
	for _, p := range got {
		if p.Kind != Running {
			continue
		}
		if p.Count <= last {
			t.Fatalf("running count went from %d to %d: %+v", last, p.Count, got)
		}
		last = p.Count
	}
	final := got[len(got)-1]
	if final.Kind != Final || final.Count != 3 {
		t.Errorf("expected final 3 from the readable channel, got %+v", final)
	}
}

func TestCountAllChannelsEveryChannelFails(t *testing.T) {
	src := eventlogtest.New()
	src.AddChannel("Security")
	src.SetQueryError("Security", eventlog.ErrAccessDenied)
	src.Generate("System", 4, time.Now())
	src.SetScanError("System", 2, errors.New("rpc server unavailable"))

	if _, err := Count(context.Background(), src, testLogger(), eventlog.AllChannels, time.Time{}); err == nil {
		t.Fatal("expected error when no channel is readable")
	}

	coord := NewCoordinator(src, testLogger(), 1)
	var c collector
	waitDone(t, coord.Start(eventlog.AllChannels, time.Time{}, c.sink))

	got := c.snapshot()
	if len(got) == 0 {
		t.Fatal("expected progress notifications")
	}
	last := got[len(got)-1]
	if last.Kind != Unavailable || last.Count != CountUnavailable {
		t.Errorf("expected unavailable, got %+v", got)
	}
	for _, p := range got {
		if p.Kind == Final {
			t.Errorf("unexpected final notification %+v", p)
		}
	}
}

func TestCountSkipsMalformed(t *testing.T) {
	now := time.Now()
	src := eventlogtest.New()
	src.Append("App",
		&eventlogtest.Record{ID: 1, At: now},
		&eventlogtest.Record{ID: 2, Malformed: true, At: now},
		&eventlogtest.Record{ID: 3, NoTime: true},
		&eventlogtest.Record{ID: 4, At: now},
	)
	n, err := Count(context.Background(), src, testLogger(), "App", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 countable records, got %d", n)
	}
}

func TestCountCancelled(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("System", 100, time.Now())
	src.ScanDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Count(ctx, src, testLogger(), "System", time.Time{})
	if eventlog.Classify(err) != eventlog.KindCanceled {
		t.Errorf("expected cancellation, got %v", err)
	}
}

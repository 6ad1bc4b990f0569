package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/eventlog/eventlogtest"
	"github.com/tuanbt/logscope/internal/filter"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// drain applies background messages until cond holds.
func drain(t *testing.T, c *Controller, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case msg := <-c.Messages():
			c.Apply(msg)
		case <-deadline:
			t.Fatalf("timed out waiting for %s (status %q)", what, c.Status())
		}
	}
}

func loaded(c *Controller) func() bool {
	return func() bool { return !c.Busy() }
}

type recorder struct {
	events []Msg
}

func (r *recorder) notify(msg Msg) { r.events = append(r.events, msg) }

func (r *recorder) monitorEvents() []MonitorStateMsg {
	var out []MonitorStateMsg
	for _, e := range r.events {
		if m, ok := e.(MonitorStateMsg); ok {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) countStarts() int {
	n := 0
	for _, e := range r.events {
		if m, ok := e.(CountStateMsg); ok && m.Active {
			n++
		}
	}
	return n
}

func mixedSource() *eventlogtest.Source {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	src := eventlogtest.New()
	src.Append("Application",
		&eventlogtest.Record{ID: 1, At: now.Add(1 * time.Second), Lvl: 2, Prov: "Disk", Event: 10, Desc: "disk failure"},
		&eventlogtest.Record{ID: 2, At: now.Add(2 * time.Second), Lvl: 3, Prov: "Disk", Event: 20, Desc: "disk slow"},
		&eventlogtest.Record{ID: 3, At: now.Add(3 * time.Second), Lvl: 4, Prov: "Winlogon", Event: 21, Desc: "user logon"},
		&eventlogtest.Record{ID: 4, At: now.Add(4 * time.Second), Lvl: 4, Prov: "Winlogon", Event: 22, Desc: "user logoff"},
		&eventlogtest.Record{ID: 5, At: now.Add(5 * time.Second), Lvl: 2, Prov: "Service", Event: 30, Desc: "service crashed"},
	)
	return src
}

func visibleIDs(c *Controller) []int64 {
	var ids []int64
	for _, r := range c.Visible() {
		ids = append(ids, r.RecordID)
	}
	return ids
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSelectChannelLoadsPageAndCounts(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("System", 120, time.Now())
	c := NewController(src, testLogger(), Options{PageSize: 50, CountProgressInterval: 10})
	defer c.Close()

	if c.State() != Idle {
		t.Fatalf("expected idle session, got %s", c.State())
	}
	c.SelectChannel("System")
	if !c.Busy() {
		t.Error("expected fetch in flight")
	}
	if c.NextPage() {
		t.Error("expected NextPage ignored while loading")
	}

	drain(t, c, "final count", func() bool { return !c.Busy() && c.Count().Final })

	if c.State() != Loaded {
		t.Errorf("expected loaded, got %s", c.State())
	}
	if len(c.Visible()) != 50 || !c.HasMore() {
		t.Errorf("expected 50 records with more, got %d more=%v", len(c.Visible()), c.HasMore())
	}
	if c.Count().Value != 120 {
		t.Errorf("expected total 120, got %d", c.Count().Value)
	}
}

func TestPaging(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("System", 120, time.Now())
	rec := &recorder{}
	c := NewController(src, testLogger(), Options{PageSize: 50, Notify: rec.notify})
	defer c.Close()

	c.SelectChannel("System")
	drain(t, c, "page 1", func() bool { return !c.Busy() && c.Count().Final })

	if c.PrevPage() {
		t.Error("expected PrevPage ignored on the first page")
	}
	for i := 1; i <= 2; i++ {
		if !c.NextPage() {
			t.Fatalf("expected NextPage to page %d", i+1)
		}
		drain(t, c, "next page", loaded(c))
	}
	if c.PageIndex() != 2 || len(c.Records()) != 20 || c.HasMore() {
		t.Errorf("expected last page with 20 records, got page %d len %d more %v", c.PageIndex(), len(c.Records()), c.HasMore())
	}
	if c.NextPage() {
		t.Error("expected NextPage ignored past the end")
	}
	if !c.PrevPage() {
		t.Fatal("expected PrevPage to succeed")
	}
	drain(t, c, "previous page", loaded(c))
	if c.PageIndex() != 1 || len(c.Records()) != 50 {
		t.Errorf("expected page 2 with 50 records, got page %d len %d", c.PageIndex(), len(c.Records()))
	}

	if !c.Count().Final || c.Count().Value != 120 {
		t.Errorf("expected known total reused, got %+v", c.Count())
	}
	if n := rec.countStarts(); n != 1 {
		t.Errorf("expected counting started once for the same range, got %d", n)
	}
}

func TestStalePageResultIsDropped(t *testing.T) {
	src := eventlogtest.New()
	src.Generate("Slow", 30, time.Now())
	src.Generate("Fast", 3, time.Now())
	src.ScanDelay = time.Millisecond
	c := NewController(src, testLogger(), Options{PageSize: 10})
	defer c.Close()

	c.SelectChannel("Slow")
	c.SelectChannel("Fast")
	drain(t, c, "page", loaded(c))

	if c.Channel() != "Fast" {
		t.Fatalf("expected Fast selected, got %s", c.Channel())
	}
	for _, r := range c.Records() {
		if r.Channel != "Fast" {
			t.Fatalf("stale record from %s leaked into the view", r.Channel)
		}
	}
	if len(c.Records()) != 3 {
		t.Errorf("expected 3 records, got %d", len(c.Records()))
	}
}

func TestPageErrorSetsStatus(t *testing.T) {
	src := eventlogtest.New()
	src.AddChannel("Security")
	src.SetQueryError("Security", eventlog.ErrAccessDenied)
	c := NewController(src, testLogger(), Options{})
	defer c.Close()

	c.SelectChannel("Security")
	drain(t, c, "failed page", loaded(c))

	if c.State() != Idle || len(c.Records()) != 0 {
		t.Errorf("expected empty idle session, got %s with %d records", c.State(), len(c.Records()))
	}
	if !strings.Contains(c.Status(), "denied") {
		t.Errorf("expected access denied status, got %q", c.Status())
	}
	if err := c.ToggleMonitoring(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded, got %v", err)
	}
}

func TestFilterRecomputesWithoutQuery(t *testing.T) {
	c := NewController(mixedSource(), testLogger(), Options{})
	defer c.Close()

	c.SelectChannel("Application")
	drain(t, c, "page", func() bool { return !c.Busy() && c.Count().Final })
	all := visibleIDs(c)

	c.ClearFilter()
	if c.Modes() != 0 || !sameIDs(visibleIDs(c), all) {
		t.Errorf("expected clearing an unset filter to be a no-op")
	}

	criteria := filter.Criteria{Levels: []eventlog.Level{eventlog.LevelError}}
	c.ApplyFilter(criteria)
	if c.Busy() {
		t.Fatal("applying a filter must not re-query")
	}
	first := visibleIDs(c)
	if !sameIDs(first, []int64{5, 1}) {
		t.Errorf("expected error records 5 and 1, got %v", first)
	}
	c.ApplyFilter(criteria)
	if !sameIDs(visibleIDs(c), first) {
		t.Errorf("expected identical view after re-applying the filter")
	}
	if !c.Modes().Has(Filtering) {
		t.Error("expected filtering mode")
	}

	c.ApplyFilter(filter.Criteria{IDs: "20-30,-30"})
	if got := visibleIDs(c); !sameIDs(got, []int64{4, 3, 2}) {
		t.Errorf("expected id range view, got %v", got)
	}

	c.ClearFilter()
	if c.Modes().Has(Filtering) || !sameIDs(visibleIDs(c), all) {
		t.Errorf("expected full view after clearing, got %v", visibleIDs(c))
	}
}

func TestSearchIsDebounced(t *testing.T) {
	c := NewController(mixedSource(), testLogger(), Options{SearchDebounce: 20 * time.Millisecond})
	defer c.Close()

	c.SelectChannel("Application")
	drain(t, c, "page", loaded(c))

	c.SetSearch("d")
	c.SetSearch("di")
	c.SetSearch("disk")
	if c.Modes().Has(Searching) {
		t.Fatal("expected search deferred until the quiet interval")
	}
	drain(t, c, "search", func() bool { return c.Modes().Has(Searching) })

	if c.SearchText() != "disk" {
		t.Errorf("expected last search text applied, got %q", c.SearchText())
	}
	if got := visibleIDs(c); !sameIDs(got, []int64{2, 1}) {
		t.Errorf("expected disk records, got %v", got)
	}

	c.ApplyFilter(filter.Criteria{Levels: []eventlog.Level{eventlog.LevelWarning}})
	if got := visibleIDs(c); !sameIDs(got, []int64{2}) {
		t.Errorf("expected filter and search combined, got %v", got)
	}

	c.SetSearch("")
	drain(t, c, "search cleared", func() bool { return !c.Modes().Has(Searching) })
}

func TestSearchWithoutDebounceAppliesInline(t *testing.T) {
	c := NewController(mixedSource(), testLogger(), Options{})
	defer c.Close()

	c.SelectChannel("Application")
	drain(t, c, "page", loaded(c))
	c.SetSearch("30")
	if got := visibleIDs(c); !sameIDs(got, []int64{5}) {
		t.Errorf("expected event id search to match record 5, got %v", got)
	}
}

func TestMonitoringPrependsAndTrims(t *testing.T) {
	src := eventlogtest.New()
	end := time.Now().UTC()
	src.Generate("System", 5, end)
	rec := &recorder{}
	c := NewController(src, testLogger(), Options{PageSize: 5, Notify: rec.notify})
	defer c.Close()

	if err := c.ToggleMonitoring(); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded before a page loads, got %v", err)
	}

	c.SelectChannel("System")
	drain(t, c, "page", loaded(c))
	if err := c.ToggleMonitoring(); err != nil {
		t.Fatalf("toggle monitoring: %v", err)
	}
	if !c.Modes().Has(Monitoring) {
		t.Fatal("expected monitoring mode")
	}

	for i := 6; i <= 8; i++ {
		src.Push("System", &eventlogtest.Record{ID: int64(i), At: end.Add(time.Duration(i) * time.Second), Lvl: 4, Desc: fmt.Sprintf("live %d", i)})
	}
	drain(t, c, "live records", func() bool { return len(c.Records()) > 0 && c.Records()[0].RecordID == 8 })

	if got := visibleIDs(c); !sameIDs(got, []int64{8, 7, 6, 5, 4}) {
		t.Errorf("expected live records prepended and oldest evicted, got %v", got)
	}

	c.StopMonitoring()
	c.StopMonitoring()
	if c.Modes().Has(Monitoring) {
		t.Error("expected monitoring stopped")
	}
	if src.LiveWatches() != 0 {
		t.Errorf("expected watch released, %d live", src.LiveWatches())
	}
	events := rec.monitorEvents()
	if len(events) != 2 || !events[0].Active || events[1].Active {
		t.Errorf("expected one start and one stop notification, got %+v", events)
	}
}

func TestLiveRecordsUseViewPredicate(t *testing.T) {
	src := mixedSource()
	c := NewController(src, testLogger(), Options{PageSize: 10})
	defer c.Close()

	c.SelectChannel("Application")
	drain(t, c, "page", loaded(c))
	c.ApplyFilter(filter.Criteria{Levels: []eventlog.Level{eventlog.LevelError}})
	if err := c.ToggleMonitoring(); err != nil {
		t.Fatalf("toggle monitoring: %v", err)
	}

	now := time.Now()
	src.Push("Application", &eventlogtest.Record{ID: 6, At: now, Lvl: 4, Desc: "info"})
	src.Push("Application", &eventlogtest.Record{ID: 7, At: now.Add(time.Second), Lvl: 2, Desc: "error"})
	drain(t, c, "live records", func() bool { return len(c.Records()) == 7 })

	if got := visibleIDs(c); !sameIDs(got, []int64{7, 5, 1}) {
		t.Errorf("expected filter applied to live records, got %v", got)
	}
}

func TestSelectChannelStopsMonitoring(t *testing.T) {
	src := mixedSource()
	src.Generate("System", 3, time.Now())
	c := NewController(src, testLogger(), Options{})
	defer c.Close()

	c.SelectChannel("Application")
	drain(t, c, "page", loaded(c))
	if err := c.ToggleMonitoring(); err != nil {
		t.Fatalf("toggle monitoring: %v", err)
	}
	c.SelectChannel("System")
	if c.Modes().Has(Monitoring) || src.LiveWatches() != 0 {
		t.Errorf("expected monitor retired on channel switch, %d live", src.LiveWatches())
	}
	drain(t, c, "page", loaded(c))
}

func TestMonitorAutoRestart(t *testing.T) {
	src := mixedSource()
	rec := &recorder{}
	c := NewController(src, testLogger(), Options{MaxMonitorRestarts: 1, Notify: rec.notify})
	defer c.Close()

	c.SelectChannel("Application")
	drain(t, c, "page", loaded(c))
	if err := c.ToggleMonitoring(); err != nil {
		t.Fatalf("toggle monitoring: %v", err)
	}

	src.FailWatches("Application", errors.New("service restarted"))
	restarted := func() bool {
		for _, e := range rec.monitorEvents() {
			if e.Active && e.Restart == 1 {
				return true
			}
		}
		return false
	}
	drain(t, c, "monitor restart", restarted)
	if !c.Modes().Has(Monitoring) || src.LiveWatches() != 1 {
		t.Fatalf("expected monitoring resumed with one watch, %d live", src.LiveWatches())
	}

	src.FailWatches("Application", errors.New("service restarted again"))
	drain(t, c, "monitor stop", func() bool { return !c.Modes().Has(Monitoring) })
	if src.LiveWatches() != 0 {
		t.Errorf("expected watch released, %d live", src.LiveWatches())
	}
	if !strings.Contains(c.Status(), "Monitoring stopped") {
		t.Errorf("expected stop status, got %q", c.Status())
	}
	events := rec.monitorEvents()
	last := events[len(events)-1]
	if last.Active || last.Err == nil {
		t.Errorf("expected final stop notification with error, got %+v", last)
	}
}

func TestMonitorAccessDeniedIsNotRestarted(t *testing.T) {
	for i := 0; i < 20; i++ {
		src := mixedSource()
		rec := &recorder{}
		c := NewController(src, testLogger(), Options{MaxMonitorRestarts: 3, Notify: rec.notify})

		c.SelectChannel("Application")
		drain(t, c, "page", loaded(c))
		if err := c.ToggleMonitoring(); err != nil {
			t.Fatalf("toggle monitoring: %v", err)
		}
		src.FailWatches("Application", fmt.Errorf("%w: audit policy changed", eventlog.ErrAccessDenied))
		drain(t, c, "monitor stop", func() bool { return !c.Modes().Has(Monitoring) })

		for _, e := range rec.monitorEvents() {
			if e.Restart > 0 {
				t.Fatalf("iteration %d: access denied must not restart monitoring, got %+v", i, e)
			}
		}
		events := rec.monitorEvents()
		last := events[len(events)-1]
		if !errors.Is(last.Err, eventlog.ErrAccessDenied) {
			t.Fatalf("iteration %d: expected access denied stop, got %v", i, last.Err)
		}
		if src.LiveWatches() != 0 {
			t.Fatalf("iteration %d: expected watch released, %d live", i, src.LiveWatches())
		}
		c.Close()
	}
}

func TestMonitorMergedViewRejected(t *testing.T) {
	c := NewController(mixedSource(), testLogger(), Options{})
	defer c.Close()

	c.SelectChannel(eventlog.AllChannels)
	drain(t, c, "page", loaded(c))
	if err := c.ToggleMonitoring(); !errors.Is(err, ErrNotMonitorable) {
		t.Errorf("expected ErrNotMonitorable, got %v", err)
	}
}

func TestSetSinceRequeries(t *testing.T) {
	src := eventlogtest.New()
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	src.Generate("System", 60, end)
	c := NewController(src, testLogger(), Options{PageSize: 100})
	defer c.Close()

	c.SelectChannel("System")
	drain(t, c, "page", func() bool { return !c.Busy() && c.Count().Final })
	if c.Count().Value != 60 {
		t.Fatalf("expected 60, got %d", c.Count().Value)
	}

	c.SetSince(end.Add(-9 * time.Second))
	drain(t, c, "narrowed page", func() bool { return !c.Busy() && c.Count().Final })
	if len(c.Records()) != 10 || c.Count().Value != 10 {
		t.Errorf("expected 10 records and count 10, got %d and %d", len(c.Records()), c.Count().Value)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	src := mixedSource()
	c := NewController(src, testLogger(), Options{})

	c.SelectChannel("Application")
	drain(t, c, "page", loaded(c))
	if err := c.ToggleMonitoring(); err != nil {
		t.Fatalf("toggle monitoring: %v", err)
	}
	c.Close()
	c.Close()

	if src.LiveWatches() != 0 {
		t.Errorf("expected watch released on close, %d live", src.LiveWatches())
	}
	if c.Apply(PageLoadedMsg{Gen: 99}) {
		t.Error("expected closed controller to ignore messages")
	}
}

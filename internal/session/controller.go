// Package session coordinates paging, counting, filtering, search and live
// monitoring for one operator session.
//
// A Controller is owned by a single goroutine. Background work never touches
// its state directly: it posts messages to Messages, and the owner hands them
// back through Apply. Every background message carries a generation token so
// results of superseded work are dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tuanbt/logscope/internal/counting"
	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/filter"
	"github.com/tuanbt/logscope/internal/monitor"
	"github.com/tuanbt/logscope/internal/query"
)

var (
	// ErrNotLoaded is returned when monitoring is toggled before a page loads.
	ErrNotLoaded = errors.New("no page loaded")
	// ErrNotMonitorable is returned when monitoring the merged view.
	ErrNotMonitorable = errors.New("the merged view cannot be monitored")
)

// State is the coarse session state.
type State int

const (
	Idle State = iota
	Loaded
)

func (s State) String() string {
	if s == Loaded {
		return "loaded"
	}
	return "idle"
}

// Mode is a set of modes layered on top of Loaded.
type Mode uint8

const (
	Monitoring Mode = 1 << iota
	Filtering
	Searching
)

// Has reports whether all of x are set.
func (m Mode) Has(x Mode) bool { return m&x == x }

func (m Mode) String() string {
	var parts []string
	if m.Has(Monitoring) {
		parts = append(parts, "monitoring")
	}
	if m.Has(Filtering) {
		parts = append(parts, "filtering")
	}
	if m.Has(Searching) {
		parts = append(parts, "searching")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// CountInfo is the count shown for the current channel and time range.
type CountInfo struct {
	Value       int64
	Final       bool
	Estimate    bool
	Unavailable bool
	InProgress  bool
}

// Options tune a Controller. Zero values select defaults.
type Options struct {
	PageSize               int
	LiveRecordCap          int
	MonitorQueueSize       int
	SearchDebounce         time.Duration
	CountProgressInterval  int
	Parallelism            int
	MaxMonitorRestarts     int
	MonitorRestartCooldown time.Duration
	// Notify receives lifecycle notifications on the owning goroutine.
	Notify func(Msg)
}

// DefaultPageSize is used when Options.PageSize is unset.
const DefaultPageSize = 50

type countKey struct {
	channel string
	since   int64
}

// Controller is the session state machine.
type Controller struct {
	logger   *slog.Logger
	opts     Options
	engine   *query.Engine
	counter  *counting.Coordinator
	monitors *monitor.Manager
	msgs     chan Msg

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	state     State
	modes     Mode
	channel   string
	since     time.Time
	pageIndex int
	records   []eventlog.Record
	visible   []eventlog.Record
	hasMore   bool
	busy      bool
	status    string

	criteria   filter.Criteria
	searchText string
	predicate  filter.Predicate
	search     debouncer

	count    CountInfo
	counting bool
	totals   map[countKey]int64

	pageGen     uint64
	countGen    uint64
	monGen      uint64
	searchGen   uint64
	fetchCancel context.CancelFunc

	sub          *monitor.Subscription
	pumpCancel   context.CancelFunc
	restarts     int
	restartTimer *time.Timer
}

// NewController creates an idle session over source.
func NewController(source eventlog.Source, logger *slog.Logger, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.LiveRecordCap <= 0 {
		opts.LiveRecordCap = opts.PageSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		logger:    logger,
		opts:      opts,
		engine:    query.NewEngine(source, logger, opts.Parallelism),
		counter:   counting.NewCoordinator(source, logger, opts.CountProgressInterval),
		monitors:  monitor.NewManager(source, logger, opts.MonitorQueueSize),
		msgs:      make(chan Msg, 256),
		ctx:       ctx,
		cancel:    cancel,
		predicate: filter.MatchAll,
		search:    debouncer{delay: opts.SearchDebounce},
		totals:    make(map[countKey]int64),
	}
}

// Messages delivers background results. The owner must pass each one to
// Apply.
func (c *Controller) Messages() <-chan Msg { return c.msgs }

func (c *Controller) State() State               { return c.state }
func (c *Controller) Modes() Mode                { return c.modes }
func (c *Controller) Channel() string            { return c.channel }
func (c *Controller) Since() time.Time           { return c.since }
func (c *Controller) PageIndex() int             { return c.pageIndex }
func (c *Controller) PageSize() int              { return c.opts.PageSize }
func (c *Controller) HasMore() bool              { return c.hasMore }
func (c *Controller) Busy() bool                 { return c.busy }
func (c *Controller) Status() string             { return c.status }
func (c *Controller) Count() CountInfo           { return c.count }
func (c *Controller) Filter() filter.Criteria    { return c.criteria }
func (c *Controller) SearchText() string         { return c.searchText }
func (c *Controller) Records() []eventlog.Record { return c.records }

// Visible returns the loaded records that pass the filter and search. The
// slice must not be modified.
func (c *Controller) Visible() []eventlog.Record { return c.visible }

// SelectChannel switches to channel and loads its first page.
func (c *Controller) SelectChannel(channel string) {
	if c.closed {
		return
	}
	c.stopMonitoring(nil)
	c.stopCounting()
	c.channel = channel
	c.pageIndex = 0
	c.records = nil
	c.hasMore = false
	c.state = Idle
	c.count = CountInfo{}
	c.restarts = 0
	c.recompute()
	c.fetch()
}

// SetSince changes the time range and reloads from the first page.
func (c *Controller) SetSince(since time.Time) {
	if c.closed {
		return
	}
	c.stopMonitoring(nil)
	c.stopCounting()
	c.since = since.UTC()
	c.pageIndex = 0
	c.count = CountInfo{}
	if c.channel != "" {
		c.fetch()
	}
}

// NextPage loads the following page. It is ignored while a fetch is in
// flight or when no more records exist.
func (c *Controller) NextPage() bool {
	if c.closed || c.busy || c.channel == "" || !c.hasMore {
		return false
	}
	c.stopMonitoring(nil)
	c.stopCounting()
	c.pageIndex++
	c.fetch()
	return true
}

// PrevPage loads the preceding page. It is ignored while a fetch is in
// flight or on the first page.
func (c *Controller) PrevPage() bool {
	if c.closed || c.busy || c.channel == "" || c.pageIndex == 0 {
		return false
	}
	c.stopMonitoring(nil)
	c.stopCounting()
	c.pageIndex--
	c.fetch()
	return true
}

// Reload re-queries the current page and discards the cached total.
func (c *Controller) Reload() {
	if c.closed || c.channel == "" {
		return
	}
	c.stopMonitoring(nil)
	c.stopCounting()
	delete(c.totals, c.key())
	c.count = CountInfo{}
	c.fetch()
}

// ToggleMonitoring starts or stops the live feed for the current channel.
func (c *Controller) ToggleMonitoring() error {
	if c.modes.Has(Monitoring) {
		c.StopMonitoring()
		return nil
	}
	if c.closed || c.state != Loaded {
		return ErrNotLoaded
	}
	if c.channel == eventlog.AllChannels {
		c.status = "Monitoring is not available for the merged view."
		return ErrNotMonitorable
	}
	c.restarts = 0
	if err := c.startMonitoring(); err != nil {
		c.status = eventlog.StatusText(c.channel, err)
		return err
	}
	c.status = fmt.Sprintf("Monitoring %s.", c.channel)
	return nil
}

// StopMonitoring ends the live feed. Calling it when not monitoring is a
// no-op.
func (c *Controller) StopMonitoring() {
	if !c.modes.Has(Monitoring) {
		return
	}
	c.stopMonitoring(nil)
	c.status = "Monitoring stopped."
}

// ApplyFilter replaces the structured filter and recomputes the view.
func (c *Controller) ApplyFilter(criteria filter.Criteria) {
	c.criteria = criteria
	if criteria.IsZero() {
		c.modes &^= Filtering
	} else {
		c.modes |= Filtering
	}
	c.rebuildPredicate()
}

// ClearFilter removes the structured filter. Clearing an unset filter is a
// no-op.
func (c *Controller) ClearFilter() {
	if !c.modes.Has(Filtering) && c.criteria.IsZero() {
		return
	}
	c.ApplyFilter(filter.Criteria{})
}

// SetSearch schedules text as the free-text search. Only the last text set
// within the debounce interval is applied.
func (c *Controller) SetSearch(text string) {
	if c.closed {
		return
	}
	c.searchGen++
	gen := c.searchGen
	if !c.search.trigger(func() { c.post(SearchMsg{Gen: gen, Text: text}) }) {
		c.applySearch(text)
	}
}

// Apply folds a background message into the session. It reports whether the
// session changed.
func (c *Controller) Apply(msg Msg) bool {
	if c.closed {
		return false
	}
	switch m := msg.(type) {
	case PageLoadedMsg:
		return c.applyPage(m)
	case CountProgressMsg:
		return c.applyCount(m)
	case LiveRecordMsg:
		if m.Gen != c.monGen || !c.modes.Has(Monitoring) {
			return false
		}
		c.records = monitor.Prepend(c.records, c.opts.LiveRecordCap, m.Record)
		c.recompute()
		return true
	case MonitorEndedMsg:
		if m.Gen != c.monGen {
			return false
		}
		c.monitorFailed(m.Err)
		return true
	case MonitorRestartMsg:
		if m.Gen != c.monGen || !c.modes.Has(Monitoring) {
			return false
		}
		c.restartTimer = nil
		if err := c.startMonitoring(); err != nil {
			c.monitorFailed(err)
		}
		return true
	case SearchMsg:
		if m.Gen != c.searchGen {
			return false
		}
		c.applySearch(m.Text)
		return true
	}
	return false
}

// Close retires every background activity. It is idempotent.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.search.stop()
	c.stopMonitoring(nil)
	c.stopCounting()
	c.cancelFetch()
	c.monitors.Close()
	c.cancel()
	c.closed = true
}

func (c *Controller) key() countKey {
	return countKey{channel: c.channel, since: c.since.UnixNano()}
}

func (c *Controller) post(msg Msg) {
	select {
	case c.msgs <- msg:
	case <-c.ctx.Done():
	}
}

func (c *Controller) notify(msg Msg) {
	if c.opts.Notify != nil {
		c.opts.Notify(msg)
	}
}

func (c *Controller) cancelFetch() {
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
}

func (c *Controller) fetch() {
	c.cancelFetch()
	c.pageGen++
	gen := c.pageGen
	ctx, cancel := context.WithCancel(c.ctx)
	c.fetchCancel = cancel
	c.busy = true
	c.status = fmt.Sprintf("Loading %s page %d...", c.channel, c.pageIndex+1)

	req := eventlog.PageRequest{
		Channel:   c.channel,
		Since:     c.since,
		PageIndex: c.pageIndex,
		PageSize:  c.opts.PageSize,
	}
	c.logger.Debug("fetching page", "channel", req.Channel, "page_index", req.PageIndex)
	go func() {
		res, err := c.engine.FetchPage(ctx, req)
		c.post(PageLoadedMsg{Gen: gen, Request: req, Result: res, Err: err})
	}()
}

func (c *Controller) applyPage(m PageLoadedMsg) bool {
	if m.Gen != c.pageGen {
		return false
	}
	c.busy = false
	c.cancelFetch()

	if m.Err != nil {
		if eventlog.Classify(m.Err) == eventlog.KindCanceled {
			return true
		}
		c.logger.Error("page fetch failed", "channel", m.Request.Channel, "page_index", m.Request.PageIndex, "error", m.Err)
		c.state = Idle
		c.records = nil
		c.hasMore = false
		c.status = eventlog.StatusText(m.Request.Channel, m.Err)
		c.recompute()
		return true
	}

	c.state = Loaded
	c.records = m.Result.Records
	c.hasMore = m.Result.HasMore
	c.status = fmt.Sprintf("Page %d of %s: %d records.", c.pageIndex+1, c.channel, len(c.records))
	if m.Result.Skipped > 0 {
		c.status += fmt.Sprintf(" %d unreadable records skipped.", m.Result.Skipped)
	}
	c.recompute()
	c.startCounting()
	return true
}

func (c *Controller) startCounting() {
	if total, ok := c.totals[c.key()]; ok {
		c.count = CountInfo{Value: total, Final: true}
		return
	}
	c.stopCounting()
	c.countGen++
	gen := c.countGen
	c.counting = true
	c.count = CountInfo{InProgress: true}

	c.counter.Start(c.channel, c.since, func(ctx context.Context, p counting.Progress) {
		select {
		case c.msgs <- CountProgressMsg{Gen: gen, Progress: p}:
		case <-ctx.Done():
		case <-c.ctx.Done():
		}
	})
	c.notify(CountStateMsg{Channel: c.channel, Active: true, Count: c.count})
}

func (c *Controller) stopCounting() {
	if !c.counting {
		return
	}
	c.counter.Stop()
	c.countGen++
	c.counting = false
	c.count.InProgress = false
	c.notify(CountStateMsg{Channel: c.channel, Active: false, Count: c.count})
}

func (c *Controller) applyCount(m CountProgressMsg) bool {
	if m.Gen != c.countGen || !c.counting {
		return false
	}
	p := m.Progress
	switch p.Kind {
	case counting.Estimate:
		c.count = CountInfo{Value: p.Count, Estimate: true, InProgress: true}
		return true
	case counting.Running:
		c.count = CountInfo{Value: p.Count, InProgress: true}
		return true
	case counting.Final:
		c.count = CountInfo{Value: p.Count, Final: true}
		c.totals[countKey{channel: p.Channel, since: p.Since.UnixNano()}] = p.Count
	default:
		c.count = CountInfo{Value: counting.CountUnavailable, Unavailable: true}
	}
	c.counting = false
	c.notify(CountStateMsg{Channel: c.channel, Active: false, Count: c.count})
	return true
}

func (c *Controller) startMonitoring() error {
	sub, err := c.monitors.Subscribe(c.ctx, c.channel)
	if err != nil {
		return err
	}
	c.monGen++
	gen := c.monGen
	c.sub = sub
	c.modes |= Monitoring

	ctx, cancel := context.WithCancel(c.ctx)
	c.pumpCancel = cancel
	go func() {
		for rec := range sub.Records() {
			select {
			case c.msgs <- LiveRecordMsg{Gen: gen, Record: rec}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case c.msgs <- MonitorEndedMsg{Gen: gen, Err: sub.Err()}:
		case <-ctx.Done():
		}
	}()

	c.notify(MonitorStateMsg{Channel: c.channel, Active: true, Restart: c.restarts})
	return nil
}

// stopMonitoring releases the subscription and any pending restart.
func (c *Controller) stopMonitoring(cause error) {
	if !c.modes.Has(Monitoring) {
		return
	}
	c.monGen++
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
	if c.pumpCancel != nil {
		c.pumpCancel()
		c.pumpCancel = nil
	}
	if c.sub != nil {
		c.monitors.Unsubscribe(c.sub.Channel)
		c.sub = nil
	}
	c.modes &^= Monitoring
	c.notify(MonitorStateMsg{Channel: c.channel, Active: false, Err: cause})
}

// monitorFailed schedules a restart, or stops monitoring once the restart
// budget is spent.
func (c *Controller) monitorFailed(err error) {
	if err == nil {
		err = fmt.Errorf("%w: live feed closed", eventlog.ErrProvider)
	}
	if c.pumpCancel != nil {
		c.pumpCancel()
		c.pumpCancel = nil
	}
	if c.sub != nil {
		c.monitors.Unsubscribe(c.sub.Channel)
		c.sub = nil
	}

	retryable := eventlog.Classify(err) == eventlog.KindProvider
	if retryable && c.restarts < c.opts.MaxMonitorRestarts {
		c.restarts++
		c.monGen++
		gen := c.monGen
		c.status = fmt.Sprintf("Monitoring interrupted, restarting (%d/%d): %v", c.restarts, c.opts.MaxMonitorRestarts, err)
		c.logger.Warn("restarting monitor", "channel", c.channel, "attempt", c.restarts, "error", err)
		c.restartTimer = time.AfterFunc(c.opts.MonitorRestartCooldown, func() {
			c.post(MonitorRestartMsg{Gen: gen})
		})
		return
	}

	c.logger.Error("monitoring stopped after failure", "channel", c.channel, "restarts", c.restarts, "error", err)
	c.stopMonitoring(err)
	c.status = eventlog.StatusText(c.channel, err) + " Monitoring stopped."
}

func (c *Controller) applySearch(text string) {
	c.searchText = text
	if strings.TrimSpace(text) == "" {
		c.modes &^= Searching
	} else {
		c.modes |= Searching
	}
	c.rebuildPredicate()
}

func (c *Controller) rebuildPredicate() {
	c.predicate = filter.And(filter.Build(c.criteria, c.logger), filter.Search(c.searchText, c.logger))
	c.recompute()
}

// recompute derives the visible set from the loaded records. The same
// predicate covers page-loaded and live-inserted records.
func (c *Controller) recompute() {
	visible := make([]eventlog.Record, 0, len(c.records))
	for _, rec := range c.records {
		if c.predicate(rec) {
			visible = append(visible, rec)
		}
	}
	c.visible = visible
}

// Package query turns page requests into bounded, time-ordered pages read
// from a forward-only event log source.
package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/worker"
)

// DefaultParallelism bounds concurrent channel scans for AllChannels pages.
const DefaultParallelism = 4

// initialPageCap caps the up-front allocation of a scan buffer.
const initialPageCap = 1024

// Engine executes page requests against a Source. It keeps no state between
// requests: every page re-scans from the newest record.
type Engine struct {
	source      eventlog.Source
	logger      *slog.Logger
	parallelism int
}

// NewEngine creates an engine. parallelism <= 0 selects DefaultParallelism.
func NewEngine(source eventlog.Source, logger *slog.Logger, parallelism int) *Engine {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Engine{source: source, logger: logger, parallelism: parallelism}
}

// FetchPage returns page PageIndex of the channel. HasMore is true iff at
// least one more matching record exists after the page.
func (e *Engine) FetchPage(ctx context.Context, req eventlog.PageRequest) (eventlog.PageResult, error) {
	if req.PageIndex < 0 || req.PageSize <= 0 {
		return eventlog.PageResult{}, fmt.Errorf("%w: page index %d, page size %d",
			eventlog.ErrInvalidRequest, req.PageIndex, req.PageSize)
	}
	if req.Channel == "" {
		return eventlog.PageResult{}, fmt.Errorf("%w: channel is required", eventlog.ErrInvalidRequest)
	}
	// (PageIndex+1)*PageSize+1 must fit in an int.
	if req.PageIndex >= (math.MaxInt-1)/req.PageSize {
		return eventlog.PageResult{}, fmt.Errorf("%w: page window out of range (page index %d, page size %d)",
			eventlog.ErrInvalidRequest, req.PageIndex, req.PageSize)
	}

	if req.Channel == eventlog.AllChannels {
		return e.fetchMerged(ctx, req)
	}

	skip := req.PageIndex * req.PageSize
	recs, skipped, err := e.scan(ctx, req.Channel, req, skip, req.PageSize+1)
	if err != nil {
		return eventlog.PageResult{}, err
	}
	return window(recs, 0, req.PageSize, skipped), nil
}

// scan reads the channel newest first, drops skip good records, then
// collects up to limit more.
func (e *Engine) scan(ctx context.Context, channel string, req eventlog.PageRequest, skip, limit int) ([]eventlog.Record, int, error) {
	cur, err := e.source.OpenQuery(ctx, channel, req.Since)
	if err != nil {
		return nil, 0, fmt.Errorf("open query %s: %w", channel, eventlog.Wrap(eventlog.ErrProvider, err))
	}
	defer cur.Close()

	var (
		recs    = make([]eventlog.Record, 0, min(limit, initialPageCap))
		skipped int
		seen    int
	)
	for len(recs) < limit {
		raw, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, eventlog.ErrMalformedRecord) {
				skipped++
				e.logger.Debug("skipping unreadable record", "channel", channel, "error", err)
				continue
			}
			return nil, skipped, fmt.Errorf("read %s: %w", channel, eventlog.Wrap(eventlog.ErrProvider, err))
		}

		rec, err := eventlog.FromRaw(channel, raw, eventlog.PageRead)
		if err != nil {
			skipped++
			e.logger.Debug("skipping unreadable record", "channel", channel, "error", err)
			continue
		}

		if seen < skip {
			seen++
			continue
		}
		recs = append(recs, rec)
	}

	if skipped > 0 {
		e.logger.Warn("skipped unreadable records", "channel", channel, "count", skipped)
	}
	return recs, skipped, nil
}

// fetchMerged scans every channel in parallel, each up to the end of the
// requested window plus one, and merges by descending time.
func (e *Engine) fetchMerged(ctx context.Context, req eventlog.PageRequest) (eventlog.PageResult, error) {
	channels, err := e.source.ListChannels(ctx)
	if err != nil {
		return eventlog.PageResult{}, fmt.Errorf("list channels: %w", eventlog.Wrap(eventlog.ErrProvider, err))
	}
	if len(channels) == 0 {
		return eventlog.PageResult{}, nil
	}

	type scanned struct {
		recs    []eventlog.Record
		skipped int
	}
	limit := (req.PageIndex+1)*req.PageSize + 1

	jobs := make([]worker.Job[scanned], 0, len(channels))
	for _, ch := range channels {
		channel := ch
		jobs = append(jobs, worker.Job[scanned]{
			Key: channel,
			Run: func(ctx context.Context) (scanned, error) {
				recs, skipped, err := e.scan(ctx, channel, req, 0, limit)
				return scanned{recs: recs, skipped: skipped}, err
			},
		})
	}

	var (
		merged   []eventlog.Record
		skipped  int
		firstErr error
		failed   int
	)
	for _, res := range worker.RunAll(ctx, e.parallelism, e.logger, jobs) {
		if res.Err != nil {
			if eventlog.Classify(res.Err) == eventlog.KindCanceled {
				return eventlog.PageResult{}, res.Err
			}
			failed++
			if firstErr == nil {
				firstErr = res.Err
			}
			e.logger.Warn("channel omitted from merged page", "channel", res.Key, "error", res.Err)
			continue
		}
		merged = append(merged, res.Value.recs...)
		skipped += res.Value.skipped
	}
	if failed == len(channels) {
		return eventlog.PageResult{}, firstErr
	}

	sortNewestFirst(merged)
	return window(merged, req.PageIndex*req.PageSize, req.PageSize, skipped), nil
}

// window slices recs[offset:offset+size] and derives HasMore from whatever
// lies beyond it.
func window(recs []eventlog.Record, offset, size, skipped int) eventlog.PageResult {
	if offset >= len(recs) {
		return eventlog.PageResult{Skipped: skipped}
	}
	end := offset + size
	hasMore := len(recs) > end
	if end > len(recs) {
		end = len(recs)
	}
	page := make([]eventlog.Record, end-offset)
	copy(page, recs[offset:end])
	sortNewestFirst(page)
	return eventlog.PageResult{Records: page, HasMore: hasMore, Skipped: skipped}
}

func sortNewestFirst(recs []eventlog.Record) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Time.After(recs[j].Time) })
}

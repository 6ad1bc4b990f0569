// Package filelog serves channels stored as JSON Lines files in a directory.
//
// Each channel is <name>.jsonl, appended to in time order. Rotated history may
// sit beside it as <name>.jsonl.zst; archives are read-only and are scanned
// after the live file, so queries still return newest first.
package filelog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"

	"github.com/tuanbt/logscope/internal/eventlog"
)

const (
	liveExt    = ".jsonl"
	archiveExt = ".jsonl.zst"
)

// Source reads channels from a directory.
type Source struct {
	dir     string
	logger  *slog.Logger
	parsers fastjson.ParserPool
	decoder *zstd.Decoder
}

// New creates a source rooted at dir.
func New(dir string, logger *slog.Logger) (*Source, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Source{dir: dir, logger: logger, decoder: dec}, nil
}

// Close releases the archive decoder.
func (s *Source) Close() {
	s.decoder.Close()
}

func (s *Source) livePath(channel string) string    { return filepath.Join(s.dir, channel+liveExt) }
func (s *Source) archivePath(channel string) string { return filepath.Join(s.dir, channel+archiveExt) }

// ListChannels returns every channel with a live file or an archive.
func (s *Source) ListChannels(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, mapError(s.dir, err)
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var channel string
		switch {
		case strings.HasSuffix(name, archiveExt):
			channel = strings.TrimSuffix(name, archiveExt)
		case strings.HasSuffix(name, liveExt):
			channel = strings.TrimSuffix(name, liveExt)
		default:
			continue
		}
		if channel != "" && !seen[channel] {
			seen[channel] = true
			names = append(names, channel)
		}
	}
	sort.Strings(names)
	return names, nil
}

// OpenQuery scans the live file backwards, then the archive.
func (s *Source) OpenQuery(ctx context.Context, channel string, since time.Time) (eventlog.Cursor, error) {
	if err := validChannel(channel); err != nil {
		return nil, err
	}

	var segments []lineSource
	closeAll := func() {
		for _, seg := range segments {
			seg.close()
		}
	}

	live, err := os.Open(s.livePath(channel))
	switch {
	case err == nil:
		info, err := live.Stat()
		if err != nil {
			live.Close()
			return nil, mapError(channel, err)
		}
		segments = append(segments, newReverseReader(live, info.Size(), live))
	case !errors.Is(err, fs.ErrNotExist):
		return nil, mapError(channel, err)
	}

	archived, err := os.ReadFile(s.archivePath(channel))
	switch {
	case err == nil:
		data, err := s.decoder.DecodeAll(archived, nil)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%w: decode archive %s: %v", eventlog.ErrProvider, channel, err)
		}
		segments = append(segments, newMemoryLines(data))
	case !errors.Is(err, fs.ErrNotExist):
		closeAll()
		return nil, mapError(channel, err)
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %s", eventlog.ErrNotFound, channel)
	}
	return &cursor{src: s, segments: segments, since: since}, nil
}

// Capabilities advertises the size-based estimator.
func (s *Source) Capabilities() eventlog.Capabilities {
	return eventlog.Capabilities{Estimator: estimator{src: s}}
}

type cursor struct {
	src      *Source
	segments []lineSource
	since    time.Time
}

func (c *cursor) Next(ctx context.Context) (eventlog.RawRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(c.segments) == 0 {
			return nil, io.EOF
		}
		line, err := c.segments[0].next()
		if errors.Is(err, io.EOF) {
			c.segments[0].close()
			c.segments = c.segments[1:]
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", eventlog.ErrProvider, err)
		}

		p := c.src.parsers.Get()
		rec, err := parseRecord(p, line)
		c.src.parsers.Put(p)
		if err != nil {
			return nil, err
		}
		if !c.since.IsZero() && rec.hasTime && rec.at.Before(c.since) {
			continue
		}
		return rec, nil
	}
}

func (c *cursor) Close() error {
	var firstErr error
	for _, seg := range c.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.segments = nil
	return firstErr
}

// estimator divides the live file size by the mean length of its newest
// lines. It ignores since and archives.
type estimator struct {
	src *Source
}

const estimateSample = 64

func (e estimator) EstimateCount(ctx context.Context, channel string, since time.Time) (int64, error) {
	if err := validChannel(channel); err != nil {
		return 0, err
	}
	f, err := os.Open(e.src.livePath(channel))
	if err != nil {
		return 0, mapError(channel, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, mapError(channel, err)
	}
	if info.Size() == 0 {
		return 0, nil
	}

	rr := newReverseReader(f, info.Size(), nil)
	var total, lines int64
	for lines < estimateSample {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		line, err := rr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, mapError(channel, err)
		}
		total += int64(len(line)) + 1
		lines++
	}
	if lines == 0 {
		return 0, nil
	}
	return info.Size() * lines / total, nil
}

func validChannel(channel string) error {
	if channel == "" || channel == eventlog.AllChannels || strings.ContainsAny(channel, `/\`) || strings.Contains(channel, "..") {
		return fmt.Errorf("%w: invalid channel name %q", eventlog.ErrInvalidRequest, channel)
	}
	return nil
}

func mapError(name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s: %v", eventlog.ErrAccessDenied, name, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", eventlog.ErrNotFound, name)
	default:
		return eventlog.Wrap(eventlog.ErrProvider, err)
	}
}

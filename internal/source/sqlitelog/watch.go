package sqlitelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tuanbt/logscope/internal/eventlog"
)

// Watch polls for rows appended to channel after the call.
func (s *Source) Watch(ctx context.Context, channel string) (eventlog.Watch, error) {
	if err := validChannel(channel); err != nil {
		return nil, err
	}
	if err := s.channelExists(ctx, channel); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(record_id) FROM events WHERE channel = ?", channel).Scan(&last)
	if err != nil {
		return nil, mapError(channel, err)
	}

	wctx, cancel := context.WithCancel(context.Background())
	w := &pollWatch{
		src:      s,
		channel:  channel,
		last:     last.Int64,
		records:  make(chan eventlog.RawRecord, 64),
		errs:     make(chan error, 1),
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	go w.run(wctx)
	return w, nil
}

type pollWatch struct {
	src     *Source
	channel string
	last    int64

	records  chan eventlog.RawRecord
	errs     chan error
	cancel   context.CancelFunc
	finished chan struct{}
	once     sync.Once
}

func (w *pollWatch) Records() <-chan eventlog.RawRecord { return w.records }
func (w *pollWatch) Errors() <-chan error               { return w.errs }

// Close stops polling and waits for the poller to exit. It is idempotent.
func (w *pollWatch) Close() error {
	w.once.Do(func() {
		w.cancel()
		<-w.finished
	})
	return nil
}

func (w *pollWatch) run(ctx context.Context) {
	defer close(w.finished)
	defer close(w.records)
	defer close(w.errs)

	ticker := time.NewTicker(w.src.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.src.logger.Warn("sqlite watch failed", "channel", w.channel, "error", err)
			w.errs <- err
			return
		}
	}
}

// poll delivers every row newer than the last one seen, oldest first.
func (w *pollWatch) poll(ctx context.Context) error {
	rows, err := w.src.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE channel = ? AND record_id > ? ORDER BY record_id",
		w.channel, w.last)
	if err != nil {
		return fmt.Errorf("poll %s: %w", w.channel, mapError(w.channel, err))
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if errors.Is(err, eventlog.ErrMalformedRecord) {
			w.src.logger.Debug("skipping unreadable row", "channel", w.channel, "error", err)
			continue
		}
		w.last = rec.recordID
		select {
		case w.records <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("poll %s: %w", w.channel, mapError(w.channel, err))
	}
	return nil
}

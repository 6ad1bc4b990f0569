// Package monitor keeps at most one live subscription per channel and turns
// provider push events into an ordered stream of records.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tuanbt/logscope/internal/eventlog"
)

// DefaultQueueSize is the delivery buffer used when none is configured.
const DefaultQueueSize = 256

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("monitor manager closed")

// errWatchEnded reports a feed that closed without an error.
var errWatchEnded = errors.New("watch ended unexpectedly")

// Manager owns the live subscriptions of one session.
type Manager struct {
	source    eventlog.Source
	logger    *slog.Logger
	queueSize int

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// NewManager creates a manager. queueSize <= 0 selects DefaultQueueSize.
func NewManager(source eventlog.Source, logger *slog.Logger, queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Manager{
		source:    source,
		logger:    logger,
		queueSize: queueSize,
		subs:      make(map[string]*Subscription),
	}
}

// Subscribe starts watching channel. An existing subscription for the channel
// is retired, its handle released, before the new watch is opened.
func (m *Manager) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if prev, ok := m.subs[channel]; ok {
		m.logger.Debug("retiring previous subscription", "channel", channel, "subscription_id", prev.ID)
		prev.Close()
		delete(m.subs, channel)
	}

	w, err := m.source.Watch(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", channel, eventlog.Wrap(eventlog.ErrProvider, err))
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		ID:      uuid.NewString(),
		Channel: channel,
		logger:  m.logger,
		watch:   w,
		records: make(chan eventlog.Record, m.queueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.subs[channel] = s
	go s.run(subCtx)

	m.logger.Info("monitoring started", "channel", channel, "subscription_id", s.ID)
	return s, nil
}

// Unsubscribe retires the channel's subscription. Unknown channels are a
// no-op.
func (m *Manager) Unsubscribe(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[channel]
	if !ok {
		return
	}
	delete(m.subs, channel)
	s.Close()
	m.logger.Info("monitoring stopped", "channel", channel, "subscription_id", s.ID)
}

// Active reports whether channel has a subscription that is still delivering.
func (m *Manager) Active(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[channel]
	return ok && !s.ended()
}

// Close retires every subscription. Later Subscribe calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channel, s := range m.subs {
		s.Close()
		delete(m.subs, channel)
	}
	m.closed = true
}

// Subscription is one live feed. Records is closed when the feed ends; Err
// then reports why, or nil after Close.
type Subscription struct {
	ID      string
	Channel string

	logger  *slog.Logger
	watch   eventlog.Watch
	records chan eventlog.Record
	cancel  context.CancelFunc
	done    chan struct{}

	releaseOnce sync.Once

	mu  sync.Mutex
	err error
}

// Records delivers converted records in provider order.
func (s *Subscription) Records() <-chan eventlog.Record { return s.records }

// Done is closed once the feed has ended and its handle is released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the feed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the feed and waits for the handle to be released. It is
// idempotent.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Subscription) release() {
	s.releaseOnce.Do(func() {
		if err := s.watch.Close(); err != nil {
			s.logger.Warn("failed to release watch", "channel", s.Channel, "error", err)
		}
	})
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.records)
	defer s.release()

	records := s.watch.Records()
	errs := s.watch.Errors()
	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-records:
			if !ok {
				if ctx.Err() == nil {
					cause := pendingError(errs)
					if cause == nil {
						cause = errWatchEnded
					}
					err := fmt.Errorf("%s: %w", s.Channel, eventlog.Wrap(eventlog.ErrProvider, cause))
					s.fail(err)
					s.logger.Error("monitoring ended", "channel", s.Channel, "error", err)
				}
				return
			}
			rec, err := eventlog.FromRaw(s.Channel, raw, eventlog.LiveRead)
			if err != nil {
				s.logger.Debug("skipping unreadable live record", "channel", s.Channel, "error", err)
				continue
			}
			select {
			case s.records <- rec:
			case <-ctx.Done():
				return
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if ctx.Err() != nil {
				return
			}
			err = fmt.Errorf("%s: %w", s.Channel, eventlog.Wrap(eventlog.ErrProvider, err))
			s.fail(err)
			s.logger.Error("monitoring failed", "channel", s.Channel, "error", err)
			return
		}
	}
}

// pendingError returns the first error already queued on errs, if any.
func pendingError(errs <-chan error) error {
	if errs == nil {
		return nil
	}
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			if err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

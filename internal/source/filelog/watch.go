package filelog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/valyala/fastjson"

	"github.com/tuanbt/logscope/internal/eventlog"
)

var errWatchClosed = errors.New("watch closed")

// Watch follows appends to the channel's live file. Records written before
// the call are not delivered.
func (s *Source) Watch(ctx context.Context, channel string) (eventlog.Watch, error) {
	if err := validChannel(channel); err != nil {
		return nil, err
	}
	path := s.livePath(channel)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, aerr := os.Stat(s.archivePath(channel)); aerr == nil {
				return nil, fmt.Errorf("%w: %s is archived and cannot be watched", eventlog.ErrProvider, channel)
			}
		}
		return nil, mapError(channel, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eventlog.Wrap(eventlog.ErrProvider, err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, mapError(channel, err)
	}

	w := &fileWatch{
		path:     filepath.Clean(path),
		channel:  channel,
		logger:   s.logger,
		parsers:  &s.parsers,
		watcher:  watcher,
		offset:   info.Size(),
		records:  make(chan eventlog.RawRecord, 64),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

type fileWatch struct {
	path    string
	channel string
	logger  *slog.Logger
	parsers *fastjson.ParserPool
	watcher *fsnotify.Watcher

	offset  int64
	partial []byte

	records  chan eventlog.RawRecord
	errs     chan error
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func (w *fileWatch) Records() <-chan eventlog.RawRecord { return w.records }
func (w *fileWatch) Errors() <-chan error               { return w.errs }

// Close stops the watcher and waits for the reader goroutine. It is
// idempotent.
func (w *fileWatch) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		<-w.finished
	})
	return err
}

func (w *fileWatch) run() {
	defer close(w.finished)
	defer close(w.records)
	defer close(w.errs)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.offset = 0
				w.partial = nil
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := w.drain(); err != nil {
					if !errors.Is(err, errWatchClosed) {
						w.fail(err)
					}
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.fail(eventlog.Wrap(eventlog.ErrProvider, err))
			return
		}
	}
}

func (w *fileWatch) fail(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

// drain reads bytes appended since the last offset and delivers complete
// lines. A shrunken file is read again from the start.
func (w *fileWatch) drain() error {
	f, err := os.Open(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return mapError(w.channel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return mapError(w.channel, err)
	}
	size := info.Size()
	if size < w.offset {
		w.offset = 0
		w.partial = nil
	}
	if size == w.offset {
		return nil
	}

	data := make([]byte, size-w.offset)
	n, err := f.ReadAt(data, w.offset)
	if err != nil && err != io.EOF {
		return eventlog.Wrap(eventlog.ErrProvider, err)
	}
	w.offset += int64(n)
	data = append(w.partial, data[:n]...)

	lines := bytes.Split(data, []byte{'\n'})
	w.partial = append([]byte(nil), lines[len(lines)-1]...)
	for _, line := range lines[:len(lines)-1] {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		p := w.parsers.Get()
		rec, err := parseRecord(p, line)
		w.parsers.Put(p)
		if err != nil {
			w.logger.Debug("skipping unreadable appended line", "channel", w.channel, "error", err)
			continue
		}
		select {
		case w.records <- rec:
		case <-w.done:
			return errWatchClosed
		}
	}
	return nil
}

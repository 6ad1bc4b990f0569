package filelog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/valyala/fastjson"

	"github.com/tuanbt/logscope/internal/eventlog"
)

// Entry is a record to append. Message wins over Template when both are set.
type Entry struct {
	Time     time.Time
	Level    int
	Provider string
	EventID  int
	Task     string
	TaskID   int
	Message  string
	Template string
	Params   []string
	User     string
	Computer string
}

const lockRetry = 20 * time.Millisecond

// Append writes e to the channel's live file under an exclusive file lock
// and returns the record id assigned to it.
func (s *Source) Append(ctx context.Context, channel string, e Entry) (int64, error) {
	if err := validChannel(channel); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return 0, mapError(s.dir, err)
	}

	lock := flock.New(s.livePath(channel) + ".lock")
	ok, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return 0, fmt.Errorf("lock %s: %w", channel, eventlog.Wrap(eventlog.ErrProvider, err))
	}
	if !ok {
		return 0, fmt.Errorf("%w: could not lock %s", eventlog.ErrProvider, channel)
	}
	defer lock.Unlock()

	last, err := s.lastRecordID(ctx, channel)
	if err != nil {
		return 0, err
	}
	id := last + 1

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	line := encodeEntry(id, e)

	f, err := os.OpenFile(s.livePath(channel), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, mapError(channel, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return 0, eventlog.Wrap(eventlog.ErrProvider, err)
	}
	if err := f.Close(); err != nil {
		return 0, eventlog.Wrap(eventlog.ErrProvider, err)
	}
	return id, nil
}

// lastRecordID returns the highest id among the newest readable line of the
// live file and the archive.
func (s *Source) lastRecordID(ctx context.Context, channel string) (int64, error) {
	cur, err := s.OpenQuery(ctx, channel, time.Time{})
	if errors.Is(err, eventlog.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	for {
		raw, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		if errors.Is(err, eventlog.ErrMalformedRecord) {
			continue
		}
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return 0, nil
			}
			return 0, err
		}
		return raw.RecordID(), nil
	}
}

func encodeEntry(id int64, e Entry) []byte {
	var a fastjson.Arena
	o := a.NewObject()
	o.Set("record_id", a.NewNumberString(strconv.FormatInt(id, 10)))
	o.Set("time", a.NewString(e.Time.UTC().Format(time.RFC3339Nano)))
	o.Set("level", a.NewNumberInt(e.Level))
	o.Set("provider", a.NewString(e.Provider))
	o.Set("event_id", a.NewNumberInt(e.EventID))
	if e.Task != "" {
		o.Set("task", a.NewString(e.Task))
	}
	if e.TaskID != 0 {
		o.Set("task_id", a.NewNumberInt(e.TaskID))
	}
	if e.Message != "" {
		o.Set("message", a.NewString(e.Message))
	} else if e.Template != "" {
		o.Set("template", a.NewString(e.Template))
		params := a.NewArray()
		for i, p := range e.Params {
			params.SetArrayItem(i, a.NewString(p))
		}
		o.Set("params", params)
	}
	if e.User != "" {
		o.Set("user", a.NewString(e.User))
	}
	if e.Computer != "" {
		o.Set("computer", a.NewString(e.Computer))
	}
	return o.MarshalTo(nil)
}

package sqlitelog

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/tuanbt/logscope/internal/eventlog"
)

const eventColumns = "record_id, time_created, level, provider, event_id, task, message, user_name, computer, raw"

// record is one row of the events table.
type record struct {
	recordID int64
	at       sql.NullInt64
	level    sql.NullInt64
	provider string
	eventID  int
	task     sql.NullString
	message  sql.NullString
	user     string
	computer string
	raw      []byte
}

func (r *record) Level() (int, bool) { return int(r.level.Int64), r.level.Valid }

func (r *record) Time() (time.Time, bool) {
	if !r.at.Valid {
		return time.Time{}, false
	}
	return time.Unix(0, r.at.Int64).UTC(), true
}

func (r *record) Provider() (string, bool) { return r.provider, r.provider != "" }
func (r *record) EventID() int             { return r.eventID }
func (r *record) RecordID() int64          { return r.recordID }
func (r *record) User() string             { return r.user }
func (r *record) Computer() string         { return r.computer }
func (r *record) Raw() []byte              { return r.raw }

func (r *record) Category() (string, error) {
	if !r.task.Valid {
		return "", nil
	}
	return r.task.String, nil
}

func (r *record) Description() (string, error) {
	if !r.message.Valid {
		return "", fmt.Errorf("record %d has no message", r.recordID)
	}
	return r.message.String, nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*record, error) {
	r := &record{}
	if err := scanner.Scan(&r.recordID, &r.at, &r.level, &r.provider, &r.eventID, &r.task, &r.message, &r.user, &r.computer, &r.raw); err != nil {
		return nil, fmt.Errorf("%w: %v", eventlog.ErrMalformedRecord, err)
	}
	return r, nil
}

// ListChannels returns every registered channel in name order.
func (s *Source) ListChannels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM channels ORDER BY name")
	if err != nil {
		return nil, mapError(s.path, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError(s.path, err)
		}
		names = append(names, name)
	}
	return names, mapError(s.path, rows.Err())
}

func (s *Source) channelExists(ctx context.Context, channel string) error {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM channels WHERE name = ?", channel).Scan(&n)
	if err != nil {
		return mapError(channel, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", eventlog.ErrNotFound, channel)
	}
	return nil
}

// OpenQuery streams the channel's rows newest first. Rows without a
// timestamp sort last and surface as unorderable records.
func (s *Source) OpenQuery(ctx context.Context, channel string, since time.Time) (eventlog.Cursor, error) {
	if err := validChannel(channel); err != nil {
		return nil, err
	}
	if err := s.channelExists(ctx, channel); err != nil {
		return nil, err
	}

	query := "SELECT " + eventColumns + " FROM events WHERE channel = ?"
	args := []any{channel}
	if !since.IsZero() {
		query += " AND time_created >= ?"
		args = append(args, since.UnixNano())
	}
	query += " ORDER BY time_created DESC, record_id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(channel, err)
	}
	return &cursor{channel: channel, rows: rows}, nil
}

type cursor struct {
	channel string
	rows    *sql.Rows
	done    bool
}

func (c *cursor) Next(ctx context.Context) (eventlog.RawRecord, error) {
	if c.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.rows.Next() {
		c.done = true
		if err := c.rows.Err(); err != nil {
			return nil, mapError(c.channel, err)
		}
		return nil, io.EOF
	}
	return scanRecord(c.rows)
}

func (c *cursor) Close() error {
	c.done = true
	return c.rows.Close()
}

// Capabilities advertises a count estimate served from the channel index.
func (s *Source) Capabilities() eventlog.Capabilities {
	return eventlog.Capabilities{Estimator: estimator{src: s}}
}

type estimator struct {
	src *Source
}

func (e estimator) EstimateCount(ctx context.Context, channel string, since time.Time) (int64, error) {
	if err := validChannel(channel); err != nil {
		return 0, err
	}
	query := "SELECT COUNT(1) FROM events WHERE channel = ?"
	args := []any{channel}
	if !since.IsZero() {
		query += " AND time_created >= ?"
		args = append(args, since.UnixNano())
	}
	var n int64
	if err := e.src.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapError(channel, err)
	}
	return n, nil
}

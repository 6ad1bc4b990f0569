package sqlitelog

import (
	"context"
	"fmt"
	"time"
)

// Entry is a row to insert. Zero Level and empty Task or Message are stored
// as NULL.
type Entry struct {
	Time     time.Time
	Level    int
	Provider string
	EventID  int
	Task     string
	Message  string
	User     string
	Computer string
	Raw      []byte
}

// Append registers channel if needed, inserts e, and returns its record id.
func (s *Source) Append(ctx context.Context, channel string, e Entry) (int64, error) {
	if err := validChannel(channel); err != nil {
		return 0, err
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	var id int64
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO channels (name) VALUES (?)", channel); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO events (channel, time_created, level, provider, event_id, task, message, user_name, computer, raw)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			channel, e.Time.UnixNano(), nullableInt(e.Level), e.Provider, e.EventID,
			nullableString(e.Task), nullableString(e.Message), e.User, e.Computer, e.Raw,
		)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", channel, mapError(channel, err))
	}
	return id, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

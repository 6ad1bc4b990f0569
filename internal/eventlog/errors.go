package eventlog

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAccessDenied    = errors.New("access denied")
	ErrNotFound        = errors.New("channel not found")
	ErrProvider        = errors.New("provider error")
	ErrMalformedRecord = errors.New("malformed record")
	ErrInvalidRequest  = errors.New("invalid request")
)

// Kind classifies an error into the taxonomy surfaced to the operator.
type Kind int

const (
	KindNone Kind = iota
	KindAccessDenied
	KindNotFound
	KindProvider
	KindMalformed
	KindInvalid
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAccessDenied:
		return "access_denied"
	case KindNotFound:
		return "not_found"
	case KindMalformed:
		return "malformed"
	case KindInvalid:
		return "invalid"
	case KindCanceled:
		return "canceled"
	default:
		return "provider"
	}
}

// Classify maps err onto a Kind. Unrecognised errors are provider errors.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrMalformedRecord):
		return KindMalformed
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalid
	default:
		return KindProvider
	}
}

// Wrap attaches sentinel to err unless err already carries a known kind.
func Wrap(sentinel error, err error) error {
	if err == nil {
		return nil
	}
	switch Classify(err) {
	case KindAccessDenied, KindNotFound, KindMalformed, KindInvalid, KindCanceled:
		return err
	}
	if errors.Is(err, ErrProvider) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// StatusText renders err as a one-line operator status message.
func StatusText(channel string, err error) string {
	switch Classify(err) {
	case KindNone:
		return ""
	case KindAccessDenied:
		return fmt.Sprintf("Access to %q was denied. Run with sufficient privileges to read this log.", channel)
	case KindNotFound:
		return fmt.Sprintf("Log %q was not found.", channel)
	case KindInvalid:
		return fmt.Sprintf("Invalid request: %v", err)
	case KindCanceled:
		return "Operation cancelled."
	default:
		return fmt.Sprintf("Error reading %q: %v", channel, err)
	}
}

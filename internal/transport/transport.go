package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"searchsync/internal/domain"
)

// ErrMalformedEvent marks a message that can never be applied. Transports drop it.
var ErrMalformedEvent = errors.New("malformed change event")

// Sender hands a committed change event to a transport.
type Sender interface {
	Send(ctx context.Context, ev domain.ChangeEvent) error
}

// Handler applies a delivered change event. An error for which IsTemporary reports true
// leaves the message unacknowledged for redelivery; any other error drops it.
type Handler interface {
	Handle(ctx context.Context, ev domain.ChangeEvent) error
}

type HandlerFunc func(context.Context, domain.ChangeEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev domain.ChangeEvent) error { return f(ctx, ev) }

type wireEvent struct {
	RecordID   int64  `json:"recordId"`
	Kind       string `json:"kind"`
	EventID    string `json:"eventId,omitempty"`
	OccurredAt string `json:"occurredAt,omitempty"`
}

// Encode renders ev as the flat JSON wire record {"recordId":N,"kind":"CREATED"}.
func Encode(ev domain.ChangeEvent) ([]byte, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	w := wireEvent{RecordID: ev.RecordID, Kind: string(ev.Kind), EventID: ev.EventID}
	if !ev.OccurredAt.IsZero() {
		w.OccurredAt = ev.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}

func Decode(payload []byte) (domain.ChangeEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	kind, err := domain.ParseEventKind(w.Kind)
	if err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev := domain.ChangeEvent{RecordID: w.RecordID, Kind: kind, EventID: w.EventID}
	if w.OccurredAt != "" {
		at, err := time.Parse(time.RFC3339Nano, w.OccurredAt)
		if err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("%w: occurredAt: %v", ErrMalformedEvent, err)
		}
		ev.OccurredAt = at.UTC()
	}
	if err := ev.Validate(); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}

type temporaryError struct{ err error }

func (e temporaryError) Error() string   { return e.err.Error() }
func (e temporaryError) Unwrap() error   { return e.err }
func (e temporaryError) Temporary() bool { return true }

// Temporary marks err as retryable.
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return temporaryError{err: err}
}

type retryable interface{ Temporary() bool }

func IsTemporary(err error) bool {
	var te retryable
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}

package storage

import (
	"context"
	"errors"
	"time"

	"searchsync/internal/domain"
)

var ErrNotFound = errors.New("record not found")

// Reader reads committed primary store state.
type Reader interface {
	Get(ctx context.Context, id int64) (domain.Record, bool, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

// UnitOfWork groups record mutations into one atomic commit. Callbacks registered with
// AfterCommit run in registration order once Commit succeeds and are discarded on Rollback.
type UnitOfWork interface {
	Insert(ctx context.Context, title, contents string) (domain.Record, error)
	Update(ctx context.Context, id int64, patch domain.RecordPatch) (domain.Record, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (domain.Record, bool, error)
	AfterCommit(fn func(context.Context))
	EnqueueOutbox(ctx context.Context, ev domain.ChangeEvent) error
	Commit() error
	Rollback() error
}

// OutboxEntry is a change event persisted in the same commit as the mutation it describes.
type OutboxEntry struct {
	ID            int64
	Event         domain.ChangeEvent
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
}

// Outbox is the durable queue drained by the relay.
type Outbox interface {
	PendingOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error)
	MarkOutboxPublished(ctx context.Context, id int64, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id int64, cause error, nextAttempt time.Time) error
}

// Engine is the storage contract for the primary store.
type Engine interface {
	Reader
	Outbox
	Begin(ctx context.Context) (UnitOfWork, error)
	List(ctx context.Context, afterID int64, limit int) ([]domain.Record, error)
	Close() error
}

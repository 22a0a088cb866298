// Package syncer applies change events to the search replica by re-reading the primary store.
package syncer

import (
	"context"
	"fmt"
	"time"

	"searchsync/internal/domain"
	"searchsync/internal/storage"
	"searchsync/internal/transport"

	"github.com/rs/zerolog"
)

const DefaultOperationTimeout = 5 * time.Second

// Index is the part of the search replica the consumer writes to.
type Index interface {
	Upsert(ctx context.Context, doc domain.SearchDocument) (bool, error)
	Delete(ctx context.Context, id int64) error
}

type Consumer struct {
	store   storage.Reader
	index   Index
	timeout time.Duration
	log     zerolog.Logger
}

func NewConsumer(store storage.Reader, index Index, timeout time.Duration, log zerolog.Logger) *Consumer {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &Consumer{store: store, index: index, timeout: timeout, log: log}
}

var _ transport.Handler = (*Consumer)(nil)

// Handle converges the index entry for ev.RecordID to the current store state.
// Malformed events are logged and returned as permanent errors; store or index
// failures come back as temporary errors so the transport redelivers.
func (c *Consumer) Handle(ctx context.Context, ev domain.ChangeEvent) error {
	log := c.log.With().Int64("record_id", ev.RecordID).Str("kind", string(ev.Kind)).Str("event_id", ev.EventID).Logger()
	if err := ev.Validate(); err != nil {
		log.Warn().Err(err).Msg("dropping malformed change event")
		return fmt.Errorf("%w: %v", transport.ErrMalformedEvent, err)
	}

	var err error
	switch ev.Kind {
	case domain.EventCreated, domain.EventUpdated:
		err = c.repair(ctx, ev.RecordID, log)
	case domain.EventDeleted:
		err = c.remove(ctx, ev.RecordID)
		if err == nil {
			log.Debug().Msg("removed from index")
		}
	default:
		log.Warn().Msg("dropping change event with unknown kind")
		return fmt.Errorf("%w: kind %q", transport.ErrMalformedEvent, ev.Kind)
	}
	if err != nil {
		log.Warn().Err(err).Msg("sync failed, leaving for redelivery")
		return transport.Temporary(err)
	}
	return nil
}

func (c *Consumer) repair(ctx context.Context, id int64, log zerolog.Logger) error {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	rec, found, err := c.store.Get(rctx, id)
	cancel()
	if err != nil {
		return fmt.Errorf("read record %d: %w", id, err)
	}
	if !found {
		log.Debug().Msg("record absent in store, deleting from index")
		return c.remove(ctx, id)
	}

	wctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	applied, err := c.index.Upsert(wctx, domain.DocumentFromRecord(rec))
	if err != nil {
		return fmt.Errorf("upsert document %d: %w", id, err)
	}
	log.Debug().Bool("applied", applied).Int64("version", rec.Version).Msg("upserted into index")
	return nil
}

func (c *Consumer) remove(ctx context.Context, id int64) error {
	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.index.Delete(dctx, id); err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	return nil
}

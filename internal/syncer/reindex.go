package syncer

import (
	"context"
	"fmt"

	"searchsync/internal/domain"

	"github.com/rs/zerolog"
)

// Lister pages through the primary store in id order.
type Lister interface {
	List(ctx context.Context, afterID int64, limit int) ([]domain.Record, error)
}

// Reindex upserts every record in the store. It backfills a fresh index and repairs
// drift left by events that were never delivered. Tombstones do not expire, so a
// record whose id the index has tombstoned stays out of the index; each such skip
// is logged at warn level.
func Reindex(ctx context.Context, store Lister, index Index, batchSize int, log zerolog.Logger) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var after int64
	total, skipped := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := store.List(ctx, after, batchSize)
		if err != nil {
			return total, fmt.Errorf("list records after %d: %w", after, err)
		}
		for _, rec := range batch {
			applied, err := index.Upsert(ctx, domain.DocumentFromRecord(rec))
			if err != nil {
				return total, fmt.Errorf("reindex record %d: %w", rec.ID, err)
			}
			if !applied {
				skipped++
				log.Warn().Int64("record_id", rec.ID).Int64("version", rec.Version).
					Msg("reindex skipped record, index holds a tombstone or newer version")
			}
			total++
			after = rec.ID
		}
		log.Debug().Int("batch", len(batch)).Int64("after_id", after).Msg("reindex batch")
		if len(batch) < batchSize {
			log.Info().Int("records", total).Int("skipped", skipped).Msg("reindex complete")
			return total, nil
		}
	}
}

// Package publisher ties change events to the commit of the unit of work that produced them.
package publisher

import (
	"context"
	"time"

	"searchsync/internal/domain"
	"searchsync/internal/storage"
	"searchsync/internal/transport"

	"github.com/rs/zerolog"
)

type Mode int

const (
	// ModeAfterCommit sends through the transport from a post-commit callback.
	ModeAfterCommit Mode = iota
	// ModeOutbox writes the event into the outbox inside the transaction; the relay sends it.
	ModeOutbox
)

type Publisher struct {
	mode    Mode
	sender  transport.Sender
	timeout time.Duration
	log     zerolog.Logger
}

func New(mode Mode, sender transport.Sender, timeout time.Duration, log zerolog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{mode: mode, sender: sender, timeout: timeout, log: log}
}

// PublishAfterCommit arranges for an event about recordID to reach the transport only if
// uow commits. In after-commit mode send failures are logged and never reach the caller.
func (p *Publisher) PublishAfterCommit(ctx context.Context, uow storage.UnitOfWork, recordID int64, kind domain.EventKind) error {
	ev := domain.NewChangeEvent(recordID, kind)
	if p.mode == ModeOutbox {
		return uow.EnqueueOutbox(ctx, ev)
	}
	uow.AfterCommit(func(ctx context.Context) {
		sctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		if err := p.sender.Send(sctx, ev); err != nil {
			p.log.Error().Err(err).Int64("record_id", ev.RecordID).Str("kind", string(ev.Kind)).Str("event_id", ev.EventID).Msg("publish change event")
			return
		}
		p.log.Debug().Int64("record_id", ev.RecordID).Str("kind", string(ev.Kind)).Msg("published change event")
	})
	return nil
}

// Package inproc delivers change events synchronously inside the publishing process.
package inproc

import (
	"context"
	"errors"

	"searchsync/internal/domain"
	"searchsync/internal/transport"
)

type Transport struct {
	handler transport.Handler
}

func New(handler transport.Handler) *Transport {
	return &Transport{handler: handler}
}

// Send runs the handler in the caller's goroutine. There is no redelivery; a failed event
// is only recovered by a later event for the same record or by a reindex.
func (t *Transport) Send(ctx context.Context, ev domain.ChangeEvent) error {
	if t.handler == nil {
		return errors.New("inproc transport has no handler")
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	return t.handler.Handle(ctx, ev)
}

package inproc

import (
	"context"
	"errors"
	"testing"

	"searchsync/internal/domain"
	"searchsync/internal/transport"
)

func TestSendCallsHandlerSynchronously(t *testing.T) {
	var got []domain.ChangeEvent
	tr := New(transport.HandlerFunc(func(_ context.Context, ev domain.ChangeEvent) error {
		got = append(got, ev)
		return nil
	}))
	if err := tr.Send(context.Background(), domain.ChangeEvent{RecordID: 1, Kind: domain.EventCreated}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RecordID != 1 {
		t.Fatalf("handler not called synchronously: %+v", got)
	}
}

func TestSendPropagatesHandlerError(t *testing.T) {
	boom := errors.New("boom")
	tr := New(transport.HandlerFunc(func(context.Context, domain.ChangeEvent) error { return boom }))
	if err := tr.Send(context.Background(), domain.ChangeEvent{RecordID: 1, Kind: domain.EventDeleted}); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if err := tr.Send(context.Background(), domain.ChangeEvent{RecordID: -1, Kind: domain.EventDeleted}); err == nil {
		t.Fatalf("expected validation error")
	}
}

package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"searchsync/internal/domain"
	"searchsync/internal/storage/sqlite"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySender struct {
	mu       sync.Mutex
	failures int
	sent     []domain.ChangeEvent
}

func (f *flakySender) Send(_ context.Context, ev domain.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *flakySender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func seedOutbox(t *testing.T, events ...domain.ChangeEvent) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, uow.EnqueueOutbox(ctx, ev))
	}
	require.NoError(t, uow.Commit())
	return s
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0, time.Second, time.Minute))
	assert.Equal(t, 4*time.Second, Backoff(2, time.Second, time.Minute))
	assert.Equal(t, time.Minute, Backoff(30, time.Second, time.Minute))
}

func TestDrainPublishesInOrder(t *testing.T) {
	store := seedOutbox(t,
		domain.NewChangeEvent(1, domain.EventCreated),
		domain.NewChangeEvent(1, domain.EventUpdated),
		domain.NewChangeEvent(2, domain.EventCreated),
	)
	sender := &flakySender{}
	r := NewRelay(Config{BatchSize: 10}, store, sender, zerolog.Nop())
	r.now = func() time.Time { return time.Now().UTC().Add(time.Second) }

	n, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the update waits behind the create of the same record")

	n, err = r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sender.sent, 3)
	assert.Equal(t, domain.EventUpdated, sender.sent[2].Kind)

	n, err = r.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainBacksOffFailedEntries(t *testing.T) {
	store := seedOutbox(t, domain.NewChangeEvent(7, domain.EventDeleted))
	sender := &flakySender{failures: 1}
	now := time.Now().UTC().Add(time.Second)
	r := NewRelay(Config{BatchSize: 10, BaseBackoff: time.Minute, MaxBackoff: time.Hour}, store, sender, zerolog.Nop())
	r.now = func() time.Time { return now }

	n, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = r.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "entry is not due before its backoff elapses")

	now = now.Add(2 * time.Minute)
	n, err = r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(7), sender.sent[0].RecordID)
}

func TestStartStopDrainsInBackground(t *testing.T) {
	store := seedOutbox(t, domain.NewChangeEvent(3, domain.EventCreated))
	sender := &flakySender{}
	r := NewRelay(Config{PollInterval: 10 * time.Millisecond}, store, sender, zerolog.Nop())
	r.now = func() time.Time { return time.Now().UTC().Add(time.Second) }

	r.Start(context.Background())
	r.Start(context.Background())
	assert.Eventually(t, func() bool { return sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	r.Stop()
	r.Stop()
}

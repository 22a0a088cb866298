package syncer

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"searchsync/internal/domain"
	"searchsync/internal/searchindex"
	"searchsync/internal/storage/sqlite"
	"searchsync/internal/transport"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[int64]domain.Record
	err     error
	delay   time.Duration
}

func (f *fakeStore) Get(ctx context.Context, id int64) (domain.Record, bool, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.Record{}, false, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Record{}, false, f.err
	}
	r, ok := f.records[id]
	return r, ok, nil
}

func (f *fakeStore) Exists(ctx context.Context, id int64) (bool, error) {
	_, ok, err := f.Get(ctx, id)
	return ok, err
}

func (f *fakeStore) List(_ context.Context, afterID int64, limit int) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Record
	for id := afterID + 1; len(out) < limit && id <= int64(len(f.records)); id++ {
		if r, ok := f.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	docs    map[int64]domain.SearchDocument
	deletes []int64
	err     error
}

func newFakeIndex() *fakeIndex { return &fakeIndex{docs: map[int64]domain.SearchDocument{}} }

func (f *fakeIndex) Upsert(_ context.Context, d domain.SearchDocument) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.docs[d.ID] = d
	return true, nil
}

func (f *fakeIndex) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.docs, id)
	f.deletes = append(f.deletes, id)
	return nil
}

func record(id int64, title string, version int64) domain.Record {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return domain.Record{ID: id, Title: title, Contents: "본문", CreatedAt: now, UpdatedAt: now, Version: version}
}

func TestCreatedUpsertsCurrentStoreState(t *testing.T) {
	store := &fakeStore{records: map[int64]domain.Record{1: record(1, "최신 제목", 3)}}
	idx := newFakeIndex()
	c := NewConsumer(store, idx, time.Second, zerolog.Nop())

	require.NoError(t, c.Handle(context.Background(), domain.ChangeEvent{RecordID: 1, Kind: domain.EventCreated}))
	assert.Equal(t, "최신 제목", idx.docs[1].Title)
	assert.EqualValues(t, 3, idx.docs[1].Version)

	require.NoError(t, c.Handle(context.Background(), domain.ChangeEvent{RecordID: 1, Kind: domain.EventCreated}))
	assert.Len(t, idx.docs, 1, "duplicate delivery is idempotent")
}

func TestUpdatedForMissingRecordDeletes(t *testing.T) {
	store := &fakeStore{records: map[int64]domain.Record{}}
	idx := newFakeIndex()
	idx.docs[5] = domain.DocumentFromRecord(record(5, "stale", 1))
	c := NewConsumer(store, idx, time.Second, zerolog.Nop())

	require.NoError(t, c.Handle(context.Background(), domain.ChangeEvent{RecordID: 5, Kind: domain.EventUpdated}))
	assert.NotContains(t, idx.docs, int64(5))
	assert.Equal(t, []int64{5}, idx.deletes)
}

func TestDeletedIsIdempotent(t *testing.T) {
	c := NewConsumer(&fakeStore{records: map[int64]domain.Record{}}, newFakeIndex(), time.Second, zerolog.Nop())
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Handle(context.Background(), domain.ChangeEvent{RecordID: 8, Kind: domain.EventDeleted}))
	}
}

func TestMalformedEventIsPermanent(t *testing.T) {
	idx := newFakeIndex()
	c := NewConsumer(&fakeStore{}, idx, time.Second, zerolog.Nop())

	err := c.Handle(context.Background(), domain.ChangeEvent{RecordID: 1, Kind: "MOVED"})
	require.ErrorIs(t, err, transport.ErrMalformedEvent)
	assert.False(t, transport.IsTemporary(err))

	err = c.Handle(context.Background(), domain.ChangeEvent{RecordID: 0, Kind: domain.EventDeleted})
	require.ErrorIs(t, err, transport.ErrMalformedEvent)
	assert.Empty(t, idx.deletes)
}

func TestStoreAndIndexFailuresAreTemporary(t *testing.T) {
	storeErr := errors.New("database is locked")
	c := NewConsumer(&fakeStore{err: storeErr}, newFakeIndex(), time.Second, zerolog.Nop())
	err := c.Handle(context.Background(), domain.ChangeEvent{RecordID: 1, Kind: domain.EventUpdated})
	require.ErrorIs(t, err, storeErr)
	assert.True(t, transport.IsTemporary(err))

	idx := newFakeIndex()
	idx.err = errors.New("index closed")
	c = NewConsumer(&fakeStore{records: map[int64]domain.Record{1: record(1, "t", 1)}}, idx, time.Second, zerolog.Nop())
	err = c.Handle(context.Background(), domain.ChangeEvent{RecordID: 1, Kind: domain.EventCreated})
	assert.True(t, transport.IsTemporary(err))
	err = c.Handle(context.Background(), domain.ChangeEvent{RecordID: 1, Kind: domain.EventDeleted})
	assert.True(t, transport.IsTemporary(err))
}

func TestSlowStoreIsBoundedByTimeout(t *testing.T) {
	store := &fakeStore{records: map[int64]domain.Record{1: record(1, "t", 1)}, delay: time.Second}
	c := NewConsumer(store, newFakeIndex(), 20*time.Millisecond, zerolog.Nop())

	start := time.Now()
	err := c.Handle(context.Background(), domain.ChangeEvent{RecordID: 1, Kind: domain.EventCreated})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, transport.IsTemporary(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestReindexWalksAllRecords(t *testing.T) {
	store := &fakeStore{records: map[int64]domain.Record{}}
	for i := int64(1); i <= 7; i++ {
		store.records[i] = record(i, "t", 1)
	}
	idx := newFakeIndex()
	n, err := Reindex(context.Background(), store, idx, 3, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Len(t, idx.docs, 7)
}

func TestReindexWarnsOnTombstonedRecord(t *testing.T) {
	store := &fakeStore{records: map[int64]domain.Record{}}
	for i := int64(1); i <= 3; i++ {
		store.records[i] = record(i, "제목", 1)
	}
	idx, err := searchindex.Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	ctx := context.Background()
	require.NoError(t, idx.Delete(ctx, 2))

	var buf bytes.Buffer
	n, err := Reindex(ctx, store, idx, 10, zerolog.New(&buf))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Contains(t, buf.String(), `"level":"warn","record_id":2`)
	assert.Contains(t, buf.String(), `"skipped":1`)

	_, found, err := idx.Get(ctx, 2)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStaleCreatedAfterDeleteLeavesRecordAbsent(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	idx, err := searchindex.Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	c := NewConsumer(store, idx, time.Second, zerolog.Nop())

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	rec, err := tx.Insert(ctx, "카레 레시피", "맛있는 카레를 만들자")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	created := domain.ChangeEvent{EventID: "e1", RecordID: rec.ID, Kind: domain.EventCreated}
	require.NoError(t, c.Handle(ctx, created))
	_, found, err := idx.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, found)

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, rec.ID))
	require.NoError(t, tx.Commit())

	created.EventID = "e2"
	require.NoError(t, c.Handle(ctx, created))
	created.EventID = "e3"
	require.NoError(t, c.Handle(ctx, created))

	_, found, err = idx.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, found)
	docs, total, err := idx.Search(ctx, "카레", 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
	assert.Empty(t, docs)
}

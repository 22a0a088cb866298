package records

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"searchsync/internal/apperr"
	"searchsync/internal/domain"
	"searchsync/internal/storage"
	"searchsync/internal/storage/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	id   int64
	kind domain.EventKind
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishAfterCommit(_ context.Context, uow storage.UnitOfWork, id int64, kind domain.EventKind) error {
	uow.AfterCommit(func(context.Context) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.events = append(p.events, published{id: id, kind: kind})
	})
	return nil
}

func newService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()
	s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	p := &recordingPublisher{}
	return NewService(s, p), p
}

func TestCreateUpdateDeletePublishInOrder(t *testing.T) {
	ctx := context.Background()
	svc, pub := newService(t)

	r, err := svc.Create(ctx, "동기화 테스트 제목", "동기화 테스트 내용")
	require.NoError(t, err)

	title := "수정된 동기화 제목"
	updated, err := svc.Update(ctx, r.ID, domain.RecordPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, "동기화 테스트 내용", updated.Contents)

	require.NoError(t, svc.Delete(ctx, r.ID))

	assert.Equal(t, []published{
		{r.ID, domain.EventCreated},
		{r.ID, domain.EventUpdated},
		{r.ID, domain.EventDeleted},
	}, pub.events)

	_, err = svc.Get(ctx, r.ID)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestMissingRecordIsNotFoundAndPublishesNothing(t *testing.T) {
	ctx := context.Background()
	svc, pub := newService(t)

	title := "x"
	_, err := svc.Update(ctx, 404, domain.RecordPatch{Title: &title})
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	assert.Contains(t, err.Error(), "record does not exist: 404")

	err = svc.Delete(ctx, 404)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	assert.Empty(t, pub.events)
}

func TestTitleValidation(t *testing.T) {
	ctx := context.Background()
	svc, pub := newService(t)

	_, err := svc.Create(ctx, "  ", "c")
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))

	_, err = svc.Create(ctx, strings.Repeat("가", domain.MaxTitleLength+1), "c")
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidArgument))

	_, err = svc.Create(ctx, strings.Repeat("가", domain.MaxTitleLength), "c")
	assert.NoError(t, err)
	assert.Len(t, pub.events, 1)
}

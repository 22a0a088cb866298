// Package records owns record mutations and publishes a change event for each committed one.
package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"searchsync/internal/apperr"
	"searchsync/internal/domain"
	"searchsync/internal/storage"
)

type Publisher interface {
	PublishAfterCommit(ctx context.Context, uow storage.UnitOfWork, recordID int64, kind domain.EventKind) error
}

type Store interface {
	storage.Reader
	Begin(ctx context.Context) (storage.UnitOfWork, error)
}

type Service struct {
	store     Store
	publisher Publisher
}

func NewService(store Store, publisher Publisher) *Service {
	return &Service{store: store, publisher: publisher}
}

func (s *Service) Create(ctx context.Context, title, contents string) (domain.Record, error) {
	if err := validateTitle(title); err != nil {
		return domain.Record{}, err
	}
	var out domain.Record
	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		r, err := uow.Insert(ctx, title, contents)
		if err != nil {
			return err
		}
		out = r
		return s.publisher.PublishAfterCommit(ctx, uow, r.ID, domain.EventCreated)
	})
	return out, err
}

func (s *Service) Update(ctx context.Context, id int64, patch domain.RecordPatch) (domain.Record, error) {
	if patch.Title != nil {
		if err := validateTitle(*patch.Title); err != nil {
			return domain.Record{}, err
		}
	}
	var out domain.Record
	err := s.inTx(ctx, func(uow storage.UnitOfWork) error {
		r, err := uow.Update(ctx, id, patch)
		if errors.Is(err, storage.ErrNotFound) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		out = r
		return s.publisher.PublishAfterCommit(ctx, uow, id, domain.EventUpdated)
	})
	return out, err
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(uow storage.UnitOfWork) error {
		if err := uow.Delete(ctx, id); errors.Is(err, storage.ErrNotFound) {
			return notFound(id)
		} else if err != nil {
			return err
		}
		return s.publisher.PublishAfterCommit(ctx, uow, id, domain.EventDeleted)
	})
}

func (s *Service) Get(ctx context.Context, id int64) (domain.Record, error) {
	r, found, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Record{}, apperr.Wrap(apperr.CodeInternal, "read record", err)
	}
	if !found {
		return domain.Record{}, notFound(id)
	}
	return r, nil
}

func (s *Service) inTx(ctx context.Context, fn func(storage.UnitOfWork) error) error {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "begin unit of work", err)
	}
	defer uow.Rollback()
	if err := fn(uow); err != nil {
		var ae *apperr.AppError
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Wrap(apperr.CodeInternal, "write record", err)
	}
	if err := uow.Commit(); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "commit", err)
	}
	return nil
}

func notFound(id int64) error {
	return apperr.Newf(apperr.CodeNotFound, "record does not exist: %d", id)
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return apperr.New(apperr.CodeInvalidArgument, "title is required")
	}
	if n := utf8.RuneCountInString(title); n > domain.MaxTitleLength {
		return apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("title exceeds %d characters: %d", domain.MaxTitleLength, n))
	}
	return nil
}

// Package search answers keyword queries against the search replica.
package search

import (
	"context"
	"math"
	"strings"

	"searchsync/internal/apperr"
	"searchsync/internal/domain"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type Index interface {
	Search(ctx context.Context, keyword string, offset, limit int) ([]domain.SearchDocument, int64, error)
}

type Service struct {
	index       Index
	defaultSize int
	maxSize     int
}

func NewService(index Index, defaultSize, maxSize int) *Service {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if maxSize < defaultSize {
		maxSize = MaxPageSize
	}
	return &Service{index: index, defaultSize: defaultSize, maxSize: maxSize}
}

// Search returns page number `page` (zero based) of documents whose title or contents
// share a term with keyword. A size of zero selects the default page size.
func (s *Service) Search(ctx context.Context, keyword string, page, size int) (domain.Page[domain.SearchDocument], error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return domain.Page[domain.SearchDocument]{}, apperr.New(apperr.CodeInvalidArgument, "keyword is required")
	}
	if page < 0 {
		return domain.Page[domain.SearchDocument]{}, apperr.Newf(apperr.CodeInvalidArgument, "page must be >= 0, got %d", page)
	}
	if size == 0 {
		size = s.defaultSize
	}
	if size < 1 || size > s.maxSize {
		return domain.Page[domain.SearchDocument]{}, apperr.Newf(apperr.CodeInvalidArgument, "size must be between 1 and %d, got %d", s.maxSize, size)
	}
	// offset+limit must fit in an int inside the index.
	if page > (math.MaxInt-size)/size {
		return domain.Page[domain.SearchDocument]{}, apperr.Newf(apperr.CodeInvalidArgument, "page %d is out of range for size %d", page, size)
	}

	docs, total, err := s.index.Search(ctx, keyword, page*size, size)
	if err != nil {
		return domain.Page[domain.SearchDocument]{}, apperr.Wrap(apperr.CodeUnavailable, "search index", err)
	}
	return domain.NewPage(docs, total, page, size), nil
}

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PartitionID uint8

const MaxTitleLength = 200

// Record is the authoritative row held by the primary store.
type Record struct {
	ID        int64
	Title     string
	Contents  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// RecordPatch carries a partial update. Nil fields are left unchanged.
type RecordPatch struct {
	Title    *string
	Contents *string
}

// SearchDocument is the denormalized copy of a Record held by the search index.
type SearchDocument struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Contents  string    `json:"contents"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

type EventKind string

const (
	EventCreated EventKind = "CREATED"
	EventUpdated EventKind = "UPDATED"
	EventDeleted EventKind = "DELETED"
)

func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case EventCreated, EventUpdated, EventDeleted:
		return k, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

// ChangeEvent notifies that a record changed. It carries no payload; consumers re-read the store.
type ChangeEvent struct {
	RecordID   int64
	Kind       EventKind
	EventID    string
	OccurredAt time.Time
}

func NewChangeEvent(recordID int64, kind EventKind) ChangeEvent {
	return ChangeEvent{RecordID: recordID, Kind: kind, EventID: uuid.NewString(), OccurredAt: time.Now().UTC()}
}

func (e ChangeEvent) Validate() error {
	if e.RecordID <= 0 {
		return fmt.Errorf("record id must be positive, got %d", e.RecordID)
	}
	if _, err := ParseEventKind(string(e.Kind)); err != nil {
		return err
	}
	return nil
}

// Page is one slice of an ordered result set.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Number        int   `json:"number"`
	Size          int   `json:"size"`
}

func NewPage[T any](content []T, total int64, number, size int) Page[T] {
	if content == nil {
		content = []T{}
	}
	pages := 0
	if size > 0 && total > 0 {
		pages = int((total + int64(size) - 1) / int64(size))
	}
	return Page[T]{Content: content, TotalElements: total, TotalPages: pages, Number: number, Size: size}
}

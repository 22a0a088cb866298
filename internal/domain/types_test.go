package domain

import (
	"testing"
	"time"
)

func TestParseEventKind(t *testing.T) {
	cases := map[string]EventKind{"CREATED": EventCreated, "updated": EventUpdated, " DELETED ": EventDeleted}
	for in, want := range cases {
		got, err := ParseEventKind(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseEventKind("MOVED"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestChangeEventValidate(t *testing.T) {
	if err := NewChangeEvent(1, EventCreated).Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := (ChangeEvent{RecordID: 0, Kind: EventCreated}).Validate(); err == nil {
		t.Fatalf("expected error for zero id")
	}
	if err := (ChangeEvent{RecordID: 3, Kind: "NOPE"}).Validate(); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestNewPageTotals(t *testing.T) {
	cases := []struct {
		total int64
		size  int
		want  int
	}{
		{0, 10, 0},
		{1, 5, 1},
		{10, 5, 2},
		{11, 5, 3},
	}
	for _, c := range cases {
		p := NewPage[int](nil, c.total, 0, c.size)
		if p.TotalPages != c.want {
			t.Fatalf("total=%d size=%d pages=%d want %d", c.total, c.size, p.TotalPages, c.want)
		}
		if p.Content == nil {
			t.Fatalf("content must be non-nil")
		}
	}
}

func TestDocumentFromRecordCopiesFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := Record{ID: 7, Title: "", Contents: "본문", CreatedAt: now, UpdatedAt: now.Add(time.Minute), Version: 3}
	d := DocumentFromRecord(r)
	if d.ID != 7 || d.Title != "" || d.Contents != "본문" || d.Version != 3 {
		t.Fatalf("unexpected document: %+v", d)
	}
	if !d.CreatedAt.Equal(r.CreatedAt) || !d.UpdatedAt.Equal(r.UpdatedAt) {
		t.Fatalf("timestamps not carried: %+v", d)
	}
}

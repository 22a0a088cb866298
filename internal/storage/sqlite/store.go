package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"searchsync/internal/domain"
	"searchsync/internal/storage"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	contents TEXT NOT NULL,
	created_at_utc_ns INTEGER NOT NULL,
	updated_at_utc_ns INTEGER NOT NULL,
	version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL UNIQUE,
	record_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	created_at_utc_ns INTEGER NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	next_attempt_at_utc_ns INTEGER NOT NULL,
	published_at_utc_ns INTEGER
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(published_at_utc_ns, next_attempt_at_utc_ns, id);
CREATE INDEX IF NOT EXISTS idx_outbox_record ON outbox(record_id, id);
`

var _ storage.Engine = (*Store)(nil)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir store dir: %w", err)
		}
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, id int64) (domain.Record, bool, error) {
	return getRecord(ctx, s.db, id)
}

func (s *Store) Exists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id=?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns up to limit records with id greater than afterID in id order.
func (s *Store) List(ctx context.Context, afterID int64, limit int) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, contents, created_at_utc_ns, updated_at_utc_ns, version
FROM records
WHERE id > ?
ORDER BY id ASC
LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx, ctx: ctx, now: s.now}, nil
}

// PendingOutbox returns due unpublished entries. An entry is held back while an earlier
// entry for the same record is still unpublished, which keeps per-record order.
func (s *Store) PendingOutbox(ctx context.Context, now time.Time, limit int) ([]storage.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, event_id, record_id, kind, created_at_utc_ns, attempts, last_error, next_attempt_at_utc_ns
FROM outbox
WHERE published_at_utc_ns IS NULL AND next_attempt_at_utc_ns <= ?
	AND NOT EXISTS (
		SELECT 1 FROM outbox earlier
		WHERE earlier.record_id = outbox.record_id AND earlier.published_at_utc_ns IS NULL AND earlier.id < outbox.id
	)
ORDER BY id ASC
LIMIT ?`, now.UTC().UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.OutboxEntry
	for rows.Next() {
		var e storage.OutboxEntry
		var kind string
		var createdNs, nextAttemptNs int64
		if err := rows.Scan(&e.ID, &e.Event.EventID, &e.Event.RecordID, &kind, &createdNs, &e.Attempts, &e.LastError, &nextAttemptNs); err != nil {
			return nil, err
		}
		e.Event.Kind = domain.EventKind(kind)
		e.Event.OccurredAt = time.Unix(0, createdNs).UTC()
		e.NextAttemptAt = time.Unix(0, nextAttemptNs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET published_at_utc_ns=? WHERE id=?`, at.UTC().UnixNano(), id)
	return err
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id int64, cause error, nextAttempt time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE outbox SET attempts = attempts + 1, last_error=?, next_attempt_at_utc_ns=?
WHERE id=?`, msg, nextAttempt.UTC().UnixNano(), id)
	return err
}

// Tx is one unit of work against the primary store.
type Tx struct {
	tx  *sql.Tx
	ctx context.Context
	now func() time.Time

	mu    sync.Mutex
	hooks []func(context.Context)
	done  bool
}

func (t *Tx) Insert(ctx context.Context, title, contents string) (domain.Record, error) {
	now := t.now()
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO records(title, contents, created_at_utc_ns, updated_at_utc_ns, version)
VALUES(?, ?, ?, ?, 1)`, title, contents, now.UnixNano(), now.UnixNano())
	if err != nil {
		return domain.Record{}, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Record{}, err
	}
	return domain.Record{ID: id, Title: title, Contents: contents, CreatedAt: now, UpdatedAt: now, Version: 1}, nil
}

func (t *Tx) Update(ctx context.Context, id int64, patch domain.RecordPatch) (domain.Record, error) {
	cur, ok, err := getRecord(ctx, t.tx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if !ok {
		return domain.Record{}, storage.ErrNotFound
	}
	if patch.Title != nil {
		cur.Title = *patch.Title
	}
	if patch.Contents != nil {
		cur.Contents = *patch.Contents
	}
	cur.UpdatedAt = t.now()
	cur.Version++
	if _, err := t.tx.ExecContext(ctx, `
UPDATE records SET title=?, contents=?, updated_at_utc_ns=?, version=?
WHERE id=?`, cur.Title, cur.Contents, cur.UpdatedAt.UnixNano(), cur.Version, id); err != nil {
		return domain.Record{}, fmt.Errorf("update record: %w", err)
	}
	return cur, nil
}

func (t *Tx) Delete(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM records WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *Tx) Get(ctx context.Context, id int64) (domain.Record, bool, error) {
	return getRecord(ctx, t.tx, id)
}

func (t *Tx) EnqueueOutbox(ctx context.Context, ev domain.ChangeEvent) error {
	created := ev.OccurredAt
	if created.IsZero() {
		created = t.now()
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO outbox(event_id, record_id, kind, created_at_utc_ns, next_attempt_at_utc_ns)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO NOTHING`, ev.EventID, ev.RecordID, string(ev.Kind), created.UnixNano(), created.UnixNano())
	if err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	return nil
}

func (t *Tx) AfterCommit(fn func(context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

func (t *Tx) Commit() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return sql.ErrTxDone
	}
	t.done = true
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	ctx := context.WithoutCancel(t.ctx)
	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}

// Rollback discards pending callbacks. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	t.hooks = nil
	t.mu.Unlock()
	return t.tx.Rollback()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getRecord(ctx context.Context, q queryer, id int64) (domain.Record, bool, error) {
	row := q.QueryRowContext(ctx, `
SELECT id, title, contents, created_at_utc_ns, updated_at_utc_ns, version
FROM records WHERE id=?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, false, nil
	}
	if err != nil {
		return domain.Record{}, false, err
	}
	return r, true, nil
}

func scanRecord(s scanner) (domain.Record, error) {
	var r domain.Record
	var createdNs, updatedNs int64
	if err := s.Scan(&r.ID, &r.Title, &r.Contents, &createdNs, &updatedNs, &r.Version); err != nil {
		return domain.Record{}, err
	}
	r.CreatedAt = time.Unix(0, createdNs).UTC()
	r.UpdatedAt = time.Unix(0, updatedNs).UTC()
	return r, nil
}

// Pragmas go through the DSN so every pooled connection gets them.
func openSQLite(path string) (*sql.DB, error) {
	pragmas := []string{
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(FULL)",
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_txlock=immediate",
	}
	db, err := sql.Open("sqlite", path+"?"+strings.Join(pragmas, "&"))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

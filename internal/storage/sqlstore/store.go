// Package sqlstore implements storage.Store on database/sql, with SQLite
// (modernc.org/sqlite) and MySQL (go-sql-driver/mysql) dialects sharing one
// schema. The mediation record is stored as JSON next to indexed columns.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/storage/sqlstore/migrations"
	"github.com/aimediator/mediator/internal/types"
)

// Store is a SQL-backed storage.Store.
type Store struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open connects to the database, applies migrations and returns the store.
// For SQLite, dsn is a file path (or ":memory:"); for MySQL it is a driver DSN.
func Open(ctx context.Context, backend, dsn string) (*Store, error) {
	d, err := lookupDialect(backend)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s: dsn is required", d.name)
	}

	db, err := sql.Open(d.driver, d.dsn(dsn))
	if err != nil {
		return nil, &storage.Error{Op: "open " + d.name, Err: err}
	}
	d.configure(db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &storage.Error{Op: "ping " + d.name, Err: err}
	}
	if err := applyMigrations(ctx, db, d, migrations.FS); err != nil {
		_ = db.Close()
		return nil, &storage.Error{Op: "migrate " + d.name, Err: err}
	}
	return &Store{db: db, dialect: d, now: time.Now}, nil
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) nowMillis() int64 {
	return s.now().UTC().UnixMilli()
}

func encodeRecord(m *types.Mediation) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal mediation: %w", err)
	}
	return string(data), nil
}

func (s *Store) Insert(ctx context.Context, m *types.Mediation) error {
	if err := m.ID.Validate(); err != nil {
		return storage.Wrap("insert", m.ID, err)
	}
	record, err := encodeRecord(m)
	if err != nil {
		return storage.Wrap("insert", m.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mediations (group_id, token, title, state, record, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID.GroupID, m.ID.Token, m.Title, string(m.State), record, s.nowMillis())
	if err != nil && s.dialect.isDuplicate(err) {
		return storage.Wrap("insert", m.ID, storage.ErrAlreadyExists)
	}
	return storage.Wrap("insert", m.ID, err)
}

func (s *Store) Load(ctx context.Context, id types.MediationID) (*types.Mediation, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM mediations WHERE group_id = ? AND token = ?`,
		id.GroupID, id.Token).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.Wrap("load", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, storage.Wrap("load", id, err)
	}
	var m types.Mediation
	if err := json.Unmarshal([]byte(record), &m); err != nil {
		return nil, storage.Wrap("load", id, fmt.Errorf("parse record: %w", err))
	}
	if m.Participants == nil {
		m.Participants = []types.Participant{}
	}
	return &m, nil
}

// Save overwrites the record with REPLACE, which both dialects support.
func (s *Store) Save(ctx context.Context, m *types.Mediation) error {
	if err := m.ID.Validate(); err != nil {
		return storage.Wrap("save", m.ID, err)
	}
	record, err := encodeRecord(m)
	if err != nil {
		return storage.Wrap("save", m.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`REPLACE INTO mediations (group_id, token, title, state, record, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID.GroupID, m.ID.Token, m.Title, string(m.State), record, s.nowMillis())
	return storage.Wrap("save", m.ID, err)
}

func (s *Store) PutPerspective(ctx context.Context, id types.MediationID, userID int64, text string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storage.Wrap("put perspective", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var found int
	existed := true
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM perspectives WHERE group_id = ? AND token = ? AND user_id = ?`,
		id.GroupID, id.Token, userID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		existed = false
	} else if err != nil {
		return false, storage.Wrap("put perspective", id, err)
	}

	if _, err := tx.ExecContext(ctx,
		`REPLACE INTO perspectives (group_id, token, user_id, body, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id.GroupID, id.Token, userID, text, s.nowMillis()); err != nil {
		return false, storage.Wrap("put perspective", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, storage.Wrap("put perspective", id, err)
	}
	return existed, nil
}

func (s *Store) GetPerspective(ctx context.Context, id types.MediationID, userID int64) (string, error) {
	return s.getBlob(ctx, "get perspective", "perspectives", id, userID)
}

func (s *Store) PutAnswer(ctx context.Context, id types.MediationID, userID int64, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (group_id, token, user_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		id.GroupID, id.Token, userID, text, s.nowMillis())
	if err != nil && s.dialect.isDuplicate(err) {
		return storage.Wrap("put answer", id, storage.ErrAlreadyExists)
	}
	return storage.Wrap("put answer", id, err)
}

func (s *Store) GetAnswer(ctx context.Context, id types.MediationID, userID int64) (string, error) {
	return s.getBlob(ctx, "get answer", "answers", id, userID)
}

func (s *Store) getBlob(ctx context.Context, op, table string, id types.MediationID, userID int64) (string, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM "+table+" WHERE group_id = ? AND token = ? AND user_id = ?",
		id.GroupID, id.Token, userID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.Wrap(op, id, storage.ErrNotFound)
	}
	if err != nil {
		return "", storage.Wrap(op, id, err)
	}
	return body, nil
}

// Package filestore implements storage.Store on a directory tree:
//
//	<root>/g<groupId>/<token>/meta.json
//	<root>/g<groupId>/<token>/<userId>/perspective.txt
//	<root>/g<groupId>/<token>/<userId>/answer.txt
//
// Every write goes to a temp file in the target directory and is renamed
// (or linked, for write-once blobs) into place, so a failed write never
// leaves a partially written record behind.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/types"
)

const (
	metaFile        = "meta.json"
	perspectiveFile = "perspective.txt"
	answerFile      = "answer.txt"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Store is a filesystem-backed storage.Store.
type Store struct {
	root string
}

var _ storage.Store = (*Store)(nil)

// Open returns a store rooted at dir, creating it if needed.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("filestore: root directory is required")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, &storage.Error{Op: "open", Key: dir, Err: err}
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) mediationDir(id types.MediationID) string {
	return filepath.Join(s.root, "g"+strconv.FormatInt(id.GroupID, 10), id.Token)
}

func (s *Store) participantDir(id types.MediationID, userID int64) string {
	return filepath.Join(s.mediationDir(id), strconv.FormatInt(userID, 10))
}

func (s *Store) Insert(ctx context.Context, m *types.Mediation) error {
	if err := m.ID.Validate(); err != nil {
		return storage.Wrap("insert", m.ID, err)
	}
	dir := s.mediationDir(m.ID)
	if err := os.MkdirAll(filepath.Dir(dir), dirPerm); err != nil {
		return storage.Wrap("insert", m.ID, err)
	}
	// Mkdir (not MkdirAll) claims the token exclusively.
	if err := os.Mkdir(dir, dirPerm); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return storage.Wrap("insert", m.ID, storage.ErrAlreadyExists)
		}
		return storage.Wrap("insert", m.ID, err)
	}
	if err := s.writeRecord(m); err != nil {
		_ = os.RemoveAll(dir)
		return storage.Wrap("insert", m.ID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id types.MediationID) (*types.Mediation, error) {
	if err := id.Validate(); err != nil {
		return nil, storage.Wrap("load", id, err)
	}
	data, err := os.ReadFile(filepath.Join(s.mediationDir(id), metaFile)) // #nosec G304 - path built from validated id
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.Wrap("load", id, storage.ErrNotFound)
		}
		return nil, storage.Wrap("load", id, err)
	}
	var m types.Mediation
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, storage.Wrap("load", id, fmt.Errorf("parse %s: %w", metaFile, err))
	}
	if m.Participants == nil {
		m.Participants = []types.Participant{}
	}
	return &m, nil
}

func (s *Store) Save(ctx context.Context, m *types.Mediation) error {
	if err := m.ID.Validate(); err != nil {
		return storage.Wrap("save", m.ID, err)
	}
	if err := os.MkdirAll(s.mediationDir(m.ID), dirPerm); err != nil {
		return storage.Wrap("save", m.ID, err)
	}
	return storage.Wrap("save", m.ID, s.writeRecord(m))
}

func (s *Store) writeRecord(m *types.Mediation) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mediation: %w", err)
	}
	return atomicWrite(filepath.Join(s.mediationDir(m.ID), metaFile), data)
}

func (s *Store) PutPerspective(ctx context.Context, id types.MediationID, userID int64, text string) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, storage.Wrap("put perspective", id, err)
	}
	dir := s.participantDir(id, userID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return false, storage.Wrap("put perspective", id, err)
	}
	path := filepath.Join(dir, perspectiveFile)
	existed := false
	if _, err := os.Stat(path); err == nil {
		existed = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, storage.Wrap("put perspective", id, err)
	}
	if err := atomicWrite(path, []byte(text)); err != nil {
		return false, storage.Wrap("put perspective", id, err)
	}
	return existed, nil
}

func (s *Store) GetPerspective(ctx context.Context, id types.MediationID, userID int64) (string, error) {
	return s.readBlob("get perspective", id, userID, perspectiveFile)
}

func (s *Store) PutAnswer(ctx context.Context, id types.MediationID, userID int64, text string) error {
	if err := id.Validate(); err != nil {
		return storage.Wrap("put answer", id, err)
	}
	dir := s.participantDir(id, userID)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return storage.Wrap("put answer", id, err)
	}
	err := exclusiveWrite(filepath.Join(dir, answerFile), []byte(text))
	if errors.Is(err, fs.ErrExist) {
		return storage.Wrap("put answer", id, storage.ErrAlreadyExists)
	}
	return storage.Wrap("put answer", id, err)
}

func (s *Store) GetAnswer(ctx context.Context, id types.MediationID, userID int64) (string, error) {
	return s.readBlob("get answer", id, userID, answerFile)
}

func (s *Store) readBlob(op string, id types.MediationID, userID int64, name string) (string, error) {
	if err := id.Validate(); err != nil {
		return "", storage.Wrap(op, id, err)
	}
	data, err := os.ReadFile(filepath.Join(s.participantDir(id, userID), name)) // #nosec G304 - path built from validated id
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", storage.Wrap(op, id, storage.ErrNotFound)
		}
		return "", storage.Wrap(op, id, err)
	}
	return string(data), nil
}

// Close is a no-op; the store holds no open handles.
func (s *Store) Close() error {
	return nil
}

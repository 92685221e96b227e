// Package memory implements an in-process storage backend.
// Records are copied on every read and write so callers never share
// mutable state with the store.
package memory

import (
	"context"
	"sync"

	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/types"
)

type blobKey struct {
	key    string
	userID int64
}

// Store is a map-backed storage.Store.
type Store struct {
	mu           sync.RWMutex
	mediations   map[string]*types.Mediation
	perspectives map[blobKey]string
	answers      map[blobKey]string
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		mediations:   make(map[string]*types.Mediation),
		perspectives: make(map[blobKey]string),
		answers:      make(map[blobKey]string),
	}
}

func (s *Store) Insert(ctx context.Context, m *types.Mediation) error {
	if err := m.ID.Validate(); err != nil {
		return storage.Wrap("insert", m.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.ID.JointKey()
	if _, ok := s.mediations[key]; ok {
		return storage.Wrap("insert", m.ID, storage.ErrAlreadyExists)
	}
	s.mediations[key] = m.Clone()
	return nil
}

func (s *Store) Load(ctx context.Context, id types.MediationID) (*types.Mediation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mediations[id.JointKey()]
	if !ok {
		return nil, storage.Wrap("load", id, storage.ErrNotFound)
	}
	return m.Clone(), nil
}

func (s *Store) Save(ctx context.Context, m *types.Mediation) error {
	if err := m.ID.Validate(); err != nil {
		return storage.Wrap("save", m.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediations[m.ID.JointKey()] = m.Clone()
	return nil
}

func (s *Store) PutPerspective(ctx context.Context, id types.MediationID, userID int64, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := blobKey{key: id.JointKey(), userID: userID}
	_, existed := s.perspectives[k]
	s.perspectives[k] = text
	return existed, nil
}

func (s *Store) GetPerspective(ctx context.Context, id types.MediationID, userID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.perspectives[blobKey{key: id.JointKey(), userID: userID}]
	if !ok {
		return "", storage.Wrap("get perspective", id, storage.ErrNotFound)
	}
	return text, nil
}

func (s *Store) PutAnswer(ctx context.Context, id types.MediationID, userID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := blobKey{key: id.JointKey(), userID: userID}
	if _, ok := s.answers[k]; ok {
		return storage.Wrap("put answer", id, storage.ErrAlreadyExists)
	}
	s.answers[k] = text
	return nil
}

func (s *Store) GetAnswer(ctx context.Context, id types.MediationID, userID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.answers[blobKey{key: id.JointKey(), userID: userID}]
	if !ok {
		return "", storage.Wrap("get answer", id, storage.ErrNotFound)
	}
	return text, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

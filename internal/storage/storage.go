// Package storage provides the persistence contracts for mediations.
//
// Concrete backends live in sub-packages (filestore, sqlstore, memory) and
// are selected by name through the factory sub-package. Consumers depend on
// the interfaces here so that backends can be swapped and faked in tests.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aimediator/mediator/internal/idgen"
	"github.com/aimediator/mediator/internal/types"
)

// maxTokenAttempts bounds token re-rolls on an id collision.
const maxTokenAttempts = 5

// MediationStore persists mediation records addressed by (group id, token).
type MediationStore interface {
	// Insert persists a new record. Returns ErrAlreadyExists when a record
	// with the same id is present.
	Insert(ctx context.Context, m *types.Mediation) error

	// Load returns the current record, or ErrNotFound.
	Load(ctx context.Context, id types.MediationID) (*types.Mediation, error)

	// Save overwrites the record. Writes are all-or-nothing.
	Save(ctx context.Context, m *types.Mediation) error
}

// PerspectiveStore holds one overwritable text blob per (mediation, participant).
type PerspectiveStore interface {
	// PutPerspective stores text and reports whether a value existed before.
	PutPerspective(ctx context.Context, id types.MediationID, userID int64, text string) (existed bool, err error)

	// GetPerspective returns the stored text, or ErrNotFound when the
	// participant has not submitted yet.
	GetPerspective(ctx context.Context, id types.MediationID, userID int64) (string, error)
}

// AnswerStore holds one write-once text blob per (mediation, participant).
type AnswerStore interface {
	// PutAnswer stores text. Returns ErrAlreadyExists if an answer is on file.
	PutAnswer(ctx context.Context, id types.MediationID, userID int64, text string) error

	// GetAnswer returns the stored answer, or ErrNotFound.
	GetAnswer(ctx context.Context, id types.MediationID, userID int64) (string, error)
}

// Store is the full persistence surface used by the mediation service.
type Store interface {
	MediationStore
	PerspectiveStore
	AnswerStore
	Close() error
}

// Create allocates a fresh unguessable token, persists an open mediation and
// returns it.
func Create(ctx context.Context, s MediationStore, gen *idgen.Generator, title string, groupID int64) (*types.Mediation, error) {
	if gen == nil {
		gen = idgen.NewGenerator(nil)
	}
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := gen.NewToken()
		if err != nil {
			return nil, Wrap("create", types.MediationID{GroupID: groupID}, err)
		}
		m := types.NewMediation(types.MediationID{GroupID: groupID, Token: token}, title)
		err = s.Insert(ctx, m)
		if errors.Is(err, ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, Wrap("create", types.MediationID{GroupID: groupID},
		fmt.Errorf("no free token after %d attempts", maxTokenAttempts))
}

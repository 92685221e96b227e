package mediation

import (
	"errors"

	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/types"
)

var (
	// ErrNotFound is returned when the mediation does not exist.
	ErrNotFound = storage.ErrNotFound

	// ErrInvalidState is returned when an operation does not apply to the
	// mediation's current lifecycle state.
	ErrInvalidState = types.ErrInvalidState

	// ErrInsufficientParticipants is returned when closing a mediation
	// nobody has joined.
	ErrInsufficientParticipants = errors.New("insufficient participants")

	// ErrNotParticipant is returned when a perspective comes from someone
	// who has not joined.
	ErrNotParticipant = errors.New("not a participant")
)

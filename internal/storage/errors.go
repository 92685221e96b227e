package storage

import (
	"errors"
	"fmt"

	"github.com/aimediator/mediator/internal/types"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound indicates no record exists at the given id.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a create-only write hit an existing record.
	ErrAlreadyExists = errors.New("already exists")
)

// Error is a persistence I/O failure. NotFound and AlreadyExists are not
// reported as *Error so that callers can tell user-facing failures apart
// from infrastructure ones.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap annotates err with the operation and mediation key. Sentinel
// conditions keep their identity; anything else becomes an *Error.
func Wrap(op string, id types.MediationID, err error) error {
	if err == nil {
		return nil
	}
	key := ""
	if id.Token != "" {
		key = id.JointKey()
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) {
		if key == "" {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}

// IsStorageError reports whether err is (or wraps) an I/O failure.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

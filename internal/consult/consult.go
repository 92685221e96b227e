// Package consult produces one personalized answer per participant of a
// finished mediation by asking an external text-completion provider.
package consult

import (
	"context"
	"errors"
	"fmt"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Provider is an external text-completion service.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Complete returns the completion for messages.
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ErrEmptyAnswer is reported when a provider returns no usable text.
var ErrEmptyAnswer = errors.New("no answer or unexpected answer format")

// Error is a failed or unparsable consultation for one participant.
type Error struct {
	Provider string
	UserID   int64
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("consult %s for user %d: %v", e.Provider, e.UserID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Package types defines the core data structures for mediations.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// JointKeySeparator joins the group id and token in a joint key.
const JointKeySeparator = "%"

// MediationID addresses one mediation within a group chat.
type MediationID struct {
	GroupID int64  `json:"chatId"`
	Token   string `json:"id"`
}

// JointKey returns the stable string form of the id, used to address
// serializer slots and transport-side UI state.
func (id MediationID) JointKey() string {
	return strconv.FormatInt(id.GroupID, 10) + JointKeySeparator + id.Token
}

func (id MediationID) String() string {
	return id.JointKey()
}

// Validate checks that the id can address a storage location.
func (id MediationID) Validate() error {
	if id.Token == "" {
		return fmt.Errorf("mediation id: empty token")
	}
	if strings.ContainsAny(id.Token, `/\%. `) {
		return fmt.Errorf("mediation id: invalid token %q", id.Token)
	}
	return nil
}

// ParseJointKey is the inverse of MediationID.JointKey.
func ParseJointKey(key string) (MediationID, error) {
	group, token, ok := strings.Cut(key, JointKeySeparator)
	if !ok {
		return MediationID{}, fmt.Errorf("joint key %q: missing separator", key)
	}
	groupID, err := strconv.ParseInt(group, 10, 64)
	if err != nil {
		return MediationID{}, fmt.Errorf("joint key %q: bad group id: %w", key, err)
	}
	id := MediationID{GroupID: groupID, Token: token}
	if err := id.Validate(); err != nil {
		return MediationID{}, err
	}
	return id, nil
}

// Participant is a person who joined a mediation. Immutable once added.
type Participant struct {
	UserID      int64  `json:"userId"`
	DisplayName string `json:"name"`
}

// State is the lifecycle state of a mediation.
type State string

// Mediation lifecycle: open -> closed -> finished.
const (
	StateOpen     State = "open"
	StateClosed   State = "closed"
	StateFinished State = "finished"
)

func (s State) rank() int {
	switch s {
	case StateOpen:
		return 0
	case StateClosed:
		return 1
	case StateFinished:
		return 2
	}
	return -1
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	return s.rank() >= 0
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle
// monotonic. Staying in the same state is allowed.
func (s State) CanAdvanceTo(next State) bool {
	return s.IsValid() && next.IsValid() && next.rank() >= s.rank()
}

// Mediation is the persisted record of one mediation.
type Mediation struct {
	ID           MediationID   `json:"id"`
	Title        string        `json:"title"`
	Participants []Participant `json:"participants"`
	State        State         `json:"state"`
}

// NewMediation returns an open mediation with no participants.
func NewMediation(id MediationID, title string) *Mediation {
	return &Mediation{
		ID:           id,
		Title:        title,
		Participants: []Participant{},
		State:        StateOpen,
	}
}

// Clone returns a deep copy of m.
func (m *Mediation) Clone() *Mediation {
	if m == nil {
		return nil
	}
	c := *m
	c.Participants = make([]Participant, len(m.Participants))
	copy(c.Participants, m.Participants)
	return &c
}

// Participant returns the participant with the given user id.
func (m *Mediation) Participant(userID int64) (Participant, bool) {
	for _, p := range m.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// HasParticipant reports whether userID has joined.
func (m *Mediation) HasParticipant(userID int64) bool {
	_, ok := m.Participant(userID)
	return ok
}

// Validate checks the record invariants.
func (m *Mediation) Validate() error {
	if err := m.ID.Validate(); err != nil {
		return err
	}
	if !m.State.IsValid() {
		return fmt.Errorf("mediation %s: invalid state %q", m.ID, m.State)
	}
	seen := make(map[int64]struct{}, len(m.Participants))
	for _, p := range m.Participants {
		if _, dup := seen[p.UserID]; dup {
			return fmt.Errorf("mediation %s: duplicate participant %d", m.ID, p.UserID)
		}
		seen[p.UserID] = struct{}{}
	}
	if m.State != StateOpen && len(m.Participants) == 0 {
		return fmt.Errorf("mediation %s: %s without participants", m.ID, m.State)
	}
	return nil
}

// ErrInvalidState marks a record or transition that breaks the lifecycle
// rules.
var ErrInvalidState = errors.New("invalid state")

// CheckTransition reports whether next may replace m: same id, no state
// regression, every existing participant kept unchanged and in order, and
// next itself valid. Failures wrap ErrInvalidState.
func (m *Mediation) CheckTransition(next *Mediation) error {
	if next.ID != m.ID {
		return fmt.Errorf("%w: mediation %s: id changed to %s", ErrInvalidState, m.ID, next.ID)
	}
	if !m.State.CanAdvanceTo(next.State) {
		return fmt.Errorf("%w: mediation %s: %s -> %s", ErrInvalidState, m.ID, m.State, next.State)
	}
	if len(next.Participants) < len(m.Participants) {
		return fmt.Errorf("%w: mediation %s: participants removed", ErrInvalidState, m.ID)
	}
	for i, p := range m.Participants {
		if next.Participants[i] != p {
			return fmt.Errorf("%w: mediation %s: participant %d changed", ErrInvalidState, m.ID, p.UserID)
		}
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return nil
}

// Names returns the participants' display names in join order.
func (m *Mediation) Names() []string {
	names := make([]string, len(m.Participants))
	for i, p := range m.Participants {
		names[i] = p.DisplayName
	}
	return names
}

// Package mediation implements the mediation lifecycle on top of a store.
//
// Join, close and the completeness check mutate the mediation record and run
// through the serializer for the mediation's key. Perspectives are stored
// per participant and bypass it.
package mediation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aimediator/mediator/internal/consult"
	"github.com/aimediator/mediator/internal/idgen"
	"github.com/aimediator/mediator/internal/serializer"
	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/types"
)

// Dispatcher starts the consultations for a finished mediation without
// waiting for them.
type Dispatcher interface {
	Dispatch(ctx context.Context, m *types.Mediation, perspectives map[int64]string, onAnswer consult.AnswerFunc)
}

// Service is the entry point used by transports.
type Service struct {
	store      storage.Store
	serializer *serializer.Serializer
	dispatcher Dispatcher
	tokens     *idgen.Generator
	log        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithTokenGenerator sets the source of mediation tokens.
func WithTokenGenerator(gen *idgen.Generator) Option {
	return func(s *Service) { s.tokens = gen }
}

// New returns a Service backed by store that hands finished mediations to
// dispatcher.
func New(store storage.Store, dispatcher Dispatcher, opts ...Option) *Service {
	s := &Service{
		store:      store,
		dispatcher: dispatcher,
		log:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tokens == nil {
		s.tokens = idgen.NewGenerator(nil)
	}
	s.serializer = serializer.New(store, s.log)
	return s
}

// JoinStatus is the result of Join.
type JoinStatus struct {
	AlreadyJoined    bool   `json:"alreadyJoined"`
	Title            string `json:"title"`
	ParticipantCount int    `json:"participantCount"`
}

// JointKey returns the stable string form of id.
func JointKey(id types.MediationID) string {
	return id.JointKey()
}

// Create persists a new open mediation in groupID.
func (s *Service) Create(ctx context.Context, title string, groupID int64) (*types.Mediation, error) {
	m, err := storage.Create(ctx, s.store, s.tokens, title, groupID)
	if err != nil {
		return nil, err
	}
	s.log.Info("mediation created", "group", groupID, "token", m.ID.Token)
	return m, nil
}

// Get returns the current record of id.
func (s *Service) Get(ctx context.Context, id types.MediationID) (*types.Mediation, error) {
	return s.store.Load(ctx, id)
}

// Join adds a participant to an open mediation. Joining twice is a no-op
// reported through AlreadyJoined; the display name is not updated.
func (s *Service) Join(ctx context.Context, id types.MediationID, userID int64, name string) (JoinStatus, error) {
	return serializer.With(ctx, s.serializer, id, func(_ context.Context, m *types.Mediation) (JoinStatus, bool, error) {
		if m.State != types.StateOpen {
			return JoinStatus{}, false, invalidState(m, "join")
		}
		status := JoinStatus{Title: m.Title}
		if m.HasParticipant(userID) {
			status.AlreadyJoined = true
			status.ParticipantCount = len(m.Participants)
			return status, false, nil
		}
		m.Participants = append(m.Participants, types.Participant{UserID: userID, DisplayName: name})
		status.ParticipantCount = len(m.Participants)
		s.log.Info("participant joined", "group", id.GroupID, "token", id.Token, "user", userID, "participants", status.ParticipantCount)
		return status, true, nil
	})
}

// Close stops a mediation from accepting participants and returns its
// title. Closing a closed mediation succeeds without change.
func (s *Service) Close(ctx context.Context, id types.MediationID) (string, error) {
	return serializer.With(ctx, s.serializer, id, func(_ context.Context, m *types.Mediation) (string, bool, error) {
		switch m.State {
		case types.StateClosed:
			return m.Title, false, nil
		case types.StateFinished:
			return "", false, invalidState(m, "close")
		}
		if len(m.Participants) == 0 {
			return "", false, fmt.Errorf("close %s: %w", id, ErrInsufficientParticipants)
		}
		m.State = types.StateClosed
		s.log.Info("mediation closed", "group", id.GroupID, "token", id.Token, "participants", len(m.Participants))
		return m.Title, true, nil
	})
}

// markFinished advances a closed mediation to finished. Callers must hold
// the serializer slot for m and have verified completeness.
func markFinished(m *types.Mediation) error {
	if m.State != types.StateClosed {
		return invalidState(m, "finish")
	}
	m.State = types.StateFinished
	return nil
}

func invalidState(m *types.Mediation, op string) error {
	return fmt.Errorf("%s %s: %w: mediation is %s", op, m.ID, ErrInvalidState, m.State)
}

package mediation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/aimediator/mediator/internal/consult"
	"github.com/aimediator/mediator/internal/serializer"
	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/types"
)

// SubmitStatus is the result of SubmitPerspective.
type SubmitStatus struct {
	AlreadyStored    bool   `json:"alreadyStored"`
	Title            string `json:"title"`
	MediationClosed  bool   `json:"mediationClosed"`
	ParticipantCount int    `json:"participantCount"`
}

// CompletenessStatus is the result of CheckCompletenessAndConsult.
// ReceivedCount and ParticipantCount are set when Finished is false.
type CompletenessStatus struct {
	Finished         bool `json:"finished"`
	AlreadyFinished  bool `json:"alreadyFinished,omitempty"`
	ReceivedCount    int  `json:"receivedCount"`
	ParticipantCount int  `json:"participantCount"`
}

// SubmitPerspective stores text as userID's perspective, replacing any
// earlier one. It fails once the mediation is finished.
func (s *Service) SubmitPerspective(ctx context.Context, id types.MediationID, userID int64, text string) (SubmitStatus, error) {
	m, err := s.store.Load(ctx, id)
	if err != nil {
		return SubmitStatus{}, err
	}
	if !m.HasParticipant(userID) {
		return SubmitStatus{}, fmt.Errorf("submit %s user %d: %w", id, userID, ErrNotParticipant)
	}
	if m.State == types.StateFinished {
		return SubmitStatus{}, invalidState(m, "submit")
	}
	existed, err := s.store.PutPerspective(ctx, id, userID, text)
	if err != nil {
		return SubmitStatus{}, err
	}
	s.log.Info("perspective stored", "group", id.GroupID, "token", id.Token, "user", userID, "overwritten", existed)
	return SubmitStatus{
		AlreadyStored:    existed,
		Title:            m.Title,
		MediationClosed:  m.State != types.StateOpen,
		ParticipantCount: len(m.Participants),
	}, nil
}

type completeness struct {
	status       CompletenessStatus
	snapshot     *types.Mediation
	perspectives map[int64]string
}

// CheckCompletenessAndConsult counts the stored perspectives and, when a
// closed mediation has one from every participant, marks it finished and
// starts the consultations. Only the call that performs the transition
// reports Finished; onAnswer runs later, once per answer.
func (s *Service) CheckCompletenessAndConsult(ctx context.Context, id types.MediationID, onAnswer consult.AnswerFunc) (CompletenessStatus, error) {
	res, err := serializer.With(ctx, s.serializer, id, func(ctx context.Context, m *types.Mediation) (completeness, bool, error) {
		if m.State == types.StateFinished {
			return completeness{status: CompletenessStatus{
				AlreadyFinished:  true,
				ReceivedCount:    len(m.Participants),
				ParticipantCount: len(m.Participants),
			}}, false, nil
		}

		perspectives, err := s.probe(ctx, m)
		if err != nil {
			return completeness{}, false, err
		}
		res := completeness{status: CompletenessStatus{
			ReceivedCount:    len(perspectives),
			ParticipantCount: len(m.Participants),
		}}
		if m.State != types.StateClosed || len(m.Participants) == 0 || len(perspectives) < len(m.Participants) {
			return res, false, nil
		}
		if err := markFinished(m); err != nil {
			return completeness{}, false, err
		}
		res.status.Finished = true
		res.snapshot = m.Clone()
		res.perspectives = perspectives
		return res, true, nil
	})
	if err != nil {
		return CompletenessStatus{}, err
	}
	if res.status.Finished {
		s.log.Info("mediation finished", "group", id.GroupID, "token", id.Token, "participants", res.status.ParticipantCount)
		s.dispatcher.Dispatch(ctx, res.snapshot, res.perspectives, onAnswer)
	}
	return res.status, nil
}

// probe loads every participant's perspective concurrently. Missing ones
// are left out of the result.
func (s *Service) probe(ctx context.Context, m *types.Mediation) (map[int64]string, error) {
	texts := make([]*string, len(m.Participants))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range m.Participants {
		g.Go(func() error {
			text, err := s.store.GetPerspective(gctx, m.ID, p.UserID)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			texts[i] = &text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(texts))
	for i, t := range texts {
		if t != nil {
			out[m.Participants[i].UserID] = *t
		}
	}
	return out, nil
}

// Entry describes one participant's progress.
type Entry struct {
	types.Participant
	HasPerspective bool `json:"hasPerspective"`
	HasAnswer      bool `json:"hasAnswer"`
}

// Report is a read-only view of a mediation and its participants' progress.
type Report struct {
	Mediation *types.Mediation `json:"mediation"`
	JointKey  string           `json:"jointKey"`
	Entries   []Entry          `json:"entries"`
}

// Report returns the current progress of id without mutating anything.
func (s *Service) Report(ctx context.Context, id types.MediationID) (*Report, error) {
	m, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	perspectives, err := s.probe(ctx, m)
	if err != nil {
		return nil, err
	}
	r := &Report{Mediation: m, JointKey: JointKey(id), Entries: make([]Entry, 0, len(m.Participants))}
	for _, p := range m.Participants {
		_, has := perspectives[p.UserID]
		e := Entry{Participant: p, HasPerspective: has}
		if _, err := s.store.GetAnswer(ctx, id, p.UserID); err == nil {
			e.HasAnswer = true
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		r.Entries = append(r.Entries, e)
	}
	return r, nil
}

package consult

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/telemetry"
	"github.com/aimediator/mediator/internal/types"
)

// AnswerFunc receives a participant's answer once it is ready.
type AnswerFunc func(userID int64, answer string)

// Dispatcher fans a finished mediation out to one consultation per
// participant. Consultations run in the background and are best effort:
// failures are logged and dropped.
type Dispatcher struct {
	provider Provider
	answers  storage.AnswerStore
	log      *slog.Logger

	wg sync.WaitGroup

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewDispatcher returns a Dispatcher that asks provider and records answers
// in answers.
func NewDispatcher(provider Provider, answers storage.AnswerStore, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	m := telemetry.Meter("github.com/aimediator/mediator/consult")
	requests, _ := m.Int64Counter("mediator.consult.requests",
		metric.WithDescription("Consultation requests issued, by outcome"),
	)
	duration, _ := m.Float64Histogram("mediator.consult.duration",
		metric.WithDescription("Consultation request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &Dispatcher{
		provider: provider,
		answers:  answers,
		log:      log,
		requests: requests,
		duration: duration,
	}
}

// Dispatch starts one consultation per participant of m and returns
// immediately. perspectives must hold the text of every participant.
// The consultations outlive ctx cancellation but keep its values.
func (d *Dispatcher) Dispatch(ctx context.Context, m *types.Mediation, perspectives map[int64]string, onAnswer AnswerFunc) {
	ctx = context.WithoutCancel(ctx)
	participants := append([]types.Participant(nil), m.Participants...)
	log := d.log.With(
		"dispatch", uuid.NewString(),
		"group", m.ID.GroupID,
		"token", m.ID.Token,
		"provider", d.provider.Name(),
	)
	log.Info("consulting", "participants", len(participants))

	for i, p := range participants {
		msgs := BuildRequest(participants, perspectives, i)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.consultOne(ctx, log.With("user", p.UserID), m.ID, p.UserID, msgs, onAnswer)
		}()
	}
}

// Wait blocks until every consultation started so far has settled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) consultOne(ctx context.Context, log *slog.Logger, id types.MediationID, userID int64, msgs []Message, onAnswer AnswerFunc) {
	t0 := time.Now()
	answer, err := d.provider.Complete(ctx, msgs)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = ErrEmptyAnswer
	}
	d.duration.Record(ctx, float64(time.Since(t0).Milliseconds()))
	if err != nil {
		d.count(ctx, "error")
		cerr := &Error{Provider: d.provider.Name(), UserID: userID, Err: err}
		log.Error("consultation failed", "error", cerr)
		return
	}
	d.count(ctx, "ok")

	if err := d.answers.PutAnswer(ctx, id, userID, answer); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			log.Warn("answer already on file, not delivering again")
			return
		}
		log.Error("persist answer", "error", err)
	}
	if onAnswer != nil {
		onAnswer(userID, answer)
	}
	log.Info("answer ready", "chars", len(answer))
}

func (d *Dispatcher) count(ctx context.Context, outcome string) {
	d.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("provider", d.provider.Name()),
	))
}

// Package serializer runs read-modify-write mutations of a mediation record
// one at a time per mediation key.
//
// Each key owns a slot in the registry while a mutation is in flight. Later
// arrivals queue on the slot in FIFO order. When the holder finishes it hands
// the committed snapshot directly to the head of the queue, so queued
// mutators skip the store read and always observe the previous mutator's
// result. When the queue is empty the slot is dropped and the next arrival
// loads fresh from the store.
package serializer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/telemetry"
	"github.com/aimediator/mediator/internal/types"
)

// Mutator changes m in place and reports whether anything changed. A false
// result skips the write. On error the changes are discarded, as are changes
// that fail types.Mediation.CheckTransition.
type Mutator func(ctx context.Context, m *types.Mediation) (changed bool, err error)

// PanicError is returned when a mutator panics.
type PanicError struct {
	Key   string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("mutator for %s panicked: %v", e.Key, e.Value)
}

type slot struct {
	waiters []chan *types.Mediation
}

// Serializer owns the per-key registry. The zero value is not usable; use New.
type Serializer struct {
	store storage.MediationStore
	log   *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot

	waitHist  metric.Float64Histogram
	mutations metric.Int64Counter
}

// New returns a Serializer that loads and saves records through store.
func New(store storage.MediationStore, log *slog.Logger) *Serializer {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	m := telemetry.Meter("github.com/aimediator/mediator/serializer")
	waitHist, _ := m.Float64Histogram("mediator.serializer.wait",
		metric.WithDescription("Time a mutation spent queued behind others for the same key"),
		metric.WithUnit("ms"),
	)
	mutations, _ := m.Int64Counter("mediator.serializer.mutations",
		metric.WithDescription("Mutations executed, by outcome"),
	)
	return &Serializer{
		store:     store,
		log:       log,
		slots:     make(map[string]*slot),
		waitHist:  waitHist,
		mutations: mutations,
	}
}

// Active returns the number of keys with a mutation in flight.
func (s *Serializer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Mutate runs fn exclusively for id against the freshest committed snapshot.
//
// A queued mutation always runs eventually; waiting is not cancellable. The
// returned error is fn's error, a load error (storage.ErrNotFound when the
// record does not exist), or a *storage.Error when persisting failed.
func (s *Serializer) Mutate(ctx context.Context, id types.MediationID, fn Mutator) error {
	key := id.JointKey()
	start := time.Now()
	snap, queued := s.acquire(key)
	if queued {
		s.waitHist.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	var committed *types.Mediation
	defer func() { s.release(key, committed) }()

	if snap == nil {
		loaded, err := s.store.Load(ctx, id)
		if err != nil {
			return err
		}
		snap = loaded
	}

	work := snap.Clone()
	changed, err := s.run(ctx, key, work, fn)
	if err == nil && changed {
		if verr := snap.CheckTransition(work); verr != nil {
			s.log.Warn("reject mutation", "key", key, "from", snap.State, "to", work.State, "error", verr)
			err = fmt.Errorf("mutate %s: %w", key, verr)
		}
	}
	switch {
	case err != nil:
		s.count(ctx, "error")
		// Re-persist the last committed snapshot so a failed mutation still
		// leaves a complete record behind.
		if serr := s.store.Save(ctx, snap); serr != nil {
			s.log.Error("persist after failed mutation", "key", key, "error", serr)
			return err
		}
		committed = snap
		return err
	case !changed:
		s.count(ctx, "noop")
		committed = snap
		return nil
	}

	if err := s.store.Save(ctx, work); err != nil {
		s.count(ctx, "save_error")
		s.log.Error("persist mutation", "key", key, "state", work.State, "error", err)
		return storage.Wrap("save", id, err)
	}
	s.count(ctx, "changed")
	committed = work
	return nil
}

// With runs fn under Mutate and returns the value it produced.
func With[T any](ctx context.Context, s *Serializer, id types.MediationID, fn func(ctx context.Context, m *types.Mediation) (T, bool, error)) (T, error) {
	var out T
	err := s.Mutate(ctx, id, func(ctx context.Context, m *types.Mediation) (bool, error) {
		v, changed, err := fn(ctx, m)
		out = v
		return changed, err
	})
	return out, err
}

func (s *Serializer) run(ctx context.Context, key string, m *types.Mediation, fn Mutator) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("mutator panic", "key", key, "panic", r)
			changed, err = false, &PanicError{Key: key, Value: r}
		}
	}()
	return fn(ctx, m)
}

func (s *Serializer) count(ctx context.Context, outcome string) {
	s.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// acquire takes the slot for key. It returns the snapshot handed over by the
// previous holder, or nil when the caller must load from the store.
func (s *Serializer) acquire(key string) (*types.Mediation, bool) {
	s.mu.Lock()
	sl, busy := s.slots[key]
	if !busy {
		s.slots[key] = &slot{}
		s.mu.Unlock()
		return nil, false
	}
	ch := make(chan *types.Mediation, 1)
	sl.waiters = append(sl.waiters, ch)
	s.mu.Unlock()
	return <-ch, true
}

// release passes committed to the next waiter, or frees the slot. A nil
// committed snapshot makes the next waiter reload.
func (s *Serializer) release(key string, committed *types.Mediation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.slots[key]
	if len(sl.waiters) == 0 {
		delete(s.slots, key)
		return
	}
	next := sl.waiters[0]
	sl.waiters[0] = nil
	sl.waiters = sl.waiters[1:]
	next <- committed
}

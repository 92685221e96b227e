package consult

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimediator/mediator/internal/storage/memory"
	"github.com/aimediator/mediator/internal/types"
)

// fakeProvider answers with a fixed prefix plus the user message, or fails
// for the configured user texts.
type fakeProvider struct {
	mu    sync.Mutex
	calls [][]Message
	fail  map[string]error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, msgs []Message) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msgs)
	f.mu.Unlock()
	user := msgs[3].Content
	if err := f.fail[user]; err != nil {
		return "", err
	}
	return "answer for " + user, nil
}

func finishedMediation(t *testing.T, store *memory.Store) (*types.Mediation, map[int64]string) {
	t.Helper()
	m := types.NewMediation(types.MediationID{GroupID: 5, Token: "tok"}, "Dishes")
	m.Participants = []types.Participant{{UserID: 1, DisplayName: "Ann"}, {UserID: 2, DisplayName: "Ben"}}
	m.State = types.StateFinished
	require.NoError(t, store.Insert(context.Background(), m))
	return m, map[int64]string{1: "ann text", 2: "ben text"}
}

type collected struct {
	mu  sync.Mutex
	got map[int64]string
}

func (c *collected) add(userID int64, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.got == nil {
		c.got = make(map[int64]string)
	}
	c.got[userID] = answer
}

func TestDispatchDeliversAndPersists(t *testing.T) {
	store := memory.New()
	m, texts := finishedMediation(t, store)
	p := &fakeProvider{}
	d := NewDispatcher(p, store, nil)

	var c collected
	d.Dispatch(context.Background(), m, texts, c.add)
	d.Wait()

	assert.Len(t, p.calls, 2)
	assert.Equal(t, map[int64]string{1: "answer for ann text", 2: "answer for ben text"}, c.got)
	for userID, want := range c.got {
		got, err := store.GetAnswer(context.Background(), m.ID, userID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDispatchFailureIsLocal(t *testing.T) {
	store := memory.New()
	m, texts := finishedMediation(t, store)
	p := &fakeProvider{fail: map[string]error{"ann text": errors.New("rate limited")}}
	d := NewDispatcher(p, store, nil)

	var c collected
	d.Dispatch(context.Background(), m, texts, c.add)
	d.Wait()

	assert.Equal(t, map[int64]string{2: "answer for ben text"}, c.got)
	_, err := store.GetAnswer(context.Background(), m.ID, 1)
	assert.Error(t, err)
}

func TestDispatchSurvivesCancelledContext(t *testing.T) {
	store := memory.New()
	m, texts := finishedMediation(t, store)
	d := NewDispatcher(&fakeProvider{}, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var c collected
	d.Dispatch(ctx, m, texts, c.add)
	d.Wait()
	assert.Len(t, c.got, 2)
}

func TestDispatchDoesNotOverwriteAnswers(t *testing.T) {
	store := memory.New()
	m, texts := finishedMediation(t, store)
	require.NoError(t, store.PutAnswer(context.Background(), m.ID, 1, "earlier"))
	d := NewDispatcher(&fakeProvider{}, store, nil)

	var c collected
	d.Dispatch(context.Background(), m, texts, c.add)
	d.Wait()

	assert.NotContains(t, c.got, int64(1))
	got, err := store.GetAnswer(context.Background(), m.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "earlier", got)
}

func TestEmptyAnswerIsConsultationError(t *testing.T) {
	store := memory.New()
	m, texts := finishedMediation(t, store)
	texts[1], texts[2] = "", ""
	p := &emptyProvider{}
	d := NewDispatcher(p, store, nil)

	var c collected
	d.Dispatch(context.Background(), m, texts, c.add)
	d.Wait()
	assert.Empty(t, c.got)
}

type emptyProvider struct{}

func (emptyProvider) Name() string { return "empty" }

func (emptyProvider) Complete(context.Context, []Message) (string, error) { return "  ", nil }

func TestErrorUnwrap(t *testing.T) {
	err := &Error{Provider: "fake", UserID: 3, Err: ErrEmptyAnswer}
	assert.ErrorIs(t, err, ErrEmptyAnswer)
	assert.Contains(t, err.Error(), "user 3")
}

package mediation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimediator/mediator/internal/consult"
	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/storage/memory"
	"github.com/aimediator/mediator/internal/types"
)

// recordingProvider captures every request it receives.
type recordingProvider struct {
	mu       sync.Mutex
	requests [][]consult.Message
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Complete(_ context.Context, msgs []consult.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, msgs)
	return "reply to " + msgs[3].Content, nil
}

// countingDispatcher counts Dispatch calls before delegating.
type countingDispatcher struct {
	inner *consult.Dispatcher
	calls atomic.Int32
}

func (d *countingDispatcher) Dispatch(ctx context.Context, m *types.Mediation, p map[int64]string, fn consult.AnswerFunc) {
	d.calls.Add(1)
	d.inner.Dispatch(ctx, m, p, fn)
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	provider *recordingProvider
	disp     *countingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	provider := &recordingProvider{}
	disp := &countingDispatcher{inner: consult.NewDispatcher(provider, store, nil)}
	return &fixture{
		svc:      New(store, disp),
		store:    store,
		provider: provider,
		disp:     disp,
	}
}

func (f *fixture) create(t *testing.T, title string, users ...int64) types.MediationID {
	t.Helper()
	ctx := context.Background()
	m, err := f.svc.Create(ctx, title, 1)
	require.NoError(t, err)
	for _, u := range users {
		_, err := f.svc.Join(ctx, m.ID, u, "user")
		require.NoError(t, err)
	}
	return m.ID
}

func TestScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Create(ctx, "Test", 1)
	require.NoError(t, err)
	assert.Equal(t, types.StateOpen, m.State)
	id := m.ID

	js, err := f.svc.Join(ctx, id, 10, "Ann")
	require.NoError(t, err)
	assert.Equal(t, JoinStatus{Title: "Test", ParticipantCount: 1}, js)

	js, err = f.svc.Join(ctx, id, 10, "Ann again")
	require.NoError(t, err)
	assert.Equal(t, JoinStatus{AlreadyJoined: true, Title: "Test", ParticipantCount: 1}, js)

	js, err = f.svc.Join(ctx, id, 20, "Ben")
	require.NoError(t, err)
	assert.Equal(t, 2, js.ParticipantCount)

	title, err := f.svc.Close(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Test", title)

	ss, err := f.svc.SubmitPerspective(ctx, id, 10, "first draft")
	require.NoError(t, err)
	assert.False(t, ss.AlreadyStored)
	assert.True(t, ss.MediationClosed)

	ss, err = f.svc.SubmitPerspective(ctx, id, 10, "ann's view")
	require.NoError(t, err)
	assert.True(t, ss.AlreadyStored)
	text, err := f.store.GetPerspective(ctx, id, 10)
	require.NoError(t, err)
	assert.Equal(t, "ann's view", text)

	cs, err := f.svc.CheckCompletenessAndConsult(ctx, id, nil)
	require.NoError(t, err)
	assert.False(t, cs.Finished)
	assert.Equal(t, 1, cs.ReceivedCount)
	assert.Equal(t, 2, cs.ParticipantCount)

	_, err = f.svc.SubmitPerspective(ctx, id, 20, "ben's view")
	require.NoError(t, err)

	var mu sync.Mutex
	answers := map[int64]string{}
	cs, err = f.svc.CheckCompletenessAndConsult(ctx, id, func(userID int64, answer string) {
		mu.Lock()
		defer mu.Unlock()
		answers[userID] = answer
	})
	require.NoError(t, err)
	assert.True(t, cs.Finished)
	f.disp.inner.Wait()

	require.Len(t, f.provider.requests, 2)
	for _, req := range f.provider.requests {
		own, others := req[3].Content, req[1].Content
		assert.NotContains(t, others, own)
	}
	assert.Equal(t, map[int64]string{10: "reply to ann's view", 20: "reply to ben's view"}, answers)

	got, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StateFinished, got.State)
	assert.Equal(t, "Ann", got.Participants[0].DisplayName, "re-join does not rename")
}

func TestJoinGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Join(ctx, types.MediationID{GroupID: 1, Token: "missing"}, 1, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	id := f.create(t, "t", 1)
	_, err = f.svc.Close(ctx, id)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, id, 2, "late")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConcurrentJoinsSameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "t")

	const n = 20
	var wg sync.WaitGroup
	var fresh atomic.Int32
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			js, err := f.svc.Join(ctx, id, 7, "same")
			assert.NoError(t, err)
			assert.Equal(t, 1, js.ParticipantCount)
			if !js.AlreadyJoined {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh.Load())
}

func TestConcurrentJoinsDistinctUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "t")

	const n = 25
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Join(ctx, id, int64(i+1), "u")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	m, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, m.Participants, n, "no lost updates")
	require.NoError(t, m.Validate())
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty := f.create(t, "empty")
	_, err := f.svc.Close(ctx, empty)
	assert.ErrorIs(t, err, ErrInsufficientParticipants)
	m, err := f.svc.Get(ctx, empty)
	require.NoError(t, err)
	assert.Equal(t, types.StateOpen, m.State)

	id := f.create(t, "one", 1)
	title, err := f.svc.Close(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "one", title)

	title, err = f.svc.Close(ctx, id)
	require.NoError(t, err, "closing twice is idempotent")
	assert.Equal(t, "one", title)

	_, err = f.svc.SubmitPerspective(ctx, id, 1, "x")
	require.NoError(t, err)
	_, err = f.svc.CheckCompletenessAndConsult(ctx, id, nil)
	require.NoError(t, err)
	f.disp.inner.Wait()

	_, err = f.svc.Close(ctx, id)
	assert.ErrorIs(t, err, ErrInvalidState)
	m, err = f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StateFinished, m.State)
}

func TestSubmitGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitPerspective(ctx, types.MediationID{GroupID: 1, Token: "missing"}, 1, "x")
	assert.ErrorIs(t, err, ErrNotFound)

	id := f.create(t, "t", 1)
	_, err = f.svc.SubmitPerspective(ctx, id, 99, "stranger")
	assert.ErrorIs(t, err, ErrNotParticipant)

	ss, err := f.svc.SubmitPerspective(ctx, id, 1, "early")
	require.NoError(t, err)
	assert.False(t, ss.MediationClosed)
	assert.Equal(t, 1, ss.ParticipantCount)

	cs, err := f.svc.CheckCompletenessAndConsult(ctx, id, nil)
	require.NoError(t, err)
	assert.False(t, cs.Finished, "open mediations never finish")
	assert.Equal(t, 1, cs.ReceivedCount)

	_, err = f.svc.Close(ctx, id)
	require.NoError(t, err)
	cs, err = f.svc.CheckCompletenessAndConsult(ctx, id, nil)
	require.NoError(t, err)
	assert.True(t, cs.Finished)
	f.disp.inner.Wait()

	_, err = f.svc.SubmitPerspective(ctx, id, 1, "too late")
	assert.ErrorIs(t, err, ErrInvalidState)

	cs, err = f.svc.CheckCompletenessAndConsult(ctx, id, nil)
	require.NoError(t, err)
	assert.False(t, cs.Finished)
	assert.True(t, cs.AlreadyFinished)
}

func TestCompletenessExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	users := make([]int64, n)
	for i := range users {
		users[i] = int64(100 + i)
	}
	id := f.create(t, "race", users...)
	_, err := f.svc.Close(ctx, id)
	require.NoError(t, err)

	var finished atomic.Int32
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitPerspective(ctx, id, u, "view of user")
			assert.NoError(t, err)
			// Every submitter checks, some more than once.
			for range 3 {
				cs, err := f.svc.CheckCompletenessAndConsult(ctx, id, nil)
				assert.NoError(t, err)
				if cs.Finished {
					finished.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	f.disp.inner.Wait()

	assert.Equal(t, int32(1), finished.Load())
	assert.Equal(t, int32(1), f.disp.calls.Load())
	assert.Len(t, f.provider.requests, n)
}

// failingPerspectives makes GetPerspective fail with an I/O error.
type failingPerspectives struct {
	*memory.Store
}

func (failingPerspectives) GetPerspective(context.Context, types.MediationID, int64) (string, error) {
	return "", &storage.Error{Op: "get_perspective", Err: errors.New("disk gone")}
}

func TestCompletenessStorageErrorLeavesStateAlone(t *testing.T) {
	inner := memory.New()
	disp := &countingDispatcher{inner: consult.NewDispatcher(&recordingProvider{}, inner, nil)}
	svc := New(failingPerspectives{inner}, disp)
	ctx := context.Background()

	m, err := svc.Create(ctx, "t", 1)
	require.NoError(t, err)
	_, err = svc.Join(ctx, m.ID, 1, "a")
	require.NoError(t, err)
	_, err = svc.Close(ctx, m.ID)
	require.NoError(t, err)

	_, err = svc.CheckCompletenessAndConsult(ctx, m.ID, nil)
	require.Error(t, err)
	assert.True(t, storage.IsStorageError(err))

	got, err := svc.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateClosed, got.State)
	assert.Zero(t, disp.calls.Load())
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, "r", 1, 2)
	_, err := f.svc.SubmitPerspective(ctx, id, 2, "b")
	require.NoError(t, err)
	require.NoError(t, f.store.PutAnswer(ctx, id, 2, "done"))

	r, err := f.svc.Report(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JointKey(id), r.JointKey)
	require.Len(t, r.Entries, 2)
	assert.False(t, r.Entries[0].HasPerspective)
	assert.True(t, r.Entries[1].HasPerspective)
	assert.True(t, r.Entries[1].HasAnswer)
}

func TestJointKey(t *testing.T) {
	assert.Equal(t, "-42%abc", JointKey(types.MediationID{GroupID: -42, Token: "abc"}))
}

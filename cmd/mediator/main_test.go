package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimediator/mediator/internal/chat"
	"github.com/aimediator/mediator/internal/config"
	"github.com/aimediator/mediator/internal/mediation"
	"github.com/aimediator/mediator/internal/types"
)

// setupApp opens an app on the in-memory store with the dry-run provider.
func setupApp(t *testing.T) *app {
	t.Helper()
	config.ResetForTesting()
	config.Set(config.KeyStorageBackend, "memory")
	config.Set(config.KeyConsultDryRun, true)
	rootCtx = context.Background()
	a, err := openApp()
	require.NoError(t, err)
	t.Cleanup(func() {
		closeApp()
		config.ResetForTesting()
	})
	return a
}

func TestParseMediationID(t *testing.T) {
	id, rest, err := parseMediationID([]string{"-100", "kf", "7"})
	require.NoError(t, err)
	assert.Equal(t, types.MediationID{GroupID: -100, Token: "kf"}, id)
	assert.Equal(t, []string{"7"}, rest)

	id, rest, err = parseMediationID([]string{"-100%kf", "7", "Ann"})
	require.NoError(t, err)
	assert.Equal(t, types.MediationID{GroupID: -100, Token: "kf"}, id)
	assert.Equal(t, []string{"7", "Ann"}, rest)

	_, _, err = parseMediationID(nil)
	assert.Error(t, err)
	_, _, err = parseMediationID([]string{"abc", "kf"})
	assert.Error(t, err)
	_, _, err = parseMediationID([]string{"-100"})
	assert.Error(t, err)
	_, _, err = parseMediationID([]string{"-100", "a/b"})
	assert.Error(t, err)
}

func TestPerspectiveText(t *testing.T) {
	text, err := perspectiveText(strings.NewReader("ignored"), []string{"they", "never", "help"})
	require.NoError(t, err)
	assert.Equal(t, "they never help", text)

	text, err = perspectiveText(strings.NewReader("  from stdin\n"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "from stdin", text)

	text, err = perspectiveText(strings.NewReader("piped"), nil)
	require.NoError(t, err)
	assert.Equal(t, "piped", text)

	_, err = perspectiveText(strings.NewReader(" \n"), nil)
	assert.Error(t, err)
}

func TestOpenAppIsReused(t *testing.T) {
	a := setupApp(t)
	b, err := openApp()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestCommandFlowFinishesMediation(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	a := setupApp(t)
	ctx := context.Background()

	m, err := a.svc.Create(ctx, "Dishes", -100)
	require.NoError(t, err)
	for _, u := range []struct {
		id   int64
		name string
	}{{1, "Ann"}, {2, "Bob"}} {
		_, err := a.svc.Join(ctx, m.ID, u.id, u.name)
		require.NoError(t, err)
	}
	_, err = a.svc.Close(ctx, m.ID)
	require.NoError(t, err)
	for _, uid := range []int64{1, 2} {
		_, err := a.svc.SubmitPerspective(ctx, m.ID, uid, "my side")
		require.NoError(t, err)
	}

	require.NoError(t, runCheck(a, m.ID))

	rep, err := a.svc.Report(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateFinished, rep.Mediation.State)
	for _, e := range rep.Entries {
		assert.True(t, e.HasPerspective)
		assert.True(t, e.HasAnswer, "user %d", e.UserID)
	}

	var buf bytes.Buffer
	writeReport(&buf, rep)
	out := buf.String()
	assert.Contains(t, out, "Dishes")
	assert.Contains(t, out, mediation.JointKey(m.ID))
	assert.Contains(t, out, "Ann")
	assert.Contains(t, out, "finished")
}

func TestRunCheckUnknownMediation(t *testing.T) {
	a := setupApp(t)
	err := runCheck(a, types.MediationID{GroupID: 1, Token: "nope"})
	assert.ErrorIs(t, err, mediation.ErrNotFound)
}

type recordingHandler struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recordingHandler) Handle(_ context.Context, ev chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestRunEventsSkipsMalformedLines(t *testing.T) {
	in := strings.Join([]string{
		`{"chat": -100, "from": {"id": 7, "first_name": "Ann"}, "text": "/mediate Dishes"}`,
		``,
		`not json`,
		`{"chat": 7, "from": {"id": 7}, "data": "C -100 kf"}`,
	}, "\n")
	h := &recordingHandler{}
	require.NoError(t, runEvents(context.Background(), strings.NewReader(in), h))

	require.Len(t, h.events, 2)
	assert.Equal(t, "/mediate Dishes", h.events[0].Text)
	assert.Equal(t, "Ann", h.events[0].From.FirstName)
	assert.True(t, h.events[1].IsPrivate())
	assert.Equal(t, "C -100 kf", h.events[1].CallbackData)
}

func TestRunEventsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &recordingHandler{}
	err := runEvents(ctx, strings.NewReader(`{"chat": 1, "from": {"id": 1}, "text": "hi"}`), h)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.events)
}

func TestConsoleMessenger(t *testing.T) {
	var buf bytes.Buffer
	c := newConsoleMessenger(&buf, 5)
	ctx := context.Background()

	sm, err := c.SendMessage(ctx, -100, "hello", chat.Keyboard{{Text: "Close", Data: "C -100 kf"}})
	require.NoError(t, err)
	assert.Equal(t, chat.SentMessage{ChatID: -100, MessageID: 1}, sm)
	require.NoError(t, c.EditMessage(ctx, -100, 1, "hello", nil))
	n, err := c.MemberCount(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	dec := json.NewDecoder(&buf)
	var first, second outgoing
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, "send", first.Op)
	assert.Len(t, first.Keyboard, 1)
	assert.Equal(t, "edit", second.Op)
	assert.Equal(t, int64(1), second.MessageID)
	assert.Empty(t, second.Keyboard)
}

func TestChatFlowThroughConsole(t *testing.T) {
	a := setupApp(t)
	var buf bytes.Buffer
	sessions, err := chat.NewSessions("")
	require.NoError(t, err)
	h := chat.NewHandler(a.svc, newConsoleMessenger(&buf, 3), sessions, chat.Config{}, nil)

	in := `{"chat": -100, "from": {"id": 7, "first_name": "Ann"}, "text": "/mediate Dishes"}`
	require.NoError(t, runEvents(context.Background(), strings.NewReader(in), h))

	var out outgoing
	require.NoError(t, json.NewDecoder(&buf).Decode(&out))
	assert.Equal(t, int64(-100), out.ChatID)
	assert.Contains(t, out.Text, "Dishes")
	require.NotEmpty(t, out.Keyboard)
	assert.Contains(t, out.Keyboard[0].URL, "t.me/AIMediatorBot?start=")
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/aimediator/mediator/internal/consult"
	"github.com/aimediator/mediator/internal/mediation"
	"github.com/aimediator/mediator/internal/types"
)

// Mediations is the part of the mediation service the handler drives.
type Mediations interface {
	Create(ctx context.Context, title string, groupID int64) (*types.Mediation, error)
	Join(ctx context.Context, id types.MediationID, userID int64, name string) (mediation.JoinStatus, error)
	Close(ctx context.Context, id types.MediationID) (string, error)
	SubmitPerspective(ctx context.Context, id types.MediationID, userID int64, text string) (mediation.SubmitStatus, error)
	CheckCompletenessAndConsult(ctx context.Context, id types.MediationID, onAnswer consult.AnswerFunc) (mediation.CompletenessStatus, error)
}

// Config tunes the handler.
type Config struct {
	MinGroupMembers int
	MaxTitleLength  int
	BotUsername     string
}

// Handler turns chat events into mediation operations and replies.
type Handler struct {
	svc      Mediations
	msg      Messenger
	sessions *Sessions
	cfg      Config
	log      *slog.Logger
}

// NewHandler wires a handler. A nil logger discards.
func NewHandler(svc Mediations, msg Messenger, sessions *Sessions, cfg Config, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.MinGroupMembers <= 0 {
		cfg.MinGroupMembers = 3
	}
	if cfg.MaxTitleLength <= 0 {
		cfg.MaxTitleLength = 255
	}
	if cfg.BotUsername == "" {
		cfg.BotUsername = "AIMediatorBot"
	}
	return &Handler{svc: svc, msg: msg, sessions: sessions, cfg: cfg, log: log}
}

// Handle processes one inbound event. Failures are reported to the user
// where it makes sense and logged otherwise.
func (h *Handler) Handle(ctx context.Context, ev Event) {
	if ev.CallbackData != "" {
		h.handleCallback(ctx, ev)
		return
	}
	if cmd, arg, ok := parseCommand(ev.Text); ok {
		switch cmd {
		case "help":
			h.reply(ctx, ev.ChatID, helpMessage, nil)
		case "start":
			h.handleStart(ctx, ev, arg)
		case "mediate":
			h.handleMediate(ctx, ev, arg)
		default:
			h.log.Debug("ignoring unknown command", "command", cmd, "chat", ev.ChatID)
		}
		return
	}
	if ev.IsPrivate() {
		h.handlePerspective(ctx, ev)
	}
}

// parseCommand splits "/cmd@bot arg..." into its parts.
func parseCommand(text string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), rest, true
}

func (h *Handler) handleMediate(ctx context.Context, ev Event, arg string) {
	members, err := h.msg.MemberCount(ctx, ev.ChatID)
	if err != nil {
		h.log.Error("member count", "chat", ev.ChatID, "error", err)
		h.reply(ctx, ev.ChatID, genericErrorReply, nil)
		return
	}
	if members < h.cfg.MinGroupMembers {
		h.reply(ctx, ev.ChatID, notInGroupMessage, nil)
		return
	}
	title := truncate(strings.TrimSpace(arg), h.cfg.MaxTitleLength)
	if title == "" {
		h.reply(ctx, ev.ChatID, missingTitleReply, nil)
		return
	}

	m, err := h.svc.Create(ctx, title, ev.ChatID)
	if err != nil {
		h.log.Error("create mediation", "chat", ev.ChatID, "error", err)
		h.reply(ctx, ev.ChatID, genericErrorReply, nil)
		return
	}
	kb := Keyboard{{Text: "participate", URL: DeepLink(h.cfg.BotUsername, m.ID)}}
	h.reply(ctx, ev.ChatID, fmt.Sprintf("Created mediation \"%s\".", m.Title), kb)
}

func (h *Handler) handleStart(ctx context.Context, ev Event, payload string) {
	id, err := DecodeStartPayload(payload)
	if err != nil {
		h.log.Warn("bad start payload", "user", ev.From.ID, "payload", payload, "error", err)
		h.reply(ctx, ev.ChatID, startErrorMessage, nil)
		return
	}

	status, err := h.svc.Join(ctx, id, ev.From.ID, ev.From.DisplayName())
	if err != nil {
		h.replyError(ctx, ev.ChatID, "join", id, err)
		return
	}
	if err := h.sessions.SetCurrent(ev.From.ID, id); err != nil {
		h.log.Error("persist session", "user", ev.From.ID, "error", err)
	}

	if status.AlreadyJoined {
		h.reply(ctx, ev.ChatID, fmt.Sprintf("Welcome back to the mediation \"%s\". What is your perspective on the situation?", status.Title), nil)
		return
	}
	h.reply(ctx, ev.ChatID, fmt.Sprintf("Thank you for participating in the mediation \"%s\".\nPlease tell me your perspective on the situation.", status.Title), nil)

	joined := fmt.Sprintf("%s has joined the mediation \"%s\". Tell me your perspective in the private chat.", ev.From.Mention(), status.Title)
	if status.ParticipantCount > 1 {
		h.offerClose(ctx, id, joined, closeHintAfterJoin)
		return
	}
	h.reply(ctx, id.GroupID, joined+"\nWe need at least one other participant.", nil)
}

func (h *Handler) handleCallback(ctx context.Context, ev Event) {
	action, id, err := parseCallback(ev.CallbackData)
	if err != nil || action != actionClose {
		h.log.Warn("ignoring callback", "data", ev.CallbackData, "error", err)
		return
	}
	h.removeClosePrompt(ctx, id)

	title, err := h.svc.Close(ctx, id)
	if err != nil {
		h.replyError(ctx, id.GroupID, "close", id, err)
		return
	}
	h.reply(ctx, id.GroupID, fmt.Sprintf("Mediation \"%s\" has been closed by %s.", title, ev.From.Mention()), nil)

	status, err := h.svc.CheckCompletenessAndConsult(ctx, id, h.answerSender(ctx, title))
	if err != nil {
		h.log.Error("completeness check", "group", id.GroupID, "token", id.Token, "error", err)
		return
	}
	switch {
	case status.Finished:
		h.reply(ctx, id.GroupID, fmt.Sprintf("I am reading through all your perspectives regarding mediation \"%s\". Check our private chat, I'll be writing to you.", title), nil)
	case !status.AlreadyFinished:
		h.reply(ctx, id.GroupID, fmt.Sprintf("So far received %d of %d perspectives. Waiting for the remaining %d.",
			status.ReceivedCount, status.ParticipantCount, status.ParticipantCount-status.ReceivedCount), nil)
	}
}

func (h *Handler) handlePerspective(ctx context.Context, ev Event) {
	id, ok := h.sessions.Current(ev.From.ID)
	if !ok {
		h.reply(ctx, ev.ChatID, helpMessage, nil)
		return
	}
	status, err := h.svc.SubmitPerspective(ctx, id, ev.From.ID, ev.Text)
	if err != nil {
		h.replyError(ctx, ev.ChatID, "submit", id, err)
		return
	}
	if status.AlreadyStored {
		h.reply(ctx, ev.ChatID, fmt.Sprintf("You have overridden your perspective for mediation \"%s\".", status.Title), nil)
		return
	}
	h.reply(ctx, ev.ChatID, fmt.Sprintf("Thank you for telling me your perspective for mediation \"%s\".", status.Title), nil)

	intro := fmt.Sprintf("%s has submitted their perspective on mediation \"%s\".", ev.From.Mention(), status.Title)
	switch {
	case status.ParticipantCount < 2:
		h.reply(ctx, id.GroupID, intro+"\nWaiting for at least one more participant.", nil)
	case !status.MediationClosed:
		h.offerClose(ctx, id, intro, closeHintAfterSubmit)
	default:
		cs, err := h.svc.CheckCompletenessAndConsult(ctx, id, h.answerSender(ctx, status.Title))
		if err != nil {
			h.log.Error("completeness check", "group", id.GroupID, "token", id.Token, "error", err)
			return
		}
		if cs.Finished {
			h.reply(ctx, id.GroupID, intro+"\nNow that everyone has submitted their perspective, let me read through all of them. I'll be writing to you in private chat.", nil)
		} else if !cs.AlreadyFinished {
			h.reply(ctx, id.GroupID, intro+fmt.Sprintf("\nSo far I received %d of %d perspectives.", cs.ReceivedCount, cs.ParticipantCount), nil)
		}
	}
}

// offerClose posts text with a close button to the group and retires the
// previous close prompt of the same mediation.
func (h *Handler) offerClose(ctx context.Context, id types.MediationID, text, hint string) {
	sent, err := h.msg.SendMessage(ctx, id.GroupID, text+"\n"+hint, Keyboard{{Text: "close", Data: closeData(id)}})
	if err != nil {
		h.log.Warn("send close prompt", "group", id.GroupID, "error", err)
		return
	}
	h.removeClosePrompt(ctx, id)
	prompt := ClosePrompt{ChatID: sent.ChatID, MessageID: sent.MessageID, Text: text}
	if err := h.sessions.SetClosePrompt(id.JointKey(), prompt); err != nil {
		h.log.Error("persist close prompt", "key", id.JointKey(), "error", err)
	}
}

// removeClosePrompt strips the button and hint from the live close prompt.
func (h *Handler) removeClosePrompt(ctx context.Context, id types.MediationID) {
	prev, ok, err := h.sessions.TakeClosePrompt(id.JointKey())
	if err != nil {
		h.log.Error("persist close prompt removal", "key", id.JointKey(), "error", err)
	}
	if !ok {
		return
	}
	if err := h.msg.EditMessage(ctx, prev.ChatID, prev.MessageID, prev.Text, nil); err != nil {
		h.log.Warn("remove close button", "chat", prev.ChatID, "message", prev.MessageID, "error", err)
	}
}

// answerSender delivers consultation answers privately.
func (h *Handler) answerSender(ctx context.Context, title string) consult.AnswerFunc {
	ctx = context.WithoutCancel(ctx)
	return func(userID int64, answer string) {
		h.reply(ctx, userID, fmt.Sprintf("Regarding mediation \"%s\": %s", title, answer), nil)
	}
}

func (h *Handler) replyError(ctx context.Context, chatID int64, op string, id types.MediationID, err error) {
	var text string
	switch {
	case errors.Is(err, mediation.ErrNotFound):
		text = notFoundReply
	case errors.Is(err, mediation.ErrInsufficientParticipants):
		text = nobodyJoinedReply
	case errors.Is(err, mediation.ErrNotParticipant):
		text = notParticipantText
	case errors.Is(err, mediation.ErrInvalidState) && op == "join":
		text = notOpenReply
	case errors.Is(err, mediation.ErrInvalidState):
		text = finishedReply
	default:
		h.log.Error(op+" failed", "group", id.GroupID, "token", id.Token, "error", err)
		text = genericErrorReply
	}
	h.reply(ctx, chatID, text, nil)
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, kb Keyboard) {
	if _, err := h.msg.SendMessage(ctx, chatID, text, kb); err != nil {
		h.log.Warn("send message", "chat", chatID, "error", err)
	}
}

func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxRunes])
}

// Package chat drives mediations from chat events: group commands, deep
// link joins, close buttons and private perspective messages.
//
// The chat platform itself sits behind Messenger so any transport can be
// plugged in.
package chat

import (
	"context"
	"strconv"
	"strings"
)

// Button is an inline keyboard button. Exactly one of Data and URL is set.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Keyboard is a single row of inline buttons. A nil Keyboard removes any
// buttons from an edited message.
type Keyboard []Button

// SentMessage identifies a delivered message.
type SentMessage struct {
	ChatID    int64
	MessageID int64
}

// Messenger is the outbound side of the chat platform.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, kb Keyboard) (SentMessage, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) error
	MemberCount(ctx context.Context, chatID int64) (int, error)
}

// User is the author of an inbound event.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Mention renders u for a group message.
func (u User) Mention() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return strconv.FormatInt(u.ID, 10)
}

// DisplayName is the name recorded when u joins a mediation.
func (u User) DisplayName() string {
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

// Event is one inbound update. Private chats have ChatID == From.ID.
// Button presses carry CallbackData instead of Text.
type Event struct {
	ChatID       int64  `json:"chat"`
	From         User   `json:"from"`
	Text         string `json:"text,omitempty"`
	CallbackData string `json:"data,omitempty"`
}

// IsPrivate reports whether the event comes from a one-to-one chat.
func (e Event) IsPrivate() bool {
	return e.ChatID == e.From.ID
}

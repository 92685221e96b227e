package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/aimediator/mediator/internal/chat"
	"github.com/aimediator/mediator/internal/config"
)

var chatMembers int

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run the chat front end against JSON events on stdin",
	Long: `Reads one chat event per line from stdin, for example

  {"chat": -100, "from": {"id": 7, "first_name": "Ann"}, "text": "/mediate Dishes"}
  {"chat": 7, "from": {"id": 7}, "text": "/start LTEwMCtrZg"}
  {"chat": -100, "from": {"id": 7}, "data": "C -100 kf"}

and writes every outgoing message as a JSON line on stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		cs := config.GetChatSettings()
		sessions, err := chat.NewSessions(cs.StateFile)
		if err != nil {
			return err
		}
		msg := newConsoleMessenger(cmd.OutOrStdout(), chatMembers)
		h := chat.NewHandler(a.svc, msg, sessions, chat.Config{
			MinGroupMembers: cs.MinGroupMembers,
			MaxTitleLength:  cs.MaxTitleLength,
			BotUsername:     cs.BotUsername,
		}, logger)
		return runEvents(rootCtx, cmd.InOrStdin(), h)
	},
}

// eventHandler is the part of chat.Handler the event loop needs.
type eventHandler interface {
	Handle(ctx context.Context, ev chat.Event)
}

func runEvents(ctx context.Context, r io.Reader, h eventHandler) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var ev chat.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			logger.Warn("skip malformed event", "line", line, "error", err)
			continue
		}
		h.Handle(ctx, ev)
	}
	return sc.Err()
}

// outgoing is the JSON line written for every message the bot sends or edits.
type outgoing struct {
	Op        string        `json:"op"`
	ChatID    int64         `json:"chat"`
	MessageID int64         `json:"message"`
	Text      string        `json:"text"`
	Keyboard  chat.Keyboard `json:"keyboard,omitempty"`
}

// consoleMessenger implements chat.Messenger by writing JSON lines.
type consoleMessenger struct {
	mu      sync.Mutex
	enc     *json.Encoder
	nextID  int64
	members int
}

func newConsoleMessenger(w io.Writer, members int) *consoleMessenger {
	return &consoleMessenger{enc: json.NewEncoder(w), members: members}
}

func (c *consoleMessenger) SendMessage(_ context.Context, chatID int64, text string, kb chat.Keyboard) (chat.SentMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if err := c.enc.Encode(outgoing{Op: "send", ChatID: chatID, MessageID: c.nextID, Text: text, Keyboard: kb}); err != nil {
		return chat.SentMessage{}, fmt.Errorf("write message: %w", err)
	}
	return chat.SentMessage{ChatID: chatID, MessageID: c.nextID}, nil
}

func (c *consoleMessenger) EditMessage(_ context.Context, chatID, messageID int64, text string, kb chat.Keyboard) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(outgoing{Op: "edit", ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb})
}

func (c *consoleMessenger) MemberCount(context.Context, int64) (int, error) {
	return c.members, nil
}

func init() {
	chatCmd.Flags().IntVar(&chatMembers, "members", 3, "Member count reported for every group")
	rootCmd.AddCommand(chatCmd)
}

var _ chat.Messenger = (*consoleMessenger)(nil)

package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aimediator/mediator/internal/types"
)

// ClosePrompt references the group message that currently carries the
// close button of a mediation. Text is the message without the close hint.
type ClosePrompt struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
}

// sessionState is the top-level persisted state.
type sessionState struct {
	Current map[int64]types.MediationID `json:"current"`
	Prompts map[string]ClosePrompt      `json:"close_prompts"`
}

// Sessions tracks each user's current mediation and the live close prompt
// of each mediation, keyed by joint key. When a file path is set every
// change is persisted so the bot can resume after a restart.
type Sessions struct {
	mu       sync.RWMutex
	saveMu   sync.Mutex
	filePath string
	state    sessionState
}

// NewSessions creates a registry persisted at filePath. An empty path keeps
// the registry in memory.
func NewSessions(filePath string) (*Sessions, error) {
	s := &Sessions{
		filePath: filePath,
		state: sessionState{
			Current: make(map[int64]types.MediationID),
			Prompts: make(map[string]ClosePrompt),
		},
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the mediation userID last joined.
func (s *Sessions) Current(userID int64) (types.MediationID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.state.Current[userID]
	return id, ok
}

// SetCurrent records id as userID's current mediation.
func (s *Sessions) SetCurrent(userID int64, id types.MediationID) error {
	s.mu.Lock()
	s.state.Current[userID] = id
	s.mu.Unlock()
	return s.Save()
}

// ClosePrompt returns the live close prompt for a joint key.
func (s *Sessions) ClosePrompt(key string) (ClosePrompt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.Prompts[key]
	return p, ok
}

// SetClosePrompt records p as the live close prompt for key.
func (s *Sessions) SetClosePrompt(key string, p ClosePrompt) error {
	s.mu.Lock()
	s.state.Prompts[key] = p
	s.mu.Unlock()
	return s.Save()
}

// TakeClosePrompt removes and returns the live close prompt for key.
func (s *Sessions) TakeClosePrompt(key string) (ClosePrompt, bool, error) {
	s.mu.Lock()
	p, ok := s.state.Prompts[key]
	delete(s.state.Prompts, key)
	s.mu.Unlock()
	if !ok {
		return ClosePrompt{}, false, nil
	}
	return p, true, s.Save()
}

// Save writes state to disk using atomic write (temp file + rename).
func (s *Sessions) Save() error {
	if s.filePath == "" {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	data, err := json.MarshalIndent(s.state, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sessions directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.filePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads state from disk. Returns nil if file doesn't exist yet.
func (s *Sessions) Load() error {
	if s.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read sessions file: %w", err)
	}

	var state sessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse sessions file: %w", err)
	}
	if state.Current == nil {
		state.Current = make(map[int64]types.MediationID)
	}
	if state.Prompts == nil {
		state.Prompts = make(map[string]ClosePrompt)
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

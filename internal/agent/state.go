// ABOUTME: JSON persistence for conversation history across bridge restarts.
// ABOUTME: Corrupt or missing state files reset to defaults instead of failing.

package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ConversationEntry is one user message and, once the turn completes, the
// agent's reply.
type ConversationEntry struct {
	UserText string    `json:"userText"`
	At       time.Time `json:"at"`
	Reply    string    `json:"reply,omitempty"`
}

// ConversationState is the durable snapshot written to disk. Sessions maps
// agent names to their protocol session ids so the next run can resume them
// via session/load instead of starting blank.
type ConversationState struct {
	ActiveAgent string              `json:"activeAgent"`
	SavedAt     time.Time           `json:"savedAt"`
	Sessions    map[string]string   `json:"sessions,omitempty"`
	Entries     []ConversationEntry `json:"entries"`
}

// SaveState writes the current conversation snapshot to path, creating
// parent directories as needed.
func (m *Manager) SaveState(path string) error {
	m.mu.Lock()
	state := ConversationState{
		ActiveAgent: m.active,
		SavedAt:     time.Now().UTC(),
		Entries:     append([]ConversationEntry{}, m.history...),
	}
	entries := make([]*entry, 0, len(m.agents))
	for _, e := range m.agents {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.started && e.sessionID != "" {
			if state.Sessions == nil {
				state.Sessions = make(map[string]string)
			}
			state.Sessions[e.name] = e.sessionID
		}
		e.mu.Unlock()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding conversation state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing conversation state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing conversation state: %w", err)
	}

	m.logger.Debug("conversation state saved", "path", path, "entries", len(state.Entries))
	return nil
}

// LoadState restores conversation history from path. A missing or corrupt
// file is not an error: the bridge must come up cleanly after a bad shutdown,
// so the state resets to empty and the problem is logged.
func (m *Manager) LoadState(path string) (*ConversationState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.logger.Info("no conversation state found, starting fresh", "path", path)
			return &ConversationState{}, nil
		}
		return nil, fmt.Errorf("reading conversation state: %w", err)
	}

	var state ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		m.logger.Warn("conversation state corrupt, starting fresh", "path", path, "error", err)
		return &ConversationState{}, nil
	}

	m.mu.Lock()
	m.history = append([]ConversationEntry{}, state.Entries...)
	for name, id := range state.Sessions {
		m.saved[name] = id
	}
	m.mu.Unlock()

	m.logger.Info("conversation state loaded",
		"path", path, "entries", len(state.Entries), "lastActive", state.ActiveAgent)
	return &state, nil
}

// History returns a copy of the in-memory conversation history.
func (m *Manager) History() []ConversationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ConversationEntry{}, m.history...)
}

// ABOUTME: Per-agent worker goroutine that drains the outbound work queue.
// ABOUTME: Owns subprocess startup, blocking prompt turns, and reply delivery.

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/2389/coven-acp/internal/acp"
)

type itemKind int

const (
	itemStart itemKind = iota
	itemSend
	itemSendImage
	itemClose
)

func (k itemKind) String() string {
	switch k {
	case itemStart:
		return "start"
	case itemSend:
		return "send"
	case itemSendImage:
		return "send_image"
	case itemClose:
		return "close"
	default:
		return "unknown"
	}
}

// workItem is one unit of outbound work for an agent's queue.
type workItem struct {
	kind        itemKind
	text        string
	imagePath   string
	workingDir  string
	destination string
}

// workerLoop drains one agent's queue in FIFO order. Blocking protocol work
// (handshake, whole prompt turns) happens here so frontend callers never
// wait on an agent.
func (m *Manager) workerLoop(e *entry) {
	defer m.workers.Done()

	for item := range e.queue {
		switch item.kind {
		case itemStart:
			m.handleStart(e, item)
		case itemSend:
			m.handleSend(e, item, nil)
		case itemSendImage:
			m.handleSend(e, item, func(s *acp.Session) error {
				return s.SendImage(item.imagePath, item.text)
			})
		case itemClose:
			return
		}
	}
}

// handleStart launches the agent subprocess and its session, or, if already
// running, just switches the active pointer and flushes buffered output.
func (m *Manager) handleStart(e *entry, item workItem) {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	if started {
		m.activateAndFlush(e)
		m.deliverNow(item.destination, fmt.Sprintf("🔄 Switched to agent: %s", e.name))
		return
	}

	cfg := acp.Config{
		Command:        m.launch.Command,
		WorkingDir:     item.workingDir,
		RequestTimeout: m.launch.RequestTimeout,
	}
	if m.launch.PassAgentFlag && e.name != m.launch.DefaultAgent {
		cfg.AgentName = e.name
	}

	client := acp.NewClient(cfg, m.logger.With("agent", e.name))
	if err := client.Start(); err != nil {
		m.logger.Error("failed to start agent subprocess", "agent", e.name, "error", err)
		m.deliverNow(item.destination, fmt.Sprintf("❌ Error starting agent %s: %v", e.name, err))
		return
	}

	if _, err := client.Initialize(); err != nil {
		m.logger.Error("agent handshake failed", "agent", e.name, "error", err)
		m.deliverNow(item.destination, fmt.Sprintf("❌ Error starting agent %s: %v", e.name, err))
		_ = client.Close()
		return
	}

	var created *acp.NewSessionResult
	if saved := m.takeSavedSession(e.name); saved != "" {
		restored, err := client.LoadSession(saved, item.workingDir)
		if err != nil {
			m.logger.Warn("session restore failed, creating a fresh session",
				"agent", e.name, "session", saved, "error", err)
		} else {
			created = restored
		}
	}
	if created == nil {
		var err error
		created, err = client.CreateSession(item.workingDir)
		if err != nil {
			m.logger.Error("session creation failed", "agent", e.name, "error", err)
			m.deliverNow(item.destination, fmt.Sprintf("❌ Error starting agent %s: %v", e.name, err))
			_ = client.Close()
			return
		}
	}

	session := acp.NewSession(created.SessionID, client, m.logger.With("agent", e.name))

	e.mu.Lock()
	e.client = client
	e.session = session
	e.sessionID = created.SessionID
	e.workingDir = item.workingDir
	e.models = created.Models
	e.modes = created.Modes
	e.started = true
	e.lastActivity = time.Now()
	e.mu.Unlock()

	m.activateAndFlush(e)
	m.logger.Info("agent session started",
		"agent", e.name, "session", created.SessionID, "dir", item.workingDir)
	m.deliverNow(item.destination, fmt.Sprintf("✅ Started agent: %s", e.name))
}

// activateAndFlush makes e the active agent and delivers any output that
// accumulated while it was inactive, in its original order.
func (m *Manager) activateAndFlush(e *entry) {
	flushed := m.setActive(e)
	for _, reply := range flushed {
		m.deliverNow(reply.destination, reply.text)
	}
	if len(flushed) > 0 {
		m.logger.Info("flushed buffered output", "agent", e.name, "count", len(flushed))
	}
}

// handleSend runs one prompt turn to completion. Callbacks are rebound per
// send so tool activity and the final reply go to this message's destination.
// The reply is delivered from the turn-end callback, so a turn that never
// reaches a proper end (the agent omitted its stop reason) delivers nothing.
// prompt overrides the default text send when non-nil.
func (m *Manager) handleSend(e *entry, item workItem, prompt func(*acp.Session) error) {
	e.mu.Lock()
	session := e.session
	started := e.started
	e.lastActivity = time.Now()
	e.mu.Unlock()

	if !started || session == nil {
		m.deliverNow(item.destination, fmt.Sprintf("❌ Error: agent %s is not running", e.name))
		return
	}

	session.ResetChunks()
	session.ResetCallbacks()
	session.OnToolCall(func(update json.RawMessage) {
		if text, ok := FormatToolCall(update); ok {
			m.deliverOrBuffer(e, item.destination, text)
		}
	})
	session.OnToolUpdate(func(update json.RawMessage) {
		if text, ok := FormatToolUpdate(update); ok {
			m.deliverOrBuffer(e, item.destination, text)
		}
	})

	turnEnded := false
	session.OnTurnEnd(func() {
		turnEnded = true
		reply := strings.TrimSpace(session.Accumulated())
		if reply == "" {
			m.logger.Debug("turn produced no text", "agent", e.name)
			return
		}
		m.recordReply(e.name, reply)
		m.deliverOrBuffer(e, item.destination, reply)
	})

	err := func() error {
		if prompt != nil {
			return prompt(session)
		}
		return session.Send(item.text)
	}()
	if err != nil {
		m.logger.Error("prompt turn failed", "agent", e.name, "error", err)
		m.deliverOrBuffer(e, item.destination, fmt.Sprintf("❌ Error: %v", err))
		return
	}
	if !turnEnded {
		m.logger.Warn("turn completed without ending, holding output",
			"agent", e.name, "accumulated", len(session.Accumulated()))
	}
}

// recordReply attaches the reply to the most recent history entry and writes
// it to the ledger when one is configured.
func (m *Manager) recordReply(agentName, reply string) {
	m.mu.Lock()
	if n := len(m.history); n > 0 && m.history[n-1].Reply == "" {
		m.history[n-1].Reply = reply
	}
	m.mu.Unlock()

	if m.ledger != nil {
		if err := m.ledger.RecordMessage(agentName, "agent", reply, "message"); err != nil {
			m.logger.Warn("failed to record agent reply", "error", err)
		}
	}
}

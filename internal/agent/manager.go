// ABOUTME: Manages named ACP agent subprocesses and routes chat traffic to them.
// ABOUTME: One outbound worker per agent; completions delivered via a dispatch loop.

package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-acp/internal/acp"
	"github.com/2389/coven-acp/internal/dispatch"
)

// ErrNoActiveAgent indicates no agent has been started yet.
var ErrNoActiveAgent = errors.New("no active agent")

// ErrAgentNotFound indicates the named agent has no entry.
var ErrAgentNotFound = errors.New("agent not found")

// ErrUnknownModel indicates a model id absent from the cached metadata.
var ErrUnknownModel = errors.New("unknown model id")

// ErrUnknownMode indicates a mode id absent from the cached metadata.
var ErrUnknownMode = errors.New("unknown mode id")

// queueSize bounds each agent's outbound work queue.
const queueSize = 32

// DeliverFunc delivers text to a frontend destination (a room, a chat). It
// runs on the dispatch loop's goroutine; implementations handle their own
// timeouts and logging.
type DeliverFunc func(destination, text string)

// DirLookup maps an agent name to its working directory. Supplied by the
// caller from its agent-definition source; returning "" falls back to the
// launch default.
type DirLookup func(agentName string) string

// LaunchConfig describes how agent subprocesses are started.
type LaunchConfig struct {
	// Command is the fixed argv prefix, e.g. ["kiro-cli", "acp", "--verbose"].
	Command []string

	// DefaultDir is the working directory used when the lookup has none.
	DefaultDir string

	// PassAgentFlag adds "--agent <name>" for agents other than DefaultAgent.
	PassAgentFlag bool

	// DefaultAgent is the name that launches without an --agent flag.
	DefaultAgent string

	// RequestTimeout overrides the client request ceiling when positive.
	RequestTimeout time.Duration
}

// Ledger records conversation traffic for durable history. Implemented by
// store.SQLiteStore; nil disables recording.
type Ledger interface {
	RecordMessage(agentName, sender, content, kind string) error
}

// bufferedReply is output held for an agent while it is not active.
type bufferedReply struct {
	destination string
	text        string
}

// entry is the manager's record for one named agent. The subprocess persists
// across active-agent switches; entries are destroyed only on Close.
type entry struct {
	name       string
	workingDir string

	client    *acp.Client
	session   *acp.Session
	sessionID string

	queue chan workItem

	mu           sync.Mutex
	started      bool
	buffered     []bufferedReply
	models       *acp.ModelState
	modes        *acp.ModeState
	lastActivity time.Time
}

// Manager owns the agent table and the active-agent pointer. Callers enqueue
// work without blocking; each agent's dedicated worker drains its queue in
// FIFO order and drives the blocking session operations.
type Manager struct {
	launch LaunchConfig
	lookup DirLookup
	loop   *dispatch.Loop
	ledger Ledger
	logger *slog.Logger

	mu      sync.Mutex
	agents  map[string]*entry
	active  string
	deliver DeliverFunc
	history []ConversationEntry

	// saved holds session ids from a prior run, consumed on first start so a
	// restarted bridge resumes where it left off.
	saved map[string]string

	workers sync.WaitGroup
}

// NewManager creates a manager. The dispatch loop must already be running
// (or started soon after); lookup and ledger may be nil.
func NewManager(launch LaunchConfig, lookup DirLookup, loop *dispatch.Loop, ledger Ledger, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		launch: launch,
		lookup: lookup,
		loop:   loop,
		ledger: ledger,
		logger: logger.With("component", "manager"),
		agents: make(map[string]*entry),
		saved:  make(map[string]string),
	}
}

// SetDeliverFunc installs the frontend delivery callback. Must be set before
// any send; typically done once at startup.
func (m *Manager) SetDeliverFunc(fn DeliverFunc) {
	m.mu.Lock()
	m.deliver = fn
	m.mu.Unlock()
}

// entryFor returns the entry for name, creating it (and starting its worker)
// on first use.
func (m *Manager) entryFor(name string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.agents[name]; ok {
		return e
	}
	e := &entry{
		name:  name,
		queue: make(chan workItem, queueSize),
	}
	m.agents[name] = e

	m.workers.Add(1)
	go m.workerLoop(e)

	m.logger.Info("agent entry created", "agent", name)
	return e
}

// StartSession starts (or switches to) the named agent. Idempotent per name:
// a running agent is not restarted, only made active, and any output buffered
// while it was inactive is flushed to the destination. Non-blocking; the
// actual subprocess startup happens on the agent's worker.
func (m *Manager) StartSession(agentName, workingDir, destination string) {
	if workingDir == "" && m.lookup != nil {
		workingDir = m.lookup(agentName)
	}
	if workingDir == "" {
		workingDir = m.launch.DefaultDir
	}

	e := m.entryFor(agentName)
	m.enqueue(e, workItem{kind: itemStart, workingDir: workingDir, destination: destination})
}

// SendMessage enqueues text for the active agent and returns immediately.
// The reply reaches the destination through the delivery callback when the
// turn completes.
func (m *Manager) SendMessage(text, destination string) {
	m.mu.Lock()
	active := m.active
	e := m.agents[active]
	if e != nil {
		m.history = append(m.history, ConversationEntry{UserText: text, At: time.Now().UTC()})
	}
	m.mu.Unlock()

	if e == nil {
		m.deliverNow(destination, "❌ Error: no active agent")
		return
	}

	if m.ledger != nil {
		if err := m.ledger.RecordMessage(active, "user", text, "message"); err != nil {
			m.logger.Warn("failed to record user message", "error", err)
		}
	}

	m.enqueue(e, workItem{kind: itemSend, text: text, destination: destination})
}

// SendImage enqueues an image prompt for the active agent. The path must be
// readable by this process; caption may be empty.
func (m *Manager) SendImage(path, caption, destination string) {
	m.mu.Lock()
	active := m.active
	e := m.agents[active]
	m.mu.Unlock()

	if e == nil {
		m.deliverNow(destination, "❌ Error: no active agent")
		return
	}

	if m.ledger != nil {
		if err := m.ledger.RecordMessage(active, "user", path, "image"); err != nil {
			m.logger.Warn("failed to record image message", "error", err)
		}
	}

	m.enqueue(e, workItem{kind: itemSendImage, text: caption, imagePath: path, destination: destination})
}

// CancelOperation interrupts the active agent: a protocol-level cancel
// notification for the session, and SIGINT to the subprocess's process group
// so a tool already executing is stopped at the OS level.
func (m *Manager) CancelOperation() error {
	e := m.activeEntry()
	if e == nil {
		return ErrNoActiveAgent
	}

	e.mu.Lock()
	session, client := e.session, e.client
	e.mu.Unlock()
	if session == nil || client == nil {
		return ErrNoActiveAgent
	}

	if err := session.Cancel(); err != nil {
		m.logger.Warn("protocol cancel failed", "agent", e.name, "error", err)
	}
	return client.Interrupt()
}

// SwitchAgent makes the named agent active, starting it if needed. Buffered
// output from the agent is flushed once it is active again.
func (m *Manager) SwitchAgent(agentName, destination string) {
	m.StartSession(agentName, "", destination)
}

// ListAgents returns the known agent names, active first.
func (m *Manager) ListAgents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.agents))
	if m.active != "" {
		names = append(names, m.active)
	}
	for name := range m.agents {
		if name != m.active {
			names = append(names, name)
		}
	}
	return names
}

// ActiveAgent returns the name of the active agent, or "".
func (m *Manager) ActiveAgent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// AvailableModels returns the active agent's cached model metadata.
func (m *Manager) AvailableModels() (*acp.ModelState, error) {
	e := m.activeEntry()
	if e == nil {
		return nil, ErrNoActiveAgent
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.models == nil {
		return nil, fmt.Errorf("agent %s reported no model metadata", e.name)
	}
	state := *e.models
	return &state, nil
}

// AvailableModes returns the active agent's cached mode metadata.
func (m *Manager) AvailableModes() (*acp.ModeState, error) {
	e := m.activeEntry()
	if e == nil {
		return nil, ErrNoActiveAgent
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.modes == nil {
		return nil, fmt.Errorf("agent %s reported no mode metadata", e.name)
	}
	state := *e.modes
	return &state, nil
}

// SetModel switches the active agent's model. The id is validated against
// the cached metadata first so an id the agent would reject is never sent.
func (m *Manager) SetModel(modelID string) error {
	e := m.activeEntry()
	if e == nil {
		return ErrNoActiveAgent
	}

	e.mu.Lock()
	session := e.session
	valid := false
	if e.models != nil {
		for _, model := range e.models.AvailableModels {
			if model.ModelID == modelID {
				valid = true
				break
			}
		}
	}
	e.mu.Unlock()

	if !valid {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	if session == nil {
		return ErrNoActiveAgent
	}
	if err := session.SetModel(modelID); err != nil {
		return err
	}

	e.mu.Lock()
	e.models.CurrentModelID = modelID
	e.mu.Unlock()
	return nil
}

// SetMode switches the active agent's mode, validating the id against the
// cached metadata first.
func (m *Manager) SetMode(modeID string) error {
	e := m.activeEntry()
	if e == nil {
		return ErrNoActiveAgent
	}

	e.mu.Lock()
	session := e.session
	valid := false
	if e.modes != nil {
		for _, mode := range e.modes.AvailableModes {
			if mode.ID == modeID {
				valid = true
				break
			}
		}
	}
	e.mu.Unlock()

	if !valid {
		return fmt.Errorf("%w: %s", ErrUnknownMode, modeID)
	}
	if session == nil {
		return ErrNoActiveAgent
	}
	if err := session.SetMode(modeID); err != nil {
		return err
	}

	e.mu.Lock()
	e.modes.CurrentModeID = modeID
	e.mu.Unlock()
	return nil
}

// ExecuteCommand runs an agent-native command (like "/compact") on the
// active agent and returns the raw result payload.
func (m *Manager) ExecuteCommand(command string) (json.RawMessage, error) {
	e := m.activeEntry()
	if e == nil {
		return nil, ErrNoActiveAgent
	}
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return nil, ErrNoActiveAgent
	}
	return session.ExecuteCommand(command)
}

// Close shuts down every agent: workers exit their loops, subprocesses are
// terminated, and the call waits for the workers to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.agents))
	for _, e := range m.agents {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		m.enqueue(e, workItem{kind: itemClose})
	}
	m.workers.Wait()

	for _, e := range entries {
		e.mu.Lock()
		client := e.client
		e.mu.Unlock()
		if client != nil {
			if err := client.Close(); err != nil {
				m.logger.Warn("error closing agent client", "agent", e.name, "error", err)
			}
		}
	}
	m.logger.Info("manager closed", "agents", len(entries))
}

// takeSavedSession returns and consumes the saved session id for an agent.
// One restore attempt per id: a failed session/load falls back to a fresh
// session, and the stale id must not be retried on a later restart-in-place.
func (m *Manager) takeSavedSession(agentName string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.saved[agentName]
	delete(m.saved, agentName)
	return id
}

// activeEntry returns the active agent's entry, or nil.
func (m *Manager) activeEntry() *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agents[m.active]
}

// setActive atomically switches the active pointer and returns any output
// buffered for the newly active agent, clearing the buffer.
func (m *Manager) setActive(e *entry) []bufferedReply {
	m.mu.Lock()
	m.active = e.name
	m.mu.Unlock()

	e.mu.Lock()
	flushed := e.buffered
	e.buffered = nil
	e.mu.Unlock()
	return flushed
}

// enqueue adds a work item to an agent's queue, reporting backpressure to
// the destination instead of blocking the caller.
func (m *Manager) enqueue(e *entry, item workItem) {
	select {
	case e.queue <- item:
	default:
		m.logger.Error("agent queue full, dropping item", "agent", e.name, "kind", item.kind)
		if item.destination != "" {
			m.deliverNow(item.destination, fmt.Sprintf("❌ Error: agent %s is busy, message dropped", e.name))
		}
	}
}

// deliverNow schedules a delivery on the dispatch loop without waiting.
// Submission order on the loop preserves per-destination ordering.
func (m *Manager) deliverNow(destination, text string) {
	m.mu.Lock()
	deliver := m.deliver
	m.mu.Unlock()

	if deliver == nil {
		m.logger.Warn("no delivery callback set, dropping output", "destination", destination)
		return
	}
	m.loop.Submit(func() { deliver(destination, text) })
}

// deliverOrBuffer delivers if the agent is active, otherwise holds the text
// on the entry until the agent becomes active again.
func (m *Manager) deliverOrBuffer(e *entry, destination, text string) {
	m.mu.Lock()
	isActive := m.active == e.name
	m.mu.Unlock()

	if isActive {
		m.deliverNow(destination, text)
		return
	}

	e.mu.Lock()
	e.buffered = append(e.buffered, bufferedReply{destination: destination, text: text})
	e.mu.Unlock()
	m.logger.Debug("buffered output for inactive agent", "agent", e.name, "length", len(text))
}

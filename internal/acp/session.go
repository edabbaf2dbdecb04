// ABOUTME: High-level wrapper over one ACP session id on a shared client.
// ABOUTME: Translates session/update notifications into typed event callbacks.

package acp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
)

// Protocol method and update-kind strings. These are wire contract; the agent
// matches them byte for byte.
const (
	MethodInitialize        = "initialize"
	MethodSessionNew        = "session/new"
	MethodSessionLoad       = "session/load"
	MethodSessionPrompt     = "session/prompt"
	MethodSessionCancel     = "session/cancel"
	MethodSessionSetMode    = "session/set_mode"
	MethodSessionSetModel   = "session/set_model"
	MethodSessionUpdate     = "session/update"
	MethodRequestPermission = "session/request_permission"

	// Kiro CLI extension methods.
	MethodCommandsExecute   = "_kiro.dev/commands/execute"
	MethodCommandsAvailable = "_kiro.dev/commands/available"
	MethodCompactionStatus  = "_kiro.dev/compaction/status"
	MethodMetadata          = "_kiro.dev/metadata"

	updateAgentMessageChunk = "agent_message_chunk"
	updateToolCall          = "tool_call"
	updateToolCallUpdate    = "tool_call_update"
)

const mcpEventPrefix = "_kiro.dev/mcp/"

// PermissionOption is one choice offered by a session/request_permission
// server request.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Kind     string `json:"kind"`
	Name     string `json:"name,omitempty"`
}

// PermissionPolicy selects which option to approve for a permission request.
// Returning ok=false leaves the request unanswered; the agent will stall,
// which is the deliberate behavior for capabilities we do not recognize.
type PermissionPolicy func(options []PermissionOption) (optionID string, ok bool)

// AllowPolicy is the default policy: prefer "allow_once", then
// "allow_always", then any option whose kind mentions allow.
func AllowPolicy(options []PermissionOption) (string, bool) {
	for _, opt := range options {
		if opt.Kind == "allow_once" {
			return opt.OptionID, true
		}
	}
	for _, opt := range options {
		if opt.Kind == "allow_always" {
			return opt.OptionID, true
		}
	}
	for _, opt := range options {
		if strings.Contains(opt.Kind, "allow") {
			return opt.OptionID, true
		}
	}
	return "", false
}

// ContentBlock is one element of a prompt's structured content.
type ContentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource references an image by local file path.
type ImageSource struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// PromptResult is the response to a session/prompt request.
type PromptResult struct {
	StopReason string `json:"stopReason"`
}

// Session wraps one session id on a shared Client. Many sessions may live on
// one client; each filters inbound traffic by its own id. The session does
// not own the client — the client outlives any number of sessions.
type Session struct {
	id     string
	client *Client
	logger *slog.Logger

	policy PermissionPolicy

	mu        sync.Mutex
	chunks    []string
	onChunk   []func(text string)
	onTool    []func(update json.RawMessage)
	onToolUpd []func(update json.RawMessage)
	onTurnEnd []func()
	onCmds    []func(commands json.RawMessage)
	onCompact []func(status json.RawMessage)
	onMCP     []func(method string, params json.RawMessage)
}

// NewSession wraps the given session id and registers itself as a
// notification observer on the client.
func NewSession(id string, client *Client, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:     id,
		client: client,
		logger: logger.With("component", "session", "session_id", id),
		policy: AllowPolicy,
	}
	client.OnNotification(s.handleNotification)
	return s
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// SetPermissionPolicy replaces the permission auto-approval policy. The
// default AllowPolicy silently approves; callers with stricter requirements
// install their own.
func (s *Session) SetPermissionPolicy(p PermissionPolicy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

// Event registration. Callbacks accumulate; they never replace earlier ones.

func (s *Session) OnChunk(fn func(text string)) {
	s.mu.Lock()
	s.onChunk = append(s.onChunk, fn)
	s.mu.Unlock()
}

func (s *Session) OnToolCall(fn func(update json.RawMessage)) {
	s.mu.Lock()
	s.onTool = append(s.onTool, fn)
	s.mu.Unlock()
}

func (s *Session) OnToolUpdate(fn func(update json.RawMessage)) {
	s.mu.Lock()
	s.onToolUpd = append(s.onToolUpd, fn)
	s.mu.Unlock()
}

func (s *Session) OnTurnEnd(fn func()) {
	s.mu.Lock()
	s.onTurnEnd = append(s.onTurnEnd, fn)
	s.mu.Unlock()
}

func (s *Session) OnCommandsAvailable(fn func(commands json.RawMessage)) {
	s.mu.Lock()
	s.onCmds = append(s.onCmds, fn)
	s.mu.Unlock()
}

func (s *Session) OnCompactionStatus(fn func(status json.RawMessage)) {
	s.mu.Lock()
	s.onCompact = append(s.onCompact, fn)
	s.mu.Unlock()
}

func (s *Session) OnMCPEvent(fn func(method string, params json.RawMessage)) {
	s.mu.Lock()
	s.onMCP = append(s.onMCP, fn)
	s.mu.Unlock()
}

// ResetCallbacks drops all registered event callbacks. The manager rebinds
// fresh callbacks per send so accumulated state cannot leak across turns.
func (s *Session) ResetCallbacks() {
	s.mu.Lock()
	s.onChunk = nil
	s.onTool = nil
	s.onToolUpd = nil
	s.onTurnEnd = nil
	s.onCmds = nil
	s.onCompact = nil
	s.onMCP = nil
	s.mu.Unlock()
}

// sessionScope is the minimal params shape needed to filter by session.
type sessionScope struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
	Options   json.RawMessage `json:"options"`
	Commands  json.RawMessage `json:"commands"`
}

// handleNotification filters and dispatches one inbound message. Messages
// scoped to a different session are ignored silently — one client may back
// many concurrently live sessions.
func (s *Session) handleNotification(msg *InboundMessage) {
	var scope sessionScope
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &scope); err != nil {
			s.logger.Warn("unparseable notification params", "method", msg.Method, "error", err)
			return
		}
	}
	if scope.SessionID != s.id {
		return
	}

	switch {
	case msg.Method == MethodRequestPermission:
		s.resolvePermission(msg, scope.Options)
	case msg.Method == MethodSessionUpdate:
		s.handleUpdate(scope.Update)
	case msg.Method == MethodCommandsAvailable:
		for _, fn := range s.callbacksCmds() {
			fn(scope.Commands)
		}
	case msg.Method == MethodCompactionStatus:
		for _, fn := range s.callbacksCompact() {
			fn(msg.Params)
		}
	case strings.HasPrefix(msg.Method, mcpEventPrefix):
		for _, fn := range s.callbacksMCP() {
			fn(msg.Method, msg.Params)
		}
	case msg.Method == MethodMetadata:
		s.logger.Debug("session metadata", "params", string(msg.Params))
	default:
		// Forward compatibility: new protocol methods must not break the
		// bridge.
		s.logger.Warn("unhandled notification method", "method", msg.Method)
	}
}

// sessionUpdate is the envelope inside a session/update notification.
type sessionUpdate struct {
	SessionUpdate string          `json:"sessionUpdate"`
	Content       json.RawMessage `json:"content"`
}

// textContent extracts the text field from a chunk content object.
type textContent struct {
	Text string `json:"text"`
}

func (s *Session) handleUpdate(raw json.RawMessage) {
	var update sessionUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		s.logger.Warn("unparseable session update", "error", err)
		return
	}

	switch update.SessionUpdate {
	case updateAgentMessageChunk:
		var content textContent
		if err := json.Unmarshal(update.Content, &content); err != nil {
			s.logger.Warn("unparseable chunk content", "error", err)
			return
		}
		s.mu.Lock()
		s.chunks = append(s.chunks, content.Text)
		callbacks := append([]func(string){}, s.onChunk...)
		s.mu.Unlock()
		for _, fn := range callbacks {
			fn(content.Text)
		}
	case updateToolCall:
		for _, fn := range s.callbacksTool() {
			fn(raw)
		}
	case updateToolCallUpdate:
		for _, fn := range s.callbacksToolUpd() {
			fn(raw)
		}
	default:
		s.logger.Warn("unhandled session update kind", "kind", update.SessionUpdate)
	}
}

// resolvePermission answers a session/request_permission server request
// inline, before any user-supplied callback could run. With no resolvable
// option the request is left unanswered: auto-approving an unrecognized
// capability would silently widen what the agent may do.
func (s *Session) resolvePermission(msg *InboundMessage, rawOptions json.RawMessage) {
	var options []PermissionOption
	if len(rawOptions) > 0 {
		if err := json.Unmarshal(rawOptions, &options); err != nil {
			s.logger.Error("unparseable permission options", "error", err)
			return
		}
	}

	s.mu.Lock()
	policy := s.policy
	s.mu.Unlock()

	optionID, ok := policy(options)
	if !ok {
		s.logger.Error("no approvable option in permission request, leaving unanswered",
			"options", string(rawOptions))
		return
	}

	s.logger.Info("auto-approving permission request", "option_id", optionID)
	result := map[string]any{
		"outcome": map[string]any{
			"outcome":  "selected",
			"optionId": optionID,
		},
	}
	if err := s.client.RespondToServerRequest(msg.ID, result); err != nil {
		s.logger.Error("failed to respond to permission request", "error", err)
	}
}

// Send issues a session/prompt request with the text as structured content
// and blocks for the whole turn, which may span multiple tool executions.
// Streaming output arrives through the chunk/tool callbacks while Send is
// blocked. Turn-end callbacks fire exactly once, and only when the result
// carries a stop reason; a missing stop reason is a protocol anomaly that is
// logged, not raised.
func (s *Session) Send(text string) error {
	return s.sendPrompt([]ContentBlock{{Type: "text", Text: text}})
}

// SendImage sends an image prompt with an optional caption.
func (s *Session) SendImage(path, caption string) error {
	var content []ContentBlock
	if caption != "" {
		content = append(content, ContentBlock{Type: "text", Text: caption})
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving image path: %w", err)
	}
	content = append(content, ContentBlock{
		Type:   "image",
		Source: &ImageSource{Type: "file", Path: abs},
	})
	return s.sendPrompt(content)
}

func (s *Session) sendPrompt(content []ContentBlock) error {
	params := map[string]any{
		"sessionId": s.id,
		"prompt":    content,
	}
	raw, err := s.client.SendRequest(MethodSessionPrompt, params)
	if err != nil {
		return err
	}

	var result PromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("parsing prompt result: %w", err)
	}

	if result.StopReason == "" {
		s.logger.Warn("prompt completed without stop reason", "result", string(raw))
		return nil
	}

	s.mu.Lock()
	callbacks := append([]func(){}, s.onTurnEnd...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// Cancel sends a session/cancel notification. Fire and forget: interrupting
// a tool that is already executing is an OS signal concern, not a protocol
// one.
func (s *Session) Cancel() error {
	return s.client.SendNotification(MethodSessionCancel, map[string]any{
		"sessionId": s.id,
	})
}

// SetMode switches the session's agent mode.
func (s *Session) SetMode(modeID string) error {
	_, err := s.client.SendRequest(MethodSessionSetMode, map[string]any{
		"sessionId": s.id,
		"modeId":    modeID,
	})
	return err
}

// SetModel changes the session's model.
func (s *Session) SetModel(modelID string) error {
	_, err := s.client.SendRequest(MethodSessionSetModel, map[string]any{
		"sessionId": s.id,
		"modelId":   modelID,
	})
	return err
}

// ExecuteCommand runs a slash command through the Kiro extension method.
func (s *Session) ExecuteCommand(command string) (json.RawMessage, error) {
	return s.client.SendRequest(MethodCommandsExecute, map[string]any{
		"sessionId": s.id,
		"command":   command,
	})
}

// Accumulated returns the concatenation of every chunk received so far.
func (s *Session) Accumulated() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.chunks, "")
}

// ResetChunks clears the accumulated chunk buffer.
func (s *Session) ResetChunks() {
	s.mu.Lock()
	s.chunks = nil
	s.mu.Unlock()
}

func (s *Session) callbacksTool() []func(json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]func(json.RawMessage){}, s.onTool...)
}

func (s *Session) callbacksToolUpd() []func(json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]func(json.RawMessage){}, s.onToolUpd...)
}

func (s *Session) callbacksCmds() []func(json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]func(json.RawMessage){}, s.onCmds...)
}

func (s *Session) callbacksCompact() []func(json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]func(json.RawMessage){}, s.onCompact...)
}

func (s *Session) callbacksMCP() []func(string, json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]func(string, json.RawMessage){}, s.onMCP...)
}

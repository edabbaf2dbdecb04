// ABOUTME: Protocol handshake operations: initialize, session/new, session/load.
// ABOUTME: Defines the model/mode metadata types returned by session creation.

package acp

import (
	"encoding/json"
	"fmt"
)

// protocolVersion is the single ACP version this client speaks. Negotiation
// beyond this fixed exchange is a non-goal.
const protocolVersion = 1

// clientName and clientVersion identify this peer in the initialize handshake.
const (
	clientName    = "coven-acp"
	clientVersion = "1.0.0"
)

// AgentInfo identifies the agent implementation on the other end.
type AgentInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the agent's half of the capability exchange.
type InitializeResult struct {
	ProtocolVersion   int             `json:"protocolVersion"`
	AgentInfo         AgentInfo       `json:"agentInfo"`
	AgentCapabilities json.RawMessage `json:"agentCapabilities,omitempty"`
}

// Model describes one selectable model.
type Model struct {
	ModelID     string `json:"modelId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ModelState is the model metadata returned by session/new.
type ModelState struct {
	CurrentModelID  string  `json:"currentModelId"`
	AvailableModels []Model `json:"availableModels"`
}

// Mode describes one selectable agent mode.
type Mode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ModeState is the mode metadata returned by session/new.
type ModeState struct {
	CurrentModeID  string `json:"currentModeId"`
	AvailableModes []Mode `json:"availableModes"`
}

// NewSessionResult is the response to session/new, including the model and
// mode metadata some agents attach.
type NewSessionResult struct {
	SessionID string      `json:"sessionId"`
	Models    *ModelState `json:"models,omitempty"`
	Modes     *ModeState  `json:"modes,omitempty"`
}

// Initialize performs the capability exchange. Must be called once after
// Start, before any session operation.
func (c *Client) Initialize() (*InitializeResult, error) {
	params := map[string]any{
		"protocolVersion":    protocolVersion,
		"clientCapabilities": map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}

	raw, err := c.SendRequest(MethodInitialize, params)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing initialize result: %w", err)
	}

	c.logger.Info("acp initialized",
		"agent", result.AgentInfo.Name,
		"version", result.AgentInfo.Version,
		"protocol", result.ProtocolVersion,
	)
	return &result, nil
}

// CreateSession creates a new protocol session scoped to the given working
// directory and returns its id plus any model/mode metadata.
func (c *Client) CreateSession(cwd string) (*NewSessionResult, error) {
	params := map[string]any{
		"cwd":        cwd,
		"mcpServers": []any{},
	}

	raw, err := c.SendRequest(MethodSessionNew, params)
	if err != nil {
		return nil, fmt.Errorf("session/new: %w", err)
	}

	var result NewSessionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing session/new result: %w", err)
	}
	if result.SessionID == "" {
		return nil, fmt.Errorf("session/new returned no sessionId")
	}

	c.logger.Info("session created", "session_id", result.SessionID)
	return &result, nil
}

// LoadSession asks the agent to restore an existing session by id. The agent
// replays history as session/update notifications during the call; with no
// session object registered yet the replay is discarded, which is what a
// restart wants. The result carries the same optional model/mode metadata as
// session/new, and a result without a sessionId keeps the requested one.
func (c *Client) LoadSession(sessionID, cwd string) (*NewSessionResult, error) {
	params := map[string]any{
		"sessionId":  sessionID,
		"cwd":        cwd,
		"mcpServers": []any{},
	}

	raw, err := c.SendRequest(MethodSessionLoad, params)
	if err != nil {
		return nil, fmt.Errorf("session/load: %w", err)
	}

	var result NewSessionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing session/load result: %w", err)
	}
	if result.SessionID == "" {
		result.SessionID = sessionID
	}

	c.logger.Info("session loaded", "session_id", result.SessionID)
	return &result, nil
}

// ABOUTME: Tests for session event dispatch and prompt turns
// ABOUTME: Covers chunk accumulation, scoping, permissions, and stop reasons

package acp

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptTurn answers the next session/prompt request: first the given update
// notifications, then the prompt response.
func scriptTurn(a *testAgent, updates []string, result string) {
	req := a.next()
	if req.Method != MethodSessionPrompt {
		a.t.Errorf("expected session/prompt, got %s", req.Method)
		return
	}
	for _, u := range updates {
		a.send(u)
	}
	a.respond(req.ID, result)
}

func chunkUpdate(sessionID, text string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":%q,"update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":%q}}}}`, sessionID, text)
}

func TestSession_PromptTurnAccumulatesChunks(t *testing.T) {
	c, a := newTestClient(t, 2*time.Second)
	s := NewSession("sess-1", c, nil)

	var mu sync.Mutex
	var streamed []string
	turnEnds := 0
	s.OnChunk(func(text string) {
		mu.Lock()
		streamed = append(streamed, text)
		mu.Unlock()
	})
	s.OnTurnEnd(func() {
		mu.Lock()
		turnEnds++
		mu.Unlock()
	})

	go scriptTurn(a, []string{
		chunkUpdate("sess-1", "The answer "),
		chunkUpdate("sess-1", "is 4."),
	}, `{"stopReason":"end_turn"}`)

	require.NoError(t, s.Send("what is 2+2?"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"The answer ", "is 4."}, streamed)
	assert.Equal(t, "The answer is 4.", s.Accumulated())
	assert.Equal(t, 1, turnEnds, "turn-end fires exactly once per completed turn")
}

func TestSession_MissingStopReasonIsBenign(t *testing.T) {
	c, a := newTestClient(t, 2*time.Second)
	s := NewSession("sess-1", c, nil)

	turnEnded := false
	s.OnTurnEnd(func() { turnEnded = true })

	go scriptTurn(a, []string{chunkUpdate("sess-1", "partial")}, `{}`)

	require.NoError(t, s.Send("hello"), "a missing stop reason is logged, not raised")
	assert.False(t, turnEnded, "turn-end must not fire without a stop reason")
	assert.Equal(t, "partial", s.Accumulated(), "streamed output is still kept")
}

func TestSession_IgnoresOtherSessionsTraffic(t *testing.T) {
	c, a := newTestClient(t, 2*time.Second)
	sA := NewSession("sess-a", c, nil)
	sB := NewSession("sess-b", c, nil)

	var mu sync.Mutex
	var gotA, gotB []string
	sA.OnChunk(func(text string) { mu.Lock(); gotA = append(gotA, text); mu.Unlock() })
	done := make(chan struct{})
	sB.OnChunk(func(text string) {
		mu.Lock()
		gotB = append(gotB, text)
		mu.Unlock()
		close(done)
	})

	a.send(chunkUpdate("sess-b", "only for b"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session b never received its chunk")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, gotA, "traffic for another session must be ignored silently")
	assert.Equal(t, []string{"only for b"}, gotB)
}

func TestSession_ToolCallbacksGetRawUpdate(t *testing.T) {
	c, a := newTestClient(t, 2*time.Second)
	s := NewSession("sess-1", c, nil)

	toolCalls := make(chan string, 1)
	toolUpdates := make(chan string, 1)
	s.OnToolCall(func(update json.RawMessage) {
		var parsed struct {
			Title string `json:"title"`
		}
		_ = json.Unmarshal(update, &parsed)
		toolCalls <- parsed.Title
	})
	s.OnToolUpdate(func(update json.RawMessage) {
		var parsed struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(update, &parsed)
		toolUpdates <- parsed.Status
	})

	a.send(`{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"sess-1","update":{"sessionUpdate":"tool_call","title":"Run ls","rawInput":{"command":"ls"}}}}`)
	a.send(`{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"sess-1","update":{"sessionUpdate":"tool_call_update","status":"completed"}}}`)

	select {
	case title := <-toolCalls:
		assert.Equal(t, "Run ls", title)
	case <-time.After(2 * time.Second):
		t.Fatal("tool call callback never fired")
	}
	select {
	case status := <-toolUpdates:
		assert.Equal(t, "completed", status)
	case <-time.After(2 * time.Second):
		t.Fatal("tool update callback never fired")
	}
}

func TestSession_AutoApprovesPermissionRequest(t *testing.T) {
	c, a := newTestClient(t, 2*time.Second)
	NewSession("sess-1", c, nil)

	a.send(`{"jsonrpc":"2.0","id":"perm-1","method":"session/request_permission","params":{"sessionId":"sess-1","options":[{"optionId":"rej","kind":"reject_once"},{"optionId":"always","kind":"allow_always"},{"optionId":"once","kind":"allow_once"}]}}`)

	resp := a.next()
	assert.Equal(t, `"perm-1"`, string(resp.ID))
	assert.JSONEq(t, `{"outcome":{"outcome":"selected","optionId":"once"}}`, string(resp.Result),
		"allow_once wins over allow_always regardless of option order")
}

func TestSession_UnrecognizedPermissionLeftUnanswered(t *testing.T) {
	c, a := newTestClient(t, 2*time.Second)
	NewSession("sess-1", c, nil)

	a.send(`{"jsonrpc":"2.0","id":"perm-2","method":"session/request_permission","params":{"sessionId":"sess-1","options":[{"optionId":"r1","kind":"reject_once"}]}}`)

	// Give the reader goroutine time to process the request, then prove
	// nothing was written back: a cancel notification sent afterwards must be
	// the next frame the agent sees.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, NewSession("sess-1", c, nil).Cancel())
	frame := a.next()
	assert.Equal(t, MethodSessionCancel, frame.Method,
		"no response frame may precede the cancel notification")
}

func TestAllowPolicy(t *testing.T) {
	tests := []struct {
		name    string
		options []PermissionOption
		wantID  string
		wantOK  bool
	}{
		{
			name: "allow_once beats allow_always",
			options: []PermissionOption{
				{OptionID: "a", Kind: "allow_always"},
				{OptionID: "o", Kind: "allow_once"},
			},
			wantID: "o",
			wantOK: true,
		},
		{
			name: "allow_always beats fuzzy match",
			options: []PermissionOption{
				{OptionID: "f", Kind: "allow_with_edits"},
				{OptionID: "a", Kind: "allow_always"},
			},
			wantID: "a",
			wantOK: true,
		},
		{
			name: "fuzzy allow fallback",
			options: []PermissionOption{
				{OptionID: "r", Kind: "reject_once"},
				{OptionID: "f", Kind: "allow_mcp"},
			},
			wantID: "f",
			wantOK: true,
		},
		{
			name: "nothing approvable",
			options: []PermissionOption{
				{OptionID: "r", Kind: "reject_once"},
				{OptionID: "r2", Kind: "reject_always"},
			},
			wantOK: false,
		},
		{
			name:   "no options",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := AllowPolicy(tt.options)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, id)
			}
		})
	}
}

func TestSession_ResetChunksAndCallbacks(t *testing.T) {
	c, a := newTestClient(t, 2*time.Second)
	s := NewSession("sess-1", c, nil)

	stale := 0
	s.OnChunk(func(string) { stale++ })
	staleCmds := 0
	s.OnCommandsAvailable(func(json.RawMessage) { staleCmds++ })

	commandsFrame := `{"jsonrpc":"2.0","method":"_kiro.dev/commands/available","params":{"sessionId":"sess-1","commands":[{"name":"compact"}]}}`

	go scriptTurn(a, []string{chunkUpdate("sess-1", "one"), commandsFrame}, `{"stopReason":"end_turn"}`)
	require.NoError(t, s.Send("first"))
	assert.Equal(t, "one", s.Accumulated())
	assert.Equal(t, 1, stale)
	assert.Equal(t, 1, staleCmds)

	s.ResetChunks()
	s.ResetCallbacks()
	assert.Empty(t, s.Accumulated())

	go scriptTurn(a, []string{chunkUpdate("sess-1", "two"), commandsFrame}, `{"stopReason":"end_turn"}`)
	require.NoError(t, s.Send("second"))
	assert.Equal(t, "two", s.Accumulated(), "accumulator restarts after reset")
	assert.Equal(t, 1, stale, "stale callback must not survive reset")
	assert.Equal(t, 1, staleCmds, "extension callbacks must not survive reset either")
}

func TestInitialize_SendsProtocolVersion(t *testing.T) {
	c, a := newTestClient(t, 2*time.Second)

	go func() {
		req := a.next()
		var params struct {
			ProtocolVersion int `json:"protocolVersion"`
			ClientInfo      struct {
				Name string `json:"name"`
			} `json:"clientInfo"`
		}
		_ = json.Unmarshal(req.Params, &params)
		assert.Equal(t, 1, params.ProtocolVersion)
		assert.Equal(t, "coven-acp", params.ClientInfo.Name)
		a.respond(req.ID, `{"protocolVersion":1,"agentInfo":{"name":"kiro","version":"0.9.0"}}`)
	}()

	result, err := c.Initialize()
	require.NoError(t, err)
	assert.Equal(t, "kiro", result.AgentInfo.Name)
	assert.Equal(t, 1, result.ProtocolVersion)
}

func TestCreateSession_ParsesModelAndModeMetadata(t *testing.T) {
	c, a := newTestClient(t, 2*time.Second)

	go func() {
		req := a.next()
		var params struct {
			Cwd        string `json:"cwd"`
			MCPServers []any  `json:"mcpServers"`
		}
		_ = json.Unmarshal(req.Params, &params)
		assert.Equal(t, "/tmp/project", params.Cwd)
		assert.NotNil(t, params.MCPServers)
		a.respond(req.ID, `{"sessionId":"sess-42","models":{"currentModelId":"fast","availableModels":[{"modelId":"fast","name":"Fast"},{"modelId":"smart","name":"Smart"}]},"modes":{"currentModeId":"code","availableModes":[{"id":"code","name":"Code"},{"id":"ask","name":"Ask"}]}}`)
	}()

	result, err := c.CreateSession("/tmp/project")
	require.NoError(t, err)
	assert.Equal(t, "sess-42", result.SessionID)
	require.NotNil(t, result.Models)
	assert.Equal(t, "fast", result.Models.CurrentModelID)
	assert.Len(t, result.Models.AvailableModels, 2)
	require.NotNil(t, result.Modes)
	assert.Equal(t, "code", result.Modes.CurrentModeID)
}

func TestCreateSession_MissingSessionIDFails(t *testing.T) {
	c, a := newTestClient(t, 2*time.Second)

	go func() {
		req := a.next()
		a.respond(req.ID, `{}`)
	}()

	_, err := c.CreateSession("/tmp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sessionId")
}

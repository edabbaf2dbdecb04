// ABOUTME: End-to-end worker tests against a scripted agent subprocess.
// ABOUTME: The test binary re-execs itself as the agent, os/exec style.

package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-acp/internal/dispatch"
)

const scriptedAgentEnv = "COVEN_ACP_SCRIPTED_AGENT"

// TestHelperProcess is not a real test. When the manager launches the test
// binary with the env marker set, this becomes the agent subprocess.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(scriptedAgentEnv) != "1" {
		return
	}
	defer os.Exit(0)
	runScriptedAgent()
}

type scriptFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
}

// runScriptedAgent speaks just enough of the protocol for worker tests:
// prompts echo back as one chunk, and a prompt starting with "quiet" streams
// a chunk but then completes without a stop reason.
func runScriptedAgent() {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 64*1024), 1024*1024)
	out := json.NewEncoder(os.Stdout)

	respond := func(id json.RawMessage, result any) {
		_ = out.Encode(scriptFrame{JSONRPC: "2.0", ID: id, Result: result})
	}
	chunk := func(sessionID, text string) {
		params, _ := json.Marshal(map[string]any{
			"sessionId": sessionID,
			"update": map[string]any{
				"sessionUpdate": "agent_message_chunk",
				"content":       map[string]any{"type": "text", "text": text},
			},
		})
		_ = out.Encode(scriptFrame{JSONRPC: "2.0", Method: "session/update", Params: params})
	}

	for in.Scan() {
		var msg scriptFrame
		if err := json.Unmarshal(in.Bytes(), &msg); err != nil {
			continue
		}

		switch msg.Method {
		case "initialize":
			respond(msg.ID, map[string]any{
				"protocolVersion": 1,
				"agentInfo":       map[string]any{"name": "scripted", "version": "0.0.1"},
			})

		case "session/new":
			respond(msg.ID, map[string]any{
				"sessionId": fmt.Sprintf("fresh-%d", os.Getpid()),
			})

		case "session/load":
			// An empty result keeps the requested session id.
			respond(msg.ID, map[string]any{})

		case "session/prompt":
			var p struct {
				SessionID string `json:"sessionId"`
				Prompt    []struct {
					Text string `json:"text"`
				} `json:"prompt"`
			}
			_ = json.Unmarshal(msg.Params, &p)
			text := ""
			if len(p.Prompt) > 0 {
				text = p.Prompt[0].Text
			}
			if strings.HasPrefix(text, "quiet") {
				chunk(p.SessionID, "partial")
				respond(msg.ID, map[string]any{})
				continue
			}
			chunk(p.SessionID, "echo: "+text)
			respond(msg.ID, map[string]any{"stopReason": "end_turn"})

		default:
			if len(msg.ID) > 0 {
				respond(msg.ID, map[string]any{})
			}
		}
	}
}

// newScriptedManager builds a manager whose agents are scripted subprocesses.
func newScriptedManager(t *testing.T) (*Manager, *testDelivery) {
	t.Helper()
	t.Setenv(scriptedAgentEnv, "1")

	loop := dispatch.NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() { cancel(); loop.Close() })

	m := NewManager(LaunchConfig{
		Command:        []string{os.Args[0], "-test.run=^TestHelperProcess$"},
		DefaultAgent:   "default",
		DefaultDir:     t.TempDir(),
		RequestTimeout: 5 * time.Second,
	}, nil, loop, nil, nil)
	t.Cleanup(m.Close)

	d := newTestDelivery()
	m.SetDeliverFunc(d.deliver)
	return m, d
}

func TestWorker_DeliversCompletionsInSendOrder(t *testing.T) {
	m, d := newScriptedManager(t)

	m.StartSession("a", "", "room")
	items := d.waitFor(t, 1)
	require.Contains(t, items[0].text, "Started agent: a")

	m.SendMessage("first", "room")
	m.SendMessage("second", "room")

	items = d.waitFor(t, 3)
	assert.Equal(t, "echo: first", items[1].text)
	assert.Equal(t, "echo: second", items[2].text)
}

func TestWorker_HoldsOutputWhenTurnNeverEnds(t *testing.T) {
	m, d := newScriptedManager(t)

	m.StartSession("a", "", "room")
	items := d.waitFor(t, 1)
	require.Contains(t, items[0].text, "Started agent: a")

	// The turn streams a chunk but the result carries no stop reason, so the
	// accumulated text must stay undelivered.
	m.SendMessage("quiet request", "room")
	m.SendMessage("hello", "room")

	items = d.waitFor(t, 2)
	require.Len(t, items, 2)
	assert.Equal(t, "echo: hello", items[1].text)
	for _, item := range items {
		assert.NotContains(t, item.text, "partial", "unterminated turn leaked its output")
	}
	assert.Empty(t, m.History()[0].Reply, "unterminated turn must not record a reply")
}

func TestWorker_ResumesSavedSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversation.json")

	m1, d1 := newScriptedManager(t)
	m1.StartSession("a", "", "room")
	items := d1.waitFor(t, 1)
	require.Contains(t, items[0].text, "Started agent: a")
	require.NoError(t, m1.SaveState(path))
	m1.Close()

	var saved ConversationState
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &saved))
	firstID := saved.Sessions["a"]
	require.NotEmpty(t, firstID, "session id persisted for the next run")

	// A second manager restores the state and resumes the same session id. A
	// fresh session would have gotten a new pid-derived id.
	m2, d2 := newScriptedManager(t)
	_, err = m2.LoadState(path)
	require.NoError(t, err)
	m2.StartSession("a", "", "room")
	d2.waitFor(t, 1)

	path2 := filepath.Join(t.TempDir(), "conversation.json")
	require.NoError(t, m2.SaveState(path2))
	var resumed ConversationState
	data, err = os.ReadFile(path2)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &resumed))
	assert.Equal(t, firstID, resumed.Sessions["a"])
}

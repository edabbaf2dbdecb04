// ABOUTME: Minimal fake ACP agent for E2E testing the bridge without a real CLI.
// ABOUTME: Speaks newline-delimited JSON-RPC on stdio and echoes prompts back.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
}

var out = json.NewEncoder(os.Stdout)

func main() {
	name := flag.String("name", "echo-agent", "Agent display name")
	chunkDelay := flag.Duration("chunk-delay", 50*time.Millisecond, "Delay between streamed chunks")
	flag.Parse()
	log.SetOutput(os.Stderr)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	sessionCounter := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg frame
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Printf("bad frame: %v", err)
			continue
		}

		switch msg.Method {
		case "initialize":
			respond(msg.ID, map[string]any{
				"protocolVersion": 1,
				"agentInfo":       map[string]any{"name": *name, "version": "0.0.1"},
			})
		case "session/new":
			sessionCounter++
			respond(msg.ID, map[string]any{
				"sessionId": fmt.Sprintf("fake-session-%d", sessionCounter),
				"models": map[string]any{
					"currentModelId": "echo-fast",
					"availableModels": []map[string]any{
						{"modelId": "echo-fast", "name": "Echo Fast"},
						{"modelId": "echo-slow", "name": "Echo Slow"},
					},
				},
				"modes": map[string]any{
					"currentModeId": "echo",
					"availableModes": []map[string]any{
						{"id": "echo", "name": "Echo"},
						{"id": "shout", "name": "Shout"},
					},
				},
			})
		case "session/prompt":
			handlePrompt(msg, *chunkDelay)
		case "session/cancel":
			log.Printf("cancel requested")
		case "session/set_model", "session/set_mode", "session/load":
			respond(msg.ID, map[string]any{})
		default:
			if len(msg.ID) > 0 {
				respond(msg.ID, map[string]any{})
			}
		}
	}
}

// handlePrompt streams the prompt text back word by word, then completes
// the turn.
func handlePrompt(msg frame, delay time.Duration) {
	var params struct {
		SessionID string `json:"sessionId"`
		Prompt    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"prompt"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		log.Printf("bad prompt params: %v", err)
		respond(msg.ID, map[string]any{"stopReason": "end_turn"})
		return
	}

	var text string
	for _, block := range params.Prompt {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	words := strings.Fields("You said: " + text)
	for i, word := range words {
		if i > 0 {
			word = " " + word
		}
		notify("session/update", map[string]any{
			"sessionId": params.SessionID,
			"update": map[string]any{
				"sessionUpdate": "agent_message_chunk",
				"content":       map[string]any{"type": "text", "text": word},
			},
		})
		time.Sleep(delay)
	}

	respond(msg.ID, map[string]any{"stopReason": "end_turn"})
}

func respond(id json.RawMessage, result any) {
	_ = out.Encode(frame{JSONRPC: "2.0", ID: id, Result: result})
}

func notify(method string, params any) {
	raw, _ := json.Marshal(params)
	_ = out.Encode(frame{JSONRPC: "2.0", Method: method, Params: raw})
}

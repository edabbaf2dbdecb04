// ABOUTME: Renders tool_call and tool_call_update payloads as chat text.
// ABOUTME: Large command output is truncated middle-out to keep messages small.

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// truncateKeep is how many leading and trailing bytes of tool output survive
// truncation.
const truncateKeep = 1000

// toolCallInfo is the subset of a tool_call update we render.
type toolCallInfo struct {
	Title    string `json:"title"`
	Kind     string `json:"kind"`
	RawInput struct {
		Command string `json:"command"`
		Purpose string `json:"__tool_use_purpose"`
	} `json:"rawInput"`
}

// toolUpdateInfo is the subset of a tool_call_update we render. Only
// completed updates carry output worth showing.
type toolUpdateInfo struct {
	Status    string `json:"status"`
	RawOutput struct {
		Items []struct {
			JSON struct {
				Stdout string `json:"stdout"`
				Stderr string `json:"stderr"`
			} `json:"Json"`
		} `json:"items"`
	} `json:"rawOutput"`
}

// FormatToolCall renders a tool_call announcement. Returns false when the
// payload has nothing worth showing.
func FormatToolCall(update json.RawMessage) (string, bool) {
	var info toolCallInfo
	if err := json.Unmarshal(update, &info); err != nil {
		return "", false
	}

	title := strings.TrimSpace(info.Title)
	if title == "" {
		title = info.Kind
	}
	if title == "" {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔧 %s", title)
	if purpose := strings.TrimSpace(info.RawInput.Purpose); purpose != "" {
		fmt.Fprintf(&b, "\n_%s_", purpose)
	}
	// Skip the command when the title already shows it.
	if cmd := strings.TrimSpace(info.RawInput.Command); cmd != "" && !strings.Contains(title, cmd) {
		fmt.Fprintf(&b, "\n`%s`", cmd)
	}
	return b.String(), true
}

// FormatToolUpdate renders the output of a completed tool execution. In-flight
// status updates return false.
func FormatToolUpdate(update json.RawMessage) (string, bool) {
	var info toolUpdateInfo
	if err := json.Unmarshal(update, &info); err != nil {
		return "", false
	}
	if info.Status != "completed" || len(info.RawOutput.Items) == 0 {
		return "", false
	}

	out := info.RawOutput.Items[0].JSON
	stdout := strings.TrimSpace(out.Stdout)
	stderr := strings.TrimSpace(out.Stderr)
	if stdout == "" && stderr == "" {
		return "", false
	}

	var b strings.Builder
	if stdout != "" {
		fmt.Fprintf(&b, "```\n%s\n```", truncateMiddle(stdout, truncateKeep))
	}
	if stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "⚠️ stderr:\n```\n%s\n```", truncateMiddle(stderr, truncateKeep))
	}
	return b.String(), true
}

// truncateMiddle keeps the first and last keep bytes of s, replacing the
// middle with a marker stating how much was elided. Both ends matter for
// command output: the head shows what ran, the tail shows how it ended.
func truncateMiddle(s string, keep int) string {
	if len(s) <= 2*keep {
		return s
	}
	elided := len(s) - 2*keep
	return fmt.Sprintf("%s\n\n... (%d bytes truncated) ...\n\n%s", s[:keep], elided, s[len(s)-keep:])
}

// ABOUTME: Bridge command handling for coven-acp
// ABOUTME: Parses !-prefixed commands for agent, model, and mode control

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-acp/internal/store"
)

const helpText = `**coven-acp commands**
- ` + "`!agents`" + ` - list known agents (active first)
- ` + "`!use <name>`" + ` - switch to an agent, starting it if needed
- ` + "`!models`" + ` - list the active agent's models
- ` + "`!model <id>`" + ` - switch the active agent's model
- ` + "`!modes`" + ` - list the active agent's modes
- ` + "`!mode <id>`" + ` - switch the active agent's mode
- ` + "`!cancel`" + ` - interrupt the active agent's current operation
- ` + "`!cmd <command>`" + ` - run an agent-native command (e.g. /compact)
- ` + "`!history [n]`" + ` - show the active agent's recent messages (default 10)
- ` + "`!help`" + ` - show this message

Anything without a prefix goes to the active agent.`

// handleCommand dispatches one bridge command (prefix already stripped).
func (b *Bridge) handleCommand(roomID id.RoomID, input string) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return
	}
	command, args := fields[0], fields[1:]
	roomStr := roomID.String()

	b.logger.Info("bridge command", "room", roomStr, "command", command, "args", args)

	switch command {
	case "help":
		b.sendMessage(roomID, helpText)

	case "agents":
		agents := b.mgr.ListAgents()
		if len(agents) == 0 {
			b.sendMessage(roomID, "No agents started yet. Use `!use <name>`.")
			return
		}
		var sb strings.Builder
		sb.WriteString("**Agents:**\n")
		for i, name := range agents {
			if i == 0 {
				fmt.Fprintf(&sb, "- **%s** (active)\n", name)
			} else {
				fmt.Fprintf(&sb, "- %s\n", name)
			}
		}
		b.sendMessage(roomID, sb.String())

	case "use":
		if len(args) != 1 {
			b.sendMessage(roomID, "Usage: `!use <name>`")
			return
		}
		b.mgr.SwitchAgent(args[0], roomStr)

	case "models":
		models, err := b.mgr.AvailableModels()
		if err != nil {
			b.sendMessage(roomID, fmt.Sprintf("❌ Error: %v", err))
			return
		}
		var sb strings.Builder
		sb.WriteString("**Models:**\n")
		for _, m := range models.AvailableModels {
			marker := ""
			if m.ModelID == models.CurrentModelID {
				marker = " (current)"
			}
			fmt.Fprintf(&sb, "- `%s` %s%s\n", m.ModelID, m.Name, marker)
		}
		b.sendMessage(roomID, sb.String())

	case "model":
		if len(args) != 1 {
			b.sendMessage(roomID, "Usage: `!model <id>`")
			return
		}
		if err := b.mgr.SetModel(args[0]); err != nil {
			b.sendMessage(roomID, fmt.Sprintf("❌ Error: %v", err))
			return
		}
		b.sendMessage(roomID, fmt.Sprintf("✅ Model set to `%s`", args[0]))

	case "modes":
		modes, err := b.mgr.AvailableModes()
		if err != nil {
			b.sendMessage(roomID, fmt.Sprintf("❌ Error: %v", err))
			return
		}
		var sb strings.Builder
		sb.WriteString("**Modes:**\n")
		for _, m := range modes.AvailableModes {
			marker := ""
			if m.ID == modes.CurrentModeID {
				marker = " (current)"
			}
			fmt.Fprintf(&sb, "- `%s` %s%s\n", m.ID, m.Name, marker)
		}
		b.sendMessage(roomID, sb.String())

	case "mode":
		if len(args) != 1 {
			b.sendMessage(roomID, "Usage: `!mode <id>`")
			return
		}
		if err := b.mgr.SetMode(args[0]); err != nil {
			b.sendMessage(roomID, fmt.Sprintf("❌ Error: %v", err))
			return
		}
		b.sendMessage(roomID, fmt.Sprintf("✅ Mode set to `%s`", args[0]))

	case "cmd":
		if len(args) == 0 {
			b.sendMessage(roomID, "Usage: `!cmd <command>`")
			return
		}
		result, err := b.mgr.ExecuteCommand(strings.Join(args, " "))
		if err != nil {
			b.sendMessage(roomID, fmt.Sprintf("❌ Error: %v", err))
			return
		}
		b.sendMessage(roomID, fmt.Sprintf("✅ `%s`\n```\n%s\n```", strings.Join(args, " "), truncateReply(string(result))))

	case "history":
		if b.ledger == nil {
			b.sendMessage(roomID, "❌ Error: conversation ledger is disabled")
			return
		}
		active := b.mgr.ActiveAgent()
		if active == "" {
			b.sendMessage(roomID, "❌ Error: no active agent")
			return
		}
		limit := 10
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				b.sendMessage(roomID, "Usage: `!history [n]`")
				return
			}
			limit = n
		}
		ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
		defer cancel()
		messages, err := b.ledger.GetAgentMessages(ctx, active, limit)
		if err != nil {
			b.sendMessage(roomID, fmt.Sprintf("❌ Error: %v", err))
			return
		}
		b.sendMessage(roomID, formatHistory(active, messages))

	case "cancel":
		if err := b.mgr.CancelOperation(); err != nil {
			b.sendMessage(roomID, fmt.Sprintf("❌ Error: %v", err))
			return
		}
		b.sendMessage(roomID, "🛑 Cancelled")

	default:
		b.sendMessage(roomID, fmt.Sprintf("Unknown command `%s`. Try `!help`.", command))
	}
}

// formatHistory renders ledger messages for a room, oldest first. Image
// entries show the stored file path.
func formatHistory(agentName string, messages []*store.Message) string {
	if len(messages) == 0 {
		return fmt.Sprintf("No history for agent **%s** yet.", agentName)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**History for %s** (%d messages)\n", agentName, len(messages))
	for _, msg := range messages {
		marker := "🤖"
		if msg.Sender == "user" {
			marker = "👤"
		}
		content := msg.Content
		if msg.Type == store.MessageTypeImage {
			content = fmt.Sprintf("[image: %s]", content)
		}
		fmt.Fprintf(&sb, "- %s %s: %s\n", marker, msg.CreatedAt.Format("15:04"), truncate(content, 100))
	}
	return sb.String()
}

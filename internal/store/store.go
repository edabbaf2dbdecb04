// ABOUTME: Store interface and data types for coven-acp persistence
// ABOUTME: Defines the Message struct and the Store interface for ledger operations

package store

import (
	"context"
	"time"
)

// MessageType constants for message types
const (
	MessageTypeMessage    = "message"     // Regular text message
	MessageTypeImage      = "image"       // Image prompt (content is the path)
	MessageTypeToolUse    = "tool_use"    // Tool invocation
	MessageTypeToolResult = "tool_result" // Tool result
)

// Message represents one conversation event in the ledger.
type Message struct {
	ID        string
	AgentName string
	Sender    string // "user" or "agent"
	Content   string
	Type      string // defaults to "message"
	CreatedAt time.Time
}

// Store is the persistence interface for conversation history.
type Store interface {
	// SaveMessage appends a message to the ledger.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetAgentMessages retrieves the most recent `limit` messages for an
	// agent in chronological order. Limit <= 0 returns all.
	GetAgentMessages(ctx context.Context, agentName string, limit int) ([]*Message, error)

	// Close closes the underlying database.
	Close() error
}

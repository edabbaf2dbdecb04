// Package store provides the durable conversation ledger for coven-acp.
//
// # Overview
//
// Every user message and agent reply is appended to a SQLite database so
// conversation history survives bridge restarts and can be inspected with
// ordinary SQL tooling. The ledger is append-only; nothing in the bridge
// updates or deletes rows.
//
// # Store Interface
//
// The Store interface abstracts persistence:
//
//	store, err := store.NewSQLiteStore("/path/to/ledger.db")
//
// Key operations:
//
//   - SaveMessage(ctx, msg): Append a message to the ledger
//   - GetAgentMessages(ctx, agent, limit): Recent history for one agent
//   - RecordMessage(agent, sender, content, kind): Context-free append
//
// # Schema
//
// A single messages table keyed by UUID:
//
//	messages(id, agent_name, sender, content, type, created_at)
//
// The schema is created automatically on first open. WAL mode is enabled
// for concurrent reads while the bridge writes.
package store

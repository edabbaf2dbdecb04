// Package agent manages named ACP agent subprocesses for the bridge.
//
// # Overview
//
// The agent package owns the table of coding agents the bridge can talk to.
// Each agent is a long-lived subprocess speaking JSON-RPC over stdio; the
// manager keeps one entry per agent name and an active-agent pointer that
// decides where user messages go.
//
// # Manager
//
// The Manager is the frontend's single entry point:
//
//	mgr := agent.NewManager(launch, lookup, loop, ledger, logger)
//
// Key operations:
//
//   - StartSession(name, dir, dest): Start or switch to a named agent
//   - SendMessage(text, dest): Enqueue a prompt for the active agent
//   - CancelOperation(): Interrupt the active agent's in-flight turn
//   - ListAgents() / ActiveAgent(): Inspect the agent table
//   - AvailableModels() / SetModel(id): Model metadata and switching
//   - AvailableModes() / SetMode(id): Mode metadata and switching
//   - SaveState(path) / LoadState(path): Conversation persistence
//
// Saved state includes each agent's protocol session id; the first start of
// an agent after LoadState attempts a session/load resume and falls back to
// a fresh session when the agent declines.
//
// # Workers and Ordering
//
// Every agent gets a dedicated worker goroutine and a bounded FIFO queue.
// Frontend calls enqueue and return immediately; the worker drives the
// blocking protocol operations, so a slow turn on one agent never stalls the
// frontend or another agent. Messages to a single agent are processed
// strictly in arrival order.
//
// # Active Agent and Buffering
//
// Only the active agent's output is delivered as it completes. An inactive
// agent keeps producing (its turn may still be running); its output is held
// on its entry and flushed, in order, when it becomes active again.
// Switching to an already running agent does not restart its subprocess.
//
// # Delivery
//
// Replies, tool announcements, and error reports all reach the frontend
// through a single DeliverFunc executed on the dispatch loop. The loop's
// single consumer preserves per-destination ordering. The final reply is
// delivered from the session's turn-end callback, so a turn whose result
// omits its stop reason delivers nothing and only logs the accumulated text.
//
// # Cancellation
//
// CancelOperation pairs a session/cancel notification with SIGINT to the
// subprocess's process group. The notification alone is advisory; the signal
// stops a tool that is already executing.
//
// # Thread Safety
//
// Manager and its entries are guarded by mutexes. Session callbacks are
// rebound at the start of each send so a turn's output is tied to the
// message that triggered it.
package agent

// Package acp drives a subprocess-hosted coding agent over the Agent Client
// Protocol: JSON-RPC 2.0 with newline-delimited frames on stdin/stdout.
//
// # Client
//
// Client owns one agent subprocess and multiplexes all traffic over its
// standard streams:
//
//	client := acp.NewClient(acp.Config{
//	    Command:    []string{"kiro-cli", "acp", "--verbose"},
//	    WorkingDir: "/path/to/project",
//	}, logger)
//	if err := client.Start(); err != nil { ... }
//	defer client.Close()
//
// Key operations:
//
//   - SendRequest(method, params): blocking request/response with a 300s ceiling
//   - SendNotification(method, params): fire-and-forget
//   - OnNotification(observer): subscribe to inbound server messages
//   - RespondToServerRequest(id, result): reply to a server-initiated request
//
// # Message Routing
//
// Every decoded frame is classified the same way:
//
//	id, no method  -> response; delivered to the pending request, else dropped
//	method and id  -> server request; fanned out to every observer
//	method, no id  -> notification; fanned out to every observer
//	neither        -> malformed; logged and discarded
//
// Observers see every inbound message and filter by sessionId themselves.
// Delivery is in registration order, and a panicking observer does not stop
// delivery to the rest.
//
// # Request Correlation
//
// SendRequest allocates a monotonically increasing id, registers a pending
// entry with a single-slot channel, and blocks on it. The entry is removed on
// success, RPC error, and timeout alike, so ids can never be misrouted later.
//
// # Session
//
// Session scopes one sessionId on a shared client and turns raw session/update
// notifications into typed events:
//
//	sess := acp.NewSession(result.SessionID, client, logger)
//	sess.OnChunk(func(text string) { ... })
//	sess.OnTurnEnd(func() { ... })
//	err := sess.Send("what is 2+2?")
//
// Send blocks for the whole turn; streamed output arrives through callbacks.
// Permission requests are resolved inline by a pluggable PermissionPolicy
// before any callback runs. With no approvable option the request is left
// unanswered on purpose — the agent stalls rather than being silently granted
// an unrecognized capability.
//
// # Shutdown
//
// The subprocess runs in its own process group. Close sends SIGTERM to the
// group, waits a bounded grace period, then SIGKILLs the group so shell
// children spawned by tool calls do not survive as orphans. Interrupt sends
// SIGINT to the group to stop an in-flight tool early; the protocol-level
// session/cancel notification is advisory only.
package acp

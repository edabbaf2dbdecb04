// ABOUTME: JSON-RPC 2.0 client for a subprocess-hosted ACP agent over stdio.
// ABOUTME: Handles framing, request/response correlation, and notification fan-out.

package acp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultRequestTimeout bounds how long SendRequest waits for a response.
// Prompt requests can span multiple tool executions, so this is generous.
const DefaultRequestTimeout = 300 * time.Second

// shutdownGracePeriod is how long Close waits for the subprocess to exit
// after SIGTERM before escalating to SIGKILL.
const shutdownGracePeriod = 5 * time.Second

// ErrTimeout indicates no response arrived within the request timeout.
// The subprocess is assumed still alive; only the request is abandoned.
var ErrTimeout = errors.New("acp: timed out waiting for response")

// ErrClosed indicates the client has been closed.
var ErrClosed = errors.New("acp: client is closed")

// StartError indicates the agent subprocess could not be launched.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("acp: starting %s: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// RPCError is a structured JSON-RPC error returned by the agent.
// The payload is forwarded verbatim from the wire.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("acp: rpc error %d: %s", e.Code, e.Message)
}

// InboundMessage is a server-initiated message: a notification (no ID) or a
// request that expects a reply via RespondToServerRequest (ID present).
type InboundMessage struct {
	// ID is the raw request id for server-initiated requests, nil for
	// notifications. Agents use both integer and string UUID ids, so it is
	// kept raw and echoed verbatim when responding.
	ID     json.RawMessage
	Method string
	Params json.RawMessage
}

// IsRequest reports whether the message expects a response.
func (m *InboundMessage) IsRequest() bool { return len(m.ID) > 0 }

// NotificationObserver receives every inbound notification and server request.
// Observers filter by session themselves; the client does not interpret
// message content for routing.
type NotificationObserver func(msg *InboundMessage)

// Config controls how the agent subprocess is launched.
type Config struct {
	// Command is the argv used to launch the agent, e.g.
	// ["kiro-cli", "acp", "--verbose"].
	Command []string

	// AgentName, when non-empty, is passed as "--agent <name>".
	AgentName string

	// WorkingDir is the subprocess working directory.
	WorkingDir string

	// Env holds extra KEY=VALUE entries appended to the inherited
	// environment.
	Env []string

	// RequestTimeout overrides DefaultRequestTimeout when positive.
	RequestTimeout time.Duration
}

// wireMessage is the superset of every JSON-RPC frame we read or write.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// pendingRequest is the rendezvous for one in-flight request. The channel has
// a single slot so the reader goroutine never blocks delivering the response.
type pendingRequest struct {
	ch chan *wireMessage
}

// Client owns one agent subprocess and multiplexes JSON-RPC traffic over its
// standard streams. Frames are newline-delimited JSON objects in both
// directions. The two reader goroutines started by Start are the only code
// that touches the subprocess's output streams.
type Client struct {
	cfg    Config
	logger *slog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex // serializes frame writes to stdin

	idMu   sync.Mutex
	nextID int64

	pendingMu sync.Mutex
	pending   map[int64]*pendingRequest

	obsMu     sync.RWMutex
	observers []NotificationObserver

	stateMu sync.Mutex
	running bool
	closed  bool

	readers sync.WaitGroup
}

// NewClient creates a client for the given launch configuration. Call Start
// to actually launch the subprocess.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With("component", "acp"),
		nextID:  0,
		pending: make(map[int64]*pendingRequest),
	}
}

// Start launches the agent subprocess and the stdout/stderr reader
// goroutines. Returns a *StartError if the executable cannot be launched.
func (c *Client) Start() error {
	argv := append([]string{}, c.cfg.Command...)
	if len(argv) == 0 {
		return &StartError{Command: "(empty)", Err: errors.New("no command configured")}
	}
	if c.cfg.AgentName != "" {
		argv = append(argv, "--agent", c.cfg.AgentName)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = c.cfg.WorkingDir
	// Disable color and pager behavior; the output is a protocol stream,
	// not a terminal.
	cmd.Env = append(os.Environ(), "NO_COLOR=1", "PAGER=cat", "TERM=dumb")
	cmd.Env = append(cmd.Env, c.cfg.Env...)
	// Own process group, so shell children spawned by tool calls can be
	// signalled as a unit and do not survive as orphans.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &StartError{Command: argv[0], Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return &StartError{Command: argv[0], Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return &StartError{Command: argv[0], Err: err}
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return &StartError{Command: argv[0], Err: err}
	}

	c.stateMu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.running = true
	c.stateMu.Unlock()

	c.readers.Add(2)
	go c.readMessages(stdout)
	go c.readStderr(stderr)

	c.logger.Info("agent subprocess started",
		"command", argv[0],
		"pid", cmd.Process.Pid,
		"working_dir", c.cfg.WorkingDir,
	)
	return nil
}

// startWithStreams wires the client to explicit streams instead of a
// subprocess. Used by tests to drive the protocol over in-memory pipes.
func (c *Client) startWithStreams(stdin io.WriteCloser, stdout, stderr io.Reader) {
	c.stateMu.Lock()
	c.stdin = stdin
	c.running = true
	c.stateMu.Unlock()

	c.readers.Add(2)
	go c.readMessages(stdout)
	go c.readStderr(stderr)
}

// readMessages decodes newline-delimited JSON frames from stdout and routes
// each one. Exits on EOF (subprocess died) or Close.
func (c *Client) readMessages(stdout io.Reader) {
	defer c.readers.Done()

	scanner := bufio.NewScanner(stdout)
	// Tool output embedded in updates can make frames large.
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg wireMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Error("failed to parse frame", "error", err, "line", truncateForLog(line))
			continue
		}

		c.route(&msg)
	}

	if err := scanner.Err(); err != nil && c.isRunning() {
		c.logger.Error("stdout reader error", "error", err)
	}
	c.logger.Debug("stdout reader exited")
}

// readStderr forwards the agent's diagnostic output to the log.
func (c *Client) readStderr(stderr io.Reader) {
	defer c.readers.Done()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			c.logger.Debug("agent stderr", "line", line)
		}
	}
}

// route classifies one decoded frame. A frame with an id and no method is a
// response; with a method it is a notification or server request, fanned out
// to every observer; with neither it is malformed and only logged.
func (c *Client) route(msg *wireMessage) {
	hasID := len(msg.ID) > 0
	hasMethod := msg.Method != ""

	switch {
	case hasID && !hasMethod:
		c.routeResponse(msg)
	case hasMethod:
		if hasID {
			c.logger.Debug("server request", "method", msg.Method, "id", string(msg.ID))
		}
		c.dispatchToObservers(&InboundMessage{
			ID:     msg.ID,
			Method: msg.Method,
			Params: msg.Params,
		})
	default:
		c.logger.Warn("malformed frame with no id or method")
	}
}

// routeResponse delivers a response to its pending request, removing the
// entry. A response with no pending entry means the requester already gave
// up; it is dropped with a debug note.
func (c *Client) routeResponse(msg *wireMessage) {
	var id int64
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		c.logger.Warn("response with non-integer id", "id", string(msg.ID))
		return
	}

	c.pendingMu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("response for request no longer pending", "id", id)
		return
	}
	req.ch <- msg // single-slot channel, never blocks
}

// dispatchToObservers invokes every observer in registration order. A
// panicking observer is logged and does not prevent delivery to the rest.
func (c *Client) dispatchToObservers(msg *InboundMessage) {
	c.obsMu.RLock()
	observers := c.observers
	c.obsMu.RUnlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("notification observer panicked",
						"method", msg.Method, "panic", r)
				}
			}()
			obs(msg)
		}()
	}
}

// OnNotification registers an observer for inbound notifications and server
// requests. Observers accumulate and are invoked in registration order.
func (c *Client) OnNotification(obs NotificationObserver) {
	c.obsMu.Lock()
	c.observers = append(c.observers, obs)
	c.obsMu.Unlock()
}

// SendRequest sends a JSON-RPC request and blocks until the matching response
// arrives or the request timeout elapses. On success it returns the result
// payload; a structured agent failure is returned as a *RPCError, a timeout
// as ErrTimeout. The pending entry is removed on every exit path.
func (c *Client) SendRequest(method string, params any) (json.RawMessage, error) {
	if !c.isRunning() {
		return nil, ErrClosed
	}

	c.idMu.Lock()
	c.nextID++
	id := c.nextID
	c.idMu.Unlock()

	req := &pendingRequest{ch: make(chan *wireMessage, 1)}
	c.pendingMu.Lock()
	c.pending[id] = req
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	idRaw, _ := json.Marshal(id)
	if err := c.writeFrame(&wireMessage{JSONRPC: "2.0", ID: idRaw, Method: method, Params: marshalParams(params)}); err != nil {
		return nil, fmt.Errorf("sending %s request: %w", method, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-req.ch:
		if resp == nil {
			// Channel closed by Close while we were waiting.
			return nil, ErrClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-timer.C:
		c.logger.Error("request timed out", "method", method, "id", id)
		return nil, fmt.Errorf("method %s (id %d): %w", method, id, ErrTimeout)
	}
}

// SendNotification sends a request with no id; no reply is awaited. A write
// failure signals the subprocess died.
func (c *Client) SendNotification(method string, params any) error {
	if !c.isRunning() {
		return ErrClosed
	}
	return c.writeFrame(&wireMessage{JSONRPC: "2.0", Method: method, Params: marshalParams(params)})
}

// RespondToServerRequest writes a response frame for a server-initiated
// request. This is the one path where this peer acts as the JSON-RPC server.
// The id is echoed verbatim, preserving whatever type the agent used.
func (c *Client) RespondToServerRequest(id json.RawMessage, result any) error {
	if !c.isRunning() {
		return ErrClosed
	}
	resultRaw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling response result: %w", err)
	}
	return c.writeFrame(&wireMessage{JSONRPC: "2.0", ID: id, Result: resultRaw})
}

// writeFrame serializes one message and writes it as a single line.
func (c *Client) writeFrame(msg *wireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Interrupt sends SIGINT to the subprocess's process group (falling back to
// the process itself) so an in-flight tool execution is interrupted at the OS
// level. Protocol-level cancellation alone cannot stop a running tool.
func (c *Client) Interrupt() error {
	c.stateMu.Lock()
	cmd := c.cmd
	c.stateMu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return ErrClosed
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGINT); err != nil {
		c.logger.Debug("process-group SIGINT failed, signalling process", "error", err)
		return cmd.Process.Signal(syscall.SIGINT)
	}
	return nil
}

// Close stops the client: graceful SIGTERM to the process group, bounded
// wait, SIGKILL fallback, then reader join. Safe to call more than once.
func (c *Client) Close() error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	c.running = false
	cmd := c.cmd
	stdin := c.stdin
	c.stateMu.Unlock()

	if stdin != nil {
		stdin.Close()
	}

	if cmd != nil && cmd.Process != nil {
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
			// Process group may be gone already; try the process itself.
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(shutdownGracePeriod):
			c.logger.Warn("subprocess did not exit in time, killing process group",
				"pid", cmd.Process.Pid)
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-done
		}
	}

	// Wake up any callers still blocked on a response.
	c.pendingMu.Lock()
	for id, req := range c.pending {
		close(req.ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.readers.Wait()
	c.logger.Info("acp client closed")
	return nil
}

func (c *Client) isRunning() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.running && !c.closed
}

// marshalParams pre-encodes params so a marshal failure surfaces as a frame
// error rather than corrupting the stream mid-write.
func marshalParams(params any) json.RawMessage {
	if params == nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func truncateForLog(b []byte) string {
	const max = 200
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

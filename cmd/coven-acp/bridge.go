// ABOUTME: Matrix bridge core for coven-acp
// ABOUTME: Handles Matrix client connection and message routing to agents

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-acp/internal/agent"
	"github.com/2389/coven-acp/internal/config"
	"github.com/2389/coven-acp/internal/dedupe"
	"github.com/2389/coven-acp/internal/store"
)

// typingTimeout is the duration the typing indicator shows (30 seconds).
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 10 * time.Second

// Bridge connects Matrix rooms to ACP agents.
type Bridge struct {
	config *config.Config
	matrix *mautrix.Client
	mgr    *agent.Manager
	ledger store.Store
	logger *slog.Logger

	// seen guards against sync redelivering events after reconnects
	seen *dedupe.Cache

	userID id.UserID

	// ctx is the parent context for message handling
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a new Matrix bridge and installs itself as the agent
// manager's delivery target. The ledger backs the !history command; nil
// disables it.
func NewBridge(cfg *config.Config, mgr *agent.Manager, ledger store.Store, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	b := &Bridge{
		config: cfg,
		matrix: client,
		mgr:    mgr,
		ledger: ledger,
		logger: logger,
		seen:   dedupe.New(10*time.Minute, 1000),
	}
	mgr.SetDeliverFunc(b.deliver)
	return b, nil
}

// Login authenticates with the homeserver using the configured credentials.
func (b *Bridge) Login(ctx context.Context) error {
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Matrix.Username,
		},
		Password:           b.config.Matrix.Password,
		StoreCredentials:   true,
		StoreHomeserverURL: true,
	})
	if err != nil {
		return err
	}

	b.userID = resp.UserID
	b.logger.Info("logged in to matrix", "user_id", b.userID.String(), "device_id", resp.DeviceID.String())
	return nil
}

// UserID returns the logged-in Matrix user id.
func (b *Bridge) UserID() string {
	return b.userID.String()
}

// Run starts the bridge and blocks until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.userID.String(),
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	b.logger.Info("connecting to matrix homeserver")

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.cancel()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent processes incoming Matrix messages.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == b.userID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	if b.seen.Seen(evt.ID.String()) {
		b.logger.Debug("ignoring redelivered event", "event_id", evt.ID.String())
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}
	if !b.isUserAllowed(evt.Sender.String()) {
		b.logger.Debug("ignoring message from non-allowed user", "sender", evt.Sender.String())
		return
	}

	switch content.MsgType {
	case event.MsgText:
		b.handleText(evt.RoomID, content.Body)
	case event.MsgImage:
		b.handleImage(evt.RoomID, content)
	default:
		b.logger.Debug("ignoring unsupported message type", "type", content.MsgType)
	}
}

// handleText routes a text message: bridge commands are handled locally,
// everything else goes to the active agent.
func (b *Bridge) handleText(roomID id.RoomID, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}

	roomStr := roomID.String()
	b.logger.Info("received message", "room", roomStr, "content", truncate(body, 50))

	prefix := b.config.Bridge.CommandPrefix
	if prefix != "" && strings.HasPrefix(body, prefix) {
		b.handleCommand(roomID, strings.TrimPrefix(body, prefix))
		return
	}

	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, true)
	}
	b.mgr.SendMessage(body, roomStr)
}

// handleImage downloads an unencrypted image to a temp file and sends it to
// the active agent as an image prompt.
func (b *Bridge) handleImage(roomID id.RoomID, content *event.MessageEventContent) {
	roomStr := roomID.String()

	if content.File != nil {
		b.logger.Warn("encrypted image attachments are not supported", "room", roomStr)
		b.sendMessage(roomID, "❌ Encrypted image attachments are not supported yet")
		return
	}

	uri, err := content.URL.Parse()
	if err != nil {
		b.logger.Error("invalid image URL", "room", roomStr, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()
	data, err := b.matrix.DownloadBytes(ctx, uri)
	if err != nil {
		b.logger.Error("failed to download image", "room", roomStr, "error", err)
		b.sendMessage(roomID, fmt.Sprintf("❌ Error downloading image: %v", err))
		return
	}

	name := content.Body
	if name == "" {
		name = "image"
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("coven-acp-%d-%s", time.Now().UnixNano(), filepath.Base(name)))
	if err := os.WriteFile(path, data, 0600); err != nil {
		b.logger.Error("failed to save image", "room", roomStr, "error", err)
		return
	}

	b.logger.Info("received image", "room", roomStr, "path", path, "bytes", len(data))
	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, true)
	}
	b.mgr.SendImage(path, "", roomStr)
}

// deliver is the agent manager's delivery callback. It runs on the dispatch
// loop goroutine; destination is a room id. An empty destination means the
// output had no originating room (boot-time startup messages) and is only
// logged.
func (b *Bridge) deliver(destination, text string) {
	if destination == "" {
		b.logger.Info("agent output without destination", "content", truncate(text, 80))
		return
	}

	roomID := id.RoomID(destination)
	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, false)
	}
	b.sendMessage(roomID, truncateReply(text))
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.Matrix.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}
	for _, allowed := range b.config.Matrix.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// isUserAllowed checks if the sender is in the allowed list.
func (b *Bridge) isUserAllowed(userID string) bool {
	if len(b.config.Matrix.AllowedUsers) == 0 {
		return true
	}
	for _, allowed := range b.config.Matrix.AllowedUsers {
		if allowed == userID {
			return true
		}
	}
	return false
}

// setTyping sends a typing indicator to a room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	// Use a timeout context to avoid hanging during shutdown or network issues
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	_, err := b.matrix.UserTyping(ctx, roomID, typing, timeout)
	if err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// sendMessage sends a text message to a room, rendering markdown into a
// formatted body when the text contains any.
func (b *Bridge) sendMessage(roomID id.RoomID, text string) {
	// Use a longer timeout for sending messages (they can be large)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if html, ok := renderMarkdown(text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}

	_, err := b.matrix.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
	if err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

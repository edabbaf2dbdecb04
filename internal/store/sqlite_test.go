// ABOUTME: Tests for the SQLite conversation ledger
// ABOUTME: Covers schema creation, message persistence, and retrieval ordering

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveMessage_FillsDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &Message{
		AgentName: "web",
		Sender:    "user",
		Content:   "hello",
	}
	require.NoError(t, s.SaveMessage(ctx, msg))

	assert.NotEmpty(t, msg.ID, "ID should be generated")
	assert.False(t, msg.CreatedAt.IsZero(), "CreatedAt should be set")

	got, err := s.GetAgentMessages(ctx, "web", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)
	assert.Equal(t, MessageTypeMessage, got[0].Type, "empty type defaults to message")
}

func TestGetAgentMessages_ChronologicalOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		require.NoError(t, s.SaveMessage(ctx, &Message{
			AgentName: "web",
			Sender:    "user",
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.GetAgentMessages(ctx, "web", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "third", got[2].Content)
}

func TestGetAgentMessages_LimitKeepsMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"old", "mid", "new"} {
		require.NoError(t, s.SaveMessage(ctx, &Message{
			AgentName: "web",
			Sender:    "agent",
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.GetAgentMessages(ctx, "web", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Most recent two, oldest first.
	assert.Equal(t, "mid", got[0].Content)
	assert.Equal(t, "new", got[1].Content)
}

func TestGetAgentMessages_IsolatedPerAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordMessage("web", "user", "for web", "message"))
	require.NoError(t, s.RecordMessage("infra", "user", "for infra", "message"))

	got, err := s.GetAgentMessages(ctx, "web", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "for web", got[0].Content)
}

func TestNewSQLiteStore_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "ledger.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RecordMessage("web", "user", "hi", "message"))
}

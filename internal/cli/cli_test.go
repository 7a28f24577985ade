package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/summarizer/summary-chat/internal/handler"
	"github.com/summarizer/summary-chat/internal/model/chat"
	"github.com/summarizer/summary-chat/internal/model/summary"
	"github.com/summarizer/summary-chat/internal/service/assistant"
	chatService "github.com/summarizer/summary-chat/internal/service/chat"
	"github.com/summarizer/summary-chat/internal/service/conversation"
	"github.com/summarizer/summary-chat/internal/service/realtime"
	"github.com/summarizer/summary-chat/internal/service/session"
)

// lockedBuffer is safe to read while the command is still writing.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type backend struct {
	srv           *httptest.Server
	conversations *conversation.Service
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	conversations := conversation.NewService(conversation.NewMemoryStore())
	srv := httptest.NewServer(handler.NewRouter(handler.Dependencies{
		Summaries:     summary.NewMemoryStore(summary.Seed()),
		Chat:          chatService.NewService(),
		Conversations: conversations,
		Responder:     assistant.NewFallbackResponder(),
	}))
	t.Cleanup(srv.Close)
	return &backend{srv: srv, conversations: conversations}
}

func (b *backend) flags() []string {
	return []string{
		"--api-url", b.srv.URL + "/api",
		"--ws-url", "ws" + strings.TrimPrefix(b.srv.URL, "http"),
		"--user", "u-1",
	}
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	err := root.Execute()
	return out.String(), err
}

func sampleConversation() chat.Conversation {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return chat.Conversation{
		ID:           "c-1",
		SummaryID:    "sum-1",
		Title:        "Resume questions",
		CreatedAt:    at,
		UpdatedAt:    at,
		IsPersistent: true,
		MessageCount: 2,
		Messages: []chat.ChatMessage{
			{ID: "m1", Role: chat.RoleUser, Content: "How many years?", Timestamp: at},
			{ID: "m2", Role: chat.RoleAssistant, Content: "Seven.", Timestamp: at},
		},
	}
}

func TestWriteConversationFormats(t *testing.T) {
	conv := sampleConversation()

	var text bytes.Buffer
	require.NoError(t, writeConversation(&text, conv, "text"))
	assert.Contains(t, text.String(), "Resume questions")
	assert.Contains(t, text.String(), "you > How many years?")
	assert.Contains(t, text.String(), "assistant > Seven.")

	var js bytes.Buffer
	require.NoError(t, writeConversation(&js, conv, "JSON"))
	var decoded chat.Conversation
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, conv.ID, decoded.ID)
	assert.Len(t, decoded.Messages, 2)

	var ym bytes.Buffer
	require.NoError(t, writeConversation(&ym, conv, "yaml"))
	var node map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &node))
	assert.Equal(t, "Resume questions", node["title"])
	assert.Equal(t, "sum-1", node["summaryId"])

	assert.Error(t, writeConversation(io.Discard, conv, "xml"))
}

func TestConversationsCommands(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	saved, err := b.conversations.Save(ctx, conversation.SaveRequest{
		SummaryID: "sum-1",
		UserID:    "u-1",
		Title:     "Saved chat",
		Messages:  []chat.ChatMessage{{ID: "m1", Role: chat.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	out, err := runCommand(t, append(b.flags(), "conversations", "list")...)
	require.NoError(t, err)
	assert.Contains(t, out, saved.ID)
	assert.Contains(t, out, "Saved chat")
	assert.Contains(t, out, "1 total")

	out, err = runCommand(t, append(b.flags(), "conversations", "show", saved.ID, "--format", "json")...)
	require.NoError(t, err)
	var conv chat.Conversation
	require.NoError(t, json.Unmarshal([]byte(out), &conv))
	assert.Equal(t, "hello", conv.Messages[0].Content)

	out, err = runCommand(t, append(b.flags(), "conversations", "delete", saved.ID)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted "+saved.ID)

	_, err = runCommand(t, append(b.flags(), "conversations", "show", saved.ID)...)
	assert.ErrorIs(t, err, conversation.ErrNotFound)

	out, err = runCommand(t, append(b.flags(), "conversations", "list")...)
	require.NoError(t, err)
	assert.Contains(t, out, "No saved conversations.")
}

func newOfflineREPL(t *testing.T, persister session.Persister) (*chatREPL, *lockedBuffer) {
	t.Helper()
	buf := &lockedBuffer{}
	repl := &chatREPL{out: &syncWriter{w: buf}, printed: make(map[string]struct{})}
	sess, err := session.New(session.Config{
		SummaryID: "sum-1",
		UserID:    "u-1",
		Realtime:  realtime.Options{BaseURL: "ws://127.0.0.1:1"},
		Persister: persister,
		Observer:  repl.observe,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	repl.sess = sess
	return repl, buf
}

func TestREPLCommandsOffline(t *testing.T) {
	conversations := conversation.NewService(conversation.NewMemoryStore())
	stored, err := conversations.Save(context.Background(), conversation.SaveRequest{
		SummaryID: "sum-1",
		UserID:    "u-1",
		Title:     "Earlier",
		Messages:  []chat.ChatMessage{{ID: "old-1", Role: chat.RoleUser, Content: "earlier question"}},
	})
	require.NoError(t, err)

	repl, buf := newOfflineREPL(t, conversations)
	ctx := context.Background()

	assert.False(t, repl.handleLine(ctx, "hello"))
	assert.Contains(t, buf.String(), "Not connected to chat service")

	assert.False(t, repl.handleLine(ctx, "/save"))
	assert.Contains(t, buf.String(), "save failed")

	assert.False(t, repl.handleLine(ctx, "/load "+stored.ID))
	assert.Contains(t, buf.String(), "earlier question")
	assert.Contains(t, buf.String(), `Loaded "Earlier"`)

	assert.False(t, repl.handleLine(ctx, "/title Renamed"))
	assert.False(t, repl.handleLine(ctx, "/save"))
	assert.Contains(t, buf.String(), `Saved "Renamed" as `+stored.ID)

	assert.False(t, repl.handleLine(ctx, "/list"))
	assert.Contains(t, buf.String(), "Renamed")

	assert.False(t, repl.handleLine(ctx, "/status"))
	assert.Contains(t, buf.String(), "saved as "+stored.ID)

	assert.False(t, repl.handleLine(ctx, "/clear"))
	assert.Empty(t, repl.sess.Store().Messages())

	assert.False(t, repl.handleLine(ctx, "/bogus"))
	assert.Contains(t, buf.String(), "unknown command /bogus")

	assert.True(t, repl.handleLine(ctx, "/quit"))
}

// brokenConn accepts the handshake but fails every write.
type brokenConn struct {
	closed chan struct{}
	once   sync.Once
}

func (c *brokenConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("connection closed")
}

func (c *brokenConn) WriteMessage(int, []byte) error { return errors.New("broken pipe") }

func (c *brokenConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *brokenConn) SetWriteDeadline(time.Time) error { return nil }

func (c *brokenConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type brokenDialer struct{}

func (brokenDialer) DialContext(context.Context, string, http.Header) (realtime.Conn, error) {
	return &brokenConn{closed: make(chan struct{})}, nil
}

func TestREPLReportsSendFailures(t *testing.T) {
	buf := &lockedBuffer{}
	repl := &chatREPL{out: &syncWriter{w: buf}, printed: make(map[string]struct{})}
	sess, err := session.New(session.Config{
		SummaryID: "sum-1",
		Realtime:  realtime.Options{BaseURL: "ws://chat.invalid", Dialer: brokenDialer{}},
		Observer:  repl.observe,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	repl.sess = sess

	require.NoError(t, sess.Open())
	require.Eventually(t, func() bool { return sess.State() == chat.StateConnected }, 2*time.Second, 5*time.Millisecond)

	assert.False(t, repl.handleLine(context.Background(), "hello"))
	assert.Contains(t, buf.String(), "broken pipe")
}

func TestChatCommandEndToEnd(t *testing.T) {
	b := newBackend(t)
	id := summary.Seed()[0].ID

	inR, inW := io.Pipe()
	out := &lockedBuffer{}
	root := NewRootCommand()
	root.SetArgs(append(b.flags(), "chat", id, "--save"))
	root.SetIn(inR)
	root.SetOut(out)
	root.SetErr(out)

	done := make(chan error, 1)
	go func() { done <- root.Execute() }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Connected to AI chat assistant")
	}, 3*time.Second, 10*time.Millisecond)

	_, err := io.WriteString(inW, "What are the key points?\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Go, Java, Kafka, PostgreSQL")
	}, 3*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(inW, "/quit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("chat command did not exit")
	}

	assert.Contains(t, out.String(), "you > What are the key points?")
	assert.Contains(t, out.String(), `Saved "What are the key points?"`)

	items, err := b.conversations.List(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].SummaryID)
	assert.Equal(t, 2, items[0].MessageCount)
}

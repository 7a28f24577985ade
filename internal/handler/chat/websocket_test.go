package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summarizer/summary-chat/internal/model/chat"
	"github.com/summarizer/summary-chat/internal/model/summary"
	"github.com/summarizer/summary-chat/internal/service/assistant"
	chatService "github.com/summarizer/summary-chat/internal/service/chat"
	"github.com/summarizer/summary-chat/internal/service/realtime"
	"github.com/summarizer/summary-chat/internal/service/session"
)

type stubResponder struct {
	mu       sync.Mutex
	reply    string
	err      error
	delay    time.Duration
	requests []assistant.Request
}

func (s *stubResponder) Reply(_ context.Context, req assistant.Request) (string, error) {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.reply, s.err
}

func (s *stubResponder) seen() []assistant.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]assistant.Request(nil), s.requests...)
}

type testServer struct {
	srv     *httptest.Server
	chatSvc *chatService.Service
	summary summary.Summary
}

func setupServer(t *testing.T, responder assistant.Responder) *testServer {
	t.Helper()
	return setupServerWith(t, responder, nil)
}

func setupServerWith(t *testing.T, responder assistant.Responder, tune func(*Handler)) *testServer {
	t.Helper()
	seeds := summary.Seed()
	chatSvc := chatService.NewService()
	handler := New(chatSvc, summary.NewMemoryStore(seeds), responder, nil)
	if tune != nil {
		tune(handler)
	}

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, chatSvc: chatSvc, summary: seeds[0]}
}

func (ts *testServer) wsBase() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

// dial opens a socket and consumes the greeting.
func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsBase()+"/ws/chat/"+ts.summary.ID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var g map[string]any
	require.NoError(t, conn.ReadJSON(&g))
	assert.Equal(t, "system", g["type"])
	assert.Equal(t, ts.summary.ID, g["summaryId"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) realtime.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := realtime.Decode(data)
	require.NoError(t, err)
	return f
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func TestChatSocketGreets(t *testing.T) {
	ts := setupServer(t, &stubResponder{reply: "ok"})
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsBase()+"/ws/chat/"+ts.summary.ID, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"system","message":"Connected to AI chat assistant. Ask me anything about this document!","summaryId":"`+ts.summary.ID+`"}`,
		string(data))

	require.Eventually(t, func() bool { return ts.chatSvc.ActiveSessions() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return ts.chatSvc.ActiveSessions() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestChatSocketUnknownSummary(t *testing.T) {
	ts := setupServer(t, &stubResponder{})
	_, resp, err := websocket.DefaultDialer.Dial(ts.wsBase()+"/ws/chat/missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatSocketReplyWrappedInTyping(t *testing.T) {
	ts := setupServer(t, assistant.NewFallbackResponder())
	conn := ts.dial(t)

	send(t, conn, `{"type":"message","message":"What are the key points?"}`)

	typing := readFrame(t, conn)
	assert.Equal(t, realtime.FrameTyping, typing.Type)
	assert.True(t, typing.TypingStatus())

	reply := readFrame(t, conn)
	assert.Equal(t, realtime.FrameMessage, reply.Type)
	assert.Equal(t, chat.RoleAssistant, reply.Role)
	assert.Positive(t, reply.Timestamp)
	for _, point := range ts.summary.KeyPoints {
		assert.Contains(t, reply.Message, point)
	}

	done := readFrame(t, conn)
	assert.Equal(t, realtime.FrameTyping, done.Type)
	assert.False(t, done.TypingStatus())
}

func TestChatSocketPassesHistory(t *testing.T) {
	stub := &stubResponder{reply: "noted"}
	ts := setupServer(t, stub)
	conn := ts.dial(t)

	for _, text := range []string{"first", "second"} {
		send(t, conn, `{"type":"message","message":"`+text+`"}`)
		for i := 0; i < 3; i++ {
			readFrame(t, conn)
		}
	}

	reqs := stub.seen()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].History)
	assert.Equal(t, "second", reqs[1].Question)
	assert.Equal(t, ts.summary.ID, reqs[1].Summary.ID)
	require.Len(t, reqs[1].History, 2)
	assert.Equal(t, "first", reqs[1].History[0].Content)
	assert.Equal(t, chat.RoleAssistant, reqs[1].History[1].Role)
	assert.Equal(t, "noted", reqs[1].History[1].Content)
}

func TestChatSocketSurvivesSlowReply(t *testing.T) {
	stub := &stubResponder{reply: "eventually", delay: 600 * time.Millisecond}
	ts := setupServerWith(t, stub, func(h *Handler) { h.readTimeout = 300 * time.Millisecond })
	conn := ts.dial(t)

	send(t, conn, `{"type":"message","message":"take your time"}`)
	assert.True(t, readFrame(t, conn).TypingStatus())
	assert.Equal(t, "eventually", readFrame(t, conn).Message)
	assert.False(t, readFrame(t, conn).TypingStatus())

	send(t, conn, `{"type":"ping"}`)
	assert.Equal(t, realtime.FramePong, readFrame(t, conn).Type)
}

func TestChatSocketReplyFailure(t *testing.T) {
	ts := setupServer(t, &stubResponder{err: errors.New("model down")})
	conn := ts.dial(t)

	send(t, conn, `{"type":"message","message":"hello"}`)

	assert.True(t, readFrame(t, conn).TypingStatus())
	failed := readFrame(t, conn)
	assert.Equal(t, realtime.FrameError, failed.Type)
	assert.Equal(t, msgReplyFailed, failed.Message)
	done := readFrame(t, conn)
	assert.Equal(t, realtime.FrameTyping, done.Type)
	assert.False(t, done.TypingStatus())
}

func TestChatSocketRejectsBadInput(t *testing.T) {
	stub := &stubResponder{reply: "ok"}
	ts := setupServer(t, stub)
	conn := ts.dial(t)

	send(t, conn, `{"type":"message","message":"   "}`)
	f := readFrame(t, conn)
	assert.Equal(t, realtime.FrameError, f.Type)
	assert.Equal(t, msgEmpty, f.Message)

	send(t, conn, `not json`)
	f = readFrame(t, conn)
	assert.Equal(t, realtime.FrameError, f.Type)
	assert.Equal(t, msgInvalidFormat, f.Message)

	send(t, conn, `{"type":"subscribe"}`)
	send(t, conn, `{"type":"ping"}`)
	assert.Equal(t, realtime.FramePong, readFrame(t, conn).Type)

	assert.Empty(t, stub.seen())
}

func TestSessionAgainstChatSocket(t *testing.T) {
	ts := setupServer(t, assistant.NewFallbackResponder())

	var (
		mu     sync.Mutex
		system []string
	)
	sess, err := session.New(session.Config{
		SummaryID: ts.summary.ID,
		Realtime:  realtime.Options{BaseURL: ts.wsBase()},
		Observer: func(ev session.Event) {
			if ev.Kind == session.EventSystem {
				var g map[string]string
				_ = json.Unmarshal(ev.System.Raw, &g)
				mu.Lock()
				system = append(system, g["summaryId"])
				mu.Unlock()
			}
		},
	})
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Open())
	require.Eventually(t, func() bool { return sess.State() == chat.StateConnected }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(system) == 1 && system[0] == ts.summary.ID
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sess.Send("Tell me about the migration"))
	require.Eventually(t, func() bool {
		msgs := sess.Store().Messages()
		return len(msgs) == 2 && !msgs[1].IsTyping
	}, 2*time.Second, 5*time.Millisecond)

	msgs := sess.Store().Messages()
	assert.Equal(t, "Tell me about the migration", msgs[0].Content)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "monolith-to-microservices")
	assert.False(t, sess.Store().Typing())
	assert.Empty(t, sess.Store().Error())
}

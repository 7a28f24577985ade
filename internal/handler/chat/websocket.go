package chat

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/summarizer/summary-chat/internal/model/chat"
	"github.com/summarizer/summary-chat/internal/model/summary"
	"github.com/summarizer/summary-chat/internal/service/assistant"
	chatService "github.com/summarizer/summary-chat/internal/service/chat"
	"github.com/summarizer/summary-chat/internal/service/realtime"
)

const (
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
	replyTimeout = 60 * time.Second

	msgEmpty         = "Message cannot be empty"
	msgInvalidFormat = "Invalid message format"
	msgReplyFailed   = "Failed to generate AI response. Please try again."
)

// Handler serves the realtime chat channel for one summary per socket.
type Handler struct {
	chatSvc   *chatService.Service
	summaries summary.Store
	responder assistant.Responder
	prompts   *assistant.PromptBuilder
	upgrader  websocket.Upgrader

	pingInterval time.Duration
	readTimeout  time.Duration
}

// New 创建聊天 WebSocket 处理器
func New(chatSvc *chatService.Service, summaries summary.Store, responder assistant.Responder, prompts *assistant.PromptBuilder) *Handler {
	if prompts == nil {
		prompts = assistant.NewPromptBuilder(assistant.DefaultTemplate())
	}
	return &Handler{
		chatSvc:   chatSvc,
		summaries: summaries,
		responder: responder,
		prompts:   prompts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许跨域，生产环境需要更严格的检查
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
	}
}

// RegisterRoutes mounts the chat channel.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat/{summaryID}", h.handleWebSocket)
}

// greeting is the system frame sent once the socket opens.
type greeting struct {
	Type      realtime.FrameType `json:"type"`
	Message   string             `json:"message"`
	SummaryID string             `json:"summaryId"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	summaryID := chi.URLParam(r, "summaryID")
	sum, ok := h.summaries.FindByID(summaryID)
	if !ok {
		http.Error(w, "summary not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := h.chatSvc.CreateSession(ctx, sum.ID)
	if err != nil {
		log.Printf("[websocket] create session failed: %v", err)
		return
	}
	defer h.chatSvc.EndSession(ctx, session.ID)
	log.Printf("[websocket] session %s opened for summary %s", session.ID, sum.ID)

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(greeting{Type: realtime.FrameSystem, Message: h.prompts.Welcome(), SummaryID: sum.ID}); err != nil {
		log.Printf("[websocket] greeting failed: %v", err)
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] session %s read error: %v", session.ID, err)
			}
			log.Printf("[websocket] session %s closed", session.ID)
			return
		}

		conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		frame, err := realtime.Decode(data)
		if err != nil {
			if errors.Is(err, realtime.ErrUnknownFrameType) {
				log.Printf("[websocket] session %s ignored frame: %v", session.ID, err)
				continue
			}
			if err := writeFrame(conn, realtime.NewErrorFrame(msgInvalidFormat)); err != nil {
				return
			}
			continue
		}

		switch frame.Type {
		case realtime.FrameMessage:
			if err := h.handleMessage(ctx, conn, session, sum, frame.Message); err != nil {
				log.Printf("[websocket] session %s write failed: %v", session.ID, err)
				return
			}
			// 回复生成期间不读取，重新计算读超时
			conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		case realtime.FramePing:
			if err := writeFrame(conn, realtime.PongFrame()); err != nil {
				return
			}
		}
	}
}

// handleMessage records the user turn and answers it, wrapping the reply in
// typing indicators. Only write failures are returned.
func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, session chatService.Session, sum summary.Summary, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return writeFrame(conn, realtime.NewErrorFrame(msgEmpty))
	}

	history, err := h.chatSvc.LoadTranscript(ctx, session.ID)
	if err != nil {
		return err
	}
	if _, err := h.chatSvc.SaveMessage(ctx, session.ID, chat.ChatMessage{Role: chat.RoleUser, Content: text}); err != nil {
		return err
	}

	if err := writeFrame(conn, realtime.NewTypingFrame(true)); err != nil {
		return err
	}

	replyCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	reply, err := h.responder.Reply(replyCtx, assistant.Request{
		SessionID: session.ID,
		Summary:   sum,
		History:   history,
		Question:  text,
	})
	cancel()

	if err != nil {
		log.Printf("[websocket] session %s reply failed: %v", session.ID, err)
		if err := writeFrame(conn, realtime.NewErrorFrame(msgReplyFailed)); err != nil {
			return err
		}
	} else {
		saved, err := h.chatSvc.SaveMessage(ctx, session.ID, chat.ChatMessage{Role: chat.RoleAssistant, Content: reply})
		if err != nil {
			return err
		}
		if err := writeFrame(conn, realtime.NewReplyFrame(chat.RoleAssistant, saved.Content, saved.Timestamp)); err != nil {
			return err
		}
	}

	return writeFrame(conn, realtime.NewTypingFrame(false))
}

// pingLoop sends protocol pings. WriteControl is safe alongside the read
// loop's writes.
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, f realtime.Frame) error {
	data, err := realtime.Encode(f)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

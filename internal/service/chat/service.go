package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

var (
	ErrSummaryRequired = errors.New("summary id is required")
	ErrSessionNotFound = errors.New("session not found")
)

// Session is the server's record of one open chat socket.
type Session struct {
	ID        string    `json:"id"`
	SummaryID string    `json:"summaryId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service tracks the transcript of every open chat socket.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]Session
	messages map[string][]chat.ChatMessage
}

// NewService bootstraps the in-memory transcript registry.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]Session),
		messages: make(map[string][]chat.ChatMessage),
	}
}

// CreateSession registers a socket bound to a summary.
func (s *Service) CreateSession(_ context.Context, summaryID string) (Session, error) {
	if summaryID == "" {
		return Session{}, ErrSummaryRequired
	}

	session := Session{
		ID:        uuid.NewString(),
		SummaryID: summaryID,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.ChatMessage, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// SaveMessage appends a turn to the session transcript and returns it with
// its assigned id.
func (s *Service) SaveMessage(_ context.Context, sessionID string, message chat.ChatMessage) (chat.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return chat.ChatMessage{}, ErrSessionNotFound
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}

	s.messages[sessionID] = append(s.messages[sessionID], message)
	return message, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.ChatMessage, len(messages))
	copy(copied, messages)
	return copied, nil
}

// EndSession forgets a closed socket.
func (s *Service) EndSession(_ context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	s.mu.Unlock()
}

// ActiveSessions counts open sockets.
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

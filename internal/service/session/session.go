package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/summarizer/summary-chat/internal/model/chat"
	"github.com/summarizer/summary-chat/internal/service/conversation"
	"github.com/summarizer/summary-chat/internal/service/realtime"
)

const (
	msgNotConnected    = "Not connected to chat service"
	msgReconnectGaveUp = "Failed to reconnect after multiple attempts"
	msgUnknownError    = "Unknown error occurred"
)

var (
	ErrEmptyMessage = errors.New("message cannot be empty")
	ErrNoPersister  = errors.New("session has no conversation store")
)

// Persister is the conversation CRUD collaborator. conversation.Client and
// conversation.Service both satisfy it.
type Persister interface {
	Save(ctx context.Context, req conversation.SaveRequest) (chat.Conversation, error)
	Load(ctx context.Context, id string) (chat.Conversation, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, userID string) ([]chat.Conversation, error)
}

// EventKind 会话事件类型
type EventKind int

const (
	// EventState reports a connection state change.
	EventState EventKind = iota
	// EventLog reports that the visible log changed.
	EventLog
	// EventSystem forwards an out-of-band system frame.
	EventSystem
	// EventError reports a user-visible session error.
	EventError
)

// Event is delivered to the Observer.
type Event struct {
	Kind   EventKind
	State  chat.ConnectionState
	System realtime.Frame
	Error  string
}

// Observer receives session events. Channel events and the local echo of a
// send arrive on the connection loop goroutine; Load, Clear and send
// rejections report on the caller's goroutine. An observer must not call
// Open, Disconnect, Reconnect, Send or Close synchronously.
type Observer func(Event)

// Config assembles a Session.
type Config struct {
	SummaryID string
	UserID    string
	Realtime  realtime.Options
	Persister Persister
	Observer  Observer
}

// Session is one conversation about a summary: the channel, the visible
// log and the persistence hooks, released together by Close.
type Session struct {
	summaryID string
	userID    string

	store     *Store
	manager   *realtime.Manager
	persister Persister
	observer  Observer
}

// New creates a session. The channel is not opened until Open is called.
func New(cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.SummaryID) == "" {
		return nil, errors.New("session: summary id is required")
	}

	s := &Session{
		summaryID: cfg.SummaryID,
		userID:    cfg.UserID,
		store:     NewStore(),
		persister: cfg.Persister,
		observer:  cfg.Observer,
	}

	manager, err := realtime.New(cfg.SummaryID, cfg.Realtime, s.handle)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s.manager = manager
	return s, nil
}

func (s *Session) SummaryID() string { return s.summaryID }

func (s *Session) UserID() string { return s.userID }

// Store exposes the visible log.
func (s *Session) Store() *Store { return s.store }

func (s *Session) State() chat.ConnectionState { return s.manager.State() }

// Open requests the channel.
func (s *Session) Open() error { return s.manager.Connect() }

// Disconnect closes the channel intentionally.
func (s *Session) Disconnect() error { return s.manager.Disconnect() }

// Reconnect cancels any pending retry and opens a fresh channel.
func (s *Session) Reconnect() error { return s.manager.Reconnect() }

// Close tears the session down. The log stays readable.
func (s *Session) Close() error { return s.manager.Close() }

// Send echoes trimmed text into the log and transmits it. The echo happens
// only once the channel has accepted the frame and before it is written.
func (s *Session) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	err := s.manager.Send(realtime.NewMessageFrame(text), func() {
		s.store.AppendLocal(text)
		s.notify(Event{Kind: EventLog})
	})
	if errors.Is(err, realtime.ErrNotConnected) || errors.Is(err, realtime.ErrClosed) {
		s.fail(msgNotConnected)
	}
	return err
}

// Save snapshots the transcript under title. An empty title falls back to
// the current (possibly auto-derived) one. Failure leaves the session
// untouched.
func (s *Session) Save(ctx context.Context, title string) (chat.Conversation, error) {
	if s.persister == nil {
		return chat.Conversation{}, ErrNoPersister
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = s.store.Title()
	}
	if title == "" {
		return chat.Conversation{}, conversation.ErrTitleRequired
	}

	conv, err := s.persister.Save(ctx, conversation.SaveRequest{
		ID:        s.store.ConversationID(),
		SummaryID: s.summaryID,
		UserID:    s.userID,
		Title:     title,
		Messages:  s.store.Transcript(),
	})
	if err != nil {
		log.Printf("[session] save failed summary=%s: %v", s.summaryID, err)
		return chat.Conversation{}, err
	}

	s.store.markSaved(conv)
	log.Printf("[session] saved conversation=%s summary=%s messages=%d", conv.ID, s.summaryID, conv.MessageCount)
	return conv, nil
}

// Load replaces the live log with a stored conversation about the same
// summary.
func (s *Session) Load(ctx context.Context, id string) (chat.Conversation, error) {
	if s.persister == nil {
		return chat.Conversation{}, ErrNoPersister
	}

	conv, err := s.persister.Load(ctx, id)
	if err != nil {
		return chat.Conversation{}, err
	}
	if conv.SummaryID != "" && conv.SummaryID != s.summaryID {
		return chat.Conversation{}, fmt.Errorf("%w: %s", conversation.ErrSummaryMismatch, conv.SummaryID)
	}

	s.store.replace(conv)
	s.notify(Event{Kind: EventLog})
	return conv, nil
}

// Delete removes a stored conversation and clears the log when it is the
// active one.
func (s *Session) Delete(ctx context.Context, id string) error {
	if s.persister == nil {
		return ErrNoPersister
	}
	if err := s.persister.Delete(ctx, id); err != nil {
		return err
	}
	if id != "" && id == s.store.ConversationID() {
		s.Clear()
	}
	return nil
}

// List returns the conversations owned by the session's user.
func (s *Session) List(ctx context.Context) ([]chat.Conversation, error) {
	if s.persister == nil {
		return nil, ErrNoPersister
	}
	return s.persister.List(ctx, s.userID)
}

// Clear empties the log and resets save metadata.
func (s *Session) Clear() {
	s.store.Clear()
	s.notify(Event{Kind: EventLog})
}

// SetSaveEnabled toggles saving and title auto-derivation.
func (s *Session) SetSaveEnabled(on bool) { s.store.SetSaveEnabled(on) }

// SetTitle sets the title used by the next save.
func (s *Session) SetTitle(title string) { s.store.SetTitle(title) }

func (s *Session) handle(ev realtime.Event) {
	switch ev.Kind {
	case realtime.EventStateChanged:
		s.notify(Event{Kind: EventState, State: ev.State})
	case realtime.EventOpened:
		s.store.SetError("")
	case realtime.EventClosed:
		if s.store.Typing() {
			s.store.SetTyping(false)
			s.notify(Event{Kind: EventLog})
		}
	case realtime.EventFailed:
		if errors.Is(ev.Err, realtime.ErrReconnectExhausted) {
			s.fail(msgReconnectGaveUp)
		}
	case realtime.EventFrame:
		s.applyFrame(ev.Frame)
	}
}

func (s *Session) applyFrame(f realtime.Frame) {
	switch f.Type {
	case realtime.FrameMessage:
		msg, err := f.ChatMessage()
		if err != nil {
			log.Printf("[session] dropping message frame summary=%s: %v", s.summaryID, err)
			return
		}
		s.store.AppendRemote(msg)
		s.notify(Event{Kind: EventLog})
	case realtime.FrameTyping:
		s.store.SetTyping(f.TypingStatus())
		s.notify(Event{Kind: EventLog})
	case realtime.FrameSystem:
		s.notify(Event{Kind: EventSystem, System: f})
	case realtime.FrameError:
		message := strings.TrimSpace(f.Message)
		if message == "" {
			message = msgUnknownError
		}
		s.fail(message)
	}
}

func (s *Session) fail(message string) {
	s.store.SetError(message)
	s.notify(Event{Kind: EventError, Error: message})
}

func (s *Session) notify(ev Event) {
	if s.observer != nil {
		s.observer(ev)
	}
}

package session

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

// titleLimit is the rune length of an auto-derived title before truncation.
const titleLimit = 50

// Store is the visible conversation log plus its save metadata. At most one
// typing placeholder exists and it is always the last entry.
type Store struct {
	mu sync.RWMutex

	messages       []chat.ChatMessage
	conversationID string
	title          string
	isSaved        bool
	saveEnabled    bool
	lastError      string

	now func() time.Time
}

// NewStore returns an empty log.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Snapshot is a consistent copy of the store.
type Snapshot struct {
	Messages       []chat.ChatMessage
	ConversationID string
	Title          string
	IsSaved        bool
	SaveEnabled    bool
	Error          string
}

// Snapshot copies the whole store under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Messages:       append([]chat.ChatMessage(nil), s.messages...),
		ConversationID: s.conversationID,
		Title:          s.title,
		IsSaved:        s.isSaved,
		SaveEnabled:    s.saveEnabled,
		Error:          s.lastError,
	}
}

// Messages returns a copy of the log, typing placeholder included.
func (s *Store) Messages() []chat.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.ChatMessage(nil), s.messages...)
}

// Transcript returns the log without the typing placeholder.
func (s *Store) Transcript() []chat.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chat.StripTyping(s.messages)
}

// AppendLocal records user text optimistically and returns the new entry.
func (s *Store) AppendLocal(text string) chat.ChatMessage {
	msg := chat.ChatMessage{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   text,
		Timestamp: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(msg)
	s.deriveTitleLocked()
	return msg
}

// AppendRemote records a message received from the channel. Any typing
// placeholder is removed first.
func (s *Store) AppendRemote(msg chat.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeTypingLocked()
	s.messages = append(s.messages, msg)
	if msg.Role == chat.RoleUser {
		s.deriveTitleLocked()
	}
}

// SetTyping inserts or refreshes the placeholder when on and removes it
// when off.
func (s *Store) SetTyping(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeTypingLocked()
	if on {
		s.messages = append(s.messages, chat.ChatMessage{
			ID:        uuid.NewString(),
			Role:      chat.RoleAssistant,
			Timestamp: s.now(),
			IsTyping:  true,
		})
	}
}

// Typing reports whether the placeholder is present.
func (s *Store) Typing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.messages)
	return n > 0 && s.messages[n-1].IsTyping
}

// Clear empties the log and resets save metadata. Save preference survives.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.lastError = ""
	s.isSaved = false
	s.title = ""
	s.conversationID = ""
}

// SetError records a session-level error message; empty clears it.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

func (s *Store) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// SetSaveEnabled toggles saving. Enabling derives a title when none is
// set; disabling drops a draft title that was never saved.
func (s *Store) SetSaveEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveEnabled = on
	if on {
		s.deriveTitleLocked()
		return
	}
	if !s.isSaved {
		s.title = ""
	}
}

func (s *Store) SaveEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveEnabled
}

// SetTitle sets the title used by the next save.
func (s *Store) SetTitle(title string) {
	s.mu.Lock()
	s.title = strings.TrimSpace(title)
	s.mu.Unlock()
}

func (s *Store) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

func (s *Store) IsSaved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isSaved
}

func (s *Store) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

// markSaved records a successful save.
func (s *Store) markSaved(conv chat.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isSaved = true
	s.conversationID = conv.ID
	s.title = conv.Title
}

// replace swaps the live log for a loaded conversation.
func (s *Store) replace(conv chat.Conversation) {
	messages := chat.StripTyping(conv.Messages)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = messages
	s.conversationID = conv.ID
	s.title = conv.Title
	s.isSaved = true
	s.lastError = ""
}

// insertLocked appends msg ahead of a trailing typing placeholder.
func (s *Store) insertLocked(msg chat.ChatMessage) {
	n := len(s.messages)
	if n > 0 && s.messages[n-1].IsTyping {
		typing := s.messages[n-1]
		s.messages[n-1] = msg
		s.messages = append(s.messages, typing)
		return
	}
	s.messages = append(s.messages, msg)
}

func (s *Store) removeTypingLocked() {
	kept := s.messages[:0]
	for _, msg := range s.messages {
		if !msg.IsTyping {
			kept = append(kept, msg)
		}
	}
	s.messages = kept
}

func (s *Store) deriveTitleLocked() {
	if !s.saveEnabled || s.title != "" {
		return
	}
	for _, msg := range s.messages {
		if msg.Role == chat.RoleUser && !msg.IsTyping && strings.TrimSpace(msg.Content) != "" {
			s.title = truncateTitle(strings.TrimSpace(msg.Content))
			return
		}
	}
}

func truncateTitle(text string) string {
	if utf8.RuneCountInString(text) <= titleLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleLimit]) + "..."
}

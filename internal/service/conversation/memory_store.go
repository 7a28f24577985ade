package conversation

import (
	"context"
	"sync"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]chat.Conversation
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]chat.Conversation)}
}

func (s *MemoryStore) Put(_ context.Context, conv chat.Conversation) error {
	conv.Messages = append([]chat.ChatMessage(nil), conv.Messages...)

	s.mu.Lock()
	s.items[conv.ID] = conv
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.items[id]
	if !ok {
		return chat.Conversation{}, ErrNotFound
	}
	conv.Messages = append([]chat.ChatMessage(nil), conv.Messages...)
	return conv, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Conversation, 0)
	for _, conv := range s.items {
		if conv.UserID == userID {
			out = append(out, withoutMessages(conv))
		}
	}
	sortByUpdated(out)
	return out, nil
}

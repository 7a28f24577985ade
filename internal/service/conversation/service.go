package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

var (
	ErrNotFound        = errors.New("conversation not found")
	ErrTitleRequired   = errors.New("conversation title is required")
	ErrSummaryRequired = errors.New("summary id is required")
	ErrUserRequired    = errors.New("user id is required")
	ErrSummaryMismatch = errors.New("conversation belongs to a different summary")
	ErrUnauthorized    = errors.New("unauthorized")
)

// DefaultPageSize is used when a listing request does not specify a size.
const DefaultPageSize = 20

// SaveRequest carries a transcript snapshot to persist. An empty ID creates
// a new conversation.
type SaveRequest struct {
	ID        string             `json:"id,omitempty"`
	SummaryID string             `json:"summaryId"`
	UserID    string             `json:"userId,omitempty"`
	Title     string             `json:"title"`
	Messages  []chat.ChatMessage `json:"messages"`
}

// Store is the durable backend for conversations. Get and Delete return
// ErrNotFound for unknown ids. ListByUser returns conversations without
// their messages, most recently updated first.
type Store interface {
	Put(ctx context.Context, conv chat.Conversation) error
	Get(ctx context.Context, id string) (chat.Conversation, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]chat.Conversation, error)
}

// Service validates and stamps conversations before handing them to a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService wires a Service over store.
func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Save creates or updates a conversation. The summary id of an existing
// conversation never changes.
func (s *Service) Save(ctx context.Context, req SaveRequest) (chat.Conversation, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return chat.Conversation{}, ErrTitleRequired
	}
	messages := chat.StripTyping(req.Messages)
	now := s.now()

	var conv chat.Conversation
	if req.ID == "" {
		if strings.TrimSpace(req.SummaryID) == "" {
			return chat.Conversation{}, ErrSummaryRequired
		}
		conv = chat.Conversation{
			ID:        uuid.NewString(),
			SummaryID: req.SummaryID,
			UserID:    req.UserID,
			CreatedAt: now,
		}
	} else {
		existing, err := s.store.Get(ctx, req.ID)
		if err != nil {
			return chat.Conversation{}, err
		}
		if req.SummaryID != "" && req.SummaryID != existing.SummaryID {
			return chat.Conversation{}, ErrSummaryMismatch
		}
		conv = existing
		if conv.UserID == "" {
			conv.UserID = req.UserID
		}
	}

	conv.Title = title
	conv.Messages = messages
	conv.MessageCount = len(messages)
	conv.IsPersistent = true
	conv.UpdatedAt = now
	if conv.UpdatedAt.Before(conv.CreatedAt) {
		conv.UpdatedAt = conv.CreatedAt
	}

	if err := s.store.Put(ctx, conv); err != nil {
		return chat.Conversation{}, fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return conv, nil
}

// Load returns a conversation with its messages.
func (s *Service) Load(ctx context.Context, id string) (chat.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return chat.Conversation{}, ErrNotFound
	}
	return s.store.Get(ctx, id)
}

// Delete removes a conversation.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrNotFound
	}
	return s.store.Delete(ctx, id)
}

// List returns every conversation owned by userID, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]chat.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}
	items, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sortByUpdated(items)
	return items, nil
}

// ListPage returns one zero-based page of a user's conversations.
func (s *Service) ListPage(ctx context.Context, userID string, page, size int) (chat.ConversationPage, error) {
	items, err := s.List(ctx, userID)
	if err != nil {
		return chat.ConversationPage{}, err
	}
	return Paginate(items, page, size), nil
}

// Paginate slices items into a zero-based page.
func Paginate(items []chat.Conversation, page, size int) chat.ConversationPage {
	if size <= 0 {
		size = DefaultPageSize
	}
	if page < 0 {
		page = 0
	}

	total := len(items)
	result := chat.ConversationPage{
		Content:       []chat.Conversation{},
		TotalElements: total,
		TotalPages:    (total + size - 1) / size,
	}

	start := page * size
	if start >= total {
		return result
	}
	end := start + size
	if end > total {
		end = total
	}
	result.Content = append(result.Content, items[start:end]...)
	return result
}

func sortByUpdated(items []chat.Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
}

// withoutMessages drops the transcript for listings.
func withoutMessages(conv chat.Conversation) chat.Conversation {
	conv.Messages = nil
	return conv
}

package chat

import "time"

// Conversation is a durable snapshot of a chat session about one summary.
type Conversation struct {
	ID           string        `json:"id" yaml:"id"`
	SummaryID    string        `json:"summaryId" yaml:"summaryId"`
	UserID       string        `json:"userId,omitempty" yaml:"userId,omitempty"`
	Title        string        `json:"title" yaml:"title"`
	CreatedAt    time.Time     `json:"createdAt" yaml:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt" yaml:"updatedAt"`
	IsPersistent bool          `json:"isPersistent" yaml:"isPersistent"`
	MessageCount int           `json:"messageCount" yaml:"messageCount"`
	Messages     []ChatMessage `json:"messages,omitempty" yaml:"messages,omitempty"`
}

// ConversationPage mirrors the paged listing returned by the conversation API.
type ConversationPage struct {
	Content       []Conversation `json:"content"`
	TotalElements int            `json:"totalElements"`
	TotalPages    int            `json:"totalPages"`
}

// StripTyping returns a copy of messages without typing placeholders.
func StripTyping(messages []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.IsTyping {
			continue
		}
		out = append(out, msg)
	}
	return out
}

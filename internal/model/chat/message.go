package chat

import "time"

// Role identifies who authored a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ChatMessage is one turn in the visible conversation log.
type ChatMessage struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	// IsTyping marks the ephemeral "assistant is composing" placeholder.
	IsTyping bool `json:"isTyping,omitempty" yaml:"-"`
}

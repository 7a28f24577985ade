package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

// FrameType 帧类型
type FrameType string

const (
	FrameMessage FrameType = "message"
	FrameSystem  FrameType = "system"
	FrameTyping  FrameType = "typing"
	FrameError   FrameType = "error"
	FramePing    FrameType = "ping"
	FramePong    FrameType = "pong"
)

var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Frame is one JSON envelope exchanged over the chat channel.
type Frame struct {
	Type      FrameType `json:"type"`
	Role      chat.Role `json:"role,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp float64   `json:"timestamp,omitempty"`
	Status    *bool     `json:"status,omitempty"`

	// Raw holds the undecoded frame for system frames, which may carry
	// fields this package does not model.
	Raw json.RawMessage `json:"-"`
}

// NewMessageFrame builds the client→server frame carrying user text.
func NewMessageFrame(text string) Frame {
	return Frame{Type: FrameMessage, Message: text}
}

// NewReplyFrame builds the server→client message frame.
func NewReplyFrame(role chat.Role, text string, at time.Time) Frame {
	return Frame{
		Type:      FrameMessage,
		Role:      role,
		Message:   text,
		Timestamp: float64(at.UnixNano()) / float64(time.Second),
	}
}

// NewTypingFrame builds a typing indicator frame.
func NewTypingFrame(status bool) Frame {
	return Frame{Type: FrameTyping, Status: &status}
}

// NewSystemFrame builds an informational frame.
func NewSystemFrame(message string) Frame {
	return Frame{Type: FrameSystem, Message: message}
}

// NewErrorFrame builds an application-level error frame.
func NewErrorFrame(message string) Frame {
	return Frame{Type: FrameError, Message: message}
}

// PingFrame builds a keepalive ping.
func PingFrame() Frame { return Frame{Type: FramePing} }

// PongFrame builds a keepalive reply.
func PongFrame() Frame { return Frame{Type: FramePong} }

// Encode serializes a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	if !f.Type.known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, f.Type)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// Decode parses raw channel input. Callers are expected to drop frames that
// fail with ErrMalformedFrame or ErrUnknownFrameType and keep the session
// running.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Type {
	case FrameTyping:
		if f.Status == nil {
			return Frame{}, fmt.Errorf("%w: typing frame without status", ErrMalformedFrame)
		}
	case FrameSystem:
		f.Raw = append(json.RawMessage(nil), raw...)
	case FrameMessage, FrameError, FramePing, FramePong:
	case "":
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrameType, f.Type)
	}

	if math.IsNaN(f.Timestamp) || math.IsInf(f.Timestamp, 0) || f.Timestamp < 0 {
		return Frame{}, fmt.Errorf("%w: invalid timestamp", ErrMalformedFrame)
	}
	return f, nil
}

// ChatMessage converts an inbound message frame into a log entry with a
// fresh local id. A zero timestamp falls back to the local clock.
func (f Frame) ChatMessage() (chat.ChatMessage, error) {
	if f.Type != FrameMessage {
		return chat.ChatMessage{}, fmt.Errorf("%w: %s frame is not a message", ErrMalformedFrame, f.Type)
	}
	if !f.Role.Valid() {
		return chat.ChatMessage{}, fmt.Errorf("%w: invalid role %q", ErrMalformedFrame, f.Role)
	}
	if strings.TrimSpace(f.Message) == "" {
		return chat.ChatMessage{}, fmt.Errorf("%w: empty message", ErrMalformedFrame)
	}

	return chat.ChatMessage{
		ID:        uuid.NewString(),
		Role:      f.Role,
		Content:   f.Message,
		Timestamp: f.Time(),
	}, nil
}

// Time returns the frame timestamp as a local time value.
func (f Frame) Time() time.Time {
	if f.Timestamp == 0 {
		return time.Now()
	}
	sec, frac := math.Modf(f.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// TypingStatus reports the status carried by a typing frame.
func (f Frame) TypingStatus() bool {
	return f.Status != nil && *f.Status
}

func (t FrameType) known() bool {
	switch t {
	case FrameMessage, FrameSystem, FrameTyping, FrameError, FramePing, FramePong:
		return true
	}
	return false
}

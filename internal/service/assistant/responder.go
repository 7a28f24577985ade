package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/summarizer/summary-chat/internal/model/chat"
	"github.com/summarizer/summary-chat/internal/model/summary"
)

// historyLimit bounds how many earlier turns accompany a question.
const historyLimit = 5

var ErrEmptyQuestion = errors.New("question cannot be empty")

// Request is one user turn to answer.
type Request struct {
	SessionID string
	Summary   summary.Summary
	// History holds earlier turns, oldest first, excluding Question.
	History  []chat.ChatMessage
	Question string
}

// Responder produces the assistant's reply to a question about a summary.
type Responder interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// FallbackResponder answers from the summary text alone. It is used when no
// model is configured.
type FallbackResponder struct{}

// NewFallbackResponder returns a responder that never calls out.
func NewFallbackResponder() *FallbackResponder {
	return &FallbackResponder{}
}

// Reply picks the key point sharing the most words with the question, or
// falls back to the summary itself.
func (FallbackResponder) Reply(_ context.Context, req Request) (string, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	s := req.Summary
	lower := strings.ToLower(question)
	if len(s.KeyPoints) > 0 && (strings.Contains(lower, "key point") || strings.Contains(lower, "main point")) {
		return fmt.Sprintf("The key points of %q are:\n- %s", s.Title, strings.Join(s.KeyPoints, "\n- ")), nil
	}

	best, bestScore := "", 0
	asked := wordSet(question)
	for _, point := range s.KeyPoints {
		score := 0
		for word := range wordSet(point) {
			if _, ok := asked[word]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = point, score
		}
	}
	if best != "" {
		return fmt.Sprintf("According to the summary: %s.", strings.TrimSuffix(best, ".")), nil
	}

	if content := strings.TrimSpace(s.Content); content != "" {
		return "Here is what the summary says: " + content, nil
	}
	return "I don't have specific information about that in this summary.", nil
}

func wordSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) > 3 {
			set[w] = struct{}{}
		}
	}
	return set
}

// recentHistory trims history to the last historyLimit non-placeholder turns.
func recentHistory(history []chat.ChatMessage) []chat.ChatMessage {
	history = chat.StripTyping(history)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	return history
}

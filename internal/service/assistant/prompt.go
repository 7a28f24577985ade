package assistant

import (
	"fmt"
	"strings"

	"github.com/summarizer/summary-chat/internal/model/summary"
)

// PromptTemplate defines the fixed parts of the assistant system prompt.
type PromptTemplate struct {
	Role           string
	WelcomeMessage string
	Rules          []string
}

// DefaultTemplate is used for every summary unless overridden.
func DefaultTemplate() PromptTemplate {
	return PromptTemplate{
		Role: "You are an AI assistant helping a user understand a document summary. " +
			"You have access to the summary and its key points.",
		WelcomeMessage: "Connected to AI chat assistant. Ask me anything about this document!",
		Rules: []string{
			"Provide helpful, accurate answers about the document content",
			"If the summary does not contain the information, say so clearly",
			"Keep answers short enough to read in a chat window",
			"Quote key points verbatim when the user asks for them",
		},
	}
}

// PromptBuilder renders system prompts for summaries.
type PromptBuilder struct {
	template PromptTemplate
}

// NewPromptBuilder creates a builder over tmpl.
func NewPromptBuilder(tmpl PromptTemplate) *PromptBuilder {
	return &PromptBuilder{template: tmpl}
}

// Welcome returns the greeting sent when a chat socket opens.
func (pb *PromptBuilder) Welcome() string {
	return pb.template.WelcomeMessage
}

// BuildSystemPrompt creates the system prompt scoped to one summary.
func (pb *PromptBuilder) BuildSystemPrompt(s summary.Summary) string {
	var b strings.Builder
	b.WriteString(pb.template.Role)
	b.WriteString("\n\nRules:\n- ")
	b.WriteString(strings.Join(pb.template.Rules, "\n- "))

	b.WriteString("\n\nDocument Summary Context:\n")
	fmt.Fprintf(&b, "Summary ID: %s\n", s.ID)
	if s.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", s.Title)
	}
	b.WriteString("Summary:\n")
	b.WriteString(strings.TrimSpace(s.Content))

	if len(s.KeyPoints) > 0 {
		b.WriteString("\n\nKey points:\n- ")
		b.WriteString(strings.Join(s.KeyPoints, "\n- "))
	}
	return b.String()
}

package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/summarizer/summary-chat/internal/model/chat"
)

// LLMResponder answers through an eino chain: prompt template, then chat model.
type LLMResponder struct {
	prompts *PromptBuilder
	chain   compose.Runnable[map[string]any, *schema.Message]
}

// NewLLMResponder compiles the chat chain around chatModel.
func NewLLMResponder(ctx context.Context, chatModel model.ChatModel, prompts *PromptBuilder) (*LLMResponder, error) {
	if chatModel == nil {
		return nil, errors.New("assistant: chat model must not be nil")
	}
	if prompts == nil {
		prompts = NewPromptBuilder(DefaultTemplate())
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &LLMResponder{prompts: prompts, chain: runnable}, nil
}

// Reply runs the chain for one question.
func (r *LLMResponder) Reply(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", ErrEmptyQuestion
	}

	response, err := r.chain.Invoke(ctx, r.buildChainInput(req))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	content := strings.TrimSpace(response.Content)
	if content == "" {
		return "", errors.New("assistant: model returned an empty reply")
	}

	log.Printf("[ai] generated response for session=%s, summary=%s, length=%d", req.SessionID, req.Summary.ID, len(content))
	return content, nil
}

func (r *LLMResponder) buildChainInput(req Request) map[string]any {
	return map[string]any{
		"system":  r.prompts.BuildSystemPrompt(req.Summary),
		"history": buildHistoryMessages(req.History),
		"query":   req.Question,
	}
}

func buildHistoryMessages(messages []chat.ChatMessage) []*schema.Message {
	recent := recentHistory(messages)
	if len(recent) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(recent))
	for _, msg := range recent {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}

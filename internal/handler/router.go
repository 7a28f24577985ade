package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/summarizer/summary-chat/internal/handler/chat"
	"github.com/summarizer/summary-chat/internal/handler/conversation"
	summaryHandler "github.com/summarizer/summary-chat/internal/handler/summary"
	middlewarePkg "github.com/summarizer/summary-chat/internal/middleware"
	"github.com/summarizer/summary-chat/internal/model/summary"
	"github.com/summarizer/summary-chat/internal/service/assistant"
	chatService "github.com/summarizer/summary-chat/internal/service/chat"
	conversationService "github.com/summarizer/summary-chat/internal/service/conversation"
	"github.com/summarizer/summary-chat/pkg/utils"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Summaries     summary.Store
	Chat          *chatService.Service
	Conversations *conversationService.Service
	Responder     assistant.Responder
	Prompts       *assistant.PromptBuilder
	// APIToken guards REST and websocket routes; empty disables auth.
	APIToken string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"activeSessions": deps.Chat.ActiveSessions(),
		})
	})

	// Create handlers
	summaries := summaryHandler.New(deps.Summaries)
	conversations := conversation.New(deps.Conversations)
	chatHandler := chat.New(deps.Chat, deps.Summaries, deps.Responder, deps.Prompts)

	r.Group(func(protected chi.Router) {
		protected.Use(middlewarePkg.BearerAuth(deps.APIToken))

		// Realtime chat channel
		chatHandler.RegisterRoutes(protected)

		protected.Route("/api", func(api chi.Router) {
			summaries.RegisterRoutes(api)
			conversations.RegisterRoutes(api)
		})
	})

	return r
}

package conversation

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/summarizer/summary-chat/internal/model/chat"
	conversationService "github.com/summarizer/summary-chat/internal/service/conversation"
	"github.com/summarizer/summary-chat/pkg/utils"
)

const maxPageSize = 100

// Handler exposes saved conversations over REST.
type Handler struct {
	conversations *conversationService.Service
}

// New 创建会话存档处理器
func New(conversations *conversationService.Service) *Handler {
	return &Handler{conversations: conversations}
}

// RegisterRoutes 注册会话存档相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations", h.handleCreate)
	r.Get("/conversations/{conversationID}", h.handleGet)
	r.Post("/conversations/{conversationID}/save", h.handleSave)
	r.Delete("/conversations/{conversationID}", h.handleDelete)
	r.Get("/users/{userID}/conversations", h.handleListByUser)
}

type saveConversationRequest struct {
	SummaryID string             `json:"summaryId"`
	UserID    string             `json:"userId"`
	Title     string             `json:"title"`
	Messages  []chat.ChatMessage `json:"messages"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req saveConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.conversations.Save(r.Context(), conversationService.SaveRequest{
		SummaryID: req.SummaryID,
		UserID:    req.UserID,
		Title:     req.Title,
		Messages:  req.Messages,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.conversations.Save(r.Context(), conversationService.SaveRequest{
		ID:        chi.URLParam(r, "conversationID"),
		SummaryID: req.SummaryID,
		UserID:    req.UserID,
		Title:     req.Title,
		Messages:  req.Messages,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.conversations.Load(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.conversations.Delete(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondNoContent(w)
}

func (h *Handler) handleListByUser(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil || page < 0 {
		utils.RespondError(w, http.StatusBadRequest, "page must be a non-negative integer")
		return
	}
	size, err := queryInt(r, "size", conversationService.DefaultPageSize)
	if err != nil || size <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "size must be a positive integer")
		return
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	result, err := h.conversations.ListPage(r.Context(), chi.URLParam(r, "userID"), page, size)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversationService.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, conversationService.ErrNotFound.Error())
	case errors.Is(err, conversationService.ErrTitleRequired),
		errors.Is(err, conversationService.ErrSummaryRequired),
		errors.Is(err, conversationService.ErrUserRequired),
		errors.Is(err, conversationService.ErrSummaryMismatch):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[conversation] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "conversation storage failed")
	}
}

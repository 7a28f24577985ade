package summary

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/summarizer/summary-chat/internal/model/summary"
	"github.com/summarizer/summary-chat/pkg/utils"
)

// Handler summary服务的HTTP处理器
type Handler struct {
	summaries summary.Store
}

// New 创建summary处理器
func New(summaries summary.Store) *Handler {
	return &Handler{
		summaries: summaries,
	}
}

// RegisterRoutes 注册summary相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/summaries", h.handleListSummaries)
	r.Get("/summaries/{summaryID}", h.handleGetSummary)
}

// handleListSummaries 列出所有summary
func (h *Handler) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.summaries.List())
}

func (h *Handler) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	s, ok := h.summaries.FindByID(chi.URLParam(r, "summaryID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "summary not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, s)
}

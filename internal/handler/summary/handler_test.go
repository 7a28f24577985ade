package summary

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/summarizer/summary-chat/internal/model/summary"
)

func setupRouter() *chi.Mux {
	r := chi.NewRouter()
	New(summary.NewMemoryStore(summary.Seed())).RegisterRoutes(r)
	return r
}

func TestListSummaries(t *testing.T) {
	r := setupRouter()
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/summaries", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var items []summary.Summary
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != len(summary.Seed()) {
		t.Fatalf("expected %d summaries, got %d", len(summary.Seed()), len(items))
	}
}

func TestGetSummary(t *testing.T) {
	r := setupRouter()
	id := summary.Seed()[0].ID

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/summaries/"+id, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/summaries/unknown", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

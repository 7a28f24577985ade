package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorResponse 是所有 API 错误的响应体
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[http] failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	RespondJSON(w, status, ErrorResponse{Error: message, Status: status})
}

// RespondNoContent 发送 204 响应
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

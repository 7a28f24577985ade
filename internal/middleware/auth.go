package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/summarizer/summary-chat/pkg/utils"
)

// BearerAuth rejects requests that do not carry token, either as an
// Authorization bearer header or as a token query parameter (browsers cannot
// set headers on a websocket handshake). An empty token disables the check.
func BearerAuth(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if !validToken(requestToken(r), token) {
				utils.RespondError(w, http.StatusUnauthorized, "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, value, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func validToken(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

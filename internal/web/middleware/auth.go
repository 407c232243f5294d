package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/labelflow/internal/core"
)

// UserIDHeader names the acting user. Authentication happens upstream; the
// API trusts the header the way it trusts TRUSTED_PROXIES.
const UserIDHeader = "X-User-ID"

// RequireUser rejects requests without a positive numeric X-User-ID header
// and records the user on the request context for core.UserIDFromContext.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserIDHeader)
		if raw == "" {
			slog.Warn("auth: missing user id",
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
			)
			writeAuthError(w, "missing "+UserIDHeader+" header", "AUTH001")
			return
		}

		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			slog.Warn("auth: invalid user id",
				"path", r.URL.Path,
				"method", r.Method,
				"value", raw,
			)
			writeAuthError(w, "invalid "+UserIDHeader+" header", "AUTH002")
			return
		}

		next.ServeHTTP(w, r.WithContext(core.ContextWithUserID(r.Context(), userID)))
	})
}

func writeAuthError(w http.ResponseWriter, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":` + strconv.Quote(message) + `,"code":"` + code + `"}`))
}

package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical details and the request ID, then
// returned to the client as a JSON body carrying the user message, the
// suggested action and the error code from core.MapError.

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/labelflow/internal/core"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var (
	rateLimitedMessage = core.UserMessage{
		Message: "Too many requests",
		Action:  "Wait a minute before retrying",
		Code:    "HTTP429",
	}
	badRequestMessage = core.UserMessage{
		Message: "The request could not be understood",
		Action:  "Check the request body and parameters",
		Code:    "HTTP400",
	}
)

// respondError logs err and writes its user message. The status code comes
// from statusFor unless the caller's mapping has nothing better than a 500.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	uerr := core.NewUserError(err)
	status := statusFor(uerr.User.Code)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError || !core.IsUserFacing(err) {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", uerr.Technical.Error(),
		"code", uerr.User.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	respondErrorJSON(w, uerr.User, status)
}

// respondBadRequest reports a malformed request. detail names the problem
// and is returned to the client as is.
func respondBadRequest(w http.ResponseWriter, detail string) {
	msg := badRequestMessage
	msg.Message = msg.Message + ": " + detail
	respondErrorJSON(w, msg, http.StatusBadRequest)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case "JOB003":
		return http.StatusServiceUnavailable
	case "JOB004", "JOB006":
		return http.StatusNotFound
	case "JOB001", "LBL001", "LBL003":
		return http.StatusConflict
	case "JOB002":
		return http.StatusGatewayTimeout
	case "LBL002":
		return http.StatusUnprocessableEntity
	}
	switch {
	case strings.HasPrefix(code, "IMP"),
		strings.HasPrefix(code, "VAL"),
		code == "JOB005":
		return http.StatusBadRequest
	case strings.HasPrefix(code, "DB"):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Package handler implements the control API endpoints.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vntrieu/mixplay/internal/chat"
	"github.com/vntrieu/mixplay/internal/interactive"
	"github.com/vntrieu/mixplay/internal/protocol"
)

// contextKey type for request context keys (avoids collisions with other packages).
type contextKey string

// SubjectContextKey holds the admin token subject set by RequireAdmin.
const SubjectContextKey contextKey = "subject"

// SubjectFromRequest returns the authenticated subject, or "".
func SubjectFromRequest(r *http.Request) string {
	s, _ := r.Context().Value(SubjectContextKey).(string)
	return s
}

// requestID returns the request ID from chi's context for logging.
func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(middleware.RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps session errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, interactive.ErrUnknownGroup),
		errors.Is(err, interactive.ErrUnknownScene),
		errors.Is(err, interactive.ErrUnknownParticipant),
		errors.Is(err, interactive.ErrUnknownControl),
		errors.Is(err, chat.ErrUnknownRoom):
		return http.StatusNotFound
	case errors.Is(err, interactive.ErrNotLoggedIn),
		errors.Is(err, interactive.ErrWrongState),
		errors.Is(err, interactive.ErrGroupExists),
		errors.Is(err, chat.ErrNotReady),
		errors.Is(err, chat.ErrAlreadyJoined),
		errors.Is(err, chat.ErrNoActivePoll),
		errors.Is(err, chat.ErrPollRunning):
		return http.StatusConflict
	case errors.Is(err, chat.ErrPermissionDenied),
		errors.Is(err, chat.ErrAnonymous):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, interactive.ErrNotSupported),
		errors.Is(err, chat.ErrInvalidAnswer),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, protocol.ErrMissingField):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeSessionError reports err from a session call. Unmapped errors are logged.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[%s] %s %s error: %v", requestID(r), r.Method, r.URL.Path, err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

package handler

import (
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/vntrieu/mixplay/internal/auth"
)

// LoginRequest is the body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the admin token.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// AuthHandler issues control API tokens for the single admin account.
type AuthHandler struct {
	user         string
	passwordHash string
	tokenSecret  []byte
	expiry       time.Duration
}

// NewAuthHandler creates a new AuthHandler. An empty passwordHash disables login.
func NewAuthHandler(user, passwordHash string, tokenSecret []byte) *AuthHandler {
	return &AuthHandler{
		user:         user,
		passwordHash: passwordHash,
		tokenSecret:  tokenSecret,
		expiry:       auth.DefaultTokenExpiry,
	}
}

// Login handles POST /api/login
//
// @Summary      Login
// @Description  Exchange the admin credentials for a Bearer token.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Request body"
// @Success      200   {object}  LoginResponse
// @Failure      400   {object}  errorResponse  "Bad request"
// @Failure      401   {object}  errorResponse  "Invalid username or password"
// @Failure      503   {object}  errorResponse  "Login disabled"
// @Router       /api/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.passwordHash == "" || len(h.tokenSecret) == 0 {
		writeError(w, http.StatusServiceUnavailable, "login disabled")
		return
	}
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.user)) == 1
	err := auth.CheckPassword(h.passwordHash, req.Password)
	if err != nil && !errors.Is(err, auth.ErrBadPassword) {
		log.Printf("[%s] login check error: %v", requestID(r), err)
	}
	if !userOK || err != nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, expiresAt, err := auth.GenerateToken(h.user, h.tokenSecret, h.expiry)
	if err != nil {
		log.Printf("[%s] generate token error: %v", requestID(r), err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

package handler

import (
	"encoding/json"
	"net/http"

	"tripsync/internal/auth"
	"tripsync/internal/domain"
	"tripsync/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// AuthHandler exchanges collaborator credentials for tokens. The role in
// each response decides whether the client offers editing.
type AuthHandler struct {
	authService *auth.Service
	validator   *validator.Validate
	log         zerolog.Logger
}

func NewAuthHandler(authService *auth.Service, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validator:   validator.New(),
		log:         log.With().Str("handler", "auth").Logger(),
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.authService.Login(&req)
	if err != nil {
		h.log.Info().Str("user", req.Username).Msg("login rejected")
		writeAuthError(w, h.log, err)
		return
	}

	h.log.Info().Str("user", session.Username).Str("role", session.Role).Msg("collaborator signed in")
	response.Success(w, session)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req domain.RefreshTokenRequest
	if !h.decode(w, r, &req) {
		return
	}

	tok, err := h.authService.Refresh(&req)
	if err != nil {
		writeAuthError(w, h.log, err)
		return
	}

	response.Success(w, tok)
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, "Invalid request body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

package handler

import (
	"errors"
	"net/http"

	"tripsync/internal/auth"
	"tripsync/internal/persistence"
	"tripsync/internal/store"
	"tripsync/pkg/response"

	"github.com/rs/zerolog"
)

// writeStoreError maps store and persistence failures to HTTP statuses.
func writeStoreError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrPermissionDenied):
		response.Forbidden(w, err.Error())
	case errors.Is(err, store.ErrNoDocument):
		response.NotFound(w, "trip is not initialized")
	case errors.Is(err, store.ErrDayNotFound),
		errors.Is(err, store.ErrItemNotFound),
		errors.Is(err, store.ErrEntryNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, store.ErrInvalidField):
		response.BadRequest(w, err.Error())
	case errors.Is(err, persistence.ErrLowStorage),
		errors.Is(err, persistence.ErrQuotaExceeded):
		response.InsufficientStorage(w, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		response.InternalError(w, "Internal server error")
	}
}

// writeAuthError answers 401 for rejected credentials or tokens. Anything
// else is a server fault.
func writeAuthError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		response.Unauthorized(w, err.Error())
	default:
		log.Error().Err(err).Msg("token issue failed")
		response.InternalError(w, "Internal server error")
	}
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"taskstream/internal/domain"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidArgument
	}
	return nil
}

// statusFor maps domain errors to HTTP codes. Anything unknown is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrStreamNotSupported):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError sends a generic message for the mapped code. Internal details
// are logged, never returned.
func writeError(w http.ResponseWriter, log *zerolog.Logger, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", code).Msg("request failed")
	}
	msg := http.StatusText(code)
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg})
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/storage"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error   string            `json:"error" validate:"required"`
	Code    string            `json:"code,omitempty"`
	Field   string            `json:"field,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps err onto a status and body. Only failures the caller cannot
// fix are logged.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	if ae, ok := apperr.As(err); ok {
		if ae.Internal() {
			logger.Error(op+" failed", slog.String("code", string(ae.Code)), slog.String("error", ae.Error()))
		}
		writeJSON(w, ae.HTTPStatus(), errResponse{
			Error:   ae.Message,
			Code:    string(ae.Code),
			Field:   ae.Field,
			Details: ae.Details,
		})
		return
	}
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("object already exists"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("conflict"))
	case errors.Is(err, apperr.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
	case errors.Is(err, apperr.ErrForbidden), errors.Is(err, storage.ErrInvalidToken):
		writeJSON(w, http.StatusForbidden, errorBody("forbidden"))
	default:
		logger.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// decodeJSON reads a single JSON object from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidFormat("body", "request body is empty")
		}
		return apperr.InvalidFormat("body", "invalid JSON body")
	}
	return nil
}

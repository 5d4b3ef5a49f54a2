// Package http provides the chi-compatible handler glue of the ops API.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/senate-indexer/pkg/app/errors"
)

// HandlerFunc defines a function that returns an error for clean error handling
type HandlerFunc func(http.ResponseWriter, *http.Request) error

type errorResponse struct {
	ErrMsg     string `json:"error"`
	ErrMsgCode int    `json:"code"`
}

// HandleError wraps an error-returning HandlerFunc into a standard http.HandlerFunc.
// Domain errors are classified with apperrors.FromDomain before they are written.
//
//	r.Get("/entities/{id}", apphttp.HandleError(logger, h.getEntity))
func HandleError(logger *zap.Logger, h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			err = apperrors.FromDomain(err)
			if apperrors.IsInternalError(err) {
				logger.Error("Request failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
			}
			DefaultErrorHandler(w, err)
		}
	}
}

// DefaultErrorHandler writes err as a JSON error body
func DefaultErrorHandler(w http.ResponseWriter, err error) {
	var svcErr *apperrors.ServiceError
	if errors.As(err, &svcErr) {
		_ = writeJSON(w, svcErr.StatusCode(), &errorResponse{
			ErrMsg:     svcErr.Message,
			ErrMsgCode: svcErr.StatusCode(),
		})
		return
	}

	_ = writeJSON(w, http.StatusInternalServerError, &errorResponse{
		ErrMsg:     "Unexpected Service Error",
		ErrMsgCode: http.StatusInternalServerError,
	})
}

// WriteJSON writes v with status 200.
func WriteJSON(w http.ResponseWriter, v any) error {
	return writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

package api

import (
	"errors"
	"net/http"

	"github.com/amillerrr/video-ingest/pkg/models"
)

// StatusFor maps a pipeline or store error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, models.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrVideoNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrVideoExists):
		return http.StatusConflict
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the text safe to show a client for err. Server-side
// failures are not described.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusInternalServerError:
		return "Internal server error"
	case http.StatusGatewayTimeout:
		return "Processing timed out"
	case http.StatusUnauthorized:
		return "Invalid or missing credentials"
	default:
		return err.Error()
	}
}

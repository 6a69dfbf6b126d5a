package httpadapter

import (
	"net/http"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrEntryNotFound),
		domain.IsKind(err, domain.ErrSessionNotFound),
		domain.IsKind(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInvalidTransition),
		domain.IsKind(err, domain.ErrBatchRunning):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrQueueFull),
		domain.IsKind(err, domain.ErrNothingToSubmit):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrPersistence):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrNotConfigured),
		domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

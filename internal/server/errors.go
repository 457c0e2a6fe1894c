package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/ipvault/internal/datastore"
	"github.com/MarcoPoloResearchLab/ipvault/internal/repository"
)

var (
	errInvalidPayload        = errors.New("request body is invalid")
	errUnauthenticatedStream = fmt.Errorf("event stream: %w", repository.ErrNotAuthenticated)
)

// statusFor maps a failure onto the HTTP status and error code returned to the client.
func statusFor(err error) (int, string) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, repository.ErrNotAuthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, repository.ErrUnknownItem):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrSelfLink),
		errors.Is(err, errInvalidPayload),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest, "invalid_request"
	}
	switch datastore.KindOf(err) {
	case datastore.KindConflict:
		return http.StatusConflict, string(datastore.KindConflict)
	case datastore.KindConstraintViolation:
		return http.StatusUnprocessableEntity, string(datastore.KindConstraintViolation)
	case datastore.KindNotFound:
		return http.StatusNotFound, string(datastore.KindNotFound)
	case datastore.KindInvalidInput:
		return http.StatusBadRequest, string(datastore.KindInvalidInput)
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *httpHandler) writeError(c *gin.Context, operation string, err error) {
	status, code := statusFor(err)
	message := err.Error()
	var storeErr *datastore.Error
	if errors.As(err, &storeErr) || status == http.StatusInternalServerError {
		message = datastore.UserMessage(err)
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/model"
)

// requestTimeout bounds the store and issuer calls made by one request.
const requestTimeout = 5 * time.Second

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// errorWriter renders domain errors. Bodies are generic; the detail only
// goes to the log.
type errorWriter struct {
	log logrus.FieldLogger
}

func (w errorWriter) write(c echo.Context, err error) error {
	status, msg := classify(err)
	entry := w.log.WithFields(logrus.Fields{
		"method":     c.Request().Method,
		"route":      c.Path(),
		"status":     status,
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	return c.JSON(status, echo.Map{"error": msg})
}

// classify maps the error taxonomy to a status code and client message.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusBadRequest, "Wrong credentials!"
	case errors.Is(err, model.ErrIssuerUnavailable):
		return http.StatusServiceUnavailable, "identity provider unavailable, try again"
	case errors.Is(err, model.ErrInvalidFederatedToken),
		errors.Is(err, model.ErrFederatedVerificationFailed):
		return http.StatusBadRequest, "invalid Google token"
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrSelfFriend),
		errors.Is(err, model.ErrEmptyComment):
		return http.StatusBadRequest, rootMessage(err)
	case errors.Is(err, model.ErrDuplicateIdentity):
		return http.StatusConflict, "User already exists"
	case errors.Is(err, model.ErrAlreadyRegistered):
		return http.StatusConflict, "User already registered"
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, "conflicting update, retry"
	case errors.Is(err, model.ErrTokenMissing):
		return http.StatusForbidden, "Access Denied"
	case errors.Is(err, model.ErrTokenMalformed),
		errors.Is(err, model.ErrTokenExpired):
		return http.StatusUnauthorized, "invalid token"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not found"
	default:
		return http.StatusInternalServerError, "server error"
	}
}

// rootMessage returns the text of the innermost wrapped error.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

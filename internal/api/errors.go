package api

import (
	"errors"
	"net/http"

	"doc-approval/backend/internal/workflow"

	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
}

var statusByKind = map[workflow.Kind]int{
	workflow.KindNotFound:          http.StatusNotFound,
	workflow.KindConflict:          http.StatusConflict,
	workflow.KindInvalidTransition: http.StatusUnprocessableEntity,
	workflow.KindUnauthorized:      http.StatusForbidden,
	workflow.KindValidation:        http.StatusBadRequest,
}

// errorFor maps err onto a status and envelope. Unclassified errors become a
// bare 500 so persistence details do not leak to callers.
func errorFor(err error) (int, ErrorResponse) {
	var werr *workflow.Error
	if errors.As(err, &werr) {
		return statusByKind[werr.Kind], ErrorResponse{Error: string(werr.Kind), Reason: werr.Reason}
	}
	var herr *echo.HTTPError
	if errors.As(err, &herr) {
		resp := ErrorResponse{Error: errorCode(herr.Code)}
		if msg, ok := herr.Message.(string); ok {
			resp.Reason = msg
		}
		return herr.Code, resp
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal", Reason: "internal server error"}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(workflow.KindValidation)
	case http.StatusUnauthorized, http.StatusForbidden:
		return string(workflow.KindUnauthorized)
	case http.StatusNotFound:
		return string(workflow.KindNotFound)
	case http.StatusConflict:
		return string(workflow.KindConflict)
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "internal"
	}
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Error(msg string, args ...any)
}

// ErrorHandler renders every error returned by a handler, including echo's
// own routing errors, in the API envelope.
func ErrorHandler(logger Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := errorFor(err)
		if status == http.StatusInternalServerError && logger != nil {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil && logger != nil {
			logger.Error("failed to write error response", "error", err)
		}
	}
}

package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/apperr"
)

type errorResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Errors  []apperr.FieldError `json:"errors"`
	Stack   []string            `json:"stack,omitempty"`
}

// ErrorHandler renders every error as {success:false, message, errors}.
// Outside production the cause chain is added as "stack".  Internal errors
// always show the generic message.
func ErrorHandler(log *slog.Logger, production bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body, cause := render(err)
		if !production && cause != nil {
			body.Stack = chain(cause)
		}

		attrs := []any{
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", status,
			"err", err.Error(),
		}
		if !production {
			attrs = append(attrs, "params", c.ParamValues(), "query", c.QueryParams(), "body", c.Get(ctxRequestBody))
		}
		if status >= http.StatusInternalServerError {
			log.Error("request failed", attrs...)
		} else {
			log.Debug("request rejected", attrs...)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			log.Error("write error response", "err", err)
		}
	}
}

func render(err error) (int, errorResponse, error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			return he.Code, errorResponse{Message: msg, Errors: []apperr.FieldError{}}, he.Internal
		}
		ae = apperr.Internal(err)
	}
	fields := ae.Errors
	if fields == nil {
		fields = []apperr.FieldError{}
	}
	return ae.Kind.Status(), errorResponse{Message: ae.Message, Errors: fields}, ae.Err
}

func chain(err error) []string {
	var out []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		out = append(out, fmt.Sprintf("%T: %v", e, e))
	}
	return out
}

package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/apperr"
	valid "github.com/iliyamo/auth-service/internal/validation"
)

// ctxRequestBody holds the redacted request body for error logs.
const ctxRequestBody = "handler.request_body"

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func respond(c echo.Context, status int, data any) error {
	return c.JSON(status, dataResponse{Success: true, Data: data})
}

func respondMessage(c echo.Context, status int, msg string) error {
	return c.JSON(status, messageResponse{Success: true, Message: msg})
}

// Binder decodes and validates request bodies.  With KeepBody set, a
// redacted copy of the body is kept on the context so the error handler can
// log it.
type Binder struct {
	KeepBody bool
}

// Bind decodes the body into v and, when v has rules, validates it.
func (b Binder) Bind(c echo.Context, v any) error {
	if b.KeepBody {
		req := c.Request()
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return apperr.Validation("Invalid request body").Wrap(err)
		}
		req.Body = io.NopCloser(bytes.NewReader(raw))
		c.Set(ctxRequestBody, redact(raw))
	}
	if err := c.Bind(v); err != nil {
		return apperr.Validation("Invalid request body").Wrap(err)
	}
	if vv, ok := v.(validation.Validatable); ok {
		return valid.Check(vv)
	}
	return nil
}

// redact masks every field whose name mentions a password or a token.
func redact(raw []byte) map[string]any {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	for k := range body {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "password") || strings.Contains(lk, "token") {
			body[k] = "[REDACTED]"
		}
	}
	return body
}

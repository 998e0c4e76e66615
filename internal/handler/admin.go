package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/apperr"
	"github.com/iliyamo/auth-service/internal/validation"
)

// AdminUsers serves the user management routes.  The router mounts it
// behind RequireRole("admin").
type AdminUsers struct {
	*AuthHandler
}

func (h AdminUsers) Get(c echo.Context) error {
	id, err := userParam(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.Svc.GetUser(ctx, id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, u)
}

func (h AdminUsers) UpdateStatus(c echo.Context) error {
	actor, err := authedUser(c)
	if err != nil {
		return err
	}
	id, err := userParam(c)
	if err != nil {
		return err
	}
	var req validation.UpdateStatusRequest
	if err := h.Binder.Bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.Svc.UpdateStatus(ctx, actor.ID, id, req.Status)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, u)
}

func (h AdminUsers) Delete(c echo.Context) error {
	actor, err := authedUser(c)
	if err != nil {
		return err
	}
	id, err := userParam(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.Svc.DeleteUser(ctx, actor.ID, id); err != nil {
		return err
	}
	return respondMessage(c, http.StatusOK, "User deleted successfully")
}

func userParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("Invalid user id", apperr.FieldError{Field: "id", Message: "must be a UUID"})
	}
	return id, nil
}

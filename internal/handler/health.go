package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health answers load balancer probes.
func Health(service string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": service})
	}
}

package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/cortexd/cortexd/pkg/models"
)

// installAppHandler handles POST /api/v1/apps.
func (s *Server) installAppHandler(c *echo.Context) error {
	var cfg models.AppConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.registry.Install(c.Request().Context(), cfg); err != nil {
		return mapServiceError(err)
	}

	status, err := s.registry.Status(c.Request().Context(), cfg.AppID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, status)
}

// uninstallAppHandler handles DELETE /api/v1/apps/:id.
func (s *Server) uninstallAppHandler(c *echo.Context) error {
	appID := c.Param("id")
	if appID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "app id is required")
	}

	if err := s.registry.Uninstall(c.Request().Context(), appID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// listAppsHandler handles GET /api/v1/apps.
func (s *Server) listAppsHandler(c *echo.Context) error {
	statuses, err := s.registry.ListStatuses(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"apps":  statuses,
		"count": len(statuses),
	})
}

// appEnergyHandler handles GET /api/v1/apps/:id/energy.
func (s *Server) appEnergyHandler(c *echo.Context) error {
	appID := c.Param("id")
	if appID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "app id is required")
	}

	// 404 for apps that were never installed.
	if _, err := s.registry.Status(c.Request().Context(), appID); err != nil {
		return mapServiceError(err)
	}

	metrics, err := s.registry.GetEnergyMetrics(c.Request().Context(), appID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"app_id":  appID,
		"metrics": metrics,
	})
}

package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/cortexd/cortexd/pkg/services"
)

// triggerReflectionHandler handles POST /api/v1/admin/reflect. It makes
// the loop publish a fresh system_stats snapshot immediately.
func (s *Server) triggerReflectionHandler(c *echo.Context) error {
	if s.loop == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduler loop not running")
	}
	if err := s.loop.TriggerReflection(c.Request().Context()); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reflection triggered"})
}

// processConversationHandler handles POST /api/v1/admin/process/:id. It
// asks the loop to focus the given conversation on its next cycle.
func (s *Server) processConversationHandler(c *echo.Context) error {
	if s.loop == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scheduler loop not running")
	}
	requestID := c.Param("id")
	if requestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	conv, err := s.conversations.GetConversation(c.Request().Context(), requestID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return mapServiceError(err)
	}

	s.loop.ProcessConversation(conv.RequestID)
	return c.JSON(http.StatusAccepted, map[string]string{
		"status":     "queued for processing",
		"request_id": conv.RequestID,
	})
}

package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// EnergyResponse is returned by GET /api/v1/energy.
type EnergyResponse struct {
	Current    float64 `json:"current"`
	Percentage int     `json:"percentage"`
	Status     string  `json:"status"`
}

// energyHandler handles GET /api/v1/energy.
func (s *Server) energyHandler(c *echo.Context) error {
	snap := s.regulator.Snapshot()
	return c.JSON(http.StatusOK, EnergyResponse{
		Current:    snap.Current,
		Percentage: snap.Percentage,
		Status:     string(snap.Status),
	})
}

// statsHandler handles GET /api/v1/stats.
func (s *Server) statsHandler(c *echo.Context) error {
	stats, err := s.stats.GetStats(c.Request().Context(), s.regulator.Level())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/cortexd/cortexd/pkg/models"
)

// ConversationDetail is the full record plus the derived budget fields.
type ConversationDetail struct {
	*models.Conversation
	RemainingBudget *float64             `json:"remaining_budget,omitempty"`
	BudgetStatus    *models.BudgetStatus `json:"budget_status,omitempty"`
}

// getConversationHandler handles GET /api/v1/conversations/:id.
func (s *Server) getConversationHandler(c *echo.Context) error {
	requestID := c.Param("id")
	if requestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	conv, err := s.conversations.GetConversation(c.Request().Context(), requestID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, ConversationDetail{
		Conversation:    conv,
		RemainingBudget: conv.RemainingBudget(),
		BudgetStatus:    conv.BudgetStatus(),
	})
}

// listConversationsHandler handles GET /api/v1/conversations.
func (s *Server) listConversationsHandler(c *echo.Context) error {
	params := models.ListConversationsParams{Limit: 10}

	// Unparseable or non-positive limits fall back to the default of 10;
	// anything above 100 is clamped.
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if n > 100 {
				n = 100
			}
			params.Limit = n
		}
	}

	if v := c.QueryParam("state"); v != "" {
		if !models.ValidConversationState(v) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid state: must be active, snoozed, or ended")
		}
		params.State = v
	}

	if v := c.QueryParam("budget_status"); v != "" {
		if !models.ValidBudgetStatus(v) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid budget_status: must be within, exceeded, or depleted")
		}
		params.BudgetStatus = v
	}

	summaries, err := s.conversations.ListConversations(c.Request().Context(), params)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"conversations": summaries,
		"count":         len(summaries),
	})
}

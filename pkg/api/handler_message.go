package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/cortexd/cortexd/pkg/events"
	"github.com/cortexd/cortexd/pkg/models"
	"github.com/cortexd/cortexd/pkg/services"
)

// SubmitMessageRequest is the body of POST /api/v1/messages.
type SubmitMessageRequest struct {
	AppID        string   `json:"app_id,omitempty"`
	RequestID    string   `json:"request_id,omitempty"`
	Content      string   `json:"content"`
	EnergyBudget *float64 `json:"energy_budget,omitempty"`
}

// SubmitMessageResponse acknowledges an accepted message.
type SubmitMessageResponse struct {
	RequestID string                   `json:"request_id"`
	State     models.ConversationState `json:"state"`
}

// submitMessageHandler handles POST /api/v1/messages. It creates a
// conversation for the request id and leaves serving it to the loop.
func (s *Server) submitMessageHandler(c *echo.Context) error {
	var req SubmitMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if req.EnergyBudget != nil && *req.EnergyBudget < 0 {
		return mapServiceError(services.ErrInvalidBudget)
	}

	ctx := c.Request().Context()

	// A caller-supplied request id must not collide with an existing
	// conversation; a generated one is fresh by construction.
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	} else if _, err := s.conversations.GetConversation(ctx, req.RequestID); err == nil {
		return echo.NewHTTPError(http.StatusConflict, "request id already in use")
	} else if !errors.Is(err, services.ErrNotFound) {
		return mapServiceError(err)
	}

	if req.AppID != "" {
		if _, err := s.registry.Status(ctx, req.AppID); err != nil {
			if errors.Is(err, services.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "unknown app: "+req.AppID)
			}
			return mapServiceError(err)
		}
	}

	conv, err := s.conversations.AddResponse(ctx, services.AddResponseParams{
		RequestID:    req.RequestID,
		InputMessage: req.Content,
		AppID:        req.AppID,
		Budget:       req.EnergyBudget,
		Role:         "user",
		Content:      req.Content,
		EnergyLevel:  s.regulator.Level(),
	})
	if err != nil {
		return mapServiceError(err)
	}

	if req.AppID != "" {
		if err := s.registry.AssociateConversation(ctx, conv.RequestID, req.AppID); err != nil {
			s.logger.Warn("Failed to bind conversation to app",
				"request_id", conv.RequestID, "app_id", req.AppID, "error", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.bus.PublishConversationCreated(ctx, events.ConversationCreatedPayload{
		Type:         events.EventTypeConversationCreated,
		RequestID:    conv.RequestID,
		AppID:        req.AppID,
		InputMessage: req.Content,
		Budget:       req.EnergyBudget,
		Timestamp:    now,
	}); err != nil {
		s.logger.Warn("Failed to publish conversation_created", "request_id", conv.RequestID, "error", err)
	}
	if err := s.bus.PublishMessageAdded(ctx, events.MessageAddedPayload{
		Type:        events.EventTypeMessageAdded,
		RequestID:   conv.RequestID,
		Role:        "user",
		Content:     req.Content,
		EnergyLevel: s.regulator.Level(),
		Timestamp:   now,
	}); err != nil {
		s.logger.Warn("Failed to publish message_added", "request_id", conv.RequestID, "error", err)
	}

	return c.JSON(http.StatusCreated, SubmitMessageResponse{
		RequestID: conv.RequestID,
		State:     conv.State,
	})
}

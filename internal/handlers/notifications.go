package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pulseapp/pulse/internal/auth"
	"github.com/pulseapp/pulse/internal/notifications"
)

// NotificationsHandler lets the social surfaces report actions (likes,
// comments, friend requests) that fan out as realtime notifications. The
// authenticated caller is the actor.
type NotificationsHandler struct {
	service *notifications.Service
	logger  *slog.Logger
}

// NewNotificationsHandler creates a notifications handler.
func NewNotificationsHandler(log *slog.Logger, service *notifications.Service) *NotificationsHandler {
	return &NotificationsHandler{
		service: service,
		logger:  log.With(slog.String("handler", "notifications")),
	}
}

// Register mounts the notification routes.
func (h *NotificationsHandler) Register(e *echo.Echo) {
	e.POST("/notifications", h.Create)
	e.DELETE("/notifications", h.Retract)
}

type notificationBody struct {
	RecipientID string         `json:"recipientId"`
	Type        string         `json:"type"`
	SourceID    string         `json:"sourceId"`
	Content     map[string]any `json:"content,omitempty"`
}

// Create records the action and pushes a notification to the recipient
// unless deduplication or self-notification suppresses it.
func (h *NotificationsHandler) Create(c echo.Context) error {
	actorID := auth.UserID(c)
	if actorID == "" {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "authentication required"})
	}
	var body notificationBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	rec, created, err := h.service.Notify(c.Request().Context(), notifications.NotifyInput{
		RecipientID: body.RecipientID,
		ActorID:     actorID,
		Type:        body.Type,
		SourceID:    body.SourceID,
		Content:     body.Content,
	})
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}
	if !created {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusCreated, rec)
}

// Retract removes the record for an undone action so a repeat is not
// suppressed by a stale deduplication entry. The token subject is the actor,
// so a caller can only retract their own actions.
func (h *NotificationsHandler) Retract(c echo.Context) error {
	actorID := auth.UserID(c)
	if actorID == "" {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "authentication required"})
	}
	var body notificationBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	if err := h.service.Retract(c.Request().Context(), actorID, body.RecipientID, body.Type, body.SourceID); err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to retract notification"})
	}
	return c.NoContent(http.StatusNoContent)
}

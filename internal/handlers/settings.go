package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pulseapp/pulse/internal/auth"
	"github.com/pulseapp/pulse/internal/settings"
)

// SettingsHandler reads and updates the caller's messaging policy.
type SettingsHandler struct {
	service *settings.Service
	logger  *slog.Logger
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(log *slog.Logger, service *settings.Service) *SettingsHandler {
	return &SettingsHandler{
		service: service,
		logger:  log.With(slog.String("handler", "settings")),
	}
}

// Register mounts the messaging-policy routes.
func (h *SettingsHandler) Register(e *echo.Echo) {
	e.GET("/settings/messaging-policy", h.Get)
	e.PUT("/settings/messaging-policy", h.Update)
}

type policyBody struct {
	Policy string `json:"policy"`
}

// Get returns the authenticated user's messaging policy.
func (h *SettingsHandler) Get(c echo.Context) error {
	userID := auth.UserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "authentication required"})
	}
	policy, err := h.service.MessagingPolicy(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error("read messaging policy failed", slog.String("user_id", userID), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "failed to read settings"})
	}
	return c.JSON(http.StatusOK, policyBody{Policy: policy})
}

// Update sets the authenticated user's messaging policy.
func (h *SettingsHandler) Update(c echo.Context) error {
	userID := auth.UserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "authentication required"})
	}
	var body policyBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
	}
	if err := h.service.SetMessagingPolicy(c.Request().Context(), userID, body.Policy); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, policyBody{Policy: body.Policy})
}

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pulseapp/pulse/internal/presence"
)

// PresenceHandler answers presence queries for profile views and friend lists.
type PresenceHandler struct {
	registry *presence.Registry
	logger   *slog.Logger
}

// NewPresenceHandler creates a presence handler.
func NewPresenceHandler(log *slog.Logger, registry *presence.Registry) *PresenceHandler {
	return &PresenceHandler{
		registry: registry,
		logger:   log.With(slog.String("handler", "presence")),
	}
}

// Register mounts GET /users/:id/presence.
func (h *PresenceHandler) Register(e *echo.Echo) {
	e.GET("/users/:id/presence", h.Get)
}

// PresenceResponse is the presence query body. LastSeen is null for an
// identity that has never connected.
type PresenceResponse struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Get returns the live presence state for a user id.
func (h *PresenceHandler) Get(c echo.Context) error {
	id := c.Param("id")
	resp := PresenceResponse{
		UserID: id,
		Online: h.registry.IsOnline(id),
	}
	if last := h.registry.LastSeen(id); !last.IsZero() {
		resp.LastSeen = &last
	}
	return c.JSON(http.StatusOK, resp)
}

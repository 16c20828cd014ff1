package handlers

import (
	"net/http"
	"time"

	"resolvify/internal/services"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 统一错误响应
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// EventsHandler 工单事件 WebSocket 入口
type EventsHandler struct {
	hub *services.TicketEventHub
}

func NewEventsHandler(hub *services.TicketEventHub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

func (h *EventsHandler) HandleWebSocket(c *gin.Context) {
	h.hub.HandleWebSocket(c)
}

func (h *EventsHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"connected_clients": h.hub.SubscriberCount(),
			"status":            "running",
		},
	})
}

type HealthHandler struct {
	started time.Time
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{started: time.Now()}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"version":        "1.0.0",
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

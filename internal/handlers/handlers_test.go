package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"resolvify/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHealthHandler()
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotNil(t, body["uptime_seconds"])
	assert.Equal(t, "1.0.0", body["version"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestEventsStatsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := services.NewTicketEventHub(logrus.New())
	router := gin.New()
	router.GET("/events/stats", NewEventsHandler(hub).GetStats)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			ConnectedClients int    `json:"connected_clients"`
			Status           string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 0, body.Data.ConnectedClients)
	assert.Equal(t, "running", body.Data.Status)
}

func TestCapabilitiesEndpoint(t *testing.T) {
	env := newHandlerEnv(t)

	w := env.do(t, http.MethodGet, "/api/automation/capabilities", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Capabilities map[string]map[string]interface{} `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body.Capabilities, "directory")
	require.Contains(t, body.Capabilities, "vpn")
	require.Contains(t, body.Capabilities, "scripts")
	assert.Equal(t, "closed", body.Capabilities["directory"]["state"])
}

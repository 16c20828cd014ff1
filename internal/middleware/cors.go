package middleware

import (
	"net/http"
	"strings"

	"resolvify/internal/config"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware applies the configured CORS policy.
// Disabled config results in a no-op.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	cors := cfg.Security.CORS
	if !cors.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	allowAll := false
	allowed := make(map[string]struct{}, len(cors.AllowedOrigins))
	for _, o := range cors.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	methods := strings.Join(cors.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}
	headers := strings.Join(cors.AllowedHeaders, ", ")
	if headers == "" {
		headers = "Authorization, Content-Type"
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if allowAll {
				c.Header("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

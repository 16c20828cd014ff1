package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"resolvify/internal/config"
	"resolvify/internal/models"

	"github.com/gin-gonic/gin"
)

func mintToken(t *testing.T, payload map[string]interface{}, secret string) string {
	t.Helper()
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	h := base64.RawURLEncoding.EncodeToString(headerJSON)
	p := base64.RawURLEncoding.EncodeToString(payloadJSON)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(h + "." + p))
	return h + "." + p + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func authTestRouter(secret string, inspect func(c *gin.Context)) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.JWT.Secret = secret
	r := gin.New()
	r.GET("/protected", AuthMiddleware(cfg), func(c *gin.Context) {
		if inspect != nil {
			inspect(c)
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	var gotUser uint
	var gotPerms []string
	r := authTestRouter("secret", func(c *gin.Context) {
		if v, ok := c.Get("user_id"); ok {
			gotUser, _ = v.(uint)
		}
		if v, ok := c.Get("permissions"); ok {
			gotPerms, _ = v.([]string)
		}
	})

	token := mintToken(t, map[string]interface{}{
		"user_id": 7,
		"roles":   []string{models.RoleTechnician},
		"exp":     time.Now().Add(time.Hour).Unix(),
	}, "secret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if gotUser != 7 {
		t.Fatalf("user_id = %d, want 7", gotUser)
	}
	if !HasPermission(gotPerms, "tickets.write") {
		t.Fatalf("technician should have tickets.write, got %v", gotPerms)
	}
	if HasPermission(gotPerms, "users.write") {
		t.Fatalf("technician must not have users.write")
	}
}

func TestAuthMiddlewareRejections(t *testing.T) {
	r := authTestRouter("secret", nil)

	cases := []struct {
		name  string
		setup func(req *http.Request)
	}{
		{"missing header", func(req *http.Request) {}},
		{"malformed token", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer not.a.jwt")
		}},
		{"wrong secret", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+mintToken(t, map[string]interface{}{
				"user_id": 1,
			}, "other"))
		}},
		{"expired", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+mintToken(t, map[string]interface{}{
				"user_id": 1,
				"exp":     time.Now().Add(-time.Minute).Unix(),
			}, "secret"))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			tc.setup(req)
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestRolePermissions(t *testing.T) {
	if got := rolePermissions(models.RoleAdmin); len(got) != 1 || got[0] != "*" {
		t.Fatalf("admin perms = %v", got)
	}
	viewer := rolePermissions(models.RoleViewer)
	if HasPermission(viewer, "tickets.write") {
		t.Fatalf("viewer must be read-only")
	}
	if !HasPermission(viewer, "tickets.read") {
		t.Fatalf("viewer should read tickets")
	}
	if rolePermissions("ghost") != nil {
		t.Fatalf("unknown role should grant nothing")
	}
}

func TestRequireRolesAny(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", func(c *gin.Context) {
		c.Set("roles", []string{models.RoleViewer})
		c.Next()
	}, RequireRolesAny(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestHasPermissionPatterns(t *testing.T) {
	granted := []string{"tickets.*", "dashboard.read"}
	if !HasPermission(granted, "tickets.write") {
		t.Fatalf("wildcard suffix should match")
	}
	if !HasPermission(granted, "dashboard.read") {
		t.Fatalf("exact match failed")
	}
	if HasPermission(granted, "audit.read") {
		t.Fatalf("unrelated permission granted")
	}
	if !HasPermission([]string{"*"}, "anything.at.all") {
		t.Fatalf("star should match everything")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = true
	cfg.Security.RateLimiting.RequestsPerMinute = 60
	cfg.Security.RateLimiting.Burst = 2

	r := gin.New()
	r.GET("/x", RateLimitMiddleware(cfg), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst requests rejected: %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited: %v", codes)
	}
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.Security.CORS.Enabled = true
	cfg.Security.CORS.AllowedOrigins = []string{"https://portal.corp.example"}

	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://portal.corp.example")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://portal.corp.example" {
		t.Fatalf("allow-origin = %q", got)
	}

	// unknown origin gets no CORS headers
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

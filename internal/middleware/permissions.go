package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HasPermission 判断 granted 中是否有权限满足 required
// 支持三种形式：完全匹配、"resource.*" 前缀通配、"*" 全量通配。
func HasPermission(granted []string, required string) bool {
	required = strings.TrimSpace(required)
	if required == "" {
		return true
	}
	for _, p := range granted {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case p == "*", p == required:
			return true
		case strings.HasSuffix(p, ".*"):
			prefix := strings.TrimSuffix(p, ".*")
			if prefix != "" && (required == prefix || strings.HasPrefix(required, prefix+".")) {
				return true
			}
		}
	}
	return false
}

func contextPermissions(c *gin.Context) []string {
	if v, ok := c.Get("permissions"); ok {
		if perms, ok := v.([]string); ok {
			return perms
		}
	}
	return nil
}

func contextRoles(c *gin.Context) []string {
	if v, ok := c.Get("roles"); ok {
		if roles, ok := v.([]string); ok {
			return roles
		}
	}
	return nil
}

func forbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":   "Forbidden",
		"message": message,
	})
}

// RequireRolesAny 要求调用者至少持有其中一个角色
func RequireRolesAny(required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roles := contextRoles(c)
		for _, have := range roles {
			for _, want := range required {
				if have == want {
					c.Next()
					return
				}
			}
		}
		forbidden(c, "insufficient role")
	}
}

// RequirePermissionsAny 要求调用者至少满足其中一个权限
func RequirePermissionsAny(required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted := contextPermissions(c)
		for _, r := range required {
			if r = strings.TrimSpace(r); r == "" {
				continue
			}
			if HasPermission(granted, r) {
				c.Next()
				return
			}
		}
		forbidden(c, "insufficient permission")
	}
}

// RequirePermissionsAll 要求调用者满足全部权限
func RequirePermissionsAll(required ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		granted := contextPermissions(c)
		for _, r := range required {
			if r = strings.TrimSpace(r); r == "" {
				continue
			}
			if !HasPermission(granted, r) {
				forbidden(c, "insufficient permission")
				return
			}
		}
		c.Next()
	}
}

// RequireResourcePermission 按 HTTP 方法映射资源读写权限：
// GET/HEAD/OPTIONS 要求 "<resource>.read"，其余方法要求 "<resource>.write"。
// viewer 角色因此天然只读。
func RequireResourcePermission(resource string) gin.HandlerFunc {
	resource = strings.TrimSpace(resource)
	return func(c *gin.Context) {
		perm := resource + ".write"
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			perm = resource + ".read"
		}
		RequirePermissionsAny(perm, resource+".*", "*")(c)
	}
}

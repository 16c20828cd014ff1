package handlers

import (
	"errors"
	"net/http"

	"resolvify/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// UserHandler 认证与用户管理接口
type UserHandler struct {
	users  *services.UserService
	logger *logrus.Logger
}

// NewUserHandler 创建用户处理器
func NewUserHandler(users *services.UserService, logger *logrus.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// Login 用户名密码登录，签发访问令牌
func (h *UserHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid credentials"})
		case errors.Is(err, services.ErrUserDisabled):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "Account disabled"})
		default:
			h.logger.Errorf("Login failed for %s: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Login failed", Message: err.Error()})
		}
		return
	}

	token, err := h.users.IssueToken(user)
	if err != nil {
		h.logger.Errorf("Token issue failed for %s: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Token issue failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"user": gin.H{
			"id":        user.ID,
			"username":  user.Username,
			"email":     user.Email,
			"full_name": user.FullName,
			"role":      user.Role,
		},
	})
}

// Me 当前用户信息
func (h *UserHandler) Me(c *gin.Context) {
	uid := currentUserID(c)
	if uid == nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), *uid)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load user", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

// CreateUser 管理员创建用户
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req services.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrUserExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "User already exists"})
			return
		}
		h.logger.Errorf("Failed to create user: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create user", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, user)
}

// ListUsers 用户列表
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to list users: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list users", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// SetUserActive 启用/停用用户
func (h *UserHandler) SetUserActive(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	if err := h.users.SetActive(c.Request.Context(), id, *req.Active); err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update user", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": *req.Active})
}

// RegisterAuthRoutes 注册无需鉴权的认证路由
func RegisterAuthRoutes(rg *gin.RouterGroup, h *UserHandler) {
	rg.POST("/auth/login", h.Login)
}

// RegisterUserRoutes 注册需要鉴权的用户路由
func RegisterUserRoutes(rg *gin.RouterGroup, h *UserHandler) {
	rg.GET("/auth/me", h.Me)
	users := rg.Group("/users")
	{
		users.POST("", h.CreateUser)
		users.GET("", h.ListUsers)
		users.PUT("/:id/active", h.SetUserActive)
	}
}

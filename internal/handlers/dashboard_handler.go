package handlers

import (
	"net/http"
	"strconv"

	"resolvify/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DashboardHandler 概览与报表接口
type DashboardHandler struct {
	dashboard *services.DashboardService
	audit     *services.AuditService
	logger    *logrus.Logger
}

// NewDashboardHandler 创建概览处理器
func NewDashboardHandler(dashboard *services.DashboardService, audit *services.AuditService, logger *logrus.Logger) *DashboardHandler {
	return &DashboardHandler{
		dashboard: dashboard,
		audit:     audit,
		logger:    logger,
	}
}

// Stats 总体统计
func (h *DashboardHandler) Stats(c *gin.Context) {
	stats, err := h.dashboard.Stats(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to load dashboard stats: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load stats", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RecentActivity 最近的审计动态
func (h *DashboardHandler) RecentActivity(c *gin.Context) {
	pageSize := 20
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && v > 0 {
		pageSize = v
	}

	logs, _, err := h.audit.List(c.Request.Context(), services.AuditListQuery{PageSize: pageSize})
	if err != nil {
		h.logger.Errorf("Failed to load recent activity: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load activity", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": logs})
}

// ResolutionTime 处理时长指标
func (h *DashboardHandler) ResolutionTime(c *gin.Context) {
	days := 30
	if v, err := strconv.Atoi(c.DefaultQuery("days", "30")); err == nil && v > 0 {
		days = v
	}

	m, err := h.dashboard.ResolutionTimes(c.Request.Context(), days)
	if err != nil {
		h.logger.Errorf("Failed to load resolution time metrics: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load metrics", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

// CategoryPerformance 各类别自动化成功率
func (h *DashboardHandler) CategoryPerformance(c *gin.Context) {
	report, err := h.dashboard.CategoryPerformanceReport(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to load category performance: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load metrics", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": report})
}

// RegisterDashboardRoutes 注册概览路由
func RegisterDashboardRoutes(rg *gin.RouterGroup, h *DashboardHandler) {
	dashboard := rg.Group("/dashboard")
	{
		dashboard.GET("/stats", h.Stats)
		dashboard.GET("/activity", h.RecentActivity)
		dashboard.GET("/metrics/resolution-time", h.ResolutionTime)
		dashboard.GET("/metrics/category-performance", h.CategoryPerformance)
	}
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"resolvify/internal/models"
	"resolvify/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TicketHandler 工单处理器
type TicketHandler struct {
	ticketService *services.TicketService
	orchestrator  *services.OrchestratorService
	logger        *logrus.Logger
}

// NewTicketHandler 创建工单处理器
func NewTicketHandler(ticketService *services.TicketService, orchestrator *services.OrchestratorService, logger *logrus.Logger) *TicketHandler {
	return &TicketHandler{
		ticketService: ticketService,
		orchestrator:  orchestrator,
		logger:        logger,
	}
}

// currentUserID 从鉴权中间件注入的上下文取用户 ID
func currentUserID(c *gin.Context) *uint {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(uint); ok && id != 0 {
			return &id
		}
	}
	return nil
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid ID",
			Message: "ID must be a valid number",
		})
		return 0, false
	}
	return uint(id), true
}

// CreateTicket 创建工单
// 创建时同步分类，可自动处理的工单随后由后台管道接手。
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req services.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	ticket, err := h.ticketService.CreateTicket(c.Request.Context(), &req, currentUserID(c))
	if err != nil {
		h.logger.Errorf("Failed to create ticket: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to create ticket",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, ticket)
}

// GetTicket 获取工单详情
func (h *TicketHandler) GetTicket(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	ticket, err := h.ticketService.GetTicket(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found"})
			return
		}
		h.logger.Errorf("Failed to get ticket %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get ticket", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// GetTicketByNumber 按工单号查询
func (h *TicketHandler) GetTicketByNumber(c *gin.Context) {
	number := c.Param("number")
	ticket, err := h.ticketService.GetTicketByNumber(c.Request.Context(), number)
	if err != nil {
		if errors.Is(err, services.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found"})
			return
		}
		h.logger.Errorf("Failed to get ticket %s: %v", number, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get ticket", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// ListTickets 工单列表，支持状态/类别过滤与分页
func (h *TicketHandler) ListTickets(c *gin.Context) {
	q := services.TicketListQuery{
		Status:   c.Query("status"),
		Category: c.Query("category"),
	}
	if v := c.Query("auto_resolved"); v != "" {
		b := v == "true"
		q.AutoResolved = &b
	}
	if v, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		q.Page = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		q.PageSize = v
	}

	tickets, total, err := h.ticketService.ListTickets(c.Request.Context(), q)
	if err != nil {
		h.logger.Errorf("Failed to list tickets: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list tickets", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tickets":   tickets,
		"total":     total,
		"page":      q.Page,
		"page_size": q.PageSize,
	})
}

// UpdateTicket 更新工单基础字段
// 状态不在此接口内修改，状态只由处理管道推进。
func (h *TicketHandler) UpdateTicket(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req services.UpdateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	ticket, err := h.ticketService.UpdateTicket(c.Request.Context(), id, &req, currentUserID(c))
	if err != nil {
		if errors.Is(err, services.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found"})
			return
		}
		h.logger.Errorf("Failed to update ticket %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update ticket", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, ticket)
}

// CloseTicket 关闭工单
func (h *TicketHandler) CloseTicket(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.orchestrator.CloseTicket(c.Request.Context(), id, currentUserID(c)); err != nil {
		if errors.Is(err, services.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found"})
			return
		}
		h.logger.Errorf("Failed to close ticket %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to close ticket", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": models.TicketStatusClosed})
}

// TicketAuditLogs 工单的审计轨迹
func (h *TicketHandler) TicketAuditLogs(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	logs, err := h.ticketService.TicketAuditLogs(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found"})
			return
		}
		h.logger.Errorf("Failed to load audit logs for ticket %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load audit logs", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
}

// RegisterTicketRoutes 注册工单路由
func RegisterTicketRoutes(rg *gin.RouterGroup, h *TicketHandler) {
	tickets := rg.Group("/tickets")
	{
		tickets.POST("", h.CreateTicket)
		tickets.GET("", h.ListTickets)
		tickets.GET("/:id", h.GetTicket)
		tickets.GET("/number/:number", h.GetTicketByNumber)
		tickets.PATCH("/:id", h.UpdateTicket)
		tickets.POST("/:id/close", h.CloseTicket)
		tickets.GET("/:id/audit-logs", h.TicketAuditLogs)
	}
}

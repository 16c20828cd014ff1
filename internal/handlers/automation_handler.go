package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"resolvify/internal/models"
	"resolvify/internal/queue"
	"resolvify/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AutomationHandler 自动化执行、审批与策略接口
type AutomationHandler struct {
	orchestrator *services.OrchestratorService
	approvals    *services.ApprovalService
	policies     *services.PolicyService
	engine       *services.AutomationEngine
	jobs         *queue.Queue
	logger       *logrus.Logger
}

// NewAutomationHandler 创建自动化处理器
func NewAutomationHandler(
	orchestrator *services.OrchestratorService,
	approvals *services.ApprovalService,
	policies *services.PolicyService,
	engine *services.AutomationEngine,
	jobs *queue.Queue,
	logger *logrus.Logger,
) *AutomationHandler {
	return &AutomationHandler{
		orchestrator: orchestrator,
		approvals:    approvals,
		policies:     policies,
		engine:       engine,
		jobs:         jobs,
		logger:       logger,
	}
}

// Capabilities 下游能力熔断器状态
func (h *AutomationHandler) Capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capabilities": h.engine.CapabilityStats()})
}

// ListExecutions 执行记录列表
func (h *AutomationHandler) ListExecutions(c *gin.Context) {
	var ticketID uint
	if v := c.Query("ticket_id"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid ticket_id"})
			return
		}
		ticketID = uint(parsed)
	}

	execs, err := h.orchestrator.ListExecutions(c.Request.Context(), ticketID, c.Query("status"))
	if err != nil {
		h.logger.Errorf("Failed to list executions: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}

// GetExecution 单条执行记录
func (h *AutomationHandler) GetExecution(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	exec, err := h.orchestrator.GetExecution(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrExecutionNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get execution", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, exec)
}

// RetryExecution 重试失败的执行，实际重试在后台队列中进行
func (h *AutomationHandler) RetryExecution(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	exec, err := h.orchestrator.GetExecution(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrExecutionNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get execution", Message: err.Error()})
		return
	}
	if exec.Status != models.AutomationStatusFailed {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Execution not retryable",
			Message: "only failed executions can be retried",
		})
		return
	}
	if exec.RetryCount >= exec.MaxRetries {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Max retries exceeded",
			Message: "the execution has exhausted its retry budget",
		})
		return
	}

	if err := h.jobs.Enqueue(queue.Job{Type: queue.JobRetryExecution, ExecutionID: exec.ID}); err != nil {
		h.logger.Errorf("Failed to enqueue retry for execution %d: %v", exec.ID, err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Queue unavailable", Message: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "retry queued", "execution_id": exec.ID})
}

// ListApprovals 审批请求列表
func (h *AutomationHandler) ListApprovals(c *gin.Context) {
	approvals, err := h.approvals.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.logger.Errorf("Failed to list approvals: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list approvals", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}

// RespondApproval 批准或拒绝一条审批请求
// 批准后执行任务入队，由后台管道推进工单状态。
func (h *AutomationHandler) RespondApproval(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	approver := currentUserID(c)
	if approver == nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized", Message: "approver identity missing"})
		return
	}

	var req services.RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	approval, err := h.approvals.Respond(c.Request.Context(), id, *approver, &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrApprovalNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Approval not found"})
		case errors.Is(err, services.ErrApprovalProcessed):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Approval already processed"})
		default:
			h.logger.Errorf("Failed to respond to approval %d: %v", id, err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to respond", Message: err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, approval)
}

// ListPolicies 策略列表
func (h *AutomationHandler) ListPolicies(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	policies, err := h.policies.ListPolicies(c.Request.Context(), activeOnly)
	if err != nil {
		h.logger.Errorf("Failed to list policies: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list policies", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

// CreatePolicy 创建策略
func (h *AutomationHandler) CreatePolicy(c *gin.Context) {
	var req services.PolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	policy, err := h.policies.CreatePolicy(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to create policy: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create policy", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, policy)
}

// UpdatePolicy 更新策略
func (h *AutomationHandler) UpdatePolicy(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req services.PolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	policy, err := h.policies.UpdatePolicy(c.Request.Context(), id, &req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Policy not found"})
			return
		}
		h.logger.Errorf("Failed to update policy %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update policy", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, policy)
}

// DeletePolicy 停用策略（软删除）
func (h *AutomationHandler) DeletePolicy(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.policies.DeletePolicy(c.Request.Context(), id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Policy not found"})
			return
		}
		h.logger.Errorf("Failed to delete policy %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to delete policy", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "policy deactivated"})
}

// RegisterAutomationRoutes 注册自动化路由
func RegisterAutomationRoutes(rg *gin.RouterGroup, h *AutomationHandler) {
	automation := rg.Group("/automation")
	{
		automation.GET("/capabilities", h.Capabilities)
		automation.GET("/executions", h.ListExecutions)
		automation.GET("/executions/:id", h.GetExecution)
		automation.POST("/executions/:id/retry", h.RetryExecution)

		automation.GET("/approvals", h.ListApprovals)
		automation.POST("/approvals/:id/respond", h.RespondApproval)

		automation.GET("/policies", h.ListPolicies)
		automation.POST("/policies", h.CreatePolicy)
		automation.PUT("/policies/:id", h.UpdatePolicy)
		automation.DELETE("/policies/:id", h.DeletePolicy)
	}
}

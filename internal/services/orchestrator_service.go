package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resolvify/internal/config"
	"resolvify/internal/metrics"
	"resolvify/internal/models"
	"resolvify/pkg/mailer"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrExecutionNotFound  = errors.New("automation execution not found")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrExecutionInFlight  = errors.New("another execution is already running for this ticket")
	ErrInvalidTransition  = errors.New("invalid ticket status transition")
)

// OrchestratorService 工单生命周期状态机
// 工单状态只由编排器写入；每次迁移在同一事务内落一条审计记录。
type OrchestratorService struct {
	db        *gorm.DB
	cfg       config.AutomationConfig
	diagnosis *DiagnosisService
	policy    *PolicyService
	engine    *AutomationEngine
	audit     *AuditService
	mail      mailer.Interface
	events    *TicketEventHub
	logger    *logrus.Logger
}

// NewOrchestratorService 创建编排器
func NewOrchestratorService(
	db *gorm.DB,
	cfg config.AutomationConfig,
	diagnosis *DiagnosisService,
	policy *PolicyService,
	engine *AutomationEngine,
	audit *AuditService,
	mail mailer.Interface,
	events *TicketEventHub,
	logger *logrus.Logger,
) *OrchestratorService {
	if logger == nil {
		logger = logrus.New()
	}
	return &OrchestratorService{
		db:        db,
		cfg:       cfg,
		diagnosis: diagnosis,
		policy:    policy,
		engine:    engine,
		audit:     audit,
		mail:      mail,
		events:    events,
		logger:    logger,
	}
}

// ProcessTicket 处理新工单：诊断 → 策略评估 → 执行或挂起审批
// 管道中任何未处理的错误都会把工单置为 failed，绝不留在中间状态。
func (s *OrchestratorService) ProcessTicket(ctx context.Context, ticketID uint) (err error) {
	var ticket models.Ticket
	if dbErr := s.db.WithContext(ctx).First(&ticket, ticketID).Error; dbErr != nil {
		if dbErr == gorm.ErrRecordNotFound {
			return ErrTicketNotFound
		}
		return dbErr
	}

	defer func() {
		if err != nil {
			s.forceFail(ctx, &ticket, err)
		}
	}()

	s.logger.Infof("processing ticket %s (category=%s)", ticket.TicketNumber, ticket.Category)

	if err = s.transition(ctx, &ticket, models.TicketStatusAnalyzing, "analysis_started", nil); err != nil {
		return err
	}

	diag := s.diagnosis.Diagnose(DiagnosisInput{
		Category:       ticket.Category,
		Subject:        ticket.Subject,
		Description:    ticket.Description,
		AffectedUser:   ticket.AffectedUser,
		RequesterEmail: ticket.RequesterEmail,
	})

	diagJSON, _ := json.Marshal(diag)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if txErr := tx.Model(&ticket).Update("diagnosis_result", string(diagJSON)).Error; txErr != nil {
			return txErr
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			TicketID:     &ticket.ID,
			Action:       "diagnosis_completed",
			ResourceType: "ticket",
			ResourceID:   fmt.Sprintf("%d", ticket.ID),
			After:        diag,
		})
	})
	if err != nil {
		return err
	}
	ticket.DiagnosisResult = string(diagJSON)

	activePolicy := s.policy.GetActivePolicyForCategory(ctx, ticket.Category)
	decision := s.policy.Evaluate(diag, activePolicy)
	metrics.PolicyDecisions.WithLabelValues(decision).Inc()
	s.logger.Infof("ticket %s policy decision: %s (root_cause=%s)", ticket.TicketNumber, decision, diag.RootCause)

	switch decision {
	case DecisionReject:
		// 转人工处理
		err = s.transition(ctx, &ticket, models.TicketStatusInProgress, "routed_to_manual", func(tx *gorm.DB) error {
			return tx.Model(&ticket).Update("can_auto_resolve", false).Error
		})
		return err

	case DecisionHoldForApproval:
		err = s.holdForApproval(ctx, &ticket, diag)
		return err

	case DecisionAutoExecute:
		err = s.startExecution(ctx, &ticket, diag, activePolicy)
		return err
	}
	return fmt.Errorf("unreachable policy decision %q", decision)
}

func (s *OrchestratorService) holdForApproval(ctx context.Context, ticket *models.Ticket, diag DiagnosisResult) error {
	return s.transition(ctx, ticket, models.TicketStatusAwaitingApproval, "approval_requested", func(tx *gorm.DB) error {
		if err := tx.Model(ticket).Update("requires_approval", true).Error; err != nil {
			return err
		}
		approval := &models.ApprovalRequest{
			TicketID:       ticket.ID,
			AutomationType: diag.RecommendedAction,
			Reason:         fmt.Sprintf("Automated remediation %s for root cause %s requires approval", diag.RecommendedAction, diag.RootCause),
			RiskLevel:      diag.RiskLevel,
			Status:         models.ApprovalStatusPending,
			RequestedAt:    time.Now(),
		}
		if err := tx.Create(approval).Error; err != nil {
			return err
		}
		s.publish(TicketEvent{
			Type:         EventApprovalRequested,
			TicketID:     ticket.ID,
			TicketNumber: ticket.TicketNumber,
			Data:         map[string]interface{}{"automation_type": diag.RecommendedAction, "risk_level": diag.RiskLevel},
		})
		return nil
	})
}

// startExecution 创建执行记录并同步运行
func (s *OrchestratorService) startExecution(ctx context.Context, ticket *models.Ticket, diag DiagnosisResult, policy models.AutomationPolicy) error {
	if err := s.transition(ctx, ticket, models.TicketStatusInProgress, "automation_started", nil); err != nil {
		return err
	}

	params := executionParams(ticket, diag)
	paramsJSON, _ := json.Marshal(params)

	exec := &models.AutomationExecution{
		TicketID:       ticket.ID,
		AutomationType: diag.RecommendedAction,
		Status:         models.AutomationStatusPending,
		Parameters:     string(paramsJSON),
		MaxRetries:     policy.MaxRetries,
	}
	if err := s.db.WithContext(ctx).Create(exec).Error; err != nil {
		return err
	}

	return s.runExecution(ctx, ticket, exec)
}

// runExecution 运行（或重跑）一条执行记录并收敛工单状态
// 门禁：工单必须处于 in_progress 且无其他 running 执行。
func (s *OrchestratorService) runExecution(ctx context.Context, ticket *models.Ticket, exec *models.AutomationExecution) error {
	if ticket.Status != models.TicketStatusInProgress {
		return fmt.Errorf("%w: status is %s", ErrInvalidTransition, ticket.Status)
	}

	// 占坑是一条带 NOT EXISTS 的条件更新：同一工单的并发执行只有一个
	// 能把状态改成 running，输家拿 RowsAffected=0 而不是各自通过计数检查。
	now := time.Now()
	claim := s.db.WithContext(ctx).Model(&models.AutomationExecution{}).
		Where("id = ? AND status <> ?", exec.ID, models.AutomationStatusRunning).
		Where("NOT EXISTS (SELECT 1 FROM automation_executions WHERE ticket_id = ? AND status = ? AND id <> ?)",
			ticket.ID, models.AutomationStatusRunning, exec.ID).
		Updates(map[string]interface{}{
			"status":     models.AutomationStatusRunning,
			"started_at": now,
		})
	if claim.Error != nil {
		return claim.Error
	}
	if claim.RowsAffected == 0 {
		return ErrExecutionInFlight
	}
	exec.Status = models.AutomationStatusRunning
	exec.StartedAt = &now

	var params map[string]string
	_ = json.Unmarshal([]byte(exec.Parameters), &params)

	outcome := s.engine.Execute(ctx, exec.AutomationType, params)
	metrics.AutomationExecutions.WithLabelValues(exec.AutomationType, outcomeLabel(outcome.Success)).Inc()
	metrics.AutomationDuration.WithLabelValues(exec.AutomationType).Observe(outcome.Duration)

	completed := time.Now()
	updates := map[string]interface{}{
		"completed_at":     completed,
		"duration_seconds": outcome.Duration,
		"output":           outcome.Output,
		"before_state":     marshalJSON(outcome.BeforeState),
		"after_state":      marshalJSON(outcome.AfterState),
	}

	if outcome.Success {
		updates["status"] = models.AutomationStatusSuccess
	} else {
		updates["status"] = models.AutomationStatusFailed
		updates["error_message"] = outcome.Error
	}
	if err := s.db.WithContext(ctx).Model(exec).Updates(updates).Error; err != nil {
		return err
	}

	if outcome.Success {
		if err := s.transition(ctx, ticket, models.TicketStatusResolved, "automation_executed", func(tx *gorm.DB) error {
			return tx.Model(ticket).Updates(map[string]interface{}{
				"resolved_at":   completed,
				"auto_resolved": !ticket.RequiresApproval,
			}).Error
		}); err != nil {
			return err
		}
		// 通知请求者，失败不影响工单结果
		if err := s.mail.SendTicketResolved(ticket.RequesterEmail, ticket.TicketNumber, outcome.Output); err != nil {
			s.logger.Warnf("resolution notification for %s failed: %v", ticket.TicketNumber, err)
		}
	} else {
		if err := s.transition(ctx, ticket, models.TicketStatusFailed, "automation_failed", nil); err != nil {
			return err
		}
	}

	s.publish(TicketEvent{
		Type:         EventAutomationCompleted,
		TicketID:     ticket.ID,
		TicketNumber: ticket.TicketNumber,
		Data: map[string]interface{}{
			"automation_type": exec.AutomationType,
			"success":         outcome.Success,
		},
	})
	return nil
}

// ExecuteApproved 审批通过后执行自动化
func (s *OrchestratorService) ExecuteApproved(ctx context.Context, ticketID uint, approverID uint) (err error) {
	var ticket models.Ticket
	if dbErr := s.db.WithContext(ctx).First(&ticket, ticketID).Error; dbErr != nil {
		if dbErr == gorm.ErrRecordNotFound {
			return ErrTicketNotFound
		}
		return dbErr
	}

	defer func() {
		if err != nil {
			s.forceFail(ctx, &ticket, err)
		}
	}()

	if ticket.Status != models.TicketStatusAwaitingApproval {
		return fmt.Errorf("%w: cannot execute approved automation from %s", ErrInvalidTransition, ticket.Status)
	}

	var diag DiagnosisResult
	if jsonErr := json.Unmarshal([]byte(ticket.DiagnosisResult), &diag); jsonErr != nil {
		return fmt.Errorf("ticket %d has no usable diagnosis: %w", ticket.ID, jsonErr)
	}

	if auditErr := s.audit.Record(ctx, nil, AuditEntry{
		TicketID:     &ticket.ID,
		UserID:       &approverID,
		Action:       "automation_approved",
		ResourceType: "ticket",
		ResourceID:   fmt.Sprintf("%d", ticket.ID),
	}); auditErr != nil {
		return auditErr
	}

	activePolicy := s.policy.GetActivePolicyForCategory(ctx, ticket.Category)
	err = s.startExecution(ctx, &ticket, diag, activePolicy)
	return err
}

// RetryExecution 重试一条失败的执行
// 复用同一条记录：retry_count 递增，不新建执行。
func (s *OrchestratorService) RetryExecution(ctx context.Context, executionID uint) error {
	var exec models.AutomationExecution
	if err := s.db.WithContext(ctx).First(&exec, executionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrExecutionNotFound
		}
		return err
	}

	if exec.RetryCount >= exec.MaxRetries {
		return ErrMaxRetriesExceeded
	}
	if exec.Status != models.AutomationStatusFailed {
		return fmt.Errorf("%w: execution status is %s, only failed executions can be retried", ErrInvalidTransition, exec.Status)
	}

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, exec.TicketID).Error; err != nil {
		return err
	}
	if ticket.Status != models.TicketStatusFailed {
		return fmt.Errorf("%w: ticket status is %s", ErrInvalidTransition, ticket.Status)
	}

	if err := s.db.WithContext(ctx).Model(&exec).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error; err != nil {
		return err
	}
	exec.RetryCount++

	if err := s.transition(ctx, &ticket, models.TicketStatusInProgress, "automation_retry", nil); err != nil {
		return err
	}

	s.logger.Infof("retrying execution %d for ticket %s (attempt %d/%d)",
		exec.ID, ticket.TicketNumber, exec.RetryCount, exec.MaxRetries)
	return s.runExecution(ctx, &ticket, &exec)
}

// GetExecution 按 ID 取执行记录
func (s *OrchestratorService) GetExecution(ctx context.Context, id uint) (*models.AutomationExecution, error) {
	var exec models.AutomationExecution
	if err := s.db.WithContext(ctx).First(&exec, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return &exec, nil
}

// ListExecutions 执行记录查询，可按工单和状态过滤
func (s *OrchestratorService) ListExecutions(ctx context.Context, ticketID uint, status string) ([]models.AutomationExecution, error) {
	db := s.db.WithContext(ctx).Model(&models.AutomationExecution{})
	if ticketID != 0 {
		db = db.Where("ticket_id = ?", ticketID)
	}
	if status != "" {
		db = db.Where("status = ?", status)
	}
	var execs []models.AutomationExecution
	if err := db.Order("created_at desc").Limit(200).Find(&execs).Error; err != nil {
		return nil, err
	}
	return execs, nil
}

// CloseTicket 技术员显式关闭工单，任何状态均可达
func (s *OrchestratorService) CloseTicket(ctx context.Context, ticketID uint, userID *uint) error {
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, ticketID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrTicketNotFound
		}
		return err
	}
	if ticket.Status == models.TicketStatusClosed {
		return nil
	}

	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		from := ticket.Status
		if err := tx.Model(&ticket).Updates(map[string]interface{}{
			"status":    models.TicketStatusClosed,
			"closed_at": now,
		}).Error; err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, AuditEntry{
			TicketID:     &ticket.ID,
			UserID:       userID,
			Action:       "ticket_closed",
			ResourceType: "ticket",
			ResourceID:   fmt.Sprintf("%d", ticket.ID),
			Before:       map[string]interface{}{"status": from},
			After:        map[string]interface{}{"status": models.TicketStatusClosed},
		}); err != nil {
			return err
		}
		s.publish(TicketEvent{
			Type:         EventStatusChanged,
			TicketID:     ticket.ID,
			TicketNumber: ticket.TicketNumber,
			FromStatus:   from,
			ToStatus:     models.TicketStatusClosed,
		})
		return nil
	})
}

// SweepStuck 将丢失了后续任务的工单强制置为 failed
// 覆盖两类：停留在 analyzing 的（处理任务丢失），以及审批已通过但
// 执行任务从未投递成功、仍停在 awaiting_approval 的。
func (s *OrchestratorService) SweepStuck(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.StuckTicketAge)

	var stuck []models.Ticket
	if err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.TicketStatusAnalyzing, cutoff).
		Find(&stuck).Error; err != nil {
		return 0, err
	}

	var orphaned []models.Ticket
	if err := s.db.WithContext(ctx).
		Joins("JOIN approval_requests ON approval_requests.ticket_id = tickets.id").
		Where("tickets.status = ? AND approval_requests.status = ? AND approval_requests.responded_at < ?",
			models.TicketStatusAwaitingApproval, models.ApprovalStatusApproved, cutoff).
		Find(&orphaned).Error; err != nil {
		return 0, err
	}
	stuck = append(stuck, orphaned...)

	swept := 0
	for i := range stuck {
		ticket := &stuck[i]
		if err := s.transition(ctx, ticket, models.TicketStatusFailed, "stuck_ticket_swept", nil); err != nil {
			s.logger.Errorf("sweep of stuck ticket %s failed: %v", ticket.TicketNumber, err)
			continue
		}
		swept++
	}
	if swept > 0 {
		s.logger.Warnf("swept %d stuck tickets to failed", swept)
		metrics.StuckTicketsSwept.Add(float64(swept))
	}
	return swept, nil
}

// 合法的状态迁移表；closed 另由 CloseTicket 处理（任意状态可达）
var allowedTransitions = map[string][]string{
	models.TicketStatusNew:              {models.TicketStatusAnalyzing},
	models.TicketStatusAnalyzing:        {models.TicketStatusInProgress, models.TicketStatusAwaitingApproval, models.TicketStatusFailed},
	models.TicketStatusAwaitingApproval: {models.TicketStatusInProgress, models.TicketStatusFailed},
	models.TicketStatusInProgress:       {models.TicketStatusResolved, models.TicketStatusFailed},
	models.TicketStatusFailed:           {models.TicketStatusInProgress},
}

func transitionAllowed(from, to string) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// transition 在单个事务内完成：状态写入 + 附加变更 + 一条审计记录
func (s *OrchestratorService) transition(ctx context.Context, ticket *models.Ticket, to string, action string, extra func(tx *gorm.DB) error) error {
	from := ticket.Status
	if from == to {
		return nil
	}
	if !transitionAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(ticket).Update("status", to).Error; err != nil {
			return err
		}
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			TicketID:     &ticket.ID,
			Action:       action,
			ResourceType: "ticket",
			ResourceID:   fmt.Sprintf("%d", ticket.ID),
			Before:       map[string]interface{}{"status": from},
			After:        map[string]interface{}{"status": to},
		})
	})
	if err != nil {
		return err
	}

	ticket.Status = to
	metrics.TicketTransitions.WithLabelValues(from, to).Inc()
	s.publish(TicketEvent{
		Type:         EventStatusChanged,
		TicketID:     ticket.ID,
		TicketNumber: ticket.TicketNumber,
		FromStatus:   from,
		ToStatus:     to,
	})
	return nil
}

// forceFail 管道内部错误的最终处置：工单归于 failed 而不是卡死
func (s *OrchestratorService) forceFail(ctx context.Context, ticket *models.Ticket, cause error) {
	if ticket.Status == models.TicketStatusFailed || ticket.Status == models.TicketStatusClosed ||
		ticket.Status == models.TicketStatusResolved {
		return
	}
	s.logger.Errorf("forcing ticket %s to failed: %v", ticket.TicketNumber, cause)

	from := ticket.Status
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(ticket).Update("status", models.TicketStatusFailed).Error; err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			TicketID:     &ticket.ID,
			Action:       "pipeline_error",
			ResourceType: "ticket",
			ResourceID:   fmt.Sprintf("%d", ticket.ID),
			Before:       map[string]interface{}{"status": from},
			After:        map[string]interface{}{"status": models.TicketStatusFailed},
			Additional:   map[string]interface{}{"error": cause.Error()},
		})
	})
	if err != nil {
		s.logger.Errorf("force-fail of ticket %d did not persist: %v", ticket.ID, err)
		return
	}
	ticket.Status = models.TicketStatusFailed
	s.publish(TicketEvent{
		Type:         EventStatusChanged,
		TicketID:     ticket.ID,
		TicketNumber: ticket.TicketNumber,
		FromStatus:   from,
		ToStatus:     models.TicketStatusFailed,
	})
}

func (s *OrchestratorService) publish(event TicketEvent) {
	if s.events != nil {
		s.events.Publish(event)
	}
}

// executionParams 组装处理器参数
// grant_access 需要目标组：取诊断细节里的资源名。
func executionParams(ticket *models.Ticket, diag DiagnosisResult) map[string]string {
	params := map[string]string{
		"user_email":    ticket.AffectedUser,
		"affected_user": ticket.AffectedUser,
	}
	if diag.RecommendedAction == models.AutomationGrantAccess {
		if res, ok := diag.Details["resource"].(string); ok && res != "" && res != "unspecified" {
			params["group_name"] = res
		}
	}
	return params
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

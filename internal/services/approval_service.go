package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resolvify/internal/models"
	"resolvify/internal/queue"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrApprovalNotFound  = errors.New("approval request not found")
	ErrApprovalProcessed = errors.New("approval request already processed")
)

// ApprovalService 审批关卡服务
// 一个审批只能被响应一次：pending → approved/rejected。
type ApprovalService struct {
	db     *gorm.DB
	jobs   *queue.Queue
	audit  *AuditService
	logger *logrus.Logger
}

// NewApprovalService 创建审批服务
func NewApprovalService(db *gorm.DB, jobs *queue.Queue, audit *AuditService, logger *logrus.Logger) *ApprovalService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ApprovalService{db: db, jobs: jobs, audit: audit, logger: logger}
}

// RespondRequest 审批响应
type RespondRequest struct {
	Status           string `json:"status" binding:"required,oneof=approved rejected"`
	ApproverComments string `json:"approver_comments"`
}

// List 按状态列出审批请求，请求时间倒序
func (s *ApprovalService) List(ctx context.Context, status string) ([]models.ApprovalRequest, error) {
	q := s.db.WithContext(ctx).Preload("Ticket").Order("requested_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var approvals []models.ApprovalRequest
	if err := q.Find(&approvals).Error; err != nil {
		return nil, err
	}
	return approvals, nil
}

// Respond 响应一条审批请求
// 通过则投递执行任务；驳回则工单停在当前状态等待人工收尾。
func (s *ApprovalService) Respond(ctx context.Context, approvalID uint, approverID uint, req *RespondRequest) (*models.ApprovalRequest, error) {
	var approval models.ApprovalRequest

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&approval, approvalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrApprovalNotFound
			}
			return err
		}
		if approval.Status != models.ApprovalStatusPending {
			return ErrApprovalProcessed
		}

		now := time.Now()
		approval.Status = req.Status
		approval.ApproverID = &approverID
		approval.ApproverComments = req.ApproverComments
		approval.RespondedAt = &now
		if err := tx.Save(&approval).Error; err != nil {
			return err
		}

		action := "approval_rejected"
		if req.Status == models.ApprovalStatusApproved {
			action = "approval_granted"
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			TicketID:     &approval.TicketID,
			UserID:       &approverID,
			Action:       action,
			ResourceType: "approval",
			ResourceID:   fmt.Sprintf("%d", approval.ID),
			Additional:   map[string]interface{}{"comments": req.ApproverComments},
		})
	})
	if err != nil {
		return nil, err
	}

	if approval.Status == models.ApprovalStatusApproved && s.jobs != nil {
		// 审批已落库；投递失败的工单由定时清扫兜底置为 failed
		if err := s.jobs.Enqueue(queue.Job{
			Type:       queue.JobExecuteApproved,
			TicketID:   approval.TicketID,
			ApproverID: approverID,
		}); err != nil {
			s.logger.Errorf("enqueue of approved automation for ticket %d failed: %v", approval.TicketID, err)
		}
	}

	s.logger.Infof("approval %d %s by user %d (ticket=%d)", approval.ID, approval.Status, approverID, approval.TicketID)
	return &approval, nil
}

// Get 取单条审批
func (s *ApprovalService) Get(ctx context.Context, id uint) (*models.ApprovalRequest, error) {
	var approval models.ApprovalRequest
	if err := s.db.WithContext(ctx).Preload("Ticket").First(&approval, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, err
	}
	return &approval, nil
}

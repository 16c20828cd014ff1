package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"resolvify/internal/metrics"
	"resolvify/internal/models"
	"resolvify/internal/queue"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TicketService 工单管理服务
// 创建入口做同步分类；诊断与自动化通过后台队列异步进行。
type TicketService struct {
	db         *gorm.DB
	classifier Classifier
	jobs       *queue.Queue
	audit      *AuditService
	events     *TicketEventHub
	logger     *logrus.Logger
}

// NewTicketService 创建工单服务
func NewTicketService(db *gorm.DB, classifier Classifier, jobs *queue.Queue, audit *AuditService, events *TicketEventHub, logger *logrus.Logger) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketService{
		db:         db,
		classifier: classifier,
		jobs:       jobs,
		audit:      audit,
		events:     events,
		logger:     logger,
	}
}

// CreateTicketRequest 创建工单请求
type CreateTicketRequest struct {
	Subject        string `json:"subject" binding:"required"`
	Description    string `json:"description" binding:"required"`
	RequesterEmail string `json:"requester_email" binding:"required,email"`
	RequesterName  string `json:"requester_name"`
	AffectedUser   string `json:"affected_user"`
}

// UpdateTicketRequest 更新工单请求
type UpdateTicketRequest struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
}

// TicketListQuery 工单列表过滤条件
type TicketListQuery struct {
	Status       string
	Category     string
	AutoResolved *bool
	Page         int
	PageSize     int
}

// GenerateTicketNumber 生成工单号，形如 IT-20250131-3FA2BC
func GenerateTicketNumber() string {
	suffix := strings.ToUpper(uuid.NewString()[:6])
	return fmt.Sprintf("IT-%s-%s", time.Now().Format("20060102"), suffix)
}

// CreateTicket 创建工单
// 分类同步完成；可自动处理的工单随即投入后台队列。
func (s *TicketService) CreateTicket(ctx context.Context, req *CreateTicketRequest, createdBy *uint) (*models.Ticket, error) {
	classification := s.classifier.Classify(req.Subject, req.Description)

	affectedUser := req.AffectedUser
	if affectedUser == "" {
		affectedUser = s.classifier.ExtractAffectedUser(req.Subject, req.Description, req.RequesterEmail)
	}

	ticket := &models.Ticket{
		TicketNumber:    GenerateTicketNumber(),
		Subject:         req.Subject,
		Description:     req.Description,
		RequesterEmail:  req.RequesterEmail,
		RequesterName:   req.RequesterName,
		AffectedUser:    affectedUser,
		Category:        classification.Category,
		Priority:        classification.Priority,
		Status:          models.TicketStatusNew,
		ConfidenceScore: classification.Confidence,
		CanAutoResolve:  classification.CanAutoResolve,
		CreatedBy:       createdBy,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ticket).Error; err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			TicketID:     &ticket.ID,
			UserID:       createdBy,
			Action:       "ticket_created",
			ResourceType: "ticket",
			ResourceID:   fmt.Sprintf("%d", ticket.ID),
			After: map[string]interface{}{
				"ticket_number": ticket.TicketNumber,
				"category":      ticket.Category,
				"priority":      ticket.Priority,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	metrics.TicketsCreated.WithLabelValues(ticket.Category).Inc()
	s.logger.Infof("ticket %s created (category=%s confidence=%.2f auto=%v)",
		ticket.TicketNumber, ticket.Category, ticket.ConfidenceScore, ticket.CanAutoResolve)

	if s.events != nil {
		s.events.Publish(TicketEvent{
			Type:         EventTicketCreated,
			TicketID:     ticket.ID,
			TicketNumber: ticket.TicketNumber,
			Data:         map[string]interface{}{"category": ticket.Category, "priority": ticket.Priority},
		})
	}

	if ticket.CanAutoResolve && s.jobs != nil {
		if err := s.jobs.Enqueue(queue.Job{Type: queue.JobProcessTicket, TicketID: ticket.ID}); err != nil {
			// 入队失败不回滚工单，留给定时清扫或人工处理
			s.logger.Errorf("enqueue of ticket %s failed: %v", ticket.TicketNumber, err)
		} else {
			s.logger.Infof("ticket %s queued for automation", ticket.TicketNumber)
		}
	}

	return ticket, nil
}

// GetTicket 取工单详情，包含执行与审批历史
func (s *TicketService) GetTicket(ctx context.Context, id uint) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).
		Preload("Executions").
		Preload("Approvals").
		First(&ticket, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// GetTicketByNumber 按工单号查询
func (s *TicketService) GetTicketByNumber(ctx context.Context, number string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).Where("ticket_number = ?", number).First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// ListTickets 按条件分页列出工单，创建时间倒序
func (s *TicketService) ListTickets(ctx context.Context, q TicketListQuery) ([]models.Ticket, int64, error) {
	db := s.db.WithContext(ctx).Model(&models.Ticket{})
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.Category != "" {
		db = db.Where("category = ?", q.Category)
	}
	if q.AutoResolved != nil {
		db = db.Where("auto_resolved = ?", *q.AutoResolved)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 200 {
		q.PageSize = 50
	}

	var tickets []models.Ticket
	err := db.Order("created_at desc").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&tickets).Error
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

// UpdateTicket 更新工单基础字段
// 状态不在可更新范围内：状态只归编排器管。
func (s *TicketService) UpdateTicket(ctx context.Context, id uint, req *UpdateTicketRequest, userID *uint) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}

	before := map[string]interface{}{
		"subject":  ticket.Subject,
		"priority": ticket.Priority,
		"category": ticket.Category,
	}

	updates := map[string]interface{}{}
	if req.Subject != "" {
		updates["subject"] = req.Subject
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.Priority != "" {
		updates["priority"] = req.Priority
	}
	if req.Category != "" {
		updates["category"] = req.Category
	}
	if len(updates) == 0 {
		return &ticket, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ticket).Updates(updates).Error; err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, AuditEntry{
			TicketID:     &ticket.ID,
			UserID:       userID,
			Action:       "ticket_updated",
			ResourceType: "ticket",
			ResourceID:   fmt.Sprintf("%d", ticket.ID),
			Before:       before,
			After: map[string]interface{}{
				"subject":  ticket.Subject,
				"priority": ticket.Priority,
				"category": ticket.Category,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// TicketAuditLogs 工单的审计记录，时间倒序
func (s *TicketService) TicketAuditLogs(ctx context.Context, ticketID uint) ([]models.AuditLog, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrTicketNotFound
	}

	var logs []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("timestamp desc").
		Find(&logs).Error
	return logs, err
}

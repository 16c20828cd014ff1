package services

import (
	"context"
	"encoding/json"
	"time"

	"resolvify/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AuditService 审计日志服务
// 日志只追加：本服务不提供更新或删除。
type AuditService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewAuditService 创建审计服务
func NewAuditService(db *gorm.DB, logger *logrus.Logger) *AuditService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AuditService{db: db, logger: logger}
}

// AuditEntry 一条待写入的审计记录
type AuditEntry struct {
	TicketID     *uint
	UserID       *uint
	Action       string
	ResourceType string
	ResourceID   string
	Before       interface{}
	After        interface{}
	Additional   map[string]interface{}
	IPAddress    string
	UserAgent    string
}

// Record 写入一条审计记录
// tx 非 nil 时在该事务内写入，随状态变更一起提交或回滚。
func (s *AuditService) Record(ctx context.Context, tx *gorm.DB, e AuditEntry) error {
	db := tx
	if db == nil {
		db = s.db.WithContext(ctx)
	}

	log := &models.AuditLog{
		TicketID:     e.TicketID,
		UserID:       e.UserID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		BeforeState:  marshalJSON(e.Before),
		AfterState:   marshalJSON(e.After),
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		Timestamp:    time.Now(),
	}
	if len(e.Additional) > 0 {
		log.AdditionalData = marshalJSON(e.Additional)
	}

	if err := db.Create(log).Error; err != nil {
		s.logger.Errorf("audit write failed (action=%s): %v", e.Action, err)
		return err
	}
	return nil
}

// AuditListQuery 审计查询条件
type AuditListQuery struct {
	TicketID *uint
	UserID   *uint
	Action   string
	Since    *time.Time
	Until    *time.Time
	Page     int
	PageSize int
}

// List 按条件分页查询审计记录，时间倒序
func (s *AuditService) List(ctx context.Context, q AuditListQuery) ([]models.AuditLog, int64, error) {
	db := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if q.TicketID != nil {
		db = db.Where("ticket_id = ?", *q.TicketID)
	}
	if q.UserID != nil {
		db = db.Where("user_id = ?", *q.UserID)
	}
	if q.Action != "" {
		db = db.Where("action = ?", q.Action)
	}
	if q.Since != nil {
		db = db.Where("timestamp >= ?", *q.Since)
	}
	if q.Until != nil {
		db = db.Where("timestamp <= ?", *q.Until)
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

	var logs []models.AuditLog
	err := db.Order("timestamp desc").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&logs).Error
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// marshalJSON 序列化快照；编码失败时返回空串而不是中断审计写入
func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

package services

import (
	"context"
	"fmt"

	"resolvify/internal/config"
	"resolvify/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 策略评估结果
const (
	DecisionAutoExecute     = "auto_execute"
	DecisionHoldForApproval = "hold_for_approval"
	DecisionReject          = "reject"
)

// PolicyService 自动化策略管理与评估
type PolicyService struct {
	db     *gorm.DB
	cfg    config.AutomationConfig
	logger *logrus.Logger
}

// NewPolicyService 创建策略服务
func NewPolicyService(db *gorm.DB, cfg config.AutomationConfig, logger *logrus.Logger) *PolicyService {
	if logger == nil {
		logger = logrus.New()
	}
	return &PolicyService{db: db, cfg: cfg, logger: logger}
}

// Evaluate 决定一次诊断结果的处置方式
// 无副作用。规则按顺序：
//  1. 不可自动化 → reject（转人工）
//  2. 诊断要求审批 / 策略要求审批 / critical 风险且全局强制审批 → hold
//  3. 策略允许自动执行且全局开关打开 → auto_execute
//  4. 其余 → hold（安全默认，绝不静默丢弃可处理的工单）
func (s *PolicyService) Evaluate(diag DiagnosisResult, policy models.AutomationPolicy) string {
	if !diag.AutomationPossible {
		return DecisionReject
	}
	if diag.RequiresApproval || policy.RequireApproval ||
		(s.cfg.RequireApprovalForCritical && diag.RiskLevel == models.RiskCritical) {
		return DecisionHoldForApproval
	}
	if policy.AutoExecute && s.cfg.Enabled {
		return DecisionAutoExecute
	}
	return DecisionHoldForApproval
}

// GetActivePolicyForCategory 取该类别的活跃策略
// 未配置时回退到内置默认值，评估永远有策略可用。
func (s *PolicyService) GetActivePolicyForCategory(ctx context.Context, category string) models.AutomationPolicy {
	var policy models.AutomationPolicy
	err := s.db.WithContext(ctx).
		Where("category = ? AND is_active = ?", category, true).
		Order("id asc").
		First(&policy).Error
	if err == nil {
		return policy
	}
	if err != gorm.ErrRecordNotFound {
		s.logger.Warnf("policy lookup failed for category %s: %v", category, err)
	}
	return s.fallbackPolicy(category)
}

func (s *PolicyService) fallbackPolicy(category string) models.AutomationPolicy {
	return models.AutomationPolicy{
		Name:            "builtin-default",
		Category:        category,
		AutoExecute:     true,
		RequireApproval: false,
		MaxRetries:      s.cfg.MaxRetries,
		TimeoutSeconds:  int(s.cfg.Timeout.Seconds()),
		RiskLevel:       models.RiskLow,
		IsActive:        true,
	}
}

// PolicyRequest 创建/更新策略的请求
type PolicyRequest struct {
	Name              string `json:"name" binding:"required"`
	Description       string `json:"description"`
	Category          string `json:"category" binding:"required"`
	AutoExecute       *bool  `json:"auto_execute"`
	RequireApproval   *bool  `json:"require_approval"`
	MaxRetries        *int   `json:"max_retries"`
	TimeoutSeconds    *int   `json:"timeout_seconds"`
	RollbackOnFailure *bool  `json:"rollback_on_failure"`
	RiskLevel         string `json:"risk_level"`
	IsActive          *bool  `json:"is_active"`
}

// CreatePolicy 创建策略
func (s *PolicyService) CreatePolicy(ctx context.Context, req *PolicyRequest) (*models.AutomationPolicy, error) {
	policy := &models.AutomationPolicy{
		Name:           req.Name,
		Description:    req.Description,
		Category:       req.Category,
		AutoExecute:    true,
		MaxRetries:     s.cfg.MaxRetries,
		TimeoutSeconds: int(s.cfg.Timeout.Seconds()),
		RiskLevel:      models.RiskLow,
		IsActive:       true,
	}
	applyPolicyRequest(policy, req)

	if err := s.db.WithContext(ctx).Create(policy).Error; err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	s.logger.Infof("policy created: %s (category=%s)", policy.Name, policy.Category)
	return policy, nil
}

// UpdatePolicy 更新策略
func (s *PolicyService) UpdatePolicy(ctx context.Context, id uint, req *PolicyRequest) (*models.AutomationPolicy, error) {
	var policy models.AutomationPolicy
	if err := s.db.WithContext(ctx).First(&policy, id).Error; err != nil {
		return nil, err
	}
	if req.Name != "" {
		policy.Name = req.Name
	}
	if req.Description != "" {
		policy.Description = req.Description
	}
	if req.Category != "" {
		policy.Category = req.Category
	}
	applyPolicyRequest(&policy, req)

	if err := s.db.WithContext(ctx).Save(&policy).Error; err != nil {
		return nil, fmt.Errorf("update policy: %w", err)
	}
	return &policy, nil
}

func applyPolicyRequest(policy *models.AutomationPolicy, req *PolicyRequest) {
	if req.AutoExecute != nil {
		policy.AutoExecute = *req.AutoExecute
	}
	if req.RequireApproval != nil {
		policy.RequireApproval = *req.RequireApproval
	}
	if req.MaxRetries != nil {
		policy.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil {
		policy.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.RollbackOnFailure != nil {
		policy.RollbackOnFailure = *req.RollbackOnFailure
	}
	if req.RiskLevel != "" {
		policy.RiskLevel = req.RiskLevel
	}
	if req.IsActive != nil {
		policy.IsActive = *req.IsActive
	}
}

// ListPolicies 列出策略
func (s *PolicyService) ListPolicies(ctx context.Context, activeOnly bool) ([]models.AutomationPolicy, error) {
	q := s.db.WithContext(ctx).Order("category asc, id asc")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var policies []models.AutomationPolicy
	if err := q.Find(&policies).Error; err != nil {
		return nil, err
	}
	return policies, nil
}

// DeletePolicy 停用策略（软删除：标记 inactive）
func (s *PolicyService) DeletePolicy(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.AutomationPolicy{}).
		Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// EnsureDefaults 按名称幂等地种入默认策略
func (s *PolicyService) EnsureDefaults(ctx context.Context) error {
	for _, policy := range DefaultPolicies() {
		p := policy
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.AutomationPolicy{}).
			Where("name = ?", p.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
			return err
		}
	}
	return nil
}

// DefaultPolicies 返回初始化时种入的默认策略集
func DefaultPolicies() []models.AutomationPolicy {
	return []models.AutomationPolicy{
		{
			Name:            "Password Reset - Auto",
			Description:     "Automatically reset passwords for all users",
			Category:        models.CategoryPasswordReset,
			AutoExecute:     true,
			RequireApproval: false,
			RiskLevel:       models.RiskLow,
			MaxRetries:      2,
			TimeoutSeconds:  300,
			IsActive:        true,
		},
		{
			Name:            "Account Unlock - Auto",
			Description:     "Automatically unlock user accounts",
			Category:        models.CategoryAccountUnlock,
			AutoExecute:     true,
			RequireApproval: false,
			RiskLevel:       models.RiskLow,
			MaxRetries:      2,
			TimeoutSeconds:  300,
			IsActive:        true,
		},
		{
			Name:            "VPN Fix - Auto",
			Description:     "Automatically diagnose and fix VPN issues",
			Category:        models.CategoryVPNIssue,
			AutoExecute:     true,
			RequireApproval: false,
			RiskLevel:       models.RiskMedium,
			MaxRetries:      2,
			TimeoutSeconds:  300,
			IsActive:        true,
		},
		{
			Name:            "Device Compliance - Auto",
			Description:     "Automatically check and enforce device compliance",
			Category:        models.CategoryDeviceCompliance,
			AutoExecute:     true,
			RequireApproval: false,
			RiskLevel:       models.RiskMedium,
			MaxRetries:      2,
			TimeoutSeconds:  600,
			IsActive:        true,
		},
		{
			Name:            "Access Request - Approval Required",
			Description:     "Grant access with manager approval",
			Category:        models.CategoryAccessRequest,
			AutoExecute:     false,
			RequireApproval: true,
			RiskLevel:       models.RiskHigh,
			MaxRetries:      1,
			TimeoutSeconds:  300,
			IsActive:        true,
		},
	}
}

package models

import (
	"time"
)

// 用户模型
type User struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Email          string     `gorm:"unique;not null;index" json:"email"`
	Username       string     `gorm:"unique;not null" json:"username"`
	FullName       string     `json:"full_name"`
	HashedPassword string     `gorm:"not null" json:"-"`
	Role           string     `gorm:"default:'viewer'" json:"role"` // admin, technician, viewer
	IsActive       bool       `gorm:"default:true" json:"is_active"`
	LastLogin      *time.Time `json:"last_login"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// 关联关系
	Tickets []Ticket `gorm:"foreignKey:CreatedBy" json:"tickets,omitempty"`
}

// 工单模型
type Ticket struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	TicketNumber string `gorm:"unique;not null;index" json:"ticket_number"`

	Subject     string `gorm:"not null" json:"subject"`
	Description string `gorm:"type:text;not null" json:"description"`
	Category    string `gorm:"not null;index" json:"category"`    // password_reset, account_unlock, vpn_issue, access_request, device_compliance, email_issue, software_install, other
	Priority    string `gorm:"default:'medium'" json:"priority"`  // low, medium, high, critical
	Status      string `gorm:"default:'new';index" json:"status"` // new, analyzing, in_progress, awaiting_approval, resolved, failed, closed

	RequesterEmail string `gorm:"not null;index" json:"requester_email"`
	RequesterName  string `json:"requester_name"`
	AffectedUser   string `gorm:"index" json:"affected_user"` // 受影响用户，可能不同于请求者

	ConfidenceScore float64 `json:"confidence_score"`
	DiagnosisResult string  `gorm:"type:text" json:"diagnosis_result"` // JSON: DiagnosisResult

	CanAutoResolve   bool `gorm:"default:false" json:"can_auto_resolve"`
	AutoResolved     bool `gorm:"default:false" json:"auto_resolved"`
	RequiresApproval bool `gorm:"default:false" json:"requires_approval"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
	ClosedAt   *time.Time `json:"closed_at"`

	CreatedBy *uint `gorm:"index" json:"created_by"`

	// 关联关系
	Creator    *User                 `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	Executions []AutomationExecution `gorm:"foreignKey:TicketID" json:"executions,omitempty"`
	Approvals  []ApprovalRequest     `gorm:"foreignKey:TicketID" json:"approvals,omitempty"`
	AuditLogs  []AuditLog            `gorm:"foreignKey:TicketID" json:"audit_logs,omitempty"`
}

// AutomationExecution 一次自动化修复尝试
// 重试不会新建记录：同一条记录的 retry_count 递增并重新执行。
type AutomationExecution struct {
	ID       uint `gorm:"primaryKey" json:"id"`
	TicketID uint `gorm:"not null;index" json:"ticket_id"`

	AutomationType string `gorm:"not null" json:"automation_type"`       // password_reset, unlock_account, ...
	Status         string `gorm:"default:'pending';index" json:"status"` // pending, running, success, failed, rolled_back, requires_approval

	ScriptName   string `json:"script_name"`
	Parameters   string `gorm:"type:text" json:"parameters"`   // JSON map
	BeforeState  string `gorm:"type:text" json:"before_state"` // JSON snapshot
	AfterState   string `gorm:"type:text" json:"after_state"`  // JSON snapshot
	Output       string `gorm:"type:text" json:"output"`
	ErrorMessage string `gorm:"type:text" json:"error_message"`

	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	DurationSeconds float64    `json:"duration_seconds"`

	RetryCount int `gorm:"default:0" json:"retry_count"`
	MaxRetries int `gorm:"default:2" json:"max_retries"`

	RollbackPossible bool   `gorm:"default:false" json:"rollback_possible"`
	RollbackScript   string `json:"rollback_script"`
	RolledBack       bool   `gorm:"default:false" json:"rolled_back"`

	CreatedAt time.Time `json:"created_at"`

	Ticket Ticket `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
}

// ApprovalRequest 人工审批关卡
type ApprovalRequest struct {
	ID       uint `gorm:"primaryKey" json:"id"`
	TicketID uint `gorm:"not null;index" json:"ticket_id"`

	AutomationType string `gorm:"not null" json:"automation_type"`
	Reason         string `gorm:"type:text" json:"reason"`
	RiskLevel      string `json:"risk_level"` // low, medium, high, critical

	Status      string     `gorm:"default:'pending';index" json:"status"` // pending, approved, rejected
	RequestedAt time.Time  `json:"requested_at"`
	RespondedAt *time.Time `json:"responded_at"`

	ApproverID       *uint  `gorm:"index" json:"approver_id"`
	ApproverComments string `gorm:"type:text" json:"approver_comments"`

	Ticket   Ticket `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
	Approver *User  `gorm:"foreignKey:ApproverID" json:"approver,omitempty"`
}

// AutomationPolicy 按类别配置自动化行为
// 管理端维护；编排器只读。
type AutomationPolicy struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"unique;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Category    string `gorm:"not null;index" json:"category"`

	AutoExecute        bool   `gorm:"default:true" json:"auto_execute"`
	RequireApproval    bool   `gorm:"default:false" json:"require_approval"`
	ApprovalConditions string `gorm:"type:text" json:"approval_conditions"` // JSON predicate data

	MaxRetries        int  `gorm:"default:2" json:"max_retries"`
	TimeoutSeconds    int  `gorm:"default:300" json:"timeout_seconds"`
	RollbackOnFailure bool `gorm:"default:true" json:"rollback_on_failure"`

	RiskLevel string `gorm:"default:'low'" json:"risk_level"`
	IsActive  bool   `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditLog 只追加的审计日志，写入后不再更新或删除
type AuditLog struct {
	ID       uint  `gorm:"primaryKey" json:"id"`
	TicketID *uint `gorm:"index" json:"ticket_id"`
	UserID   *uint `gorm:"index" json:"user_id"`

	Action       string `gorm:"not null;index" json:"action"`
	ResourceType string `json:"resource_type"` // ticket, automation, approval, user
	ResourceID   string `json:"resource_id"`

	BeforeState string `gorm:"type:text" json:"before_state"` // JSON snapshot
	AfterState  string `gorm:"type:text" json:"after_state"`  // JSON snapshot

	IPAddress      string `json:"ip_address"`
	UserAgent      string `json:"user_agent"`
	AdditionalData string `gorm:"type:text" json:"additional_data"` // JSON

	Timestamp time.Time `gorm:"index" json:"timestamp"`

	Ticket *Ticket `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
	User   *User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

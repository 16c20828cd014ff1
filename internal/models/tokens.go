package models

// Ticket lifecycle statuses. Persisted as stable string tokens.
const (
	TicketStatusNew              = "new"
	TicketStatusAnalyzing        = "analyzing"
	TicketStatusInProgress       = "in_progress"
	TicketStatusAwaitingApproval = "awaiting_approval"
	TicketStatusResolved         = "resolved"
	TicketStatusFailed           = "failed"
	TicketStatusClosed           = "closed"
)

// Ticket categories.
const (
	CategoryPasswordReset    = "password_reset"
	CategoryAccountUnlock    = "account_unlock"
	CategoryVPNIssue         = "vpn_issue"
	CategoryAccessRequest    = "access_request"
	CategoryDeviceCompliance = "device_compliance"
	CategoryEmailIssue       = "email_issue"
	CategorySoftwareInstall  = "software_install"
	CategoryOther            = "other"
)

// Ticket priorities.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// AutomationExecution statuses.
const (
	AutomationStatusPending          = "pending"
	AutomationStatusRunning          = "running"
	AutomationStatusSuccess          = "success"
	AutomationStatusFailed           = "failed"
	AutomationStatusRolledBack       = "rolled_back"
	AutomationStatusRequiresApproval = "requires_approval"
)

// ApprovalRequest statuses.
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// Risk levels.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
	RiskUnknown  = "unknown"
)

// User roles.
const (
	RoleAdmin      = "admin"
	RoleTechnician = "technician"
	RoleViewer     = "viewer"
)

// Automation types dispatched by the automation engine.
const (
	AutomationPasswordReset   = "password_reset"
	AutomationUnlockAccount   = "unlock_account"
	AutomationResetVPNCreds   = "reset_vpn_credentials"
	AutomationResetVPNConn    = "reset_vpn_connection"
	AutomationDiagnoseVPN     = "diagnose_vpn_connection"
	AutomationRenewVPNCert    = "renew_vpn_certificate"
	AutomationReconnectVPN    = "reconnect_vpn"
	AutomationEnforceCompl    = "enforce_compliance"
	AutomationGrantAccess     = "grant_access"
	ActionManualInvestigation = "manual_investigation"
)

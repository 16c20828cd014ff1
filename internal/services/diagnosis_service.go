package services

import (
	"regexp"
	"strings"

	"resolvify/internal/models"

	"github.com/sirupsen/logrus"
)

// DiagnosisInput 诊断输入
type DiagnosisInput struct {
	Category       string
	Subject        string
	Description    string
	AffectedUser   string
	RequesterEmail string
}

// DiagnosisResult 诊断结果，序列化后存入工单
type DiagnosisResult struct {
	RootCause            string                 `json:"root_cause"`
	AffectedUser         string                 `json:"affected_user"`
	RecommendedAction    string                 `json:"recommended_action"`
	AutomationPossible   bool                   `json:"automation_possible"`
	RiskLevel            string                 `json:"risk_level"`
	RequiresVerification bool                   `json:"requires_verification"`
	VerificationMethod   string                 `json:"verification_method,omitempty"`
	RequiresApproval     bool                   `json:"requires_approval,omitempty"`
	Details              map[string]interface{} `json:"details"`
}

// DiagnosisService 根因诊断服务
// 纯函数式：同样的输入产生同样的输出，不访问外部系统。
type DiagnosisService struct {
	logger      *logrus.Logger
	resourceRes []*regexp.Regexp
}

// NewDiagnosisService 创建诊断服务
func NewDiagnosisService(logger *logrus.Logger) *DiagnosisService {
	if logger == nil {
		logger = logrus.New()
	}
	return &DiagnosisService{
		logger: logger,
		resourceRes: []*regexp.Regexp{
			regexp.MustCompile(`(?i)access\s+to\s+(\w+)`),
			regexp.MustCompile(`(?i)permission\s+for\s+(\w+)`),
			regexp.MustCompile(`(?i)(\w+)\s+folder`),
			regexp.MustCompile(`(?i)(\w+)\s+share`),
		},
	}
}

// Diagnose 按类别分派诊断例程
func (s *DiagnosisService) Diagnose(in DiagnosisInput) DiagnosisResult {
	user := in.AffectedUser
	if user == "" {
		user = in.RequesterEmail
	}
	desc := strings.ToLower(in.Description)

	switch in.Category {
	case models.CategoryPasswordReset:
		return s.diagnosePassword(user, desc)
	case models.CategoryAccountUnlock:
		return s.diagnoseAccountLock(user, desc)
	case models.CategoryVPNIssue:
		return s.diagnoseVPN(user, desc)
	case models.CategoryDeviceCompliance:
		return s.diagnoseCompliance(user, desc)
	case models.CategoryAccessRequest:
		return s.diagnoseAccessRequest(user, in.Description)
	default:
		return s.diagnoseGeneric(user)
	}
}

func (s *DiagnosisService) diagnosePassword(user, desc string) DiagnosisResult {
	rootCause := "password_reset_needed"
	switch {
	case strings.Contains(desc, "expired"):
		rootCause = "password_expired"
	case strings.Contains(desc, "forgot") || strings.Contains(desc, "forgotten"):
		rootCause = "password_forgotten"
	case strings.Contains(desc, "doesn't work") || strings.Contains(desc, "not working"):
		rootCause = "password_incorrect"
	}

	return DiagnosisResult{
		RootCause:            rootCause,
		AffectedUser:         user,
		RecommendedAction:    models.AutomationPasswordReset,
		AutomationPossible:   true,
		RiskLevel:            models.RiskLow,
		RequiresVerification: true,
		VerificationMethod:   "email",
		Details: map[string]interface{}{
			"user":   user,
			"action": "Reset password and send temporary password via email",
		},
	}
}

func (s *DiagnosisService) diagnoseAccountLock(user, desc string) DiagnosisResult {
	rootCause := "account_locked"
	switch {
	case strings.Contains(desc, "too many") || strings.Contains(desc, "attempts"):
		rootCause = "too_many_failed_attempts"
	case strings.Contains(desc, "disabled"):
		rootCause = "account_disabled"
	case strings.Contains(desc, "suspended"):
		rootCause = "account_suspended"
	}

	return DiagnosisResult{
		RootCause:            rootCause,
		AffectedUser:         user,
		RecommendedAction:    models.AutomationUnlockAccount,
		AutomationPossible:   true,
		RiskLevel:            models.RiskLow,
		RequiresVerification: true,
		VerificationMethod:   "multi_factor",
		Details: map[string]interface{}{
			"user":   user,
			"action": "Unlock account and verify user identity",
		},
	}
}

func (s *DiagnosisService) diagnoseVPN(user, desc string) DiagnosisResult {
	rootCause := "vpn_connection_failed"
	action := models.AutomationDiagnoseVPN
	switch {
	case strings.Contains(desc, "certificate") || strings.Contains(desc, "cert"):
		rootCause = "vpn_certificate_expired"
		action = models.AutomationRenewVPNCert
	case strings.Contains(desc, "credentials") || strings.Contains(desc, "password"):
		rootCause = "vpn_credentials_invalid"
		action = models.AutomationResetVPNCreds
	case strings.Contains(desc, "timeout") || strings.Contains(desc, "slow"):
		rootCause = "vpn_connection_timeout"
		action = models.AutomationResetVPNConn
	case strings.Contains(desc, "disconnect"):
		rootCause = "vpn_disconnected"
		action = models.AutomationReconnectVPN
	}

	return DiagnosisResult{
		RootCause:          rootCause,
		AffectedUser:       user,
		RecommendedAction:  action,
		AutomationPossible: true,
		RiskLevel:          models.RiskMedium,
		Details: map[string]interface{}{
			"user":   user,
			"action": "VPN diagnostics and " + action,
			"steps": []string{
				"Check VPN client version",
				"Verify user VPN access",
				"Reset VPN profile if needed",
				"Test connectivity",
			},
		},
	}
}

func (s *DiagnosisService) diagnoseCompliance(user, desc string) DiagnosisResult {
	var issues []string
	if strings.Contains(desc, "patch") || strings.Contains(desc, "update") {
		issues = append(issues, "missing_patches")
	}
	if strings.Contains(desc, "antivirus") || strings.Contains(desc, "av") {
		issues = append(issues, "antivirus_outdated")
	}
	if strings.Contains(desc, "encryption") {
		issues = append(issues, "disk_not_encrypted")
	}
	if strings.Contains(desc, "firewall") {
		issues = append(issues, "firewall_disabled")
	}
	if len(issues) == 0 {
		issues = []string{"compliance_check_needed"}
	}

	return DiagnosisResult{
		RootCause:          "device_non_compliant",
		AffectedUser:       user,
		RecommendedAction:  models.AutomationEnforceCompl,
		AutomationPossible: true,
		RiskLevel:          models.RiskMedium,
		Details: map[string]interface{}{
			"user":   user,
			"issues": issues,
			"action": "Run compliance check and apply required patches",
			"steps": []string{
				"Scan device for compliance",
				"Install missing patches",
				"Update antivirus definitions",
				"Verify compliance status",
			},
		},
	}
}

// diagnoseAccessRequest 访问权限类诊断
// 权限授予永远需要审批，与置信度无关。
func (s *DiagnosisService) diagnoseAccessRequest(user, description string) DiagnosisResult {
	resource := "unspecified"
	for _, re := range s.resourceRes {
		if m := re.FindStringSubmatch(description); len(m) > 1 {
			resource = m[1]
			break
		}
	}

	return DiagnosisResult{
		RootCause:            "access_permission_needed",
		AffectedUser:         user,
		RecommendedAction:    models.AutomationGrantAccess,
		AutomationPossible:   true,
		RiskLevel:            models.RiskMedium,
		RequiresVerification: true,
		RequiresApproval:     true,
		VerificationMethod:   "manager_approval",
		Details: map[string]interface{}{
			"user":     user,
			"resource": resource,
			"action":   "Verify authorization and grant access",
			"steps": []string{
				"Verify user needs access",
				"Check if user has appropriate role",
				"Add user to appropriate group/resource",
				"Verify access granted",
			},
		},
	}
}

func (s *DiagnosisService) diagnoseGeneric(user string) DiagnosisResult {
	return DiagnosisResult{
		RootCause:            "requires_manual_review",
		AffectedUser:         user,
		RecommendedAction:    models.ActionManualInvestigation,
		AutomationPossible:   false,
		RiskLevel:            models.RiskUnknown,
		RequiresVerification: true,
		Details: map[string]interface{}{
			"action": "Manual technician review required",
			"reason": "Ticket does not match known automation patterns",
		},
	}
}

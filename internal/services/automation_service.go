package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"resolvify/internal/models"
	"resolvify/pkg/directory"
	"resolvify/pkg/mailer"
	"resolvify/pkg/scriptrun"
	"resolvify/pkg/vpnctl"

	"github.com/sirupsen/logrus"
)

// AutomationOutcome 一次自动化执行的结果
type AutomationOutcome struct {
	Success     bool                   `json:"success"`
	Output      string                 `json:"output"`
	Error       string                 `json:"error,omitempty"`
	BeforeState map[string]interface{} `json:"before_state,omitempty"`
	AfterState  map[string]interface{} `json:"after_state,omitempty"`
	Duration    float64                `json:"duration"`
}

type automationHandler func(ctx context.Context, params map[string]string) AutomationOutcome

// AutomationEngine 自动化动作分发器
// 每个处理器遵循同样的 before/after 模式：读取目标资源当前状态，
// 执行变更，再次读取状态，无论成败都上报两份快照。
type AutomationEngine struct {
	directory directory.Interface
	vpn       vpnctl.Interface
	mail      mailer.Interface
	scripts   scriptrun.Interface
	logger    *logrus.Logger
	timeout   time.Duration

	handlers map[string]automationHandler

	// 按下游能力分组的熔断器，目录挂了不影响 VPN 修复
	breakers map[string]*CircuitBreaker

	// 同一受影响用户上的操作串行化，防止对同一账号的
	// 读-改-写快照互相交错
	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewAutomationEngine 创建自动化引擎
func NewAutomationEngine(
	dir directory.Interface,
	vpn vpnctl.Interface,
	mail mailer.Interface,
	scripts scriptrun.Interface,
	timeout time.Duration,
	logger *logrus.Logger,
) *AutomationEngine {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	e := &AutomationEngine{
		directory: dir,
		vpn:       vpn,
		mail:      mail,
		scripts:   scripts,
		logger:    logger,
		timeout:   timeout,
		userLocks: make(map[string]*sync.Mutex),
		breakers: map[string]*CircuitBreaker{
			capabilityDirectory: NewCircuitBreaker(DefaultBreakerConfig()),
			capabilityVPN:       NewCircuitBreaker(DefaultBreakerConfig()),
			capabilityScripts:   NewCircuitBreaker(DefaultBreakerConfig()),
		},
	}
	e.handlers = map[string]automationHandler{
		models.AutomationPasswordReset: e.executePasswordReset,
		models.AutomationUnlockAccount: e.executeAccountUnlock,
		models.AutomationResetVPNCreds: e.executeVPNReset,
		models.AutomationResetVPNConn:  e.executeVPNReset, // 同一修复路径的别名
		models.AutomationReconnectVPN:  e.executeVPNReset,
		models.AutomationRenewVPNCert:  e.executeVPNCertRenew,
		models.AutomationDiagnoseVPN:   e.executeVPNDiagnostics,
		models.AutomationEnforceCompl:  e.executeComplianceCheck,
		models.AutomationGrantAccess:   e.executeGrantAccess,
	}
	return e
}

// Execute 分发并执行一个自动化动作
// 未知类型返回失败结果而不是 panic；处理器内部的 panic 也会被
// 捕获并转成失败结果，绝不向编排器抛出原始异常。
func (e *AutomationEngine) Execute(ctx context.Context, automationType string, params map[string]string) AutomationOutcome {
	handler, ok := e.handlers[automationType]
	if !ok {
		return AutomationOutcome{
			Success: false,
			Error:   fmt.Sprintf("unknown automation type: %s", automationType),
		}
	}

	breaker := e.breakers[capabilityFor(automationType)]
	if breaker != nil && !breaker.Allow() {
		e.logger.Warnf("automation %s rejected: %s capability circuit open", automationType, capabilityFor(automationType))
		return AutomationOutcome{
			Success: false,
			Error:   fmt.Sprintf("%s capability temporarily unavailable", capabilityFor(automationType)),
		}
	}

	e.logger.Infof("starting automation %s (user=%s)", automationType, params["user_email"])

	if user := targetUser(params); user != "" {
		lock := e.lockFor(user)
		lock.Lock()
		defer lock.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	outcome := e.run(ctx, handler, params)
	outcome.Duration = time.Since(start).Seconds()

	if ctx.Err() == context.DeadlineExceeded && !outcome.Success {
		outcome.Error = fmt.Sprintf("automation timed out after %s", e.timeout)
		outcome.AfterState = nil
	}

	if outcome.Success {
		if breaker != nil {
			breaker.OnSuccess()
		}
		e.logger.Infof("automation %s succeeded in %.2fs", automationType, outcome.Duration)
	} else {
		if breaker != nil {
			breaker.OnFailure()
		}
		e.logger.Warnf("automation %s failed: %s", automationType, outcome.Error)
	}
	return outcome
}

func (e *AutomationEngine) run(ctx context.Context, handler automationHandler, params map[string]string) (outcome AutomationOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("automation handler panic: %v", r)
			outcome = AutomationOutcome{
				Success: false,
				Error:   fmt.Sprintf("internal error: %v", r),
			}
		}
	}()
	return handler(ctx, params)
}

func (e *AutomationEngine) lockFor(user string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.userLocks[user]
	if !ok {
		lock = &sync.Mutex{}
		e.userLocks[user] = lock
	}
	return lock
}

const (
	capabilityDirectory = "directory"
	capabilityVPN       = "vpn"
	capabilityScripts   = "scripts"
)

// capabilityFor 自动化类型到下游能力的映射
func capabilityFor(automationType string) string {
	switch automationType {
	case models.AutomationPasswordReset, models.AutomationUnlockAccount, models.AutomationGrantAccess:
		return capabilityDirectory
	case models.AutomationResetVPNCreds, models.AutomationResetVPNConn, models.AutomationReconnectVPN,
		models.AutomationRenewVPNCert, models.AutomationDiagnoseVPN:
		return capabilityVPN
	case models.AutomationEnforceCompl:
		return capabilityScripts
	default:
		return ""
	}
}

// CapabilityStats 各下游能力熔断器的运行快照
func (e *AutomationEngine) CapabilityStats() map[string]map[string]interface{} {
	stats := make(map[string]map[string]interface{}, len(e.breakers))
	for name, cb := range e.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}

func targetUser(params map[string]string) string {
	if u := params["user_email"]; u != "" {
		return u
	}
	return params["affected_user"]
}

func (e *AutomationEngine) executePasswordReset(ctx context.Context, params map[string]string) AutomationOutcome {
	user := targetUser(params)
	if user == "" {
		return AutomationOutcome{Success: false, Error: "no user email provided"}
	}

	before, err := e.directory.GetUser(ctx, user)
	if err != nil {
		return AutomationOutcome{Success: false, Error: err.Error()}
	}

	tempPassword, err := generateTempPassword()
	if err != nil {
		return AutomationOutcome{Success: false, Error: err.Error(), BeforeState: before}
	}

	if err := e.directory.ResetPassword(ctx, user, tempPassword); err != nil {
		return AutomationOutcome{Success: false, Error: err.Error(), BeforeState: before}
	}

	after, _ := e.directory.GetUser(ctx, user)

	// 通知失败不影响主操作结果
	if err := e.mail.SendTempPassword(user, tempPassword); err != nil {
		e.logger.Warnf("temp password notification to %s failed: %v", user, err)
	}

	return AutomationOutcome{
		Success:     true,
		Output:      fmt.Sprintf("Password reset for %s. Temporary password sent via email.", user),
		BeforeState: before,
		AfterState:  after,
	}
}

func (e *AutomationEngine) executeAccountUnlock(ctx context.Context, params map[string]string) AutomationOutcome {
	user := targetUser(params)
	if user == "" {
		return AutomationOutcome{Success: false, Error: "no user email provided"}
	}

	before, err := e.directory.GetUser(ctx, user)
	if err != nil {
		return AutomationOutcome{Success: false, Error: err.Error()}
	}

	// 仅在 accountEnabled 明确为 false 时才执行解锁
	if enabled, ok := before["accountEnabled"].(bool); !ok || enabled {
		return AutomationOutcome{
			Success:     true,
			Output:      fmt.Sprintf("Account %s is not locked. No action needed.", user),
			BeforeState: before,
			AfterState:  before,
		}
	}

	if err := e.directory.SetAccountEnabled(ctx, user, true); err != nil {
		return AutomationOutcome{Success: false, Error: err.Error(), BeforeState: before}
	}

	after, _ := e.directory.GetUser(ctx, user)

	if err := e.mail.SendAccountUnlocked(user); err != nil {
		e.logger.Warnf("unlock notification to %s failed: %v", user, err)
	}

	return AutomationOutcome{
		Success:     true,
		Output:      fmt.Sprintf("Account %s unlocked successfully.", user),
		BeforeState: before,
		AfterState:  after,
	}
}

func (e *AutomationEngine) executeVPNReset(ctx context.Context, params map[string]string) AutomationOutcome {
	user := targetUser(params)
	if user == "" {
		return AutomationOutcome{Success: false, Error: "no user email provided"}
	}

	before, err := e.vpn.GetStatus(ctx, user)
	if err != nil {
		return AutomationOutcome{Success: false, Error: err.Error()}
	}

	if _, err := e.vpn.ResetProfile(ctx, user); err != nil {
		return AutomationOutcome{Success: false, Error: err.Error(), BeforeState: before}
	}

	after, _ := e.vpn.GetStatus(ctx, user)

	return AutomationOutcome{
		Success:     true,
		Output:      fmt.Sprintf("VPN profile reset for %s.", user),
		BeforeState: before,
		AfterState:  after,
	}
}

func (e *AutomationEngine) executeVPNCertRenew(ctx context.Context, params map[string]string) AutomationOutcome {
	user := targetUser(params)
	if user == "" {
		return AutomationOutcome{Success: false, Error: "no user email provided"}
	}

	before, err := e.vpn.GetStatus(ctx, user)
	if err != nil {
		return AutomationOutcome{Success: false, Error: err.Error()}
	}

	if _, err := e.vpn.RenewCertificate(ctx, user); err != nil {
		return AutomationOutcome{Success: false, Error: err.Error(), BeforeState: before}
	}

	after, _ := e.vpn.GetStatus(ctx, user)

	return AutomationOutcome{
		Success:     true,
		Output:      fmt.Sprintf("VPN certificate renewed for %s.", user),
		BeforeState: before,
		AfterState:  after,
	}
}

// executeVPNDiagnostics 只读诊断，不改变任何状态
func (e *AutomationEngine) executeVPNDiagnostics(ctx context.Context, params map[string]string) AutomationOutcome {
	user := targetUser(params)
	if user == "" {
		return AutomationOutcome{Success: false, Error: "no user email provided"}
	}

	diag, err := e.vpn.RunDiagnostics(ctx, user)
	if err != nil {
		return AutomationOutcome{Success: false, Error: err.Error()}
	}

	out, _ := json.MarshalIndent(diag, "", "  ")
	return AutomationOutcome{
		Success:     true,
		Output:      string(out),
		BeforeState: diag,
	}
}

func (e *AutomationEngine) executeComplianceCheck(ctx context.Context, params map[string]string) AutomationOutcome {
	user := targetUser(params)
	device := params["device_name"]
	if user == "" && device == "" {
		return AutomationOutcome{Success: false, Error: "no user or device provided"}
	}

	res, err := e.scripts.Run(ctx, "Check-DeviceCompliance.ps1", map[string]string{
		"UserEmail":  user,
		"DeviceName": device,
	})
	if err != nil {
		return AutomationOutcome{Success: false, Error: err.Error()}
	}
	if res.ExitCode != 0 {
		return AutomationOutcome{Success: false, Error: res.Stderr, Output: res.Stdout}
	}

	return AutomationOutcome{
		Success:    true,
		Output:     res.Stdout,
		AfterState: res.Parsed,
	}
}

func (e *AutomationEngine) executeGrantAccess(ctx context.Context, params map[string]string) AutomationOutcome {
	user := targetUser(params)
	if user == "" {
		return AutomationOutcome{Success: false, Error: "no user email provided"}
	}
	group := params["group_name"]
	if group == "" {
		return AutomationOutcome{Success: false, Error: "no group specified for access grant"}
	}

	before, err := e.directory.GetUserGroups(ctx, user)
	if err != nil {
		return AutomationOutcome{Success: false, Error: err.Error()}
	}

	if err := e.directory.AddUserToGroup(ctx, user, group); err != nil {
		return AutomationOutcome{
			Success:     false,
			Error:       err.Error(),
			BeforeState: map[string]interface{}{"groups": before},
		}
	}

	after, _ := e.directory.GetUserGroups(ctx, user)

	return AutomationOutcome{
		Success:     true,
		Output:      fmt.Sprintf("User %s added to group %s.", user, group),
		BeforeState: map[string]interface{}{"groups": before},
		AfterState:  map[string]interface{}{"groups": after},
	}
}

const tempPasswordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%"

// generateTempPassword 生成 12 位临时密码
func generateTempPassword() (string, error) {
	buf := make([]byte, 12)
	max := big.NewInt(int64(len(tempPasswordAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate temp password: %w", err)
		}
		buf[i] = tempPasswordAlphabet[n.Int64()]
	}
	return string(buf), nil
}

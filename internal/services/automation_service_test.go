package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"resolvify/internal/models"
	"resolvify/pkg/scriptrun"

	"github.com/sirupsen/logrus"
)

type fakeDirectory struct {
	mu       sync.Mutex
	users    map[string]map[string]interface{}
	groups   map[string][]string
	resetErr error
	calls    []string
	delay    time.Duration
}

func (f *fakeDirectory) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDirectory) GetUser(ctx context.Context, email string) (map[string]interface{}, error) {
	f.record("GetUser:" + email)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	u, ok := f.users[email]
	if !ok {
		return nil, errors.New("user not found")
	}
	out := make(map[string]interface{}, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out, nil
}

func (f *fakeDirectory) ResetPassword(ctx context.Context, email, newPassword string) error {
	f.record("ResetPassword:" + email)
	if f.resetErr != nil {
		return f.resetErr
	}
	f.users[email]["passwordChangedAt"] = time.Now().Format(time.RFC3339)
	return nil
}

func (f *fakeDirectory) SetAccountEnabled(ctx context.Context, email string, enabled bool) error {
	f.record("SetAccountEnabled:" + email)
	f.users[email]["accountEnabled"] = enabled
	return nil
}

func (f *fakeDirectory) GetUserGroups(ctx context.Context, email string) ([]string, error) {
	f.record("GetUserGroups:" + email)
	return append([]string(nil), f.groups[email]...), nil
}

func (f *fakeDirectory) AddUserToGroup(ctx context.Context, email, groupName string) error {
	f.record("AddUserToGroup:" + email)
	f.groups[email] = append(f.groups[email], groupName)
	return nil
}

func (f *fakeDirectory) RevokeSessions(ctx context.Context, email string) error {
	f.record("RevokeSessions:" + email)
	return nil
}

func (f *fakeDirectory) Simulated() bool { return true }

type fakeVPN struct {
	statusErr error
	resetErr  error
	calls     []string
	mu        sync.Mutex
}

func (f *fakeVPN) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeVPN) GetStatus(ctx context.Context, email string) (map[string]interface{}, error) {
	f.record("GetStatus")
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return map[string]interface{}{"connected": false, "user": email}, nil
}

func (f *fakeVPN) ResetProfile(ctx context.Context, email string) (map[string]interface{}, error) {
	f.record("ResetProfile")
	if f.resetErr != nil {
		return nil, f.resetErr
	}
	return map[string]interface{}{"success": true}, nil
}

func (f *fakeVPN) RenewCertificate(ctx context.Context, email string) (map[string]interface{}, error) {
	f.record("RenewCertificate")
	return map[string]interface{}{"success": true}, nil
}

func (f *fakeVPN) RunDiagnostics(ctx context.Context, email string) (map[string]interface{}, error) {
	f.record("RunDiagnostics")
	return map[string]interface{}{"client_version": "2.5.1", "latency_ms": 45}, nil
}

func (f *fakeVPN) Disconnect(ctx context.Context, email string) (map[string]interface{}, error) {
	f.record("Disconnect")
	return map[string]interface{}{"success": true}, nil
}

func (f *fakeVPN) Simulated() bool { return true }

type fakeMailer struct {
	sent    []string
	sendErr error
	mu      sync.Mutex
}

func (f *fakeMailer) record(msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.sendErr
}

func (f *fakeMailer) SendTempPassword(to, tempPassword string) error {
	return f.record("temp_password:" + to)
}

func (f *fakeMailer) SendAccountUnlocked(to string) error {
	return f.record("unlocked:" + to)
}

func (f *fakeMailer) SendTicketResolved(to, ticketNumber, resolution string) error {
	return f.record("resolved:" + to)
}

type fakeScripts struct {
	result *scriptrun.Result
	err    error
}

func (f *fakeScripts) Run(ctx context.Context, scriptName string, params map[string]string) (*scriptrun.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeScripts) Enabled() bool { return true }

func newTestEngine(dir *fakeDirectory, vpn *fakeVPN, mail *fakeMailer, scripts *fakeScripts, timeout time.Duration) *AutomationEngine {
	if dir == nil {
		dir = &fakeDirectory{
			users:  map[string]map[string]interface{}{"bob@corp.example": {"accountEnabled": true}},
			groups: map[string][]string{},
		}
	}
	if vpn == nil {
		vpn = &fakeVPN{}
	}
	if mail == nil {
		mail = &fakeMailer{}
	}
	if scripts == nil {
		scripts = &fakeScripts{result: &scriptrun.Result{ExitCode: 0, Stdout: "ok"}}
	}
	return NewAutomationEngine(dir, vpn, mail, scripts, timeout, logrus.New())
}

func TestAutomationEngine_UnknownType(t *testing.T) {
	dir := &fakeDirectory{users: map[string]map[string]interface{}{}}
	e := newTestEngine(dir, nil, nil, nil, time.Second)

	out := e.Execute(context.Background(), "format_hard_drive", map[string]string{"user_email": "bob@corp.example"})
	if out.Success {
		t.Fatalf("unknown type must fail")
	}
	if !strings.Contains(out.Error, "unknown automation type") {
		t.Fatalf("error = %q", out.Error)
	}
	if len(dir.calls) != 0 {
		t.Fatalf("unknown type must not touch capability interfaces: %v", dir.calls)
	}
}

func TestAutomationEngine_PasswordReset(t *testing.T) {
	dir := &fakeDirectory{
		users:  map[string]map[string]interface{}{"bob@corp.example": {"accountEnabled": true}},
		groups: map[string][]string{},
	}
	mail := &fakeMailer{}
	e := newTestEngine(dir, nil, mail, nil, time.Second)

	out := e.Execute(context.Background(), models.AutomationPasswordReset, map[string]string{"user_email": "bob@corp.example"})
	if !out.Success {
		t.Fatalf("password reset failed: %s", out.Error)
	}
	if out.BeforeState == nil || out.AfterState == nil {
		t.Fatalf("missing state snapshots: %+v", out)
	}
	if _, ok := out.AfterState["passwordChangedAt"]; !ok {
		t.Fatalf("after state should reflect the mutation")
	}
	if len(mail.sent) != 1 || !strings.HasPrefix(mail.sent[0], "temp_password:") {
		t.Fatalf("expected temp password notification, got %v", mail.sent)
	}
}

func TestAutomationEngine_PasswordReset_NotificationFailureKeepsSuccess(t *testing.T) {
	dir := &fakeDirectory{
		users: map[string]map[string]interface{}{"bob@corp.example": {"accountEnabled": true}},
	}
	mail := &fakeMailer{sendErr: errors.New("smtp down")}
	e := newTestEngine(dir, nil, mail, nil, time.Second)

	out := e.Execute(context.Background(), models.AutomationPasswordReset, map[string]string{"user_email": "bob@corp.example"})
	if !out.Success {
		t.Fatalf("notification failure must not flip outcome: %s", out.Error)
	}
}

func TestAutomationEngine_PasswordReset_NoUser(t *testing.T) {
	e := newTestEngine(nil, nil, nil, nil, time.Second)
	out := e.Execute(context.Background(), models.AutomationPasswordReset, map[string]string{})
	if out.Success || !strings.Contains(out.Error, "no user email") {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestAutomationEngine_AccountUnlock(t *testing.T) {
	dir := &fakeDirectory{
		users: map[string]map[string]interface{}{"bob@corp.example": {"accountEnabled": false}},
	}
	mail := &fakeMailer{}
	e := newTestEngine(dir, nil, mail, nil, time.Second)

	out := e.Execute(context.Background(), models.AutomationUnlockAccount, map[string]string{"user_email": "bob@corp.example"})
	if !out.Success {
		t.Fatalf("unlock failed: %s", out.Error)
	}
	if enabled, _ := out.AfterState["accountEnabled"].(bool); !enabled {
		t.Fatalf("after state should show enabled account: %v", out.AfterState)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("expected unlock notification, got %v", mail.sent)
	}
}

func TestAutomationEngine_AccountUnlock_NotLockedNoop(t *testing.T) {
	dir := &fakeDirectory{
		users: map[string]map[string]interface{}{"bob@corp.example": {"accountEnabled": true}},
	}
	e := newTestEngine(dir, nil, nil, nil, time.Second)

	out := e.Execute(context.Background(), models.AutomationUnlockAccount, map[string]string{"user_email": "bob@corp.example"})
	if !out.Success || !strings.Contains(out.Output, "not locked") {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	for _, call := range dir.calls {
		if strings.HasPrefix(call, "SetAccountEnabled") {
			t.Fatalf("no mutation expected for unlocked account: %v", dir.calls)
		}
	}
}

func TestAutomationEngine_VPNResetAliases(t *testing.T) {
	for _, typ := range []string{
		models.AutomationResetVPNCreds,
		models.AutomationResetVPNConn,
		models.AutomationReconnectVPN,
	} {
		vpn := &fakeVPN{}
		e := newTestEngine(nil, vpn, nil, nil, time.Second)
		out := e.Execute(context.Background(), typ, map[string]string{"user_email": "bob@corp.example"})
		if !out.Success {
			t.Fatalf("%s failed: %s", typ, out.Error)
		}
		found := false
		for _, c := range vpn.calls {
			if c == "ResetProfile" {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s should reset the VPN profile, calls = %v", typ, vpn.calls)
		}
	}
}

func TestAutomationEngine_VPNDiagnosticsReadOnly(t *testing.T) {
	vpn := &fakeVPN{}
	e := newTestEngine(nil, vpn, nil, nil, time.Second)

	out := e.Execute(context.Background(), models.AutomationDiagnoseVPN, map[string]string{"user_email": "bob@corp.example"})
	if !out.Success {
		t.Fatalf("diagnostics failed: %s", out.Error)
	}
	if len(vpn.calls) != 1 || vpn.calls[0] != "RunDiagnostics" {
		t.Fatalf("diagnostics must be read-only, calls = %v", vpn.calls)
	}
	if !strings.Contains(out.Output, "client_version") {
		t.Fatalf("diagnostics output missing: %q", out.Output)
	}
}

func TestAutomationEngine_ComplianceScriptFailure(t *testing.T) {
	scripts := &fakeScripts{result: &scriptrun.Result{ExitCode: 1, Stderr: "policy engine unreachable"}}
	e := newTestEngine(nil, nil, nil, scripts, time.Second)

	out := e.Execute(context.Background(), models.AutomationEnforceCompl, map[string]string{"user_email": "bob@corp.example"})
	if out.Success || !strings.Contains(out.Error, "unreachable") {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestAutomationEngine_ComplianceParsedOutput(t *testing.T) {
	scripts := &fakeScripts{result: &scriptrun.Result{
		ExitCode: 0,
		Stdout:   `{"compliant": true}`,
		Parsed:   map[string]interface{}{"compliant": true},
	}}
	e := newTestEngine(nil, nil, nil, scripts, time.Second)

	out := e.Execute(context.Background(), models.AutomationEnforceCompl, map[string]string{"user_email": "bob@corp.example"})
	if !out.Success {
		t.Fatalf("compliance failed: %s", out.Error)
	}
	if v, _ := out.AfterState["compliant"].(bool); !v {
		t.Fatalf("parsed state missing: %v", out.AfterState)
	}
}

func TestAutomationEngine_GrantAccess(t *testing.T) {
	dir := &fakeDirectory{
		users:  map[string]map[string]interface{}{"bob@corp.example": {"accountEnabled": true}},
		groups: map[string][]string{"bob@corp.example": {"staff"}},
	}
	e := newTestEngine(dir, nil, nil, nil, time.Second)

	out := e.Execute(context.Background(), models.AutomationGrantAccess, map[string]string{
		"user_email": "bob@corp.example",
		"group_name": "finance",
	})
	if !out.Success {
		t.Fatalf("grant access failed: %s", out.Error)
	}
	after, _ := out.AfterState["groups"].([]string)
	if len(after) != 2 {
		t.Fatalf("after groups = %v", after)
	}

	// no group specified is an error, not a silent noop
	out = e.Execute(context.Background(), models.AutomationGrantAccess, map[string]string{"user_email": "bob@corp.example"})
	if out.Success || !strings.Contains(out.Error, "no group") {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestAutomationEngine_Timeout(t *testing.T) {
	dir := &fakeDirectory{
		users: map[string]map[string]interface{}{"bob@corp.example": {"accountEnabled": true}},
		delay: 500 * time.Millisecond,
	}
	e := newTestEngine(dir, nil, nil, nil, 50*time.Millisecond)

	out := e.Execute(context.Background(), models.AutomationPasswordReset, map[string]string{"user_email": "bob@corp.example"})
	if out.Success {
		t.Fatalf("timed out automation must fail")
	}
	if !strings.Contains(out.Error, "timed out") {
		t.Fatalf("error should indicate timeout: %q", out.Error)
	}
	if out.AfterState != nil {
		t.Fatalf("no partial after-state on timeout")
	}
}

func TestAutomationEngine_SameUserSerialized(t *testing.T) {
	dir := &fakeDirectory{
		users: map[string]map[string]interface{}{"bob@corp.example": {"accountEnabled": false}},
		delay: 20 * time.Millisecond,
	}
	e := newTestEngine(dir, nil, nil, nil, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Execute(context.Background(), models.AutomationUnlockAccount, map[string]string{"user_email": "bob@corp.example"})
		}()
	}
	wg.Wait()

	// serialized execution: at most one unlock mutation, the rest see an
	// already-enabled account
	mutations := 0
	for _, c := range dir.calls {
		if strings.HasPrefix(c, "SetAccountEnabled") {
			mutations++
		}
	}
	if mutations != 1 {
		t.Fatalf("expected exactly one unlock mutation, got %d (%v)", mutations, dir.calls)
	}
}

func TestGenerateTempPassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		pw, err := generateTempPassword()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(pw) != 12 {
			t.Fatalf("length = %d", len(pw))
		}
		if seen[pw] {
			t.Fatalf("duplicate password generated")
		}
		seen[pw] = true
	}
}

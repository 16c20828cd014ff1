package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"resolvify/internal/models"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute, HalfOpenMaxReqs: 1})

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("closed breaker rejected request %d", i)
		}
		cb.OnFailure()
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open breaker must reject requests")
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute, HalfOpenMaxReqs: 1})

	cb.OnFailure()
	cb.OnFailure()
	cb.OnSuccess()
	cb.OnFailure()
	cb.OnFailure()
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed (count reset by success)", cb.State())
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxReqs: 1})

	cb.OnFailure()
	if cb.Allow() {
		t.Fatal("breaker should be open right after tripping")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("breaker should allow a probe after the reset timeout")
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}
	if cb.Allow() {
		t.Fatal("only one probe allowed in half-open")
	}

	// failed probe snaps back to open
	cb.OnFailure()
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %s, want open after failed probe", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("breaker should allow another probe after second cooldown")
	}
	cb.OnSuccess()
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed after successful probe", cb.State())
	}
}

func TestEngineBreakerShedsDirectoryCalls(t *testing.T) {
	dir := &fakeDirectory{
		users:    map[string]map[string]interface{}{"bob@corp.example": {"accountEnabled": true}},
		groups:   map[string][]string{},
		resetErr: errors.New("directory unavailable"),
	}
	e := newTestEngine(dir, nil, nil, nil, time.Second)
	params := map[string]string{"user_email": "bob@corp.example"}

	for i := 0; i < DefaultBreakerConfig().MaxFailures; i++ {
		out := e.Execute(context.Background(), models.AutomationPasswordReset, params)
		if out.Success {
			t.Fatalf("attempt %d should fail while directory is down", i)
		}
	}

	before := len(dir.calls)
	out := e.Execute(context.Background(), models.AutomationPasswordReset, params)
	if out.Success {
		t.Fatal("execute must fail while circuit is open")
	}
	if !strings.Contains(out.Error, "temporarily unavailable") {
		t.Fatalf("error = %q, want circuit-open rejection", out.Error)
	}
	if len(dir.calls) != before {
		t.Fatal("open circuit must not reach the directory client")
	}

	stats := e.CapabilityStats()
	if stats[capabilityDirectory]["state"] != "open" {
		t.Fatalf("directory breaker state = %v, want open", stats[capabilityDirectory]["state"])
	}
	if stats[capabilityVPN]["state"] != "closed" {
		t.Fatalf("vpn breaker state = %v, want closed", stats[capabilityVPN]["state"])
	}
}

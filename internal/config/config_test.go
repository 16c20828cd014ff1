package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Host == "" {
		t.Error("expected Server.Host to be set")
	}
	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.Database.Name == "" {
		t.Error("expected Database.Name to be set")
	}
	if cfg.JWT.Secret == "" {
		t.Error("expected JWT.Secret to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}
}

func TestConfig_DatabaseSettings(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Database.MaxOpenConns == 0 {
		t.Error("expected MaxOpenConns to be set")
	}
	if cfg.Database.MaxIdleConns == 0 {
		t.Error("expected MaxIdleConns to be set")
	}
	if cfg.Database.ConnMaxLifetime < time.Minute {
		t.Error("connection max lifetime should be at least 1 minute")
	}
}

func TestConfig_AutomationDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if !cfg.Automation.Enabled {
		t.Error("expected automation to be enabled by default")
	}
	if cfg.Automation.AutoResolveThreshold <= 0 || cfg.Automation.AutoResolveThreshold > 1 {
		t.Errorf("auto resolve threshold = %v, want (0,1]", cfg.Automation.AutoResolveThreshold)
	}
	if cfg.Automation.MaxRetries == 0 {
		t.Error("expected max retries to be set")
	}
	if cfg.Automation.Timeout < time.Second {
		t.Error("automation timeout should be at least 1 second")
	}
	if cfg.Automation.StuckTicketAge == 0 {
		t.Error("expected stuck ticket age to be set")
	}
	if cfg.Automation.StuckSweepSchedule == "" {
		t.Error("expected stuck sweep schedule to be set")
	}
}

func TestConfig_QueueDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Queue.Workers == 0 {
		t.Error("expected queue workers to be set")
	}
	if cfg.Queue.BufferSize == 0 {
		t.Error("expected queue buffer size to be set")
	}
	if cfg.Queue.MaxRedeliver == 0 {
		t.Error("expected queue max redeliver to be set")
	}
}

func TestConfig_CapabilityClients(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Directory.BaseURL == "" {
		t.Error("expected directory base URL to be set")
	}
	if cfg.Directory.Timeout == 0 {
		t.Error("expected directory timeout to be set")
	}
	if cfg.VPN.Timeout == 0 {
		t.Error("expected VPN timeout to be set")
	}
	if cfg.Email.SMTPServer == "" {
		t.Error("expected SMTP server to be set")
	}
	if cfg.Email.SMTPPort == 0 {
		t.Error("expected SMTP port to be set")
	}
	if cfg.Scripts.InterpreterPath == "" {
		t.Error("expected script interpreter path to be set")
	}
}

func TestConfig_SecurityDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if !cfg.Security.CORS.Enabled {
		t.Error("expected CORS to be enabled")
	}
	if len(cfg.Security.CORS.AllowedOrigins) == 0 {
		t.Error("expected allowed origins to be set")
	}
	if len(cfg.Security.CORS.AllowedMethods) == 0 {
		t.Error("expected allowed methods to be set")
	}
	if !cfg.Security.RateLimiting.Enabled {
		t.Error("expected rate limiting to be enabled")
	}
	if cfg.Security.RateLimiting.RequestsPerMinute == 0 {
		t.Error("expected requests per minute to be set")
	}
}

func TestConfig_Monitoring(t *testing.T) {
	cfg := GetDefaultConfig()

	if !cfg.Monitoring.Enabled {
		t.Error("expected monitoring to be enabled")
	}
	if cfg.Monitoring.MetricsPath == "" {
		t.Error("expected metrics path to be set")
	}
	if cfg.Monitoring.Tracing.SampleRatio <= 0 {
		t.Error("expected tracing sample ratio to be set")
	}
	if cfg.Monitoring.Tracing.ServiceName == "" {
		t.Error("expected tracing service name to be set")
	}
}

func TestLoad_BindsUnderscoredKeys(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.SetConfigType("yaml")
	raw := `
database:
  max_open_conns: 42
  max_idle_conns: 7
  conn_max_lifetime: 90s
automation:
  auto_resolve_threshold: 0.65
  max_retries: 5
  stuck_ticket_age: 45m
  stuck_sweep_schedule: "@every 10m"
queue:
  max_redeliver: 9
`
	if err := viper.ReadConfig(strings.NewReader(raw)); err != nil {
		t.Fatalf("read config: %v", err)
	}

	cfg := Load()
	if cfg.Database.MaxOpenConns != 42 {
		t.Errorf("MaxOpenConns = %d, want 42", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns != 7 {
		t.Errorf("MaxIdleConns = %d, want 7", cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime != 90*time.Second {
		t.Errorf("ConnMaxLifetime = %v, want 90s", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Automation.AutoResolveThreshold != 0.65 {
		t.Errorf("AutoResolveThreshold = %v, want 0.65", cfg.Automation.AutoResolveThreshold)
	}
	if cfg.Automation.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Automation.MaxRetries)
	}
	if cfg.Automation.StuckTicketAge != 45*time.Minute {
		t.Errorf("StuckTicketAge = %v, want 45m", cfg.Automation.StuckTicketAge)
	}
	if cfg.Automation.StuckSweepSchedule != "@every 10m" {
		t.Errorf("StuckSweepSchedule = %q, want @every 10m", cfg.Automation.StuckSweepSchedule)
	}
	if cfg.Queue.MaxRedeliver != 9 {
		t.Errorf("MaxRedeliver = %d, want 9", cfg.Queue.MaxRedeliver)
	}
}

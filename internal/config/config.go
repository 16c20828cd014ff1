package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Automation AutomationConfig `yaml:"automation" mapstructure:"automation"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Directory  DirectoryConfig  `yaml:"directory" mapstructure:"directory"`
	VPN        VPNConfig        `yaml:"vpn" mapstructure:"vpn"`
	Email      EmailConfig      `yaml:"email" mapstructure:"email"`
	Scripts    ScriptsConfig    `yaml:"scripts" mapstructure:"scripts"`
	JWT        JWTConfig        `yaml:"jwt" mapstructure:"jwt"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Security   SecurityConfig   `yaml:"security" mapstructure:"security"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Name            string        `yaml:"name" mapstructure:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// AutomationConfig 自动化相关的全局开关
type AutomationConfig struct {
	Enabled                    bool          `yaml:"enabled" mapstructure:"enabled"`                                             // 总开关：关闭后所有工单走人工
	AutoResolveThreshold       float64       `yaml:"auto_resolve_threshold" mapstructure:"auto_resolve_threshold"`               // 分类置信度阈值（分类器使用）
	RequireApprovalForCritical bool          `yaml:"require_approval_for_critical" mapstructure:"require_approval_for_critical"` // critical 风险强制审批
	MaxRetries                 int           `yaml:"max_retries" mapstructure:"max_retries"`
	Timeout                    time.Duration `yaml:"timeout" mapstructure:"timeout"` // 单次自动化执行的硬超时
	StuckTicketAge             time.Duration `yaml:"stuck_ticket_age" mapstructure:"stuck_ticket_age"`
	StuckSweepSchedule         string        `yaml:"stuck_sweep_schedule" mapstructure:"stuck_sweep_schedule"` // cron 表达式
}

type QueueConfig struct {
	Workers      int `yaml:"workers" mapstructure:"workers"`
	BufferSize   int `yaml:"buffer_size" mapstructure:"buffer_size"`
	MaxRedeliver int `yaml:"max_redeliver" mapstructure:"max_redeliver"` // 队列级重投上限，与业务 retry_count 分开计数
}

type DirectoryConfig struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	TenantID     string        `yaml:"tenant_id" mapstructure:"tenant_id"`
	ClientID     string        `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string        `yaml:"client_secret" mapstructure:"client_secret"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type VPNConfig struct {
	APIURL  string        `yaml:"api_url" mapstructure:"api_url"`
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type EmailConfig struct {
	SMTPServer string `yaml:"smtp_server" mapstructure:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port" mapstructure:"smtp_port"`
	Username   string `yaml:"username" mapstructure:"username"`
	Password   string `yaml:"password" mapstructure:"password"`
	FromName   string `yaml:"from_name" mapstructure:"from_name"`
}

type ScriptsConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	InterpreterPath string `yaml:"interpreter_path" mapstructure:"interpreter_path"`
	ScriptDir       string `yaml:"script_dir" mapstructure:"script_dir"`
}

type JWTConfig struct {
	Secret    string        `yaml:"secret" mapstructure:"secret"`
	ExpiresIn time.Duration `yaml:"expires_in" mapstructure:"expires_in"`
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"` // json, text
	Output     string `yaml:"output" mapstructure:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // MB
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // days
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // number of backup files
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // compress backup files
}

type MonitoringConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	MetricsPath string        `yaml:"metrics_path" mapstructure:"metrics_path"`
	Tracing     TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"` // OTLP gRPC 端点
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
}

type SecurityConfig struct {
	CORS         CORSConfig         `yaml:"cors" mapstructure:"cors"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

type RateLimitingConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int  `yaml:"burst" mapstructure:"burst"`
}

func Load() *Config {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	return &config
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "resolvify",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Automation: AutomationConfig{
			Enabled:                    true,
			AutoResolveThreshold:       0.8,
			RequireApprovalForCritical: true,
			MaxRetries:                 2,
			Timeout:                    300 * time.Second,
			StuckTicketAge:             15 * time.Minute,
			StuckSweepSchedule:         "@every 5m",
		},
		Queue: QueueConfig{
			Workers:      4,
			BufferSize:   256,
			MaxRedeliver: 3,
		},
		Directory: DirectoryConfig{
			BaseURL: "https://graph.microsoft.com/v1.0",
			Timeout: 30 * time.Second,
		},
		VPN: VPNConfig{
			Timeout: 30 * time.Second,
		},
		Email: EmailConfig{
			SMTPServer: "smtp.office365.com",
			SMTPPort:   587,
			FromName:   "IT Support Automation",
		},
		Scripts: ScriptsConfig{
			Enabled:         true,
			InterpreterPath: "/usr/local/bin/pwsh",
			ScriptDir:       "./scripts",
		},
		JWT: JWTConfig{
			Secret:    "default-secret-key",
			ExpiresIn: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "both",
			FilePath:   "./logs/resolvify.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "resolvify",
			},
		},
		Security: SecurityConfig{
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE"},
				AllowedHeaders: []string{"*"},
			},
			RateLimiting: RateLimitingConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             10,
			},
		},
	}
}

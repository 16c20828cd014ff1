package vpnctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client VPN 管理系统 HTTP 客户端
// 未配置 API 地址或密钥时进入模拟模式，返回确定性的固定形状数据。
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// Interface 定义编排器使用的 VPN 管理能力
type Interface interface {
	GetStatus(ctx context.Context, email string) (map[string]interface{}, error)
	ResetProfile(ctx context.Context, email string) (map[string]interface{}, error)
	RenewCertificate(ctx context.Context, email string) (map[string]interface{}, error)
	RunDiagnostics(ctx context.Context, email string) (map[string]interface{}, error)
	Disconnect(ctx context.Context, email string) (map[string]interface{}, error)
	Simulated() bool
}

type Config struct {
	APIURL  string
	APIKey  string
	Timeout time.Duration
}

// NewClient 创建 VPN 管理客户端
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = &Config{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		apiURL: strings.TrimRight(config.APIURL, "/"),
		apiKey: config.APIKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (c *Client) Simulated() bool {
	return c.apiURL == "" || c.apiKey == ""
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) (map[string]interface{}, error) {
	if c.Simulated() {
		c.logger.Debugf("vpnctl: simulated %s %s", method, endpoint)
		return simulatedResponse(endpoint), nil
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("VPN API: %s %s -> %d", method, endpoint, resp.StatusCode)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("VPN API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return result, nil
}

// GetStatus 查询用户的 VPN 连接状态
func (c *Client) GetStatus(ctx context.Context, email string) (map[string]interface{}, error) {
	return c.doRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(email)+"/vpn-status", nil)
}

// ResetProfile 重置用户的 VPN 配置/凭据
func (c *Client) ResetProfile(ctx context.Context, email string) (map[string]interface{}, error) {
	return c.doRequest(ctx, http.MethodPost, "/users/"+url.PathEscape(email)+"/reset",
		map[string]string{"action": "reset_profile"})
}

// RenewCertificate 为用户续期 VPN 证书
func (c *Client) RenewCertificate(ctx context.Context, email string) (map[string]interface{}, error) {
	return c.doRequest(ctx, http.MethodPost, "/users/"+url.PathEscape(email)+"/certificate",
		map[string]string{"action": "renew_certificate"})
}

// RunDiagnostics 对用户连接执行只读诊断
func (c *Client) RunDiagnostics(ctx context.Context, email string) (map[string]interface{}, error) {
	return c.doRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(email)+"/diagnostics", nil)
}

// Disconnect 断开用户当前 VPN 会话
func (c *Client) Disconnect(ctx context.Context, email string) (map[string]interface{}, error) {
	return c.doRequest(ctx, http.MethodPost, "/users/"+url.PathEscape(email)+"/session",
		map[string]string{"action": "disconnect"})
}

// simulatedResponse 按端点返回固定数据，结果对相同输入是确定的
func simulatedResponse(endpoint string) map[string]interface{} {
	switch {
	case strings.Contains(endpoint, "vpn-status"):
		return map[string]interface{}{
			"success":            true,
			"connected":          false,
			"last_connection":    "2024-12-10T10:30:00Z",
			"certificate_expiry": "2025-06-15T00:00:00Z",
		}
	case strings.Contains(endpoint, "reset"):
		return map[string]interface{}{
			"success":         true,
			"message":         "VPN profile reset successfully",
			"new_credentials": "sent_via_email",
		}
	case strings.Contains(endpoint, "certificate"):
		return map[string]interface{}{
			"success": true,
			"message": "Certificate renewed successfully",
			"expiry":  "2026-01-01T00:00:00Z",
		}
	case strings.Contains(endpoint, "diagnostics"):
		return map[string]interface{}{
			"success": true,
			"diagnostics": map[string]interface{}{
				"client_version":       "2.5.1",
				"server_reachable":     true,
				"authentication_valid": true,
				"certificate_valid":    true,
				"network_latency_ms":   45,
				"issues_found":         []interface{}{},
			},
		}
	case strings.Contains(endpoint, "session"):
		return map[string]interface{}{
			"success": true,
			"message": "User disconnected successfully",
		}
	}
	return map[string]interface{}{"success": true, "message": "Simulated operation completed"}
}

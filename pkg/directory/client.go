package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client 目录服务（Microsoft Graph 风格）HTTP 客户端
type Client struct {
	baseURL    string
	tenantID   string
	clientID   string
	secret     string
	httpClient *http.Client
	logger     *logrus.Logger

	mu    sync.Mutex
	token string
}

// Interface 定义编排器使用的目录服务能力
type Interface interface {
	// 用户查询与变更
	GetUser(ctx context.Context, email string) (map[string]interface{}, error)
	ResetPassword(ctx context.Context, email, newPassword string) error
	SetAccountEnabled(ctx context.Context, email string, enabled bool) error

	// 组管理
	GetUserGroups(ctx context.Context, email string) ([]string, error)
	AddUserToGroup(ctx context.Context, email, groupName string) error

	// 会话吊销
	RevokeSessions(ctx context.Context, email string) error

	// Simulated 为 true 时客户端未配置凭据，返回确定性的模拟数据
	Simulated() bool
}

type Config struct {
	BaseURL      string
	TenantID     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://graph.microsoft.com/v1.0",
		Timeout: 30 * time.Second,
	}
}

// NewClient 创建目录服务客户端
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		tenantID: config.TenantID,
		clientID: config.ClientID,
		secret:   config.ClientSecret,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (c *Client) Simulated() bool {
	return c.clientID == "" || c.secret == "" || c.tenantID == ""
}

// 私有方法：获取访问令牌（client credentials）
func (c *Client) acquireToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.secret)
	form.Set("scope", "https://graph.microsoft.com/.default")

	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("token request failed [%d]: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}

	c.token = tokenResp.AccessToken
	return c.token, nil
}

// 私有方法：执行带认证的 Graph 请求
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	token, err := c.acquireToken(ctx)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("Directory API: %s %s -> %d", method, endpoint, resp.StatusCode)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("directory API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// GetUser 查询用户的目录记录
func (c *Client) GetUser(ctx context.Context, email string) (map[string]interface{}, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if c.Simulated() {
		return simulatedUser(email), nil
	}

	var user map[string]interface{}
	if err := c.doRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(email), nil, &user); err != nil {
		return nil, err
	}
	return user, nil
}

// ResetPassword 重置用户密码，并强制下次登录时修改
func (c *Client) ResetPassword(ctx context.Context, email, newPassword string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if c.Simulated() {
		c.logger.Infof("directory: simulated password reset for %s", email)
		return nil
	}

	body := map[string]interface{}{
		"passwordProfile": map[string]interface{}{
			"forceChangePasswordNextSignIn": true,
			"password":                      newPassword,
		},
	}
	return c.doRequest(ctx, http.MethodPatch, "/users/"+url.PathEscape(email), body, nil)
}

// SetAccountEnabled 启用/禁用账号
func (c *Client) SetAccountEnabled(ctx context.Context, email string, enabled bool) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if c.Simulated() {
		c.logger.Infof("directory: simulated account enable=%v for %s", enabled, email)
		return nil
	}

	body := map[string]interface{}{"accountEnabled": enabled}
	return c.doRequest(ctx, http.MethodPatch, "/users/"+url.PathEscape(email), body, nil)
}

// GetUserGroups 查询用户的组关系
func (c *Client) GetUserGroups(ctx context.Context, email string) ([]string, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if c.Simulated() {
		return []string{"All Users", "VPN Users"}, nil
	}

	var resp struct {
		Value []struct {
			DisplayName string `json:"displayName"`
		} `json:"value"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(email)+"/memberOf", nil, &resp); err != nil {
		return nil, err
	}
	groups := make([]string, 0, len(resp.Value))
	for _, g := range resp.Value {
		groups = append(groups, g.DisplayName)
	}
	return groups, nil
}

// AddUserToGroup 将用户加入指定组
func (c *Client) AddUserToGroup(ctx context.Context, email, groupName string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if groupName == "" {
		return fmt.Errorf("group name is required")
	}
	if c.Simulated() {
		c.logger.Infof("directory: simulated add %s to group %s", email, groupName)
		return nil
	}

	// 先按显示名查组 ID
	var groupsResp struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	filter := url.QueryEscape(fmt.Sprintf("displayName eq '%s'", groupName))
	if err := c.doRequest(ctx, http.MethodGet, "/groups?$filter="+filter, nil, &groupsResp); err != nil {
		return err
	}
	if len(groupsResp.Value) == 0 {
		return fmt.Errorf("group %s not found", groupName)
	}
	groupID := groupsResp.Value[0].ID

	user, err := c.GetUser(ctx, email)
	if err != nil {
		return err
	}
	userID, _ := user["id"].(string)
	if userID == "" {
		return fmt.Errorf("user %s has no directory id", email)
	}

	body := map[string]interface{}{
		"@odata.id": fmt.Sprintf("%s/directoryObjects/%s", c.baseURL, userID),
	}
	return c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/groups/%s/members/$ref", groupID), body, nil)
}

// RevokeSessions 吊销用户的全部刷新令牌（强制重新认证）
func (c *Client) RevokeSessions(ctx context.Context, email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if c.Simulated() {
		c.logger.Infof("directory: simulated session revocation for %s", email)
		return nil
	}
	return c.doRequest(ctx, http.MethodPost, "/users/"+url.PathEscape(email)+"/revokeSignInSessions", nil, nil)
}

// simulatedUser 返回固定形状的用户记录，字段与 Graph 用户对象对齐
func simulatedUser(email string) map[string]interface{} {
	return map[string]interface{}{
		"id":                "00000000-0000-0000-0000-000000000001",
		"userPrincipalName": email,
		"displayName":       strings.Split(email, "@")[0],
		"accountEnabled":    true,
		"mail":              email,
	}
}

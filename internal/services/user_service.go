package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resolvify/internal/config"
	"resolvify/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrUserDisabled       = errors.New("user account is disabled")
)

// UserService 用户与认证服务
type UserService struct {
	db     *gorm.DB
	jwt    config.JWTConfig
	logger *logrus.Logger
}

// NewUserService 创建用户服务
func NewUserService(db *gorm.DB, jwt config.JWTConfig, logger *logrus.Logger) *UserService {
	if logger == nil {
		logger = logrus.New()
	}
	return &UserService{db: db, jwt: jwt, logger: logger}
}

// CreateUserRequest 创建用户请求
type CreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required"`
	FullName string `json:"full_name"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"omitempty,oneof=admin technician viewer"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// CreateUser 创建用户
func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest) (*models.User, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? OR username = ?", req.Email, req.Username).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = models.RoleViewer
	}

	user := &models.User{
		Email:          req.Email,
		Username:       req.Username,
		FullName:       req.FullName,
		HashedPassword: string(hashed),
		Role:           role,
		IsActive:       true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	s.logger.Infof("user %s created (role=%s)", user.Username, user.Role)
	return user, nil
}

// Authenticate 校验用户名密码，成功后更新最近登录时间
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", username, username).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}
	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login", now).Error; err != nil {
		s.logger.Warnf("last_login update for %s failed: %v", user.Username, err)
	}
	return &user, nil
}

// IssueToken 为用户签发 HS256 访问令牌
func (s *UserService) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	payload := map[string]interface{}{
		"user_id": user.ID,
		"sub":     fmt.Sprintf("%d", user.ID),
		"roles":   []string{user.Role},
		"iat":     now.Unix(),
		"exp":     now.Add(s.jwt.ExpiresIn).Unix(),
	}
	return SignHS256(payload, s.jwt.Secret)
}

// GetByID 按 ID 取用户
func (s *UserService) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// List 全部用户
func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("id asc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// SetActive 启用/停用用户
func (s *UserService) SetActive(ctx context.Context, id uint, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SignHS256 签发 HS256 JWT
func SignHS256(payload map[string]interface{}, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	headerB64 := base64.RawURLEncoding.EncodeToString(headerJSON)
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadJSON)
	signingInput := headerB64 + "." + payloadB64

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return signingInput + "." + sig, nil
}

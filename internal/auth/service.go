package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mailsync/backend/internal/auth/jwt"
	"mailsync/backend/internal/config"
	"mailsync/backend/internal/domain"
	"mailsync/backend/internal/storage"
)

// ErrManagerInactive 管理员已被停用
var ErrManagerInactive = fmt.Errorf("manager is inactive: %w", domain.ErrInvalidCredentials)

// Service 管理员认证服务
type Service struct {
	managers storage.ManagerRepository
	tokens   *jwt.Manager
	log      *zap.Logger
}

// NewTokenManager 根据配置创建 JWT 管理器
func NewTokenManager(cfg config.JWTConfig) *jwt.Manager {
	return jwt.NewManager(cfg.Secret, cfg.Issuer, cfg.AccessExpiry, cfg.RefreshExpiry)
}

// NewService 创建认证服务
func NewService(managers storage.ManagerRepository, tokens *jwt.Manager, log *zap.Logger) *Service {
	return &Service{
		managers: managers,
		tokens:   tokens,
		log:      log,
	}
}

// Tokens 返回 JWT 管理器，供中间件校验令牌
func (s *Service) Tokens() *jwt.Manager {
	return s.tokens
}

// LoginResult 登录结果
type LoginResult struct {
	Manager *domain.Manager `json:"gerente"`
	*jwt.TokenPair
}

// Login 校验邮箱与密码并签发令牌
//
// 邮箱不存在与密码错误返回同一个错误。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	manager, err := s.managers.GetManagerByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if !CheckPassword(password, manager.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	if !manager.Active {
		return nil, ErrManagerInactive
	}

	pair, err := s.tokens.GenerateTokenPair(manager.ID, manager.Email)
	if err != nil {
		return nil, err
	}

	if err := s.managers.UpdateLastLogin(ctx, manager.ID); err != nil {
		s.log.Warn("failed to update last login", zap.String("manager_id", manager.ID), zap.Error(err))
	}

	s.log.Info("manager logged in", zap.String("manager_id", manager.ID))
	return &LoginResult{Manager: manager, TokenPair: pair}, nil
}

// Refresh 使用刷新令牌签发新的令牌对
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*jwt.TokenPair, error) {
	claims, err := s.tokens.ValidateToken(refreshToken, jwt.KindRefresh)
	if err != nil {
		return nil, err
	}

	// 停用或已删除的管理员不能续期
	manager, err := s.managers.GetManager(ctx, claims.ManagerID)
	if err != nil || !manager.Active {
		return nil, jwt.ErrInvalidToken
	}
	return s.tokens.GenerateTokenPair(manager.ID, manager.Email)
}

// Me 返回当前管理员
func (s *Service) Me(ctx context.Context, managerID string) (*domain.Manager, error) {
	return s.managers.GetManager(ctx, managerID)
}

// CreateManager 创建管理员
func (s *Service) CreateManager(ctx context.Context, email, password, name string) (*domain.Manager, error) {
	email = normalizeEmail(email)
	if !domain.ValidateEmail(email) {
		return nil, fmt.Errorf("%w: invalid email", domain.ErrValidation)
	}
	if err := domain.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	manager := &domain.Manager{
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Active:       true,
	}
	if err := s.managers.CreateManager(ctx, manager); err != nil {
		return nil, err
	}

	s.log.Info("manager created", zap.String("manager_id", manager.ID), zap.String("email", email))
	return manager, nil
}

// SeedDefault 没有任何管理员时创建默认管理员
//
// 邮箱或密码为空时跳过，返回是否创建。
func (s *Service) SeedDefault(ctx context.Context, email, password, name string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}
	count, err := s.managers.CountManagers(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.CreateManager(ctx, email, password, name); err != nil {
		return false, err
	}
	return true, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

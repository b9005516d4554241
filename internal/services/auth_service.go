package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"gorm.io/gorm"

	"chatsync/internal/auth"
	"chatsync/internal/config"
	"chatsync/internal/models"
	"chatsync/internal/storage"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

const minPasswordLen = 8

// AuthService 定义了用户认证服务的接口。
type AuthService interface {
	Register(ctx context.Context, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (token string, user *models.User, err error)
	// Logout 把 token 的 jti 放入黑名单，直到它原本的过期时间。
	Logout(ctx context.Context, claims *auth.Claims) error
	// ResolveSession 校验 token 并返回对应的用户和资料；资料尚未创建时 profile 为 nil。
	ResolveSession(ctx context.Context, token string) (*models.User, *models.Profile, error)
}

// authService 是 AuthService 的实现。
type authService struct {
	userRepo    storage.UserRepository
	profileRepo storage.ProfileRepository
	blacklist   auth.TokenBlacklist
	cfg         config.AuthConfig
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(userRepo storage.UserRepository, profileRepo storage.ProfileRepository,
	blacklist auth.TokenBlacklist, cfg config.AuthConfig) AuthService {
	return &authService{
		userRepo:    userRepo,
		profileRepo: profileRepo,
		blacklist:   blacklist,
		cfg:         cfg,
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Register 处理用户注册逻辑。
func (s *authService) Register(ctx context.Context, email, password string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLen {
		return nil, ErrPasswordTooShort
	}
	if len(password) > auth.MaxPasswordBytes {
		return nil, ErrPasswordTooLong
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("密码哈希失败: %w", err)
	}

	newUser := &models.User{
		Email:        email,
		PasswordHash: hashedPassword,
	}
	// 唯一索引保证并发注册只有一个成功
	if err := s.userRepo.Create(ctx, newUser); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserAlreadyExists
		}
		return nil, storeErr(err, nil)
	}

	logger.Info("user registered", "userId", newUser.ID)
	return newUser, nil
}

// Login 处理用户登录逻辑。邮箱不存在和密码错误返回同一个错误。
func (s *authService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}

	user, err := retryRead(ctx, "users.by_email", func(ctx context.Context) (*models.User, error) {
		u, err := s.userRepo.GetByEmail(ctx, email)
		return u, storeErr(err, ErrInvalidCredentials)
	})
	if err != nil {
		return "", nil, err
	}

	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, _, err := auth.GenerateToken(user.ID, user.Email, s.cfg)
	if err != nil {
		return "", nil, fmt.Errorf("生成令牌失败: %w", err)
	}
	return token, user, nil
}

func (s *authService) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.ID == "" {
		return ErrInvalidSession
	}
	if s.blacklist == nil {
		return nil
	}
	if err := s.blacklist.Add(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
		return apperrors.Upstream(err, "failed to revoke token")
	}
	return nil
}

func (s *authService) ResolveSession(ctx context.Context, token string) (*models.User, *models.Profile, error) {
	claims, err := auth.ValidateToken(ctx, token, s.cfg.JWTSecretKey, s.blacklist)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		logger.Debug("session rejected", "error", err)
		return nil, nil, ErrInvalidSession
	}

	user, err := retryRead(ctx, "users.get", func(ctx context.Context) (*models.User, error) {
		u, err := s.userRepo.GetByID(ctx, claims.UserID)
		// 账号不存在的 token 视为无效会话
		return u, storeErr(err, ErrInvalidSession)
	})
	if err != nil {
		return nil, nil, err
	}

	profile, err := retryRead(ctx, "profiles.get", func(ctx context.Context) (*models.Profile, error) {
		p, err := s.profileRepo.GetByUserID(ctx, user.ID)
		return p, storeErr(err, ErrProfileNotFound)
	})
	if errors.Is(err, ErrProfileNotFound) {
		return user, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return user, profile, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chatsync/internal/config"
	"chatsync/pkg/logger"
)

// SessionEventType 会话变更的种类。
type SessionEventType string

const (
	SessionEstablished SessionEventType = "established"
	SessionRefreshed   SessionEventType = "refreshed"
	SessionCleared     SessionEventType = "cleared"
)

// SessionEvent 在会话建立、刷新或清除时发出。Cleared 事件的 Token 为空。
type SessionEvent struct {
	Type  SessionEventType
	Token string
}

// ErrNoSession 表示当前没有可刷新的会话。
var ErrNoSession = errors.New("no active session")

// TokenSession 持有一个客户端的 JWT 会话。
// 每个 websocket 连接或每次 session 请求各自持有一个实例。
type TokenSession struct {
	cfg       config.AuthConfig
	blacklist TokenBlacklist

	mu     sync.Mutex
	token  string
	claims *Claims

	listenersMu sync.Mutex
	listeners   map[int]func(SessionEvent)
	nextID      int
}

// NewTokenSession 创建一个空会话。blacklist 可以为 nil。
func NewTokenSession(cfg config.AuthConfig, blacklist TokenBlacklist) *TokenSession {
	return &TokenSession{
		cfg:       cfg,
		blacklist: blacklist,
		listeners: make(map[int]func(SessionEvent)),
	}
}

// Establish 校验 token 并将其设为当前会话。
func (s *TokenSession) Establish(ctx context.Context, token string) (*Claims, error) {
	claims, err := ValidateToken(ctx, token, s.cfg.JWTSecretKey, s.blacklist)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.token = token
	s.claims = claims
	s.mu.Unlock()

	s.emit(SessionEvent{Type: SessionEstablished, Token: token})
	return claims, nil
}

// CurrentSession 返回当前 token，并重新校验它。
// token 已过期或被吊销时清除会话并返回空字符串；黑名单不可用等错误原样返回，会话保持不变。
func (s *TokenSession) CurrentSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return "", nil
	}

	if _, err := ValidateToken(ctx, token, s.cfg.JWTSecretKey, s.blacklist); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRejection(err) {
			return "", err
		}
		logger.Debug("session no longer valid", "error", err)
		s.clear(token)
		return "", nil
	}
	return token, nil
}

// Claims 返回当前会话的声明；没有会话时返回 nil。
func (s *TokenSession) Claims() *Claims {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims
}

// Refresh 重新校验当前 token 并签发一个新的，旧 token 进入黑名单。
func (s *TokenSession) Refresh(ctx context.Context) (string, error) {
	token, err := s.CurrentSession(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNoSession
	}

	s.mu.Lock()
	old := s.claims
	s.mu.Unlock()

	next, claims, err := GenerateToken(old.UserID, old.Email, s.cfg)
	if err != nil {
		return "", err
	}
	if s.blacklist != nil {
		if err := s.blacklist.Add(ctx, old.ID, old.ExpiresAtTime()); err != nil {
			return "", fmt.Errorf("吊销旧 token 失败: %w", err)
		}
	}

	s.mu.Lock()
	if s.token != token {
		// 刷新期间会话被清除或替换
		s.mu.Unlock()
		return "", ErrNoSession
	}
	s.token = next
	s.claims = claims
	s.mu.Unlock()

	s.emit(SessionEvent{Type: SessionRefreshed, Token: next})
	return next, nil
}

// SignOut 吊销当前 token 并清除会话。没有会话时什么也不做。
func (s *TokenSession) SignOut(ctx context.Context) error {
	s.mu.Lock()
	token, claims := s.token, s.claims
	s.mu.Unlock()
	if token == "" {
		return nil
	}
	if s.blacklist != nil && claims.ID != "" {
		if err := s.blacklist.Add(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
			return fmt.Errorf("吊销 token 失败: %w", err)
		}
	}
	s.clear(token)
	return nil
}

// OnChange 注册会话变更回调，返回取消函数。回调在触发变更的 goroutine 上同步执行。
func (s *TokenSession) OnChange(cb func(SessionEvent)) (cancel func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = cb
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// clear 只在当前 token 仍是 expected 时清除，避免覆盖并发建立的新会话。
func (s *TokenSession) clear(expected string) {
	s.mu.Lock()
	if s.token != expected {
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.claims = nil
	s.mu.Unlock()

	s.emit(SessionEvent{Type: SessionCleared})
}

func (s *TokenSession) emit(ev SessionEvent) {
	s.listenersMu.Lock()
	cbs := make([]func(SessionEvent), 0, len(s.listeners))
	for _, cb := range s.listeners {
		cbs = append(cbs, cb)
	}
	s.listenersMu.Unlock()

	for _, cb := range cbs {
		cb(ev)
	}
}

// isRejection 区分 token 本身无效（过期、签名错误、被吊销）和校验过程失败。
func isRejection(err error) bool {
	return !IsBlacklistUnavailable(err)
}

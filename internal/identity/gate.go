// Package identity turns a session token into an identity and optional profile,
// and tracks the bootstrap state a client goes through after connecting.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"chatsync/internal/auth"
	"chatsync/internal/models"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// State 是身份网关的状态。
type State string

const (
	Uninitialized          State = "uninitialized"
	Resolving              State = "resolving"
	Unauthenticated        State = "unauthenticated"
	AuthenticatedNoProfile State = "authenticated_no_profile"
	Ready                  State = "ready"
)

// transitions 是唯一的状态转换表，其他地方不直接修改状态。
// 已认证状态之间切换会话必须先经过 Unauthenticated。
var transitions = map[State][]State{
	Uninitialized:          {Resolving},
	Resolving:              {Unauthenticated, AuthenticatedNoProfile, Ready},
	Unauthenticated:        {Resolving},
	AuthenticatedNoProfile: {Ready, Unauthenticated},
	Ready:                  {Unauthenticated},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	// ErrSessionChanged 表示解析完成前会话已被清除或替换，结果被丢弃。
	ErrSessionChanged = apperrors.New(apperrors.ErrCodeState, "会话在解析期间已变更")
	ErrNotOnboarding  = apperrors.New(apperrors.ErrCodeState, "当前状态不能完成 onboarding")
)

func illegalTransition(from, to State) error {
	return apperrors.New(apperrors.ErrCodeState, fmt.Sprintf("非法的身份状态转换: %s -> %s", from, to))
}

// Snapshot 是网关某一时刻的只读视图。
type Snapshot struct {
	State    State           `json:"state"`
	Identity *models.User    `json:"identity,omitempty"`
	Profile  *models.Profile `json:"profile,omitempty"`
}

// SessionProvider 提供当前会话并在会话变化时通知。auth.TokenSession 实现了它。
type SessionProvider interface {
	CurrentSession(ctx context.Context) (string, error)
	OnChange(cb func(auth.SessionEvent)) (cancel func())
	SignOut(ctx context.Context) error
}

// Resolver 把 token 解析为用户和资料，资料可以为 nil。
type Resolver interface {
	ResolveSession(ctx context.Context, token string) (*models.User, *models.Profile, error)
}

// Onboarder 为还没有资料的用户创建资料。
type Onboarder interface {
	CompleteOnboarding(ctx context.Context, userID uint, in models.ProfileInput) (*models.Profile, error)
}

// Gate 是身份网关。并发安全；同一 token 的解析同时最多只有一个在进行。
type Gate struct {
	provider  SessionProvider
	resolver  Resolver
	onboarder Onboarder

	flights singleflight.Group

	mu       sync.Mutex
	state    State
	token    string
	user     *models.User
	profile  *models.Profile
	epoch    uint64 // 每次会话失效时递增
	pending  string // Resolving 状态下正在解析的 token

	listenersMu sync.Mutex
	listeners   map[int]func(Snapshot)
	nextID      int

	cancelProvider func()
}

// NewGate 创建网关并订阅 provider 的会话变更。
func NewGate(provider SessionProvider, resolver Resolver, onboarder Onboarder) *Gate {
	g := &Gate{
		provider:  provider,
		resolver:  resolver,
		onboarder: onboarder,
		state:     Uninitialized,
		listeners: make(map[int]func(Snapshot)),
	}
	if provider != nil {
		g.cancelProvider = provider.OnChange(g.handleSessionEvent)
	}
	return g
}

// Close 取消对 provider 的订阅。
func (g *Gate) Close() {
	if g.cancelProvider != nil {
		g.cancelProvider()
	}
}

// Snapshot 返回当前状态。
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Gate) snapshotLocked() Snapshot {
	return Snapshot{State: g.state, Identity: g.user, Profile: g.profile}
}

// OnSessionChange 注册状态变更回调，返回取消函数。
func (g *Gate) OnSessionChange(cb func(Snapshot)) (cancel func()) {
	g.listenersMu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = cb
	g.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.listenersMu.Lock()
			delete(g.listeners, id)
			g.listenersMu.Unlock()
		})
	}
}

func (g *Gate) notify(s Snapshot) {
	g.listenersMu.Lock()
	cbs := make([]func(Snapshot), 0, len(g.listeners))
	for _, cb := range g.listeners {
		cbs = append(cbs, cb)
	}
	g.listenersMu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}

// moveLocked 按转换表修改状态，调用方持有 g.mu。
func (g *Gate) moveLocked(to State) error {
	if !CanTransition(g.state, to) {
		return illegalTransition(g.state, to)
	}
	logger.Debug("identity state", "from", string(g.state), "to", string(to))
	g.state = to
	return nil
}

// invalidateLocked 强制回到 Unauthenticated 并清空缓存的身份。已经是 Unauthenticated 时返回 false。
func (g *Gate) invalidateLocked() bool {
	g.epoch++
	g.token, g.pending = "", ""
	g.user, g.profile = nil, nil
	if g.state == Unauthenticated || g.state == Uninitialized {
		return false
	}
	_ = g.moveLocked(Unauthenticated)
	return true
}

// Bootstrap 解析 sessionToken；为空时向 provider 询问当前会话。
func (g *Gate) Bootstrap(ctx context.Context, sessionToken string) (Snapshot, error) {
	token := sessionToken
	if token == "" && g.provider != nil {
		var err error
		token, err = g.provider.CurrentSession(ctx)
		if err != nil {
			return g.Snapshot(), err
		}
	}
	return g.resolve(ctx, token)
}

func (g *Gate) resolve(ctx context.Context, token string) (Snapshot, error) {
	g.mu.Lock()
	if token != "" && token == g.token && (g.state == Ready || g.state == AuthenticatedNoProfile) {
		s := g.snapshotLocked()
		g.mu.Unlock()
		return s, nil
	}
	if g.state != Resolving || g.pending != token {
		prev := g.state
		if g.state == Ready || g.state == AuthenticatedNoProfile || g.state == Resolving {
			g.invalidateLocked()
		}
		if err := g.moveLocked(Resolving); err != nil {
			s := g.snapshotLocked()
			g.mu.Unlock()
			return s, err
		}
		g.pending = token
		if token == "" {
			g.pending = ""
			_ = g.moveLocked(Unauthenticated)
			s := g.snapshotLocked()
			g.mu.Unlock()
			if prev != Unauthenticated {
				g.notify(s)
			}
			return s, nil
		}
	}
	// 否则加入同一 token 正在进行的解析
	epoch := g.epoch
	g.mu.Unlock()

	// 以 epoch 区分：失效之后发起的调用不能加入失效之前的解析
	key := fmt.Sprintf("%d:%s", epoch, token)
	ch := g.flights.DoChan(key, func() (interface{}, error) {
		// 解析与发起者的取消解耦，其余等待者仍然需要结果
		return g.runResolution(context.WithoutCancel(ctx), token, epoch)
	})
	select {
	case <-ctx.Done():
		return g.Snapshot(), ctx.Err()
	case res := <-ch:
		if errors.Is(res.Err, ErrSessionChanged) {
			// 晚到的调用者可能错过了刚完成的同一次解析
			g.mu.Lock()
			s := g.snapshotLocked()
			same := g.token == token && (g.state == Ready || g.state == AuthenticatedNoProfile)
			g.mu.Unlock()
			if same {
				return s, nil
			}
			return s, res.Err
		}
		if res.Err != nil {
			return g.Snapshot(), res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

func (g *Gate) runResolution(ctx context.Context, token string, epoch uint64) (Snapshot, error) {
	user, profile, err := g.resolver.ResolveSession(ctx, token)

	g.mu.Lock()
	if g.epoch != epoch || g.state != Resolving || g.pending != token {
		// 解析开始后会话已失效，过期的结果不能让已登出的会话复活
		s := g.snapshotLocked()
		g.mu.Unlock()
		return s, ErrSessionChanged
	}
	g.pending = ""

	var target State
	switch {
	case err != nil:
		target = Unauthenticated
	case profile == nil:
		target = AuthenticatedNoProfile
	default:
		target = Ready
	}
	if moveErr := g.moveLocked(target); moveErr != nil {
		g.mu.Unlock()
		return g.Snapshot(), moveErr
	}
	if err == nil {
		g.token, g.user, g.profile = token, user, profile
	}
	s := g.snapshotLocked()
	g.mu.Unlock()

	g.notify(s)
	if err != nil && !errors.Is(err, apperrors.ErrUnauthorized) {
		// 基础设施错误：状态已回到 Unauthenticated，调用方可以重试 Bootstrap
		return s, err
	}
	return s, nil
}

// CompleteOnboarding 只能在 AuthenticatedNoProfile 状态下调用，成功后进入 Ready。
func (g *Gate) CompleteOnboarding(ctx context.Context, in models.ProfileInput) (Snapshot, error) {
	g.mu.Lock()
	if g.state != AuthenticatedNoProfile {
		s := g.snapshotLocked()
		g.mu.Unlock()
		return s, ErrNotOnboarding
	}
	userID := g.user.ID
	epoch := g.epoch
	g.mu.Unlock()

	profile, err := g.onboarder.CompleteOnboarding(ctx, userID, in)
	if err != nil {
		return g.Snapshot(), err
	}

	g.mu.Lock()
	if g.epoch != epoch {
		s := g.snapshotLocked()
		g.mu.Unlock()
		return s, ErrSessionChanged
	}
	if err := g.moveLocked(Ready); err != nil {
		s := g.snapshotLocked()
		g.mu.Unlock()
		return s, err
	}
	g.profile = profile
	s := g.snapshotLocked()
	g.mu.Unlock()

	g.notify(s)
	return s, nil
}

// SignOut 让 provider 注销会话，并确保网关回到 Unauthenticated。
func (g *Gate) SignOut(ctx context.Context) error {
	if g.provider != nil {
		if err := g.provider.SignOut(ctx); err != nil {
			return err
		}
	}
	g.mu.Lock()
	changed := g.invalidateLocked()
	s := g.snapshotLocked()
	g.mu.Unlock()
	if changed {
		g.notify(s)
	}
	return nil
}

func (g *Gate) handleSessionEvent(ev auth.SessionEvent) {
	switch ev.Type {
	case auth.SessionCleared:
		g.mu.Lock()
		changed := g.invalidateLocked()
		s := g.snapshotLocked()
		g.mu.Unlock()
		if changed {
			g.notify(s)
		}
	case auth.SessionRefreshed:
		// 身份不变，只更新 token
		g.mu.Lock()
		authenticated := g.state == Ready || g.state == AuthenticatedNoProfile
		if authenticated {
			g.token = ev.Token
		}
		s := g.snapshotLocked()
		g.mu.Unlock()
		if authenticated {
			g.notify(s)
		}
	case auth.SessionEstablished:
		if _, err := g.resolve(context.Background(), ev.Token); err != nil {
			logger.Warn("session resolution failed", "error", err)
		}
	}
}

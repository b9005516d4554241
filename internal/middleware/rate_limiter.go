package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	apperrors "chatsync/pkg/errors"
)

// RateLimiter 是按用户计数的固定窗口限流器，只在单个实例内生效。
type RateLimiter struct {
	userLimits map[uint]*userLimit
	mu         sync.Mutex

	maxRequests int
	window      time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

type userLimit struct {
	requests  int
	resetTime time.Time
}

// NewRateLimiter creates a new rate limiter. maxRequests <= 0 disables limiting.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	rl := newRateLimiter(maxRequests, window, time.Now)
	go rl.cleanup(5 * time.Minute)
	return rl
}

func newRateLimiter(maxRequests int, window time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		userLimits:  make(map[uint]*userLimit),
		maxRequests: maxRequests,
		window:      window,
		now:         now,
		stop:        make(chan struct{}),
	}
}

// Allow 记录一次请求，超过窗口配额时返回 false。
func (rl *RateLimiter) Allow(userID uint) bool {
	if rl.maxRequests <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	limit, exists := rl.userLimits[userID]
	if !exists || !now.Before(limit.resetTime) {
		rl.userLimits[userID] = &userLimit{requests: 1, resetTime: now.Add(rl.window)}
		return true
	}
	if limit.requests >= rl.maxRequests {
		return false
	}
	limit.requests++
	return true
}

// Remaining returns how many requests userID may still make in the current window.
func (rl *RateLimiter) Remaining(userID uint) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, exists := rl.userLimits[userID]
	if !exists || !rl.now().Before(limit.resetTime) {
		return rl.maxRequests
	}
	return max(rl.maxRequests-limit.requests, 0)
}

// Limit 包装需要限流的处理器；必须放在 AuthMiddleware 之后。
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserIDFromContext(r.Context())
		if !ok {
			writeJSONError(w, "无法获取用户信息", apperrors.ErrCodeUnauthorized, http.StatusUnauthorized)
			return
		}
		if !rl.Allow(userID) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeJSONError(w, "发送过于频繁，请稍后再试", apperrors.ErrCodeRateLimitExceeded, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close stops the background cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanup removes expired entries
func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.purge()
		}
	}
}

func (rl *RateLimiter) purge() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for userID, limit := range rl.userLimits {
		if !now.Before(limit.resetTime) {
			delete(rl.userLimits, userID)
		}
	}
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatsync/internal/auth"
	"chatsync/internal/config"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute, func() time.Time { return now })

	if !rl.Allow(1) || !rl.Allow(1) {
		t.Fatal("first two requests should be allowed")
	}
	if rl.Allow(1) {
		t.Fatal("third request within the window should be rejected")
	}
	if !rl.Allow(2) {
		t.Fatal("limits are per user")
	}
	if got := rl.Remaining(1); got != 0 {
		t.Errorf("Remaining(1) = %d, want 0", got)
	}

	now = now.Add(time.Minute)
	if !rl.Allow(1) {
		t.Fatal("request after the window should be allowed")
	}
	if got := rl.Remaining(1); got != 1 {
		t.Errorf("Remaining(1) = %d, want 1", got)
	}

	now = now.Add(2 * time.Minute)
	rl.purge()
	if len(rl.userLimits) != 0 {
		t.Errorf("purge left %d entries", len(rl.userLimits))
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := newRateLimiter(0, time.Minute, time.Now)
	for i := 0; i < 100; i++ {
		if !rl.Allow(1) {
			t.Fatalf("request %d rejected with limiting disabled", i)
		}
	}
}

func TestLimitHandler(t *testing.T) {
	rl := newRateLimiter(1, time.Minute, time.Now)
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, uint(7)))

	codes := []int{http.StatusNoContent, http.StatusTooManyRequests}
	for i, want := range codes {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("request %d: status = %d, want %d", i, rec.Code, want)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous request: status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := config.AuthConfig{JWTSecretKey: "test-secret-key-with-enough-length!!", JWTExpiry: time.Hour}
	blacklist := auth.NewMemoryTokenBlacklist()

	token, claims, err := auth.GenerateToken(42, "a@example.com", cfg)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	revoked, revokedClaims, err := auth.GenerateToken(43, "b@example.com", cfg)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if err := blacklist.Add(context.Background(), revokedClaims.ID, revokedClaims.ExpiresAtTime()); err != nil {
		t.Fatalf("blacklist.Add: %v", err)
	}

	var gotID uint
	var gotClaims *auth.Claims
	h := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = GetUserIDFromContext(r.Context())
		gotClaims, _ = GetClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}), cfg, blacklist)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"revoked", "Bearer " + revoked, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotClaims = 0, nil
			req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK {
				if gotID != 42 || gotClaims == nil || gotClaims.ID != claims.ID {
					t.Errorf("context carries id=%d claims=%v", gotID, gotClaims)
				}
			}
		})
	}
}

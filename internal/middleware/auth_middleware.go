package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"chatsync/internal/auth"
	"chatsync/internal/config"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// contextKey 是用于在 context.Context 中存储值的自定义类型，以避免键冲突。
type contextKey string

// UserIDKey 是用于在上下文中存储用户ID的键。
const UserIDKey contextKey = "userID"

// ClaimsKey 保存完整的令牌声明，注销时需要 jti 和过期时间。
const ClaimsKey contextKey = "claims"

// AuthMiddleware 是一个 HTTP 中间件，用于验证 JWT 并将用户信息添加到上下文中。
// 已注销的令牌同样被拒绝；黑名单不可用时返回 502 而不是 401，客户端不应因此丢弃会话。
func AuthMiddleware(next http.Handler, authCfg config.AuthConfig, blacklist auth.TokenBlacklist) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := BearerToken(r)
		if !ok {
			writeJSONError(w, "请求未包含有效的授权令牌", apperrors.ErrCodeUnauthorized, http.StatusUnauthorized)
			return
		}

		claims, err := auth.ValidateToken(r.Context(), tokenString, authCfg.JWTSecretKey, blacklist)
		if err != nil {
			if auth.IsBlacklistUnavailable(err) {
				logger.Error("token blacklist unavailable", "error", err)
				writeJSONError(w, "会话校验暂时不可用", apperrors.ErrCodeUpstream, http.StatusBadGateway)
				return
			}
			msg := "令牌无效"
			if errors.Is(err, auth.ErrTokenRevoked) {
				msg = "令牌已注销"
			}
			writeJSONError(w, msg, apperrors.ErrCodeUnauthorized, http.StatusUnauthorized)
			return
		}

		// 将用户信息存入请求上下文
		ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, ClaimsKey, claims)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from "Authorization: Bearer {token}".
func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetUserIDFromContext 从上下文中获取用户ID。
// 如果用户ID不存在或类型不正确，返回0和false。
func GetUserIDFromContext(ctx context.Context) (uint, bool) {
	userID, ok := ctx.Value(UserIDKey).(uint)
	return userID, ok
}

// GetClaimsFromContext 从上下文中获取令牌声明。
func GetClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

func writeJSONError(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

package apiserver

import (
	"context"
	"net/http"

	"chatsync/internal/identity"
	"chatsync/internal/middleware"
	"chatsync/internal/models"
	"chatsync/internal/services"
	apperrors "chatsync/pkg/errors"
)

// AuthHandler 封装了认证和会话相关的 HTTP 处理器方法。
type AuthHandler struct {
	authService services.AuthService
	userService services.UserService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService services.AuthService, userService services.UserService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		userService: userService,
	}
}

// Credentials 是注册和登录请求的结构体。
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse 是成功登录后返回的结构体。
type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register 处理用户注册请求。
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.authService.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, user)
}

// Login 处理用户登录请求。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if !decodeJSON(w, r, &req) {
		return
	}
	token, user, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

// Logout 处理用户登出请求，将当前 Token 加入黑名单。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证或无法解析用户声明", apperrors.ErrCodeUnauthorized, http.StatusUnauthorized)
		return
	}
	if err := h.authService.Logout(r.Context(), claims); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "登出成功"})
}

// gateFor 为本次请求解析身份。HTTP 请求之间不保留会话，令牌每次都重新校验。
func (h *AuthHandler) gateFor(ctx context.Context, token string) (*identity.Gate, identity.Snapshot, error) {
	gate := identity.NewGate(nil, h.authService, h.userService)
	snap, err := gate.Bootstrap(ctx, token)
	if err == nil && snap.State == identity.Unauthenticated {
		err = services.ErrInvalidSession
	}
	if err != nil {
		gate.Close()
		return nil, identity.Snapshot{}, err
	}
	return gate, snap, nil
}

// Session 返回当前令牌对应的身份网关状态：Ready 或 AuthenticatedNoProfile。
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r)
	gate, snap, err := h.gateFor(r.Context(), token)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer gate.Close()
	writeJSONResponse(w, http.StatusOK, snap)
}

// CompleteOnboarding 创建资料，只允许在 AuthenticatedNoProfile 状态下调用一次。
func (h *AuthHandler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	var in models.ProfileInput
	if !decodeJSON(w, r, &in) {
		return
	}
	token, _ := middleware.BearerToken(r)
	gate, _, err := h.gateFor(r.Context(), token)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer gate.Close()

	snap, err := gate.CompleteOnboarding(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, snap)
}

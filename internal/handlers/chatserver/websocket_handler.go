package chatserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"chatsync/internal/auth"
	"chatsync/internal/config"
	"chatsync/internal/identity"
	"chatsync/internal/middleware"
	ws "chatsync/internal/websocket"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// WebSocketHandler 负责处理 WebSocket 连接请求。
// 每个连接有自己的 TokenSession 和身份网关，令牌失效时连接被关闭。
type WebSocketHandler struct {
	ctx       context.Context // 进程生命周期，连接不继承请求的 ctx
	hub       *ws.Hub
	notifier  ws.Subscriber
	chats     ws.ChatLookup
	resolver  identity.Resolver
	onboarder identity.Onboarder
	blacklist auth.TokenBlacklist
	cfg       config.Config
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(ctx context.Context, hub *ws.Hub, notifier ws.Subscriber, chats ws.ChatLookup,
	resolver identity.Resolver, onboarder identity.Onboarder, blacklist auth.TokenBlacklist, cfg config.Config) *WebSocketHandler {
	return &WebSocketHandler{
		ctx:       ctx,
		hub:       hub,
		notifier:  notifier,
		chats:     chats,
		resolver:  resolver,
		onboarder: onboarder,
		blacklist: blacklist,
		cfg:       cfg,
	}
}

// tokenFrom 浏览器的 WebSocket API 不能设置请求头，所以也接受 ?token= 查询参数。
func tokenFrom(r *http.Request) string {
	if token, ok := middleware.BearerToken(r); ok {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func writeError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

// ServeWS 认证请求，然后把 HTTP 连接升级为 WebSocket 连接。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := tokenFrom(r)
	if token == "" {
		writeError(w, "缺少认证令牌", apperrors.ErrCodeUnauthorized, http.StatusUnauthorized)
		return
	}

	session := auth.NewTokenSession(h.cfg.Auth, h.blacklist)
	gate := identity.NewGate(session, h.resolver, h.onboarder)

	if _, err := session.Establish(r.Context(), token); err != nil {
		gate.Close()
		if auth.IsBlacklistUnavailable(err) {
			logger.Error("token blacklist unavailable", "error", err)
			writeError(w, "会话校验暂时不可用", apperrors.ErrCodeUpstream, http.StatusBadGateway)
			return
		}
		writeError(w, "令牌无效", apperrors.ErrCodeUnauthorized, http.StatusUnauthorized)
		return
	}

	snap, err := gate.Bootstrap(r.Context(), token)
	if err != nil {
		gate.Close()
		logger.Warn("websocket identity resolution failed", "error", err)
		writeError(w, "身份解析失败", apperrors.ErrCodeUpstream, http.StatusBadGateway)
		return
	}
	if snap.State != identity.Ready && snap.State != identity.AuthenticatedNoProfile {
		gate.Close()
		writeError(w, "会话无效或已过期", apperrors.ErrCodeUnauthorized, http.StatusUnauthorized)
		return
	}

	ws.ServeClient(h.ctx, ws.ClientDeps{
		Hub:      h.hub,
		Notifier: h.notifier,
		Chats:    h.chats,
		Session:  session,
		Gate:     gate,
		Config:   h.cfg.WebSocket,
	}, snap.Identity.ID, w, r)
}

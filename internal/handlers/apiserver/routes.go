package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatsync/internal/middleware"
)

// Handlers groups every API handler the router needs.
type Handlers struct {
	Auth    *AuthHandler
	User    *UserHandler
	Upload  *UploadHandler
	Chat    *ChatHandler
	Ranking *RankingHandler
}

// RegisterRoutes 注册全部 API 路由。authMW 保护 /api/v1 下的所有路由，limiter 只作用于发送消息。
func RegisterRoutes(r *mux.Router, h Handlers, authMW mux.MiddlewareFunc, limiter *middleware.RateLimiter) {
	// 认证路由
	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", h.Auth.Register).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", h.Auth.Login).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW)

	api.HandleFunc("/auth/logout", h.Auth.Logout).Methods(http.MethodPost)
	api.HandleFunc("/session", h.Auth.Session).Methods(http.MethodGet)
	api.HandleFunc("/onboarding", h.Auth.CompleteOnboarding).Methods(http.MethodPost)

	// 用户资料
	api.HandleFunc("/profile", h.User.GetMyProfile).Methods(http.MethodGet)
	api.HandleFunc("/profile", h.User.UpdateMyProfile).Methods(http.MethodPut)
	api.HandleFunc("/profile/avatar", h.Upload.UploadAvatar).Methods(http.MethodPost)
	api.HandleFunc("/users/search", h.User.SearchUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID:[0-9]+}/stats", h.User.GetUserStats).Methods(http.MethodGet)

	// 好友与屏蔽
	api.HandleFunc("/friends", h.Chat.ListFriends).Methods(http.MethodGet)
	api.HandleFunc("/friends", h.Chat.AddFriend).Methods(http.MethodPost)
	api.HandleFunc("/blocks", h.Chat.ListBlocked).Methods(http.MethodGet)
	api.HandleFunc("/blocks", h.Chat.Block).Methods(http.MethodPost)
	api.HandleFunc("/blocks/{userID:[0-9]+}", h.Chat.Unblock).Methods(http.MethodDelete)

	// 会话与消息
	api.HandleFunc("/chats", h.Chat.ListChats).Methods(http.MethodGet)
	api.HandleFunc("/chats/unread", h.Chat.IndexUnread).Methods(http.MethodGet)
	api.HandleFunc("/chats/{chatID:[0-9]+}", h.Chat.GetChat).Methods(http.MethodGet)
	api.HandleFunc("/chats/{chatID:[0-9]+}/messages", h.Chat.ListMessages).Methods(http.MethodGet)
	var send http.Handler = http.HandlerFunc(h.Chat.SendMessage)
	var media http.Handler = http.HandlerFunc(h.Upload.UploadChatMedia)
	if limiter != nil {
		send = limiter.Limit(send)
		media = limiter.Limit(media)
	}
	api.Handle("/chats/{chatID:[0-9]+}/messages", send).Methods(http.MethodPost)
	api.Handle("/chats/{chatID:[0-9]+}/media", media).Methods(http.MethodPost)
	api.HandleFunc("/chats/{chatID:[0-9]+}/read", h.Chat.MarkRead).Methods(http.MethodPost)
	api.HandleFunc("/chats/{chatID:[0-9]+}/unread", h.Chat.ChatUnread).Methods(http.MethodGet)

	// 排行榜
	api.HandleFunc("/rankings/{period}", h.Ranking.GetRankings).Methods(http.MethodGet)
	api.HandleFunc("/prizes", h.Ranking.ListPrizes).Methods(http.MethodGet)
}

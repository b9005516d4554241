package apiserver

import (
	"net/http"

	"chatsync/internal/models"
	"chatsync/internal/services"
)

// UserHandler 封装了用户资料相关的 HTTP 处理器方法。
type UserHandler struct {
	userService    services.UserService
	rankingService services.RankingService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService services.UserService, rankingService services.RankingService) *UserHandler {
	return &UserHandler{userService: userService, rankingService: rankingService}
}

// GetMyProfile 处理获取当前登录用户资料的请求。
func (h *UserHandler) GetMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	profile, err := h.userService.GetProfile(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, profile)
}

// UpdateMyProfile 只修改请求中出现的字段；avatarUrl 或 bio 传空字符串表示清除。
func (h *UserHandler) UpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	var req models.ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, err := h.userService.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, profile)
}

// SearchUsers 按名字搜索其他用户。
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	users, err := h.userService.Search(r.Context(), r.URL.Query().Get("q"), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, users)
}

// GetUserStats 返回用户的消息总数和今日排名。
func (h *UserHandler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUserID(w, r); !ok {
		return
	}
	targetID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if _, err := h.userService.GetUser(r.Context(), targetID); err != nil {
		writeAppError(w, r, err)
		return
	}
	stats, err := h.rankingService.UserStats(r.Context(), targetID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stats)
}

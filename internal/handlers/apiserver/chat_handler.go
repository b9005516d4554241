package apiserver

import (
	"errors"
	"net/http"
	"strconv"

	"chatsync/internal/models"
	"chatsync/internal/services"
	"chatsync/internal/storage"
	apperrors "chatsync/pkg/errors"
)

const maxPageSize = 200

// ChatHandler 封装了好友、屏蔽、会话和消息相关的 HTTP 处理器方法。
type ChatHandler struct {
	relationships services.RelationshipService
	messages      services.MessageService
	unread        services.UnreadService
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(relationships services.RelationshipService, messages services.MessageService, unread services.UnreadService) *ChatHandler {
	return &ChatHandler{relationships: relationships, messages: messages, unread: unread}
}

// TargetUserRequest 是添加好友和屏蔽请求的结构体。
type TargetUserRequest struct {
	UserID uint `json:"userId"`
}

// AddFriendResponse 返回好友关系对应的会话。
type AddFriendResponse struct {
	ChatID         uint `json:"chatId"`
	AlreadyFriends bool `json:"alreadyFriends"`
}

// SendMessageRequest 是发送文本或已上传媒体消息的请求体。
type SendMessageRequest struct {
	Content  *string            `json:"content"`
	Type     models.MessageType `json:"type"`
	MediaURL *string            `json:"mediaUrl,omitempty"`
}

// ListFriends 返回当前用户的好友列表。
func (h *ChatHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	friends, err := h.relationships.ListFriends(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, friends)
}

// AddFriend 建立好友关系和会话。已经是好友时返回 200 和已有会话。
func (h *ChatHandler) AddFriend(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	var req TargetUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		writeJSONError(w, "userId 不能为空", apperrors.ErrCodeValidation, http.StatusBadRequest)
		return
	}

	chatID, err := h.relationships.AddFriend(r.Context(), userID, req.UserID)
	switch {
	case errors.Is(err, services.ErrAlreadyFriends):
		writeJSONResponse(w, http.StatusOK, AddFriendResponse{ChatID: chatID, AlreadyFriends: true})
	case err != nil:
		writeAppError(w, r, err)
	default:
		writeJSONResponse(w, http.StatusCreated, AddFriendResponse{ChatID: chatID})
	}
}

// ListBlocked 返回当前用户屏蔽的用户。
func (h *ChatHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	blocked, err := h.relationships.ListBlocked(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, blocked)
}

func (h *ChatHandler) Block(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	var req TargetUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.relationships.Block(r.Context(), userID, req.UserID); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unblock 是幂等的：未屏蔽时同样返回 204。
func (h *ChatHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	targetID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.relationships.Unblock(r.Context(), userID, targetID); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListChats 返回会话列表，最近有消息的在前。
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	chats, err := h.relationships.ListChats(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, chats)
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	chat, err := h.relationships.GetChat(r.Context(), chatID, userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, chat)
}

// IndexUnread 返回 chatId → 未读数。
func (h *ChatHandler) IndexUnread(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	counts, err := h.unread.UnreadCountForIndex(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, counts)
}

func (h *ChatHandler) ChatUnread(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	n, err := h.unread.UnreadCount(r.Context(), chatID, userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int64{"unread": n})
}

// ListMessages 返回会话消息，升序。?before={id}&limit={n} 可向前翻页；不带参数时返回全部。
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	q := r.URL.Query()
	var beforeID uint
	var limit int
	var err error
	if s := q.Get("before"); s != "" {
		if beforeID, err = storage.ParseID(s); err != nil {
			writeJSONError(w, "无效的 before 参数", apperrors.ErrCodeValidation, http.StatusBadRequest)
			return
		}
	}
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			writeJSONError(w, "无效的 limit 参数", apperrors.ErrCodeValidation, http.StatusBadRequest)
			return
		}
		limit = min(limit, maxPageSize)
	}

	msgs, err := h.messages.ListPage(r.Context(), chatID, userID, beforeID, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, msgs)
}

// SendMessage 追加一条消息。路由上挂有按用户的限流。
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = models.TextMessage
	}
	msg, err := h.messages.Append(r.Context(), services.AppendInput{
		ChatID:   chatID,
		SenderID: userID,
		Content:  req.Content,
		Type:     req.Type,
		MediaURL: req.MediaURL,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}

// MarkRead 把发给当前用户的未读消息置为已读，返回变更条数。
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	n, err := h.messages.MarkRead(r.Context(), chatID, userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]int64{"marked": n})
}

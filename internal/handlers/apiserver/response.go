package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"chatsync/internal/middleware"
	"chatsync/internal/storage"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

// ErrorResponse 是 API 错误响应的通用结构体。
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// 头部已经写出，只能记录
			logger.Warn("failed to encode JSON response", "error", err)
		}
	}
}

// writeJSONError 是一个辅助函数，用于发送 JSON 格式的错误响应。
func writeJSONError(w http.ResponseWriter, message, code string, statusCode int) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// statusForCode maps an AppError code to its HTTP status.
func statusForCode(code string) int {
	switch code {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeState:
		return http.StatusForbidden
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeAppError 根据错误种类写出状态码；非 AppError 一律 500，且不向客户端暴露细节。
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		if r.Context().Err() != nil {
			// 客户端已断开
			return
		}
		logger.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSONError(w, "服务器内部错误", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	status := statusForCode(appErr.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", appErr.Code, "error", err)
	}
	writeJSONError(w, appErr.Message, appErr.Code, status)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, "请求体无效", apperrors.ErrCodeValidation, http.StatusBadRequest)
		return false
	}
	return true
}

// currentUserID 取出认证中间件放入的用户 ID；缺失时已写出 401。
func currentUserID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", apperrors.ErrCodeUnauthorized, http.StatusUnauthorized)
	}
	return userID, ok
}

// pathID 解析路由变量中的正整数 ID。
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw, ok := mux.Vars(r)[name]
	if !ok {
		writeJSONError(w, "请求路径中缺少 "+name, apperrors.ErrCodeValidation, http.StatusBadRequest)
		return 0, false
	}
	id, err := storage.ParseID(raw)
	if err != nil {
		writeJSONError(w, "无效的 "+name, apperrors.ErrCodeValidation, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

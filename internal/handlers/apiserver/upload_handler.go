package apiserver

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"chatsync/internal/config"
	"chatsync/internal/imtypes"
	"chatsync/internal/models"
	"chatsync/internal/services"
	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

const (
	defaultMaxMemory = 32 << 20 // 32 MB default max memory for multipart forms
)

// UploadHandler 封装了文件上传相关的 HTTP 处理器方法：头像和媒体消息。
type UploadHandler struct {
	userService    services.UserService
	messageService services.MessageService
	cfg            config.StorageConfig
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(userService services.UserService, messageService services.MessageService, cfg config.StorageConfig) *UploadHandler {
	return &UploadHandler{
		userService:    userService,
		messageService: messageService,
		cfg:            cfg,
	}
}

// readFile 解析 multipart 表单中的 "file" 字段。失败时已写出响应。
func (h *UploadHandler) readFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	maxUploadSize := h.cfg.MaxFileSizeMB << 20
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxMemory
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg := fmt.Sprintf("上传文件过大，最大允许 %d MB", maxUploadSize>>20)
			writeJSONError(w, msg, apperrors.ErrCodeValidation, http.StatusRequestEntityTooLarge)
		} else {
			writeJSONError(w, "解析表单失败", apperrors.ErrCodeValidation, http.StatusBadRequest)
		}
		return nil, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeJSONError(w, "请求中缺少 'file' 字段", apperrors.ErrCodeValidation, http.StatusBadRequest)
		} else {
			writeJSONError(w, "获取文件失败", apperrors.ErrCodeValidation, http.StatusBadRequest)
		}
		return nil, nil, false
	}
	logger.Debug("received upload", "name", header.Filename, "size", header.Size, "mimeType", header.Header.Get("Content-Type"))
	return file, header, true
}

// UploadAvatar 上传并设置当前用户的头像。
func (h *UploadHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	file, header, ok := h.readFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	url, err := h.userService.UploadAvatar(r.Context(), userID, header.Filename, file)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, imtypes.FileInfo{
		URL:      url,
		Size:     header.Size,
		MimeType: header.Header.Get("Content-Type"),
		FileName: header.Filename,
	})
}

// UploadChatMedia 上传文件并作为媒体消息追加到会话。表单字段 type 为 image、voice 或 video。
func (h *UploadHandler) UploadChatMedia(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	chatID, ok := pathID(w, r, "chatID")
	if !ok {
		return
	}
	file, header, ok := h.readFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	msg, err := h.messageService.AppendMedia(r.Context(), services.MediaInput{
		ChatID:   chatID,
		SenderID: userID,
		Type:     models.MessageType(r.FormValue("type")),
		FileName: header.Filename,
		Data:     file,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, msg)
}

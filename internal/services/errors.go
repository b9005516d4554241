package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	apperrors "chatsync/pkg/errors"
	"chatsync/pkg/logger"
)

var (
	ErrUserNotFound       = apperrors.New(apperrors.ErrCodeNotFound, "用户未找到")
	ErrUserAlreadyExists  = apperrors.New(apperrors.ErrCodeConflict, "邮箱已被注册")
	ErrInvalidCredentials = apperrors.New(apperrors.ErrCodeUnauthorized, "无效的邮箱或密码")
	ErrInvalidSession     = apperrors.New(apperrors.ErrCodeUnauthorized, "会话无效或已过期")

	ErrProfileNotFound = apperrors.New(apperrors.ErrCodeNotFound, "用户资料不存在")
	ErrProfileExists   = apperrors.New(apperrors.ErrCodeConflict, "用户资料已存在")
	ErrInvalidName     = apperrors.New(apperrors.ErrCodeValidation, "名字不能为空且不能超过 100 个字符")

	ErrSelfFriend     = apperrors.New(apperrors.ErrCodeValidation, "不能添加自己为好友")
	ErrAlreadyFriends = apperrors.New(apperrors.ErrCodeConflict, "你们已经是好友了")
	ErrBlocked        = apperrors.New(apperrors.ErrCodeState, "对方或你已屏蔽此用户")
	ErrSelfBlock      = apperrors.New(apperrors.ErrCodeValidation, "不能屏蔽自己")

	ErrChatNotFound      = apperrors.New(apperrors.ErrCodeNotFound, "会话不存在")
	ErrNotParticipant    = apperrors.New(apperrors.ErrCodeState, "您不是此会话的参与者")
	ErrEmptyContent      = apperrors.New(apperrors.ErrCodeValidation, "消息内容不能为空")
	ErrContentTooLong    = apperrors.New(apperrors.ErrCodeValidation, "消息内容过长")
	ErrInvalidType       = apperrors.New(apperrors.ErrCodeValidation, "未知的消息类型")
	ErrMissingMedia      = apperrors.New(apperrors.ErrCodeValidation, "媒体消息缺少媒体链接")
	ErrUnexpectedMedia   = apperrors.New(apperrors.ErrCodeValidation, "文本消息不能携带媒体链接")
	ErrInvalidPeriod     = apperrors.New(apperrors.ErrCodeValidation, "未知的排行榜周期")
	ErrPrizeNotFound     = apperrors.New(apperrors.ErrCodeNotFound, "该周期没有奖励配置")
	ErrInvalidEmail      = apperrors.New(apperrors.ErrCodeValidation, "邮箱格式不正确")
	ErrPasswordTooShort  = apperrors.New(apperrors.ErrCodeValidation, "密码至少需要 8 个字符")
	ErrPasswordTooLong   = apperrors.New(apperrors.ErrCodeValidation, "密码不能超过 72 字节")
	ErrUnsupportedUpload = apperrors.New(apperrors.ErrCodeValidation, "不支持的文件类型")
)

// storeErr 把存储层错误转换为服务层错误：
// 记录不存在 → notFound（若给出），ctx 取消原样返回，已经是 AppError 的保留，其余一律视为 UpstreamError。
func storeErr(err error, notFound *apperrors.AppError) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if notFound != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Upstream(err, "storage failure")
}

// retryRead runs an idempotent read, retrying exactly once on an upstream failure.
// Writes must never go through here.
func retryRead[T any](ctx context.Context, op string, read func(context.Context) (T, error)) (T, error) {
	v, err := read(ctx)
	if err == nil || !errors.Is(err, apperrors.ErrUpstream) || ctx.Err() != nil {
		return v, err
	}
	logger.Warn("read failed, retrying once", "op", op, "error", err)
	return read(ctx)
}

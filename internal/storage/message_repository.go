package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"chatsync/internal/models"
)

// MessageRepository 定义了消息数据操作的接口。
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	// ListByChat 按 (created_at, id) 升序返回消息。beforeID > 0 时只返回更早的消息，
	// limit > 0 时返回紧挨着 beforeID 的最后 limit 条（仍然升序）。
	ListByChat(ctx context.Context, chatID uint, beforeID uint, limit int) ([]models.Message, error)
	// MarkRead 批量把发给 readerID 的未读消息置为已读，返回实际变更的行数。
	MarkRead(ctx context.Context, chatID, readerID uint) (int64, error)
	CountUnread(ctx context.Context, chatID, receiverID uint) (int64, error)
	// CountUnreadByChat 返回 receiverID 在每个有未读消息的会话中的未读数。
	CountUnreadByChat(ctx context.Context, receiverID uint) (map[uint]int64, error)
	CountSent(ctx context.Context, senderID uint) (int64, error)
	// TopSenders 统计 [from, to) 内每个发送者的消息数，按消息数降序、注册时间升序、用户 id 升序排列。
	TopSenders(ctx context.Context, from, to time.Time, limit int) ([]SenderCount, error)
	WithTx(tx *gorm.DB) MessageRepository
}

// SenderCount 是排行榜聚合查询的一行。
type SenderCount struct {
	UserID       uint
	Name         *string
	AvatarURL    *string
	MessageCount int64
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// Create 在数据库中创建一条新的消息记录。
func (r *gormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *gormMessageRepository) ListByChat(ctx context.Context, chatID uint, beforeID uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	query := r.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}

	if limit <= 0 {
		err := query.Order("created_at ASC").Order("id ASC").Find(&messages).Error
		if err != nil {
			return nil, err
		}
		return messages, nil
	}

	// 分页：先倒序取最后 limit 条，再翻转为升序
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *gormMessageRepository) MarkRead(ctx context.Context, chatID, readerID uint) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("chat_id = ? AND receiver_id = ? AND read = ?", chatID, readerID, false).
		Update("read", true)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *gormMessageRepository) CountUnread(ctx context.Context, chatID, receiverID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("chat_id = ? AND receiver_id = ? AND read = ?", chatID, receiverID, false).
		Count(&count).Error
	return count, err
}

func (r *gormMessageRepository) CountUnreadByChat(ctx context.Context, receiverID uint) (map[uint]int64, error) {
	var rows []struct {
		ChatID uint
		Unread int64
	}
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("chat_id, COUNT(*) AS unread").
		Where("receiver_id = ? AND read = ?", receiverID, false).
		Group("chat_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[uint]int64, len(rows))
	for _, row := range rows {
		counts[row.ChatID] = row.Unread
	}
	return counts, nil
}

func (r *gormMessageRepository) CountSent(ctx context.Context, senderID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("sender_id = ?", senderID).
		Count(&count).Error
	return count, err
}

func (r *gormMessageRepository) TopSenders(ctx context.Context, from, to time.Time, limit int) ([]SenderCount, error) {
	var rows []SenderCount
	query := r.db.WithContext(ctx).
		Table("messages AS m").
		Select("m.sender_id AS user_id, p.name AS name, p.avatar_url AS avatar_url, COUNT(m.id) AS message_count").
		Joins("JOIN users AS u ON u.id = m.sender_id").
		Joins("LEFT JOIN profiles AS p ON p.user_id = m.sender_id").
		Where("m.created_at >= ? AND m.created_at < ?", from.UTC(), to.UTC()).
		Group("m.sender_id, p.name, p.avatar_url, u.created_at, u.id").
		Order("message_count DESC").
		Order("u.created_at ASC").
		Order("u.id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *gormMessageRepository) WithTx(tx *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: tx}
}

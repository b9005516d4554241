package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatsync/internal/models"
)

// ChatRepository 定义了会话数据操作的接口。
type ChatRepository interface {
	// CreateIfAbsent 插入会话；若同一用户对的会话已存在则不插入，返回已存在的那一行。
	// created 表示本次调用是否是真正的写入者。
	CreateIfAbsent(ctx context.Context, userA, userB uint) (chat *models.Chat, created bool, err error)
	GetByID(ctx context.Context, id uint) (*models.Chat, error)
	GetByPair(ctx context.Context, userA, userB uint) (*models.Chat, error)
	// ListForUser 按最后一条消息时间倒序返回用户参与的会话，尚无消息的会话排在最后。
	ListForUser(ctx context.Context, userID uint) ([]models.Chat, error)
	ListIDsForUser(ctx context.Context, userID uint) ([]uint, error)
	UpdateSnapshot(ctx context.Context, chatID uint, lastMessage string, at time.Time) error
	WithTx(tx *gorm.DB) ChatRepository
	GetDB() *gorm.DB
}

// gormChatRepository 使用 GORM 实现 ChatRepository。
type gormChatRepository struct {
	db *gorm.DB
}

// NewGormChatRepository 创建一个新的基于 GORM 的 ChatRepository。
func NewGormChatRepository(db *gorm.DB) ChatRepository {
	return &gormChatRepository{db: db}
}

func (r *gormChatRepository) CreateIfAbsent(ctx context.Context, userA, userB uint) (*models.Chat, bool, error) {
	chat := &models.Chat{User1ID: userA, User2ID: userB}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user1_id"}, {Name: "user2_id"}},
			DoNothing: true,
		}).
		Create(chat)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 1 {
		return chat, true, nil
	}
	// 唯一索引冲突：另一个请求先写入了，读取它的结果。
	existing, err := r.GetByPair(ctx, userA, userB)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID 通过ID检索会话。
func (r *gormChatRepository) GetByID(ctx context.Context, id uint) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).First(&chat, id).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *gormChatRepository) GetByPair(ctx context.Context, userA, userB uint) (*models.Chat, error) {
	lo, hi := models.CanonicalPair(userA, userB)
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Where("user1_id = ? AND user2_id = ?", lo, hi).
		First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *gormChatRepository) ListForUser(ctx context.Context, userID uint) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.WithContext(ctx).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END").
		Order("last_message_at DESC").
		Order("id DESC").
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *gormChatRepository) ListIDsForUser(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Chat{}).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateSnapshot 无条件覆盖最后一条消息快照（展示缓存，最后写入者胜出）。
func (r *gormChatRepository) UpdateSnapshot(ctx context.Context, chatID uint, lastMessage string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]interface{}{
			"last_message":    lastMessage,
			"last_message_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormChatRepository) WithTx(tx *gorm.DB) ChatRepository {
	return &gormChatRepository{db: tx}
}

// GetDB 返回底层数据库连接，用于事务操作
func (r *gormChatRepository) GetDB() *gorm.DB {
	return r.db
}

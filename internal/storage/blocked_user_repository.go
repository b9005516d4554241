package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatsync/internal/models"
)

// BlockedUserRepository 管理屏蔽列表。
type BlockedUserRepository interface {
	Create(ctx context.Context, blockerID, blockedID uint) error
	Delete(ctx context.Context, blockerID, blockedID uint) (bool, error)
	ListByBlocker(ctx context.Context, blockerID uint) ([]models.BlockedUser, error)
	// IsBlockedEitherWay reports whether either user has blocked the other.
	IsBlockedEitherWay(ctx context.Context, userA, userB uint) (bool, error)
}

type gormBlockedUserRepository struct {
	db *gorm.DB
}

func NewGormBlockedUserRepository(db *gorm.DB) BlockedUserRepository {
	return &gormBlockedUserRepository{db: db}
}

func (r *gormBlockedUserRepository) Create(ctx context.Context, blockerID, blockedID uint) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.BlockedUser{BlockerID: blockerID, BlockedID: blockedID}).Error
}

func (r *gormBlockedUserRepository) Delete(ctx context.Context, blockerID, blockedID uint) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.BlockedUser{})
	return result.RowsAffected > 0, result.Error
}

func (r *gormBlockedUserRepository) ListByBlocker(ctx context.Context, blockerID uint) ([]models.BlockedUser, error) {
	var blocked []models.BlockedUser
	err := r.db.WithContext(ctx).
		Where("blocker_id = ?", blockerID).
		Order("created_at DESC").
		Find(&blocked).Error
	if err != nil {
		return nil, err
	}
	return blocked, nil
}

func (r *gormBlockedUserRepository) IsBlockedEitherWay(ctx context.Context, userA, userB uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.BlockedUser{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", userA, userB, userB, userA).
		Count(&count).Error
	return count > 0, err
}

package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatsync/internal/models"
)

// FriendshipRepository defines the interface for friendship data operations.
type FriendshipRepository interface {
	// CreatePair inserts both directions of an accepted friendship, skipping rows that already exist.
	CreatePair(ctx context.Context, userA, userB uint) error
	AreMutualFriends(ctx context.Context, userA, userB uint) (bool, error)
	GetFriendIDs(ctx context.Context, userID uint) ([]uint, error)
	WithTx(tx *gorm.DB) FriendshipRepository
}

type gormFriendshipRepository struct {
	db *gorm.DB
}

// NewGormFriendshipRepository creates a new GormFriendshipRepository.
func NewGormFriendshipRepository(db *gorm.DB) FriendshipRepository {
	return &gormFriendshipRepository{db: db}
}

func (r *gormFriendshipRepository) CreatePair(ctx context.Context, userA, userB uint) error {
	rows := models.MutualFriendship(userA, userB)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// AreMutualFriends 只有两个方向都是 accepted 才算好友。
func (r *gormFriendshipRepository) AreMutualFriends(ctx context.Context, userA, userB uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("status = ?", models.FriendshipAccepted).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", userA, userB, userB, userA).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count == 2, nil
}

// GetFriendIDs retrieves the ids of userID's accepted friends.
func (r *gormFriendshipRepository) GetFriendIDs(ctx context.Context, userID uint) ([]uint, error) {
	var friendIDs []uint
	err := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("user_id = ? AND status = ?", userID, models.FriendshipAccepted).
		Order("friend_id ASC").
		Pluck("friend_id", &friendIDs).Error
	if err != nil {
		return nil, err
	}
	return friendIDs, nil
}

func (r *gormFriendshipRepository) WithTx(tx *gorm.DB) FriendshipRepository {
	return &gormFriendshipRepository{db: tx}
}

package storage

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"chatsync/internal/models"
)

// ProfileRepository 定义了用户资料的数据操作。
type ProfileRepository interface {
	Create(ctx context.Context, profile *models.Profile) error
	GetByUserID(ctx context.Context, userID uint) (*models.Profile, error)
	// UpdateFields 只写入给定的列，未给出的字段保持原值（按字段 last-writer-wins）。
	UpdateFields(ctx context.Context, userID uint, fields map[string]interface{}) error
	GetByUserIDs(ctx context.Context, userIDs []uint) (map[uint]*models.Profile, error)
	SearchByName(ctx context.Context, query string, excludeUserID uint, limit int) ([]models.Profile, error)
}

type gormProfileRepository struct {
	db *gorm.DB
}

// NewGormProfileRepository creates a new GORM-based ProfileRepository.
func NewGormProfileRepository(db *gorm.DB) ProfileRepository {
	return &gormProfileRepository{db: db}
}

func (r *gormProfileRepository) Create(ctx context.Context, profile *models.Profile) error {
	return r.db.WithContext(ctx).Create(profile).Error
}

func (r *gormProfileRepository) GetByUserID(ctx context.Context, userID uint) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *gormProfileRepository) UpdateFields(ctx context.Context, userID uint, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Profile{}).Where("user_id = ?", userID).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetByUserIDs 批量获取资料，缺少资料的用户不会出现在结果中。
func (r *gormProfileRepository) GetByUserIDs(ctx context.Context, userIDs []uint) (map[uint]*models.Profile, error) {
	out := make(map[uint]*models.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var profiles []models.Profile
	if err := r.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&profiles).Error; err != nil {
		return nil, err
	}
	for i := range profiles {
		out[profiles[i].UserID] = &profiles[i]
	}
	return out, nil
}

// SearchByName 大小写不敏感的名字模糊匹配，并排除当前用户自己。
func (r *gormProfileRepository) SearchByName(ctx context.Context, query string, excludeUserID uint, limit int) ([]models.Profile, error) {
	var profiles []models.Profile
	searchTerm := "%" + strings.ToLower(query) + "%"
	err := r.db.WithContext(ctx).
		Where("LOWER(name) LIKE ? AND user_id <> ?", searchTerm, excludeUserID).
		Order("name ASC").
		Limit(limit).
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

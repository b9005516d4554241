package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatsync/internal/models"
)

// CoinPrizeRepository 读取（以及由管理命令写入）排行榜奖励配置。
type CoinPrizeRepository interface {
	List(ctx context.Context) ([]models.CoinPrize, error)
	GetByPeriod(ctx context.Context, period string) (*models.CoinPrize, error)
	Upsert(ctx context.Context, prize *models.CoinPrize) error
}

type gormCoinPrizeRepository struct {
	db *gorm.DB
}

func NewGormCoinPrizeRepository(db *gorm.DB) CoinPrizeRepository {
	return &gormCoinPrizeRepository{db: db}
}

func (r *gormCoinPrizeRepository) List(ctx context.Context) ([]models.CoinPrize, error) {
	var prizes []models.CoinPrize
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&prizes).Error; err != nil {
		return nil, err
	}
	return prizes, nil
}

func (r *gormCoinPrizeRepository) GetByPeriod(ctx context.Context, period string) (*models.CoinPrize, error) {
	var prize models.CoinPrize
	if err := r.db.WithContext(ctx).Where("period_type = ?", period).First(&prize).Error; err != nil {
		return nil, err
	}
	return &prize, nil
}

func (r *gormCoinPrizeRepository) Upsert(ctx context.Context, prize *models.CoinPrize) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "period_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"first_place", "second_place", "third_place", "updated_at"}),
		}).
		Create(prize).Error
}

package models

import "time"

// CoinPrize 是每个排行榜周期前三名的金币奖励配置。对同步引擎只读，由管理命令写入。
type CoinPrize struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	PeriodType  string    `gorm:"type:varchar(20);uniqueIndex;not null" json:"periodType"`
	FirstPlace  int       `gorm:"not null;default:0" json:"firstPlace"`
	SecondPlace int       `gorm:"not null;default:0" json:"secondPlace"`
	ThirdPlace  int       `gorm:"not null;default:0" json:"thirdPlace"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName 指定 CoinPrize 模型的表名。
func (CoinPrize) TableName() string {
	return "coin_prizes"
}

// ForRank returns the prize for ranks 1-3 and zero otherwise.
func (p *CoinPrize) ForRank(rank int) int {
	switch rank {
	case 1:
		return p.FirstPlace
	case 2:
		return p.SecondPlace
	case 3:
		return p.ThirdPlace
	}
	return 0
}

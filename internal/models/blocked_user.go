package models

import "time"

// BlockedUser records that BlockerID does not want to be added by BlockedID.
type BlockedUser struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	BlockerID uint      `gorm:"not null;uniqueIndex:idx_blocked_pair,priority:1" json:"blockerId"`
	BlockedID uint      `gorm:"not null;uniqueIndex:idx_blocked_pair,priority:2" json:"blockedId"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定 BlockedUser 模型的表名。
func (BlockedUser) TableName() string {
	return "blocked_users"
}

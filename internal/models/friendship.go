package models

import "time"

// FriendshipStatus 定义好友关系的状态。
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship is one direction of a relationship: UserID's view of FriendID.
// Rows are always created in mutual pairs (A→B and B→A) inside one transaction.
type Friendship struct {
	ID        uint             `gorm:"primarykey" json:"id"`
	UserID    uint             `gorm:"not null;uniqueIndex:idx_friendship_pair,priority:1" json:"userId"`
	FriendID  uint             `gorm:"not null;uniqueIndex:idx_friendship_pair,priority:2;index" json:"friendId"`
	Status    FriendshipStatus `gorm:"type:varchar(20);not null;default:'accepted'" json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}

// TableName 指定 Friendship 模型的表名。
func (Friendship) TableName() string {
	return "friendships"
}

// MutualFriendship returns the two rows that make up an accepted friendship.
func MutualFriendship(a, b uint) []Friendship {
	return []Friendship{
		{UserID: a, FriendID: b, Status: FriendshipAccepted},
		{UserID: b, FriendID: a, Status: FriendshipAccepted},
	}
}

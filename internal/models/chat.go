package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrSelfChat is returned when a chat would have the same user on both sides.
var ErrSelfChat = errors.New("a chat needs two distinct participants")

// Chat 是两个用户之间唯一的私聊会话。
// (User1ID, User2ID) 以规范顺序存储（User1ID < User2ID），唯一索引保证每个无序用户对最多一个会话。
type Chat struct {
	BaseModel
	User1ID uint `gorm:"not null;uniqueIndex:idx_chat_pair,priority:1" json:"user1Id"`
	User2ID uint `gorm:"not null;uniqueIndex:idx_chat_pair,priority:2;index" json:"user2Id"`

	// 列表展示用的最后一条消息快照，不是数据源。
	LastMessage   *string    `gorm:"type:varchar(512)" json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `gorm:"index" json:"lastMessageAt,omitempty"`
}

// TableName 指定 Chat 模型的表名。
func (Chat) TableName() string {
	return "chats"
}

// EnsureCanonicalOrder sets User1ID to the smaller ID and User2ID to the larger ID.
func (c *Chat) EnsureCanonicalOrder() {
	if c.User1ID > c.User2ID {
		c.User1ID, c.User2ID = c.User2ID, c.User1ID
	}
}

// BeforeCreate keeps every inserted row canonical so the pair index can do its job.
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.User1ID == c.User2ID {
		return ErrSelfChat
	}
	c.EnsureCanonicalOrder()
	return nil
}

// HasParticipant reports whether userID is one of the two members.
func (c *Chat) HasParticipant(userID uint) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// OtherParticipant returns the member that is not userID.
func (c *Chat) OtherParticipant(userID uint) uint {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// CanonicalPair orders two user ids the way chats store them.
func CanonicalPair(a, b uint) (uint, uint) {
	if a > b {
		return b, a
	}
	return a, b
}

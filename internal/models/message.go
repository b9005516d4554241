package models

import (
	"time"
	"unicode/utf8"
)

// MessageType 定义了存储在数据库中的消息类型。
type MessageType string

const (
	TextMessage  MessageType = "text"
	ImageMessage MessageType = "image"
	VoiceMessage MessageType = "voice"
	VideoMessage MessageType = "video"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TextMessage, ImageMessage, VoiceMessage, VideoMessage:
		return true
	}
	return false
}

// IsMedia 除 text 之外的类型都需要媒体链接。
func (t MessageType) IsMedia() bool {
	return t == ImageMessage || t == VoiceMessage || t == VideoMessage
}

// SnapshotPrefixLen 是会话列表中最后一条消息快照保留的最大字符数（按 rune 计）。
const SnapshotPrefixLen = 100

// Message 代表存储在数据库中的聊天消息。
// 创建后不可变，唯一的例外是 Read 只能从 false 变为 true。
type Message struct {
	ID         uint        `gorm:"primarykey" json:"id"`
	ChatID     uint        `gorm:"not null;index:idx_messages_chat_created,priority:1;index:idx_messages_unread,priority:1" json:"chatId"`
	SenderID   uint        `gorm:"not null;index:idx_messages_sender_created,priority:1" json:"senderId"`
	ReceiverID uint        `gorm:"not null;index:idx_messages_unread,priority:2" json:"receiverId"`
	Content    *string     `gorm:"type:text" json:"content,omitempty"` // 纯媒体消息可以为空
	Type       MessageType `gorm:"type:varchar(20);not null;default:'text'" json:"type"`
	MediaURL   *string     `gorm:"type:varchar(512)" json:"mediaUrl,omitempty"`
	Read       bool        `gorm:"not null;default:false;index:idx_messages_unread,priority:3" json:"read"`
	CreatedAt  time.Time   `gorm:"not null;index:idx_messages_chat_created,priority:2;index:idx_messages_sender_created,priority:2" json:"createdAt"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}

// Snapshot returns the text stored as the chat's last-message preview.
func (m *Message) Snapshot() string {
	if m.Content != nil && *m.Content != "" {
		return TruncateRunes(*m.Content, SnapshotPrefixLen)
	}
	return "[" + string(m.Type) + "]"
}

// TruncateRunes cuts s to at most n runes without splitting a multi-byte character.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

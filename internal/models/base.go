package models

import (
	"strconv"
	"time"
)

// BaseModel defines the common fields for mutable rows.
// 本系统中没有删除操作，所以不再使用软删除字段。
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IDString returns the ID as a string.
func (b *BaseModel) IDString() string {
	return strconv.FormatUint(uint64(b.ID), 10)
}

// FormatID is the free-function form of IDString, used for Kafka keys and Redis channels.
func FormatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

package models

import "time"

// Profile 是用户的展示信息。首次登录时不存在，完成 onboarding 后创建。
// 只有本人可以修改；并发修改按字段 last-writer-wins。
type Profile struct {
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"userId"`
	Name      string    `gorm:"type:varchar(100);not null;index" json:"name"`
	AvatarURL *string   `gorm:"type:varchar(512)" json:"avatarUrl,omitempty"`
	Bio       *string   `gorm:"type:text" json:"bio,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定 Profile 模型的表名。
func (Profile) TableName() string {
	return "profiles"
}

// ProfileInput 是 onboarding 时提交的资料。
type ProfileInput struct {
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

// ProfileUpdate 只包含调用方要修改的字段，nil 表示保持不变。
type ProfileUpdate struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

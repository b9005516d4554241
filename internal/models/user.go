package models

// User 是登录身份（账号），注册时创建，本系统内不会删除。
// CreatedAt 即注册时间，排行榜用它做并列时的决胜条件。
type User struct {
	BaseModel
	Email        string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"type:varchar(255);not null" json:"-"` // 不暴露密码哈希

	Profile *Profile `gorm:"foreignKey:UserID" json:"profile,omitempty"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// UserBasicInfo holds minimal public information about a user.
// Used wherever another user is displayed: friend lists, chat index, search results.
type UserBasicInfo struct {
	ID        uint    `json:"id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

// BasicInfo builds the public view of a user from its profile (which may be absent).
func BasicInfo(userID uint, p *Profile) UserBasicInfo {
	info := UserBasicInfo{ID: userID}
	if p != nil {
		info.Name = p.Name
		info.AvatarURL = p.AvatarURL
		info.Bio = p.Bio
	}
	return info
}

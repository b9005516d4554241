package services

import (
	"context"
	"errors"
	"io"
	"time"

	"gorm.io/gorm"

	"chatsync/internal/imtypes"
	"chatsync/internal/models"
	"chatsync/internal/security"
	"chatsync/internal/storage"
	"chatsync/pkg/logger"
)

const (
	maxNameRunes      = 100
	maxBioRunes       = 500
	searchResultLimit = 20
)

var avatarFileTypes = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// UserService 定义了用户资料相关服务的接口。
type UserService interface {
	// GetProfile 获取用户资料；未完成 onboarding 时返回 ErrProfileNotFound。
	GetProfile(ctx context.Context, userID uint) (*models.Profile, error)
	GetUser(ctx context.Context, userID uint) (*models.User, error)
	// CompleteOnboarding 创建资料，每个用户只能成功一次。
	CompleteOnboarding(ctx context.Context, userID uint, in models.ProfileInput) (*models.Profile, error)
	UpdateProfile(ctx context.Context, userID uint, upd models.ProfileUpdate) (*models.Profile, error)
	Search(ctx context.Context, query string, currentUserID uint) ([]models.UserBasicInfo, error)
	// UploadAvatar 上传头像并写入资料，返回公开 URL。
	UploadAvatar(ctx context.Context, userID uint, fileName string, data io.Reader) (string, error)
}

// userService 是 UserService 的实现。
type userService struct {
	userRepo    storage.UserRepository
	profileRepo storage.ProfileRepository
	media       imtypes.MediaStore
	now         func() time.Time
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo storage.UserRepository, profileRepo storage.ProfileRepository, media imtypes.MediaStore) UserService {
	return &userService{
		userRepo:    userRepo,
		profileRepo: profileRepo,
		media:       media,
		now:         time.Now,
	}
}

func (s *userService) GetProfile(ctx context.Context, userID uint) (*models.Profile, error) {
	return retryRead(ctx, "profiles.get", func(ctx context.Context) (*models.Profile, error) {
		p, err := s.profileRepo.GetByUserID(ctx, userID)
		return p, storeErr(err, ErrProfileNotFound)
	})
}

func (s *userService) GetUser(ctx context.Context, userID uint) (*models.User, error) {
	return retryRead(ctx, "users.get", func(ctx context.Context) (*models.User, error) {
		u, err := s.userRepo.GetByID(ctx, userID)
		return u, storeErr(err, ErrUserNotFound)
	})
}

func cleanName(name string) (string, error) {
	cleaned := security.SanitizeString(name)
	if n := security.RuneLen(cleaned); n == 0 || n > maxNameRunes {
		return "", ErrInvalidName
	}
	return cleaned, nil
}

// cleanOptional 清洗可选文本，清洗后为空视为未设置。
func cleanOptional(v *string, max int) *string {
	if v == nil {
		return nil
	}
	cleaned := models.TruncateRunes(security.SanitizeText(*v), max)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

func (s *userService) CompleteOnboarding(ctx context.Context, userID uint, in models.ProfileInput) (*models.Profile, error) {
	name, err := cleanName(in.Name)
	if err != nil {
		return nil, err
	}

	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	profile := &models.Profile{
		UserID:    userID,
		Name:      name,
		AvatarURL: cleanOptional(in.AvatarURL, 512),
		Bio:       cleanOptional(in.Bio, maxBioRunes),
	}
	if err := s.profileRepo.Create(ctx, profile); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrProfileExists
		}
		return nil, storeErr(err, nil)
	}
	logger.Info("onboarding completed", "userId", userID)
	return profile, nil
}

func (s *userService) UpdateProfile(ctx context.Context, userID uint, upd models.ProfileUpdate) (*models.Profile, error) {
	fields := make(map[string]interface{}, 3)
	if upd.Name != nil {
		name, err := cleanName(*upd.Name)
		if err != nil {
			return nil, err
		}
		fields["name"] = name
	}
	if upd.AvatarURL != nil {
		// 空字符串表示清除头像
		fields["avatar_url"] = cleanOptional(upd.AvatarURL, 512)
	}
	if upd.Bio != nil {
		fields["bio"] = cleanOptional(upd.Bio, maxBioRunes)
	}

	if len(fields) > 0 {
		if err := s.profileRepo.UpdateFields(ctx, userID, fields); err != nil {
			return nil, storeErr(err, ErrProfileNotFound)
		}
	}
	return s.GetProfile(ctx, userID)
}

func (s *userService) Search(ctx context.Context, query string, currentUserID uint) ([]models.UserBasicInfo, error) {
	q := security.SanitizeString(query)
	if q == "" {
		return []models.UserBasicInfo{}, nil
	}
	profiles, err := retryRead(ctx, "profiles.search", func(ctx context.Context) ([]models.Profile, error) {
		p, err := s.profileRepo.SearchByName(ctx, q, currentUserID, searchResultLimit)
		return p, storeErr(err, nil)
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.UserBasicInfo, 0, len(profiles))
	for i := range profiles {
		out = append(out, models.BasicInfo(profiles[i].UserID, &profiles[i]))
	}
	return out, nil
}

func (s *userService) UploadAvatar(ctx context.Context, userID uint, fileName string, data io.Reader) (string, error) {
	if !security.ValidateFileType(fileName, avatarFileTypes) {
		return "", ErrUnsupportedUpload
	}
	if _, err := s.GetProfile(ctx, userID); err != nil {
		return "", err
	}

	path := storage.MediaPath(storage.AvatarPrefix, userID, s.now(), fileName)
	url, err := s.media.Upload(ctx, data, path)
	if err != nil {
		logger.Warn("avatar upload failed", "userId", userID, "error", err)
		return "", err
	}
	if err := s.profileRepo.UpdateFields(ctx, userID, map[string]interface{}{"avatar_url": url}); err != nil {
		err = storeErr(err, ErrProfileNotFound)
		discardUpload(ctx, s.media, path, err)
		return "", err
	}
	return url, nil
}

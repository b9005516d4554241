package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/imtypes"
	apperrors "chatsync/pkg/errors"
)

// ErrUpload 是媒体上传失败（超出配额、磁盘或网络错误）时的错误种类。
var ErrUpload = apperrors.New(apperrors.ErrCodeUpstream, "media upload failed")

// Media path prefixes.
const (
	ChatMediaPrefix = "chat-media"
	AvatarPrefix    = "avatars"
)

// LocalMediaStore 实现了 imtypes.MediaStore 接口，把文件写到本地目录。
type LocalMediaStore struct {
	basePath string // 本地存储的基础路径，例如 "./uploads"
	baseURL  string // 用于构建文件访问 URL 的基础 URL，例如 "/uploads"
	maxBytes int64
}

// NewLocalMediaStore 创建一个新的 LocalMediaStore 实例。
func NewLocalMediaStore(cfg config.StorageConfig) (imtypes.MediaStore, error) {
	if err := os.MkdirAll(cfg.LocalPath, 0755); err != nil {
		return nil, fmt.Errorf("创建本地存储目录失败 '%s': %w", cfg.LocalPath, err)
	}
	return &LocalMediaStore{
		basePath: cfg.LocalPath,
		baseURL:  cfg.PublicBaseURL,
		maxBytes: cfg.MaxFileSizeMB << 20,
	}, nil
}

// Upload 将内容保存到本地文件系统。
func (s *LocalMediaStore) Upload(ctx context.Context, r io.Reader, objectPath string) (string, error) {
	clean, err := cleanMediaPath(objectPath)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dstPath := filepath.Join(s.basePath, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return "", uploadError(err)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", uploadError(fmt.Errorf("创建目标文件失败 '%s': %w", dstPath, err))
	}
	defer dst.Close()

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	written, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(dstPath)
		return "", uploadError(fmt.Errorf("写入文件失败: %w", err))
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		os.Remove(dstPath)
		return "", uploadError(fmt.Errorf("文件超过大小限制 %d 字节", s.maxBytes))
	}

	segments := strings.Split(clean, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimSuffix(s.baseURL, "/") + "/" + strings.Join(segments, "/"), nil
}

// Delete 删除本地文件。删除与调用方取消无关，不检查 ctx。
func (s *LocalMediaStore) Delete(_ context.Context, objectPath string) error {
	clean, err := cleanMediaPath(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.basePath, filepath.FromSlash(clean))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("删除文件失败 '%s': %w", clean, err)
	}
	return nil
}

// cleanMediaPath 只接受已经是规范形式、且不会逃出存储目录的相对路径。
func cleanMediaPath(objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)[1:]
	if clean == "" || clean != objectPath {
		return "", apperrors.Validation("invalid media path")
	}
	return clean, nil
}

func uploadError(cause error) error {
	return fmt.Errorf("%w: %w", ErrUpload, cause)
}

// MediaPath builds "{prefix}/{userID}-{unixMillis}{ext}", keeping the original file extension.
func MediaPath(prefix string, userID uint, now time.Time, fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return fmt.Sprintf("%s/%d-%d%s", prefix, userID, now.UnixMilli(), ext)
}

// internal/imtypes/media_store.go
package imtypes

import (
	"context"
	"io"
)

// MediaStore 定义了二进制媒体存储的接口。
// 将接口定义放在 imtypes 中以打破 storage 和 services 之间的循环依赖。
type MediaStore interface {
	// Upload 把 r 的内容写到 path（相对路径，例如 chat-media/12-1700000000000.png），
	// 返回可公开访问的 URL。失败时返回的错误满足 errors.Is(err, storage.ErrUpload)。
	Upload(ctx context.Context, r io.Reader, path string) (publicURL string, err error)
	// Delete 删除 path 处的对象，对象不存在时不报错。
	Delete(ctx context.Context, path string) error
}

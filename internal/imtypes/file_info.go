package imtypes

// FileInfo is returned by the avatar upload endpoint.
type FileInfo struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType,omitempty"` // 客户端声明的类型，未校验
}

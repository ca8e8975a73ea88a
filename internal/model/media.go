package model

import "time"

// 媒体类型,对应 resolve(kind, ...) 的 kind 取值。
const (
	MediaImage      = "image"
	MediaVideo      = "video"
	MediaVideoThumb = "video_thumb"
	MediaVoice      = "voice"
	MediaEmoji      = "emoji"
	MediaFile       = "file"
)

// Media 是一次媒体解析的结果。
type Media struct {
	Type     string `json:"type"`
	Key      string `json:"key"` // md5 或 file_id
	Path     string `json:"path,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Data     []byte `json:"-"`
}

// MediaCacheEntry 是内容寻址缓存的元数据行。同一 md5 内容不变,
// CheckedAt/ExpiresAt 在再校验时刷新,TTL 约 7 天。
type MediaCacheEntry struct {
	MD5          string    `json:"md5"`
	Path         string    `json:"path"` // 相对缓存根的路径 md5[:2]/md5.ext
	MediaType    string    `json:"mediaType"`
	SizeBytes    int64     `json:"sizeBytes"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
	FetchedAt    time.Time `json:"fetchedAt"`
	CheckedAt    time.Time `json:"checkedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired 判断是否需要再校验。
func (e *MediaCacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

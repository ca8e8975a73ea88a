package media

import (
	"bytes"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/zaylenc/wxvault/pkg/util/dat2img"
)

// mime 类型按扩展名映射。
var mimeByExt = map[string]string{
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"wxgf": "application/octet-stream",
	"mp4":  "video/mp4",
	"mp3":  "audio/mpeg",
	"silk": "audio/silk",
}

// SniffExt 按魔数判断内容格式,返回扩展名,未知返回空。
func SniffExt(data []byte) string {
	for _, f := range dat2img.Formats {
		if len(data) >= len(f.Header) && bytes.Equal(data[:len(f.Header)], f.Header) {
			return f.Ext
		}
	}
	if IsMP4(data) {
		return "mp4"
	}
	if len(data) >= 9 && bytes.Contains(data[:9], []byte("#!SILK")) {
		return "silk"
	}
	return ""
}

// MimeFor 返回扩展名对应的 MIME 类型。
func MimeFor(ext string) string {
	if m, ok := mimeByExt[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

// IsMP4 检查 offset 4 处的 ftyp 盒子并做一次轻量盒子解析。
func IsMP4(data []byte) bool {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return false
	}
	_, err := mp4.DecodeFile(bytes.NewReader(data))
	return err == nil
}

// IsImage 判断内容是否可信的图片。
func IsImage(data []byte) bool {
	ext := SniffExt(data)
	switch ext {
	case "jpg", "png", "gif", "bmp", "tiff", "wxgf":
		return true
	}
	return false
}

// Package msgdec turns raw (compress_content, message_content) pairs into
// plain text. 没有格式标记,只能按固定顺序逐个尝试解码。
package msgdec

import (
	"encoding/base64"
	"encoding/hex"
	"html"
	"strings"

	"github.com/pierrec/lz4/v4"

	"github.com/zaylenc/wxvault/pkg/util"
	"github.com/zaylenc/wxvault/pkg/util/zstd"
)

// Decode 从 compressValue / messageValue 中恢复最可信的文本。
// 永不失败:所有分支都有兜底,最差返回 messageValue 的原样文本。
func Decode(compressValue, messageValue []byte) string {
	base := decodeMessageValue(messageValue)

	if len(compressValue) == 0 {
		return base
	}

	if util.IsNormalString(compressValue) {
		if text, ok := decodeCompressString(string(compressValue)); ok {
			return text
		}
		return base
	}

	if text, ok := decodeCompressBinary(compressValue); ok {
		return text
	}
	return base
}

// decodeMessageValue 处理 message_content 列:zstd 压缩或纯文本。
func decodeMessageValue(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if zstd.IsCompressed(b) {
		if raw, err := zstd.Decompress(b); err == nil {
			text := cleanup(string(raw))
			if plausible(text) {
				return text
			}
		}
	}
	return cleanup(string(b))
}

// decodeCompressString 处理字符串形态的 compress_content:
// 先按 hex,再按 base64,最后看它本身是否已经是可读文本。
func decodeCompressString(s string) (string, bool) {
	s = cleanup(s)

	if isHexCandidate(s) {
		if raw, err := hex.DecodeString(s); err == nil {
			if text, ok := decodeDecompressed(raw); ok {
				return text, true
			}
		}
	}

	if isBase64Candidate(s) {
		if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
			if text, ok := decodeDecompressed(raw); ok {
				return text, true
			}
		}
	}

	if plausible(s) {
		return s, true
	}
	return "", false
}

// decodeCompressBinary 处理二进制形态的 compress_content:
// zstd → lz4(v3 老数据) → 退回字符串路径。
func decodeCompressBinary(b []byte) (string, bool) {
	if text, ok := decodeDecompressed(b); ok {
		return text, true
	}

	if raw, ok := tryLZ4(b); ok {
		text := cleanup(string(raw))
		if plausible(text) {
			return text, true
		}
	}

	return decodeCompressString(string(b))
}

// decodeDecompressed 对一段可能压缩的字节先试 zstd,失败按原始 UTF-8 处理。
func decodeDecompressed(b []byte) (string, bool) {
	if zstd.IsCompressed(b) {
		if raw, err := zstd.Decompress(b); err == nil {
			b = raw
		}
	}
	text := cleanup(string(b))
	if plausible(text) {
		return text, true
	}
	return "", false
}

// tryLZ4 解 v3 年代的 lz4 block(无帧头,解压后大小未知,逐级扩容)。
func tryLZ4(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	for size := len(b) * 4; size <= len(b)*64; size *= 4 {
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(b, dst)
		if err == nil && n > 0 {
			return dst[:n], true
		}
	}
	return nil, false
}

func cleanup(s string) string {
	return strings.TrimSpace(html.UnescapeString(s))
}

// plausible 判定解码结果是否可信:XML 开头,或绝大部分字符可打印。
func plausible(s string) bool {
	if s == "" {
		return false
	}
	trimmed := strings.Trim(s, `"'`)
	if strings.HasPrefix(trimmed, "<") {
		return true
	}
	return util.MostlyPrintable(s)
}

// isHexCandidate: 偶数长度、≥16 字符、纯 hex。
func isHexCandidate(s string) bool {
	if len(s) < 16 || len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// isBase64Candidate: 长度为 4 的倍数、≥24 字符、base64 字母表。
func isBase64Candidate(s string) bool {
	if len(s) < 24 || len(s)%4 != 0 {
		return false
	}
	padding := false
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if padding {
				return false
			}
		case r == '+' || r == '/':
			if padding {
				return false
			}
		case r == '=':
			padding = true
		default:
			return false
		}
	}
	return true
}

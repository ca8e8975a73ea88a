package msgparse

import (
	"encoding/hex"

	"google.golang.org/protobuf/encoding/protowire"
)

// ScanPackedInfoMD5 在 packed_info_data 里找媒体 md5。
// 该 blob 是类 proto 编码,字段编号随版本漂移,所以不依赖生成代码,
// 直接遍历 wire 格式,取第一个形如 md5 的 bytes 字段
// (16 字节原始值或 32 字符 hex 字符串)。
func ScanPackedInfoMD5(b []byte) string {
	return scanWire(b, 0)
}

// 嵌套层级上限。packed_info_data 实际只有两三层。
const maxPackedDepth = 4

func scanWire(b []byte, depth int) string {
	if depth > maxPackedDepth {
		return ""
	}
	for len(b) > 0 {
		_, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ""
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			_, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			_, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			_, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n < 0 {
				return ""
			}
			if md5 := asMD5(v); md5 != "" {
				return md5
			}
			// bytes 字段可能是嵌套 message
			if md5 := scanWire(v, depth+1); md5 != "" {
				return md5
			}
		default:
			return ""
		}
		if n < 0 {
			return ""
		}
		b = b[n:]
	}
	return ""
}

func asMD5(v []byte) string {
	if len(v) == 16 && !isASCII(v) {
		return hex.EncodeToString(v)
	}
	if len(v) == 32 && isHexString(v) {
		return string(toLowerASCII(v))
	}
	return ""
}

func isASCII(v []byte) bool {
	for _, c := range v {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

func isHexString(v []byte) bool {
	for _, c := range v {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func toLowerASCII(v []byte) []byte {
	out := make([]byte, len(v))
	for i, c := range v {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

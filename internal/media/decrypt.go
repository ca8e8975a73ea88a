package media

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"os"

	"github.com/zaylenc/wxvault/pkg/util/dat2img"
	"github.com/zaylenc/wxvault/pkg/util/zstd"
)

// 单个媒体文件的读取上限,超过直接拒绝。
const maxMediaBytes = 30 << 20

// ReadAndDecrypt 读文件并按内容做解密/解包,返回字节和 MIME 类型。
// 顺序:.dat 解密 → zstd 解包 → 图片魔数直出 → MP4 → AES-CBC(带 key 时)
// → 按 octet-stream 透传。
func ReadAndDecrypt(path string, aesKey []byte) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}
	if info.Size() > maxMediaBytes {
		return nil, "", fmt.Errorf("media too large: %d bytes", info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return DecodeBytes(data, aesKey)
}

// DecodeBytes 对一段媒体内容做解密/解包。
func DecodeBytes(data []byte, aesKey []byte) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty media content")
	}

	// .dat 头(v4 标记或 XOR 图片)
	if decoded, ext, err := dat2img.Dat2Image(data); err == nil {
		return decoded, MimeFor(ext), nil
	}

	if zstd.IsCompressed(data) {
		if raw, err := zstd.Decompress(data); err == nil {
			data = raw
		}
	}

	if ext := SniffExt(data); ext != "" {
		return data, MimeFor(ext), nil
	}

	if len(aesKey) > 0 {
		if decrypted, err := decryptAESCBC(data, aesKey); err == nil {
			if ext := SniffExt(decrypted); ext != "" {
				return decrypted, MimeFor(ext), nil
			}
		}
	}

	return data, "application/octet-stream", nil
}

// decryptAESCBC 解密带显式 key 的 SNS/表情资源。IV 取 key 前 16 字节。
func decryptAESCBC(data, key []byte) ([]byte, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("invalid aes key length: %d", len(key))
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid ciphertext length: %d", len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := key[:aes.BlockSize]
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	// PKCS#7
	padding := int(out[len(out)-1])
	if padding > 0 && padding <= aes.BlockSize && len(out) >= padding {
		if bytes.Count(out[len(out)-padding:], []byte{byte(padding)}) == padding {
			out = out[:len(out)-padding]
		}
	}
	return out, nil
}

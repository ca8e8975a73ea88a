package realtime

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/zaylenc/wxvault/internal/errors"
)

// 在线库是 SQLCipher 4 布局:页 4096 字节,首页前 16 字节是盐,
// 页尾保留区放 IV 和 HMAC-SHA512。
const (
	pageSize    = 4096
	saltSize    = 16
	keyIter     = 256000
	hmacSize    = 64
	reserveSize = 16 + hmacSize // IV + HMAC
)

// ValidateKey 用库文件首页校验密钥,不解密任何内容。
// 只读第一页,对 HMAC 不匹配返回 false。
func ValidateKey(dbPath, hexKey string) (bool, error) {
	rawKey, err := hex.DecodeString(hexKey)
	if err != nil || len(rawKey) != 32 {
		return false, errors.DecodeKeyFailed(err)
	}

	f, err := os.Open(dbPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	page := make([]byte, pageSize)
	if _, err := f.Read(page); err != nil {
		return false, err
	}

	// 明文库的话头部就是 SQLite 魔数,密钥无从谈起
	if bytes.HasPrefix(page, []byte("SQLite format 3\x00")) {
		return false, errors.DecodeKeyFailed(nil)
	}

	salt := page[:saltSize]
	key := pbkdf2.Key(rawKey, salt, keyIter, 32, sha512.New)

	macSalt := make([]byte, saltSize)
	for i := range salt {
		macSalt[i] = salt[i] ^ 0x3a
	}
	macKey := pbkdf2.Key(key, macSalt, 2, 32, sha512.New)

	// HMAC 覆盖页内容加 IV,再拼小端页号
	mac := hmac.New(sha512.New, macKey)
	mac.Write(page[saltSize : pageSize-reserveSize+16])
	pageNo := make([]byte, 4)
	binary.LittleEndian.PutUint32(pageNo, 1)
	mac.Write(pageNo)

	stored := page[pageSize-hmacSize : pageSize]
	return hmac.Equal(mac.Sum(nil), stored), nil
}

// probeLiveDB 在在线库目录里找一个能用来验钥的 db 文件。
func probeLiveDB(storageDir string) string {
	for _, rel := range []string{
		filepath.Join("session", "session.db"),
		filepath.Join("message", "message_0.db"),
		"session.db",
	} {
		p := filepath.Join(storageDir, rel)
		if info, err := os.Stat(p); err == nil && info.Size() >= pageSize {
			return p
		}
	}
	return ""
}

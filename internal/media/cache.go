package media

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/zaylenc/wxvault/pkg/util"
)

// Cache 是内容寻址的解密媒体缓存:{root}/{md5[:2]}/{md5}.{ext}。
// 同一 md5 的内容不变,重复写直接跳过。
type Cache struct {
	root string
}

func NewCache(root string) *Cache {
	return &Cache{root: root}
}

func (c *Cache) pathFor(md5, ext string) string {
	return filepath.Join(c.root, md5[:2], md5+"."+ext)
}

// Get 在缓存里找 md5,命中时按魔数校验扩展名,
// 不符(损坏或错误扩展)则删除并视为未命中。
func (c *Cache) Get(md5 string) (data []byte, ext string, ok bool) {
	if len(md5) < 2 {
		return nil, "", false
	}
	dir := filepath.Join(c.root, md5[:2])
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", false
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) <= len(md5) || name[:len(md5)] != md5 {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		claimedExt := filepath.Ext(name)
		if claimedExt != "" {
			claimedExt = claimedExt[1:]
		}
		sniffed := SniffExt(data)
		if sniffed != "" && sniffed != claimedExt {
			log.Warn().Str("path", path).Str("claimed", claimedExt).Str("actual", sniffed).
				Msg("cached media magic mismatch, dropping entry")
			if err := os.Remove(path); err != nil {
				log.Debug().Err(err).Str("path", path).Msg("remove corrupted cache entry failed")
			}
			continue
		}
		return data, claimedExt, true
	}
	return nil, "", false
}

// Put 写入缓存。已有同尺寸文件时跳过(幂等)。
func (c *Cache) Put(md5, ext string, data []byte) error {
	if len(md5) < 2 || len(data) == 0 {
		return nil
	}
	path := c.pathFor(md5, ext)
	if info, err := os.Stat(path); err == nil && info.Size() == int64(len(data)) {
		return nil
	}
	if err := util.PrepareDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

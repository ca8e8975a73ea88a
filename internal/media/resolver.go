package media

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zaylenc/wxvault/internal/errors"
	"github.com/zaylenc/wxvault/internal/model"
	"github.com/zaylenc/wxvault/internal/wechatdb/locator"
)

// HardlinkLookup 查硬链接索引,返回相对 dataDir 的路径。
type HardlinkLookup func(ctx context.Context, _type, key string) (*model.Media, error)

// Request 描述一次媒体定位。MD5 为主键,其余字段用于兜底探测。
type Request struct {
	Type   string // model.MediaImage 等
	MD5    string
	FileID string
	Talker string
	Time   time.Time // 消息时间,视频按月分桶时用
	AESKey []byte    // SNS/表情资源的显式解密 key,可为空
}

// Resolver 把消息里的媒体引用落到具体文件。
// 顺序:缓存 → 硬链接索引 → 会话目录探测 → 视频月桶 → file_id 扫描 → 深扫(可选)。
type Resolver struct {
	dataDir  string
	cache    *Cache
	lookup   HardlinkLookup
	deepScan bool
}

func NewResolver(dataDir, cacheDir string, lookup HardlinkLookup, deepScan bool) *Resolver {
	return &Resolver{
		dataDir:  dataDir,
		cache:    NewCache(cacheDir),
		lookup:   lookup,
		deepScan: deepScan,
	}
}

// Resolve 返回解密后的媒体内容。所有命中路径都会回写缓存。
func (r *Resolver) Resolve(ctx context.Context, req Request) (*model.Media, error) {
	if req.MD5 == "" && req.FileID == "" {
		return nil, errors.ErrMediaNotFound
	}

	if req.MD5 != "" {
		if data, ext, ok := r.cache.Get(req.MD5); ok {
			return &model.Media{Type: req.Type, Key: req.MD5, Data: data,
				MimeType: MimeFor(ext), Size: int64(len(data))}, nil
		}
	}

	path := r.locate(ctx, req)
	if path == "" {
		return nil, errors.ErrMediaNotFound
	}

	data, mime, err := ReadAndDecrypt(path, req.AESKey)
	if err != nil {
		return nil, err
	}

	if req.MD5 != "" {
		if err := r.cache.Put(req.MD5, extForMime(mime), data); err != nil {
			log.Debug().Err(err).Str("md5", req.MD5).Msg("media cache write failed")
		}
	}

	key := req.MD5
	if key == "" {
		key = req.FileID
	}
	return &model.Media{Type: req.Type, Key: key, Path: path, Data: data,
		MimeType: mime, Size: int64(len(data))}, nil
}

// locate 依次尝试各定位手段,返回磁盘绝对路径。
func (r *Resolver) locate(ctx context.Context, req Request) string {
	if req.MD5 != "" && r.lookup != nil {
		if m, err := r.lookup(ctx, req.Type, req.MD5); err == nil && m != nil && m.Path != "" {
			p := filepath.Join(r.dataDir, filepath.FromSlash(m.Path))
			if fileExists(p) {
				return p
			}
			// 索引指向的文件可能只差变体后缀,在同目录里再挑一次
			if alt := bestVariant(filepath.Dir(p), req.MD5); alt != "" {
				return alt
			}
		}
	}

	if req.MD5 != "" && req.Talker != "" {
		dir := filepath.Join(r.dataDir, "msg", "attach", locator.MD5(req.Talker))
		if p := probeTree(dir, req.MD5, 3); p != "" {
			return p
		}
	}

	if req.Type == model.MediaVideo || req.Type == model.MediaVideoThumb {
		if p := r.probeVideoBucket(req); p != "" {
			return p
		}
	}

	if req.FileID != "" {
		if p := probeTree(filepath.Join(r.dataDir, "msg", "file"), req.FileID, 3); p != "" {
			return p
		}
	}

	if r.deepScan && req.MD5 != "" {
		if p := probeTree(filepath.Join(r.dataDir, "msg"), req.MD5, 6); p != "" {
			return p
		}
	}
	return ""
}

// probeVideoBucket 按消息月份拼 msg/video/YYYY-MM/{md5}.mp4,相邻月各试一次。
func (r *Resolver) probeVideoBucket(req Request) string {
	if req.MD5 == "" || req.Time.IsZero() {
		return ""
	}
	suffix := req.MD5 + ".mp4"
	if req.Type == model.MediaVideoThumb {
		suffix = req.MD5 + "_thumb.jpg"
	}
	for _, delta := range []int{0, -1, 1} {
		month := req.Time.AddDate(0, delta, 0).Format("2006-01")
		p := filepath.Join(r.dataDir, "msg", "video", month, suffix)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// 变体偏好:原图 > 高清 > 无后缀 > 压缩 > 缩略图。
var variantRank = map[string]int{"b": 0, "h": 1, "": 2, "c": 3, "t": 4}

type candidate struct {
	path    string
	rank    int
	isDat   bool
	size    int64
	modTime time.Time
}

// better 按偏好序 > 非 .dat > 更大 > 更新比较两个候选。
func (c candidate) better(o candidate) bool {
	if c.rank != o.rank {
		return c.rank < o.rank
	}
	if c.isDat != o.isDat {
		return !c.isDat
	}
	if c.size != o.size {
		return c.size > o.size
	}
	return c.modTime.After(o.modTime)
}

// variantOf 取文件名里 key 之后的变体标记,如 {md5}_t.dat → "t"。
func variantOf(name, key string) (string, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.Index(base, key)
	if idx < 0 {
		return "", false
	}
	rest := base[idx+len(key):]
	rest = strings.TrimLeft(rest, "_.")
	if _, ok := variantRank[rest]; !ok {
		return "", false
	}
	return rest, true
}

// bestVariant 在单个目录里挑 key 的最优变体。
func bestVariant(dir, key string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best *candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		variant, ok := variantOf(name, key)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		c := candidate{
			path:    filepath.Join(dir, name),
			rank:    variantRank[variant],
			isDat:   strings.EqualFold(filepath.Ext(name), ".dat"),
			size:    info.Size(),
			modTime: info.ModTime(),
		}
		if best == nil || c.better(*best) {
			best = &c
		}
	}
	if best == nil {
		return ""
	}
	return best.path
}

// probeTree 在 root 下限深遍历,找文件名含 key 的最优候选。
// 目录按名字序访问,保证结果稳定。
func probeTree(root, key string, maxDepth int) string {
	var best *candidate
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, entry := range entries {
			if entry.IsDir() {
				if depth < maxDepth {
					walk(filepath.Join(dir, entry.Name()), depth+1)
				}
				continue
			}
			name := entry.Name()
			if !strings.Contains(name, key) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			rank := variantRank[""]
			if v, ok := variantOf(name, key); ok {
				rank = variantRank[v]
			}
			c := candidate{
				path:    filepath.Join(dir, name),
				rank:    rank,
				isDat:   strings.EqualFold(filepath.Ext(name), ".dat"),
				size:    info.Size(),
				modTime: info.ModTime(),
			}
			if best == nil || c.better(*best) {
				best = &c
			}
		}
	}
	walk(root, 0)
	if best == nil {
		return ""
	}
	return best.path
}

func extForMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	case "video/mp4":
		return "mp4"
	case "audio/mpeg":
		return "mp3"
	case "audio/silk":
		return "silk"
	}
	return "bin"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

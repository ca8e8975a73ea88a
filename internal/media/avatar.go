package media

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/zaylenc/wxvault/internal/errors"
	"github.com/zaylenc/wxvault/internal/model"
	"github.com/zaylenc/wxvault/pkg/util"
)

// 头像 URL 内容基本不变,7 天内不回源。
const avatarTTL = 7 * 24 * time.Hour

// AvatarCache 按账号缓存远端头像:
//
//	{root}/{account}/avatar_cache.db   元数据(ETag/Last-Modified/过期时间)
//	{root}/{account}/files/{md5[:2]}/  文件本体,md5(url) 寻址
type AvatarCache struct {
	root    string
	account string
	db      *sql.DB
	client  *http.Client
}

func OpenAvatarCache(root, account string) (*AvatarCache, error) {
	dir := filepath.Join(root, account)
	if err := util.PrepareDir(dir); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, "avatar_cache.db"))
	if err != nil {
		return nil, errors.DBInitFailed(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS avatar_cache (
		md5 TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		media_type TEXT,
		size_bytes INTEGER,
		etag TEXT,
		last_modified TEXT,
		fetched_at INTEGER,
		checked_at INTEGER,
		expires_at INTEGER
	)`)
	if err != nil {
		db.Close()
		return nil, errors.DBInitFailed(err)
	}
	return &AvatarCache{
		root:    dir,
		account: account,
		db:      db,
		client:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (a *AvatarCache) Close() error {
	return a.db.Close()
}

// Get 返回 url 对应的头像内容。缓存新鲜直接返回,过期做条件请求,
// 304 时只刷新元数据。远端失败时退回过期副本。
func (a *AvatarCache) Get(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", errors.ErrAvatarNotFound
	}
	sum := md5.Sum([]byte(url))
	key := hex.EncodeToString(sum[:])

	entry, data := a.load(ctx, key)
	now := time.Now()
	if entry != nil && data != nil && !entry.Expired(now) {
		return data, entry.MediaType, nil
	}

	fetched, mime, err := a.fetch(ctx, url, key, entry)
	if err != nil {
		if data != nil {
			log.Debug().Err(err).Str("url", url).Msg("avatar refetch failed, serving stale copy")
			return data, entry.MediaType, nil
		}
		return nil, "", err
	}
	if fetched == nil {
		// 304,内容沿用本地副本
		return data, entry.MediaType, nil
	}
	return fetched, mime, nil
}

func (a *AvatarCache) load(ctx context.Context, key string) (*model.MediaCacheEntry, []byte) {
	row := a.db.QueryRowContext(ctx,
		`SELECT path, media_type, size_bytes, etag, last_modified, fetched_at, checked_at, expires_at
		 FROM avatar_cache WHERE md5 = ?`, key)

	entry := &model.MediaCacheEntry{MD5: key}
	var fetchedAt, checkedAt, expiresAt int64
	err := row.Scan(&entry.Path, &entry.MediaType, &entry.SizeBytes,
		&entry.ETag, &entry.LastModified, &fetchedAt, &checkedAt, &expiresAt)
	if err != nil {
		return nil, nil
	}
	entry.FetchedAt = time.Unix(fetchedAt, 0)
	entry.CheckedAt = time.Unix(checkedAt, 0)
	entry.ExpiresAt = time.Unix(expiresAt, 0)

	data, err := os.ReadFile(filepath.Join(a.root, "files", filepath.FromSlash(entry.Path)))
	if err != nil {
		return entry, nil
	}
	return entry, data
}

// fetch 拉取头像,带条件请求头。返回 (nil, "", nil) 表示 304。
func (a *AvatarCache) fetch(ctx context.Context, url, key string, prev *model.MediaCacheEntry) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	if prev != nil {
		if prev.ETag != "" {
			req.Header.Set("If-None-Match", prev.ETag)
		}
		if prev.LastModified != "" {
			req.Header.Set("If-Modified-Since", prev.LastModified)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	now := time.Now()
	if resp.StatusCode == http.StatusNotModified && prev != nil {
		a.touch(key, now)
		return nil, "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("avatar fetch: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", err
	}
	ext := SniffExt(data)
	if ext == "" {
		ext = "jpg"
	}
	relPath := filepath.Join(key[:2], key+"."+ext)
	absPath := filepath.Join(a.root, "files", relPath)
	if err := util.PrepareDir(filepath.Dir(absPath)); err != nil {
		return nil, "", err
	}
	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return nil, "", err
	}

	mime := MimeFor(ext)
	_, err = a.db.Exec(`INSERT INTO avatar_cache
		(md5, path, media_type, size_bytes, etag, last_modified, fetched_at, checked_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(md5) DO UPDATE SET
		path=excluded.path, media_type=excluded.media_type, size_bytes=excluded.size_bytes,
		etag=excluded.etag, last_modified=excluded.last_modified,
		fetched_at=excluded.fetched_at, checked_at=excluded.checked_at, expires_at=excluded.expires_at`,
		key, filepath.ToSlash(relPath), mime, len(data),
		resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"),
		now.Unix(), now.Unix(), now.Add(avatarTTL).Unix())
	if err != nil {
		log.Debug().Err(err).Str("md5", key).Msg("avatar metadata write failed")
	}
	return data, mime, nil
}

func (a *AvatarCache) touch(key string, now time.Time) {
	_, err := a.db.Exec(`UPDATE avatar_cache SET checked_at = ?, expires_at = ? WHERE md5 = ?`,
		now.Unix(), now.Add(avatarTTL).Unix(), key)
	if err != nil {
		log.Debug().Err(err).Str("md5", key).Msg("avatar metadata touch failed")
	}
}

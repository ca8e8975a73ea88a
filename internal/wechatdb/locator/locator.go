// Package locator 负责把会话 username 定位到物理消息表。
// 每个会话的消息存在以 md5(username) 命名的表里,分布在多个分片文件中。
package locator

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zaylenc/wxvault/internal/errors"
)

// Location 是一次表定位的结果。
type Location struct {
	DBPath string `json:"dbPath"`
	Table  string `json:"table"`
}

// 非消息分片的文件名,定位时跳过。
var shardBlacklist = map[string]struct{}{
	"session.db":          {},
	"contact.db":          {},
	"head_image.db":       {},
	"message_resource.db": {},
	"message_fts.db":      {},
	"hardlink.db":         {},
	"sns.db":              {},
}

// IsMessageShard 判断文件是否是消息分片。includeBiz 控制 biz_message*.db。
func IsMessageShard(path string, includeBiz bool) bool {
	name := strings.ToLower(filepath.Base(path))
	if !strings.HasSuffix(name, ".db") {
		return false
	}
	if _, ok := shardBlacklist[name]; ok {
		return false
	}
	if strings.HasPrefix(name, "biz_message") {
		return includeBiz
	}
	return strings.HasPrefix(name, "message")
}

// Locator 在一组分片上解析消息表,带结果缓存。
type Locator struct {
	shards func() ([]string, error)
	open   func(path string) (*sql.DB, error)

	mu    sync.RWMutex
	cache map[string]Location
}

// New 构造 Locator。shards 返回按名称排序的分片路径,open 提供连接。
func New(shards func() ([]string, error), open func(path string) (*sql.DB, error)) *Locator {
	return &Locator{
		shards: shards,
		open:   open,
		cache:  make(map[string]Location),
	}
}

// ClearCache 在分片集合变化(解密重跑、实时同步新建表)后调用。
func (l *Locator) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]Location)
	l.mu.Unlock()
}

// MD5 返回 username 的表名哈希。
func MD5(username string) string {
	sum := md5.Sum([]byte(username))
	return hex.EncodeToString(sum[:])
}

// Resolve 在所有分片中定位 username 的消息表。
func (l *Locator) Resolve(username string) (*Location, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.ErrTalkerEmpty
	}

	l.mu.RLock()
	if loc, ok := l.cache[username]; ok {
		l.mu.RUnlock()
		return &loc, nil
	}
	l.mu.RUnlock()

	paths, err := l.shards()
	if err != nil {
		return nil, errors.MessageStoreNotFound(username)
	}

	hash := MD5(username)
	for _, path := range paths {
		tables, err := l.listTables(path)
		if err != nil {
			continue
		}
		if table := matchTable(tables, hash); table != "" {
			loc := Location{DBPath: path, Table: table}
			l.mu.Lock()
			l.cache[username] = loc
			l.mu.Unlock()
			return &loc, nil
		}
	}
	return nil, errors.MessageStoreNotFound(username)
}

// ResolveBatch 一次遍历解析多个 username,摊薄 sqlite_master 的读取成本。
// 返回值里缺席的 username 表示未找到。
func (l *Locator) ResolveBatch(usernames []string) (map[string]Location, error) {
	result := make(map[string]Location, len(usernames))
	pending := make(map[string]string, len(usernames)) // hash -> username

	l.mu.RLock()
	for _, u := range usernames {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if loc, ok := l.cache[u]; ok {
			result[u] = loc
		} else {
			pending[MD5(u)] = u
		}
	}
	l.mu.RUnlock()

	if len(pending) == 0 {
		return result, nil
	}

	paths, err := l.shards()
	if err != nil {
		return result, nil
	}

	for _, path := range paths {
		if len(pending) == 0 {
			break
		}
		tables, err := l.listTables(path)
		if err != nil {
			continue
		}
		for hash, username := range pending {
			if table := matchTable(tables, hash); table != "" {
				loc := Location{DBPath: path, Table: table}
				result[username] = loc
				l.mu.Lock()
				l.cache[username] = loc
				l.mu.Unlock()
				delete(pending, hash)
			}
		}
	}
	return result, nil
}

func (l *Locator) listTables(path string) ([]string, error) {
	db, err := l.open(path)
	if err != nil {
		return nil, errors.DBConnectFailed(path, err)
	}

	query := `SELECT name FROM sqlite_master WHERE type='table'`
	rows, err := db.Query(query)
	if err != nil {
		return nil, errors.QueryFailed(query, err)
	}
	defer rows.Close()

	tables := make([]string, 0, 64)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.ScanRowFailed(err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// matchTable 按确定的优先级在表名里找 md5:
// 精确 Msg_/Chat_ > 前缀加包含 > 任意包含 > 包含前 24 位。
// 精确命中存在时绝不落到截断匹配。
func matchTable(tables []string, hash string) string {
	exactMsg := "msg_" + hash
	exactChat := "chat_" + hash

	for _, t := range tables {
		lower := strings.ToLower(t)
		if lower == exactMsg || lower == exactChat {
			return t
		}
	}

	for _, t := range tables {
		lower := strings.ToLower(t)
		if (strings.HasPrefix(lower, "msg_") || strings.HasPrefix(lower, "chat_")) &&
			strings.Contains(lower, hash) {
			return t
		}
	}

	for _, t := range tables {
		if strings.Contains(strings.ToLower(t), hash) {
			return t
		}
	}

	truncated := hash[:24]
	for _, t := range tables {
		if strings.Contains(strings.ToLower(t), truncated) {
			return t
		}
	}
	return ""
}

package realtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/zaylenc/wxvault/internal/errors"
)

// Conn 是某个账号的在线库连接。句柄不支持并发调用,
// 所有使用方都要先拿 Lock。
type Conn struct {
	ID          string
	Account     string
	StorageDir  string
	Handle      Handle
	ConnectedAt time.Time

	mu sync.Mutex
}

func (c *Conn) Lock()   { c.mu.Lock() }
func (c *Conn) Unlock() { c.mu.Unlock() }

// ConnManager 维护每个账号的单例连接。首个调用方负责建连,
// 其余调用方等在条件变量上,避免同账号并发重复建连。
type ConnManager struct {
	bridge Bridge

	mu         sync.Mutex
	cond       *sync.Cond
	conns      map[string]*Conn
	connecting map[string]bool
}

func NewConnManager(bridge Bridge) *ConnManager {
	m := &ConnManager{
		bridge:     bridge,
		conns:      make(map[string]*Conn),
		connecting: make(map[string]bool),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Get 返回账号的连接,没有则建立。storageDir 为空时自动探测。
func (m *ConnManager) Get(ctx context.Context, account, storageDir, key string) (*Conn, error) {
	if !validKey(key) {
		return nil, errors.ErrKeyNotFound
	}

	m.mu.Lock()
	for {
		if conn, ok := m.conns[account]; ok {
			m.mu.Unlock()
			return conn, nil
		}
		if !m.connecting[account] {
			break
		}
		m.cond.Wait()
	}
	m.connecting[account] = true
	m.mu.Unlock()

	conn, err := m.connect(ctx, account, storageDir, key)

	m.mu.Lock()
	delete(m.connecting, account)
	if err == nil {
		m.conns[account] = conn
	}
	m.cond.Broadcast()
	m.mu.Unlock()

	return conn, err
}

func (m *ConnManager) connect(ctx context.Context, account, storageDir, key string) (*Conn, error) {
	if storageDir == "" {
		dir, err := DiscoverStorageDir(account)
		if err != nil {
			return nil, err
		}
		storageDir = dir
	}
	if _, err := os.Stat(storageDir); err != nil {
		return nil, errors.BridgeUnavailable(err)
	}

	// 能摸到库文件就先验钥,免得把坏密钥交给本地组件
	if dbPath := probeLiveDB(storageDir); dbPath != "" {
		ok, err := ValidateKey(dbPath, key)
		if err == nil && !ok {
			return nil, errors.DecodeKeyFailed(nil)
		}
	}

	handle, err := m.bridge.OpenAccount(ctx, account, storageDir, key)
	if err != nil {
		return nil, errors.BridgeUnavailable(err)
	}

	conn := &Conn{
		ID:          uuid.NewString(),
		Account:     account,
		StorageDir:  storageDir,
		Handle:      handle,
		ConnectedAt: time.Now(),
	}
	log.Info().Str("account", account).Str("conn", conn.ID).Str("dir", storageDir).
		Msg("realtime connection established")
	return conn, nil
}

// Close 关闭单个账号的连接。
func (m *ConnManager) Close(ctx context.Context, account string) error {
	m.mu.Lock()
	conn, ok := m.conns[account]
	delete(m.conns, account)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	conn.Lock()
	defer conn.Unlock()
	return m.bridge.CloseAccount(ctx, conn.Handle)
}

// CloseAll 关闭全部连接,进程退出时调用。
func (m *ConnManager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*Conn)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Lock()
		if err := m.bridge.CloseAccount(ctx, conn.Handle); err != nil {
			log.Warn().Err(err).Str("account", conn.Account).Msg("close realtime connection failed")
		}
		conn.Unlock()
	}
}

// validKey 校验 64 位十六进制的数据库密钥。
func validKey(key string) bool {
	if len(key) != 64 {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

var wechatProcessNames = map[string]bool{
	"wechat": true, "wechat.exe": true,
	"weixin": true, "weixin.exe": true,
}

// DiscoverStorageDir 在运行中的微信进程打开的文件里找 db_storage 目录。
// account 非空时要求路径里含该账号名。
func DiscoverStorageDir(account string) (string, error) {
	procs, err := process.Processes()
	if err != nil {
		return "", errors.BridgeUnavailable(err)
	}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !wechatProcessNames[strings.ToLower(name)] {
			continue
		}
		files, err := p.OpenFiles()
		if err != nil {
			continue
		}
		for _, f := range files {
			path := filepath.ToSlash(f.Path)
			idx := strings.Index(path, "/db_storage/")
			if idx < 0 {
				continue
			}
			if account != "" && !strings.Contains(path, "/"+account+"/") {
				continue
			}
			return filepath.FromSlash(path[:idx+len("/db_storage")]), nil
		}
	}
	return "", errors.BridgeUnavailable(nil)
}

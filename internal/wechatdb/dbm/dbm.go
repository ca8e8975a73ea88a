// Package dbm 管理快照目录下的 SQLite 文件:按组注册、监听变化、
// 维护打开的连接。
package dbm

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/fsnotify/fsnotify"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Group 描述一类数据库文件,Pattern 匹配文件名,BlackList 排除特例。
type Group struct {
	Name      string
	Pattern   string
	BlackList []string

	re *regexp.Regexp
}

type DBManager struct {
	path    string
	groups  map[string]*Group
	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	files     map[string][]string // group name -> sorted file paths
	dbs       map[string]*sql.DB  // file path -> open handle
	callbacks map[string][]func(event fsnotify.Event) error

	closeOnce sync.Once
	done      chan struct{}
}

func NewDBManager(path string) *DBManager {
	return &DBManager{
		path:      path,
		groups:    make(map[string]*Group),
		files:     make(map[string][]string),
		dbs:       make(map[string]*sql.DB),
		callbacks: make(map[string][]func(event fsnotify.Event) error),
		done:      make(chan struct{}),
	}
}

func (m *DBManager) AddGroup(g *Group) {
	re, err := regexp.Compile(g.Pattern)
	if err != nil {
		log.Error().Err(err).Str("group", g.Name).Msg("invalid group pattern")
		return
	}
	g.re = re
	m.mu.Lock()
	m.groups[g.Name] = g
	m.mu.Unlock()
}

// Start 扫描目录并启动文件监听。
func (m *DBManager) Start() error {
	if err := m.scan(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, db changes will not be detected")
		return nil
	}
	m.watcher = watcher
	if err := watcher.Add(m.path); err != nil {
		log.Warn().Err(err).Str("path", m.path).Msg("watch dir failed")
	}

	go m.watchLoop()
	return nil
}

func (m *DBManager) watchLoop() {
	for {
		select {
		case <-m.done:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Msg("fsnotify error")
		}
	}
}

func (m *DBManager) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, ".db") {
		return
	}

	m.mu.RLock()
	var matched []string
	var cbs []func(event fsnotify.Event) error
	for _, g := range m.groups {
		if g.match(name) {
			matched = append(matched, g.Name)
			cbs = append(cbs, m.callbacks[g.Name]...)
		}
	}
	m.mu.RUnlock()

	if len(matched) == 0 {
		return
	}

	if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		if err := m.scan(); err != nil {
			log.Err(err).Msg("rescan after fs event failed")
		}
	}

	for _, cb := range cbs {
		if err := cb(event); err != nil {
			log.Debug().Err(err).Str("file", name).Msg("db change callback failed")
		}
	}
}

func (g *Group) match(name string) bool {
	if !g.re.MatchString(name) {
		return false
	}
	for _, b := range g.BlackList {
		if name == b {
			return false
		}
	}
	return true
}

func (m *DBManager) scan() error {
	entries, err := os.ReadDir(m.path)
	if err != nil {
		return fmt.Errorf("read snapshot dir: %w", err)
	}

	files := make(map[string][]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		for _, g := range m.groups {
			if g.match(name) {
				files[g.Name] = append(files[g.Name], filepath.Join(m.path, name))
			}
		}
	}
	for _, paths := range files {
		sort.Strings(paths)
	}

	m.mu.Lock()
	m.files = files
	m.mu.Unlock()
	return nil
}

// GetDBPath 返回组内所有文件,按名称排序。
func (m *DBManager) GetDBPath(group string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths, ok := m.files[group]
	if !ok || len(paths) == 0 {
		return nil, fmt.Errorf("db file not found: %s", group)
	}
	out := make([]string, len(paths))
	copy(out, paths)
	return out, nil
}

// OpenDB 打开(或复用)一个只读连接。
func (m *DBManager) OpenDB(path string) (*sql.DB, error) {
	m.mu.RLock()
	db, ok := m.dbs[path]
	m.mu.RUnlock()
	if ok {
		return db, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.dbs[path]; ok {
		return db, nil
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&immutable=0", path))
	if err != nil {
		return nil, err
	}
	m.dbs[path] = db
	return db, nil
}

// OpenWritable 打开一个可写连接,调用方负责关闭。实时同步的回写路径使用。
func (m *DBManager) OpenWritable(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path)
}

func (m *DBManager) AddCallback(group string, callback func(event fsnotify.Event) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[group]; !ok {
		return fmt.Errorf("unknown group: %s", group)
	}
	m.callbacks[group] = append(m.callbacks[group], callback)
	return nil
}

// Fingerprint 对一个组的文件名、大小、修改时间做 xxhash,
// 用来判断数据集是否变化、缓存是否需要重建。
func (m *DBManager) Fingerprint(group string) uint64 {
	m.mu.RLock()
	paths := m.files[group]
	m.mu.RUnlock()

	h := xxhash.New()
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		fmt.Fprintf(h, "%s|%d|%d;", filepath.Base(p), info.Size(), info.ModTime().UnixNano())
	}
	return h.Sum64()
}

func (m *DBManager) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		if m.watcher != nil {
			m.watcher.Close()
		}
		m.mu.Lock()
		for path, db := range m.dbs {
			if err := db.Close(); err != nil {
				log.Debug().Err(err).Str("path", path).Msg("close db failed")
			}
		}
		m.dbs = make(map[string]*sql.DB)
		m.mu.Unlock()
	})
	return nil
}

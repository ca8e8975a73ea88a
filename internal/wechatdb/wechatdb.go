package wechatdb

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/zaylenc/wxvault/internal/errors"
	"github.com/zaylenc/wxvault/internal/model"
	"github.com/zaylenc/wxvault/internal/msgparse"
	"github.com/zaylenc/wxvault/internal/wechatdb/locator"
	"github.com/zaylenc/wxvault/internal/wechatdb/snapshot"
)

// DB 是一个账号快照目录上的统一入口:消息、会话、联系人、媒体索引,
// 外加联系人缓存和会话预览缓存。
type DB struct {
	path     string
	ds       *snapshot.DataSource
	parser   *msgparse.Parser
	previews *snapshot.PreviewStore

	contactMu    sync.RWMutex
	contactCache map[string]*model.Contact
	contactFull  bool
}

func New(path string) (*DB, error) {
	w := &DB{
		path:         path,
		contactCache: make(map[string]*model.Contact),
	}

	var err error
	w.ds, err = snapshot.New(path)
	if err != nil {
		return nil, err
	}

	w.parser = msgparse.New(w.DisplayName)

	w.previews, err = snapshot.OpenPreviewStore(filepath.Join(path, "_preview_cache.db"))
	if err != nil {
		log.Warn().Err(err).Msg("preview cache unavailable")
		w.previews = nil
	} else {
		fresh, err := w.previews.CheckFingerprint(context.Background(), w.ds.Fingerprint())
		if err != nil {
			log.Debug().Err(err).Msg("preview fingerprint check failed")
		} else if !fresh {
			log.Info().Msg("message shards changed, preview cache cleared")
		}
	}

	// 联系人库变化时作废缓存
	_ = w.ds.SetCallback(snapshot.Contact, func(event fsnotify.Event) error {
		w.contactMu.Lock()
		w.contactCache = make(map[string]*model.Contact)
		w.contactFull = false
		w.contactMu.Unlock()
		return nil
	})

	return w, nil
}

func (w *DB) Path() string { return w.path }

func (w *DB) DataSource() *snapshot.DataSource { return w.ds }

func (w *DB) Locator() *locator.Locator { return w.ds.Locator() }

func (w *DB) PreviewStore() *snapshot.PreviewStore { return w.previews }

func (w *DB) Fingerprint() string { return w.ds.Fingerprint() }

func (w *DB) SetCallback(group string, callback func(event fsnotify.Event) error) error {
	return w.ds.SetCallback(group, callback)
}

// GetMessages 查询一个会话的消息,完成解码、归一化和显示名填充。
func (w *DB) GetMessages(start, end time.Time, talker string, limit, offset int) ([]*model.Message, error) {
	ctx := context.Background()

	messages, err := w.ds.GetMessages(ctx, talker, start, end, limit, offset, w.parser)
	if err != nil {
		return nil, err
	}

	for _, m := range messages {
		if m.Sender != "" {
			m.SenderName = w.DisplayName(m.Sender)
		}
	}
	return messages, nil
}

type GetSessionsResp struct {
	Items []*model.Session `json:"items"`
}

// GetSessions 返回过滤后的会话列表,带显示名。
func (w *DB) GetSessions(key string, limit, offset int, includeOfficial bool) (*GetSessionsResp, error) {
	ctx := context.Background()

	// 过滤在分页之前做,向快照层多要一些行
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = (limit + offset) * 2
	}
	sessions, err := w.ds.GetSessions(ctx, key, fetchLimit, 0)
	if err != nil {
		return nil, err
	}

	kept := make([]*model.Session, 0, len(sessions))
	for _, s := range sessions {
		if !snapshot.KeepSession(s.UserName, includeOfficial) {
			continue
		}
		s.DisplayName = w.DisplayName(s.UserName)
		kept = append(kept, s)
	}

	if limit > 0 {
		if offset >= len(kept) {
			kept = []*model.Session{}
		} else {
			end := offset + limit
			if end > len(kept) {
				end = len(kept)
			}
			kept = kept[offset:end]
		}
	}
	return &GetSessionsResp{Items: kept}, nil
}

type GetContactsResp struct {
	Items []*model.Contact `json:"items"`
}

func (w *DB) GetContacts(key string, limit, offset int) (*GetContactsResp, error) {
	contacts, err := w.ds.GetContacts(context.Background(), key, limit, offset)
	if err != nil {
		return nil, err
	}
	return &GetContactsResp{Items: contacts}, nil
}

// GetContact 带缓存的单个联系人查询,未命中返回 nil。
func (w *DB) GetContact(username string) *model.Contact {
	if username == "" {
		return nil
	}

	w.contactMu.RLock()
	c, ok := w.contactCache[username]
	full := w.contactFull
	w.contactMu.RUnlock()
	if ok {
		return c
	}
	if full {
		return nil
	}

	contacts, err := w.ds.GetContacts(context.Background(), username, 1, 0)
	if err != nil || len(contacts) == 0 {
		return nil
	}
	w.contactMu.Lock()
	w.contactCache[username] = contacts[0]
	w.contactMu.Unlock()
	return contacts[0]
}

// LoadAllContacts 整体加载联系人缓存,供批量显示名填充。
func (w *DB) LoadAllContacts() error {
	contacts, err := w.ds.GetContacts(context.Background(), "", 0, 0)
	if err != nil {
		return errors.InitCacheFailed(err)
	}
	cache := make(map[string]*model.Contact, len(contacts))
	for _, c := range contacts {
		cache[c.UserName] = c
	}
	w.contactMu.Lock()
	w.contactCache = cache
	w.contactFull = true
	w.contactMu.Unlock()
	return nil
}

// DisplayName 解析显示名,兜底返回 username 本身。
func (w *DB) DisplayName(username string) string {
	if c := w.GetContact(username); c != nil {
		return c.DisplayName()
	}
	return username
}

// AvatarURL 返回联系人头像地址,没有时为空,由调用方退到头像库。
func (w *DB) AvatarURL(username string) string {
	if c := w.GetContact(username); c != nil {
		return c.AvatarURL()
	}
	return ""
}

func (w *DB) GetAvatar(username string) ([]byte, error) {
	return w.ds.GetAvatar(context.Background(), username)
}

func (w *DB) GetMedia(_type string, key string) (*model.Media, error) {
	return w.ds.GetHardlinkMedia(context.Background(), _type, key)
}

func (w *DB) GetVoice(key string) (*model.Media, error) {
	return w.ds.GetVoice(context.Background(), key)
}

func (w *DB) Close() error {
	if w.previews != nil {
		if err := w.previews.Close(); err != nil {
			log.Debug().Err(err).Msg("close preview store failed")
		}
	}
	return w.ds.Close()
}

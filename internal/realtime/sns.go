package realtime

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zaylenc/wxvault/pkg/util"
)

// 朋友圈增量同步的书签和人工选定的媒体变体,落在账号目录下的
// 两个小 JSON 文件里,随时能手改。

const (
	snsStateFile = "_sns_realtime_sync_state.json"
	snsPicksFile = "_sns_media_picks.json"
)

// SnsSyncState 记录上次同步推进到哪。
type SnsSyncState struct {
	LastFeedID    string    `json:"lastFeedId,omitempty"`
	LastCreatedAt int64     `json:"lastCreatedAt,omitempty"`
	SyncedAt      time.Time `json:"syncedAt"`
}

// SnsMediaPicks 是 feedId → 选定媒体 URL 的人工覆盖表。
type SnsMediaPicks map[string]string

// SnsStore 读写某输出根目录下各账号的朋友圈边车文件。
// 写入先落临时文件再改名,避免半截文件。
type SnsStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSnsStore(root string) *SnsStore {
	return &SnsStore{root: root, locks: make(map[string]*sync.Mutex)}
}

func (s *SnsStore) accountLock(account string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.locks[account]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[account] = mu
	}
	return mu
}

func (s *SnsStore) LoadState(account string) (*SnsSyncState, error) {
	var state SnsSyncState
	if err := s.read(account, snsStateFile, &state); err != nil {
		if os.IsNotExist(err) {
			return &SnsSyncState{}, nil
		}
		return nil, err
	}
	return &state, nil
}

func (s *SnsStore) SaveState(account string, state *SnsSyncState) error {
	mu := s.accountLock(account)
	mu.Lock()
	defer mu.Unlock()
	return s.write(account, snsStateFile, state)
}

func (s *SnsStore) LoadPicks(account string) (SnsMediaPicks, error) {
	picks := make(SnsMediaPicks)
	if err := s.read(account, snsPicksFile, &picks); err != nil {
		if os.IsNotExist(err) {
			return picks, nil
		}
		return nil, err
	}
	return picks, nil
}

func (s *SnsStore) SavePick(account, feedID, url string) error {
	mu := s.accountLock(account)
	mu.Lock()
	defer mu.Unlock()

	picks, err := s.LoadPicks(account)
	if err != nil {
		return err
	}
	picks[feedID] = url
	return s.write(account, snsPicksFile, picks)
}

func (s *SnsStore) read(account, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.root, account, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *SnsStore) write(account, name string, v any) error {
	dir := filepath.Join(s.root, account)
	if err := util.PrepareDir(dir); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, name))
}

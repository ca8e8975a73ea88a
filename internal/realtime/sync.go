package realtime

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zaylenc/wxvault/internal/errors"
	"github.com/zaylenc/wxvault/internal/model"
	"github.com/zaylenc/wxvault/internal/msgdec"
	"github.com/zaylenc/wxvault/internal/msgparse"
	"github.com/zaylenc/wxvault/internal/wechatdb"
	"github.com/zaylenc/wxvault/internal/wechatdb/locator"
	"github.com/zaylenc/wxvault/pkg/util"
)

// Options 里的常数是经验值,可按环境调。
type Options struct {
	BatchSize   int           // 在线库分页大小
	MaxScan     int           // 单次同步最多翻看的行数
	MaxErrors   int           // 批量同步保留的错误条数上限
	ProbeRows   int           // 数据源择优探针的行数上限
	ProbeTTL    time.Duration // 择优结果的缓存时长
	StorageDir  string        // 空则自动探测
	DatabaseKey string
}

func DefaultOptions() Options {
	return Options{
		BatchSize: 200,
		MaxScan:   5000,
		MaxErrors: 20,
		ProbeRows: 200,
		ProbeTTL:  60 * time.Second,
	}
}

// SyncResult 汇总一次会话同步。
type SyncResult struct {
	Account    string `json:"account"`
	UserName   string `json:"username"`
	Scanned    int    `json:"scanned"`
	Inserted   int    `json:"inserted"`
	Backfilled int    `json:"backfilled"`
	LatestTime int64  `json:"latestTime,omitempty"` // 新落盘消息里最新的时间戳(秒)
}

// BatchResult 汇总一次全量同步,失败的会话不影响其他会话。
type BatchResult struct {
	Account  string       `json:"account"`
	Sessions int          `json:"sessions"`
	Synced   int          `json:"synced"`
	Results  []SyncResult `json:"results,omitempty"`
	Errors   []string     `json:"errors,omitempty"`
	Dropped  int          `json:"droppedErrors,omitempty"` // 超出上限被丢弃的错误数
}

type probeDecision struct {
	preferSnapshot bool
	decidedAt      time.Time
}

// Syncer 把在线库的新消息增量并入解密快照。
type Syncer struct {
	db    *wechatdb.DB
	conns *ConnManager
	opts  Options
	sns   *SnsStore // 可选,缺席时不落同步书签

	// per-(account, username) 串行化同一分片表的并发同步
	convMu sync.Mutex
	convs  map[string]*sync.Mutex

	// per-account 串行化全量批同步
	batchMu sync.Mutex
	batches map[string]*sync.Mutex

	probeMu sync.Mutex
	probes  map[string]probeDecision
}

func NewSyncer(db *wechatdb.DB, conns *ConnManager, opts Options) *Syncer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.MaxScan <= 0 {
		opts.MaxScan = 5000
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 20
	}
	if opts.ProbeRows <= 0 {
		opts.ProbeRows = 200
	}
	if opts.ProbeTTL <= 0 {
		opts.ProbeTTL = 60 * time.Second
	}
	return &Syncer{
		db:      db,
		conns:   conns,
		opts:    opts,
		convs:   make(map[string]*sync.Mutex),
		batches: make(map[string]*sync.Mutex),
		probes:  make(map[string]probeDecision),
	}
}

// SetSnsStore 注入边车存储,之后每次全量同步都会推进书签。
func (s *Syncer) SetSnsStore(store *SnsStore) { s.sns = store }

func (s *Syncer) convLock(account, username string) *sync.Mutex {
	key := account + "\x00" + username
	s.convMu.Lock()
	defer s.convMu.Unlock()
	mu, ok := s.convs[key]
	if !ok {
		mu = &sync.Mutex{}
		s.convs[key] = mu
	}
	return mu
}

func (s *Syncer) batchLock(account string) *sync.Mutex {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	mu, ok := s.batches[account]
	if !ok {
		mu = &sync.Mutex{}
		s.batches[account] = mu
	}
	return mu
}

// SyncLatest 同步单个会话。maxScan <= 0 用默认预算。
func (s *Syncer) SyncLatest(ctx context.Context, account, username string, maxScan int) (*SyncResult, error) {
	if username == "" {
		return nil, errors.ErrTalkerEmpty
	}
	if maxScan <= 0 {
		maxScan = s.opts.MaxScan
	}

	conn, err := s.conns.Get(ctx, account, s.opts.StorageDir, s.opts.DatabaseKey)
	if err != nil {
		return nil, err
	}

	mu := s.convLock(account, username)
	mu.Lock()
	defer mu.Unlock()

	loc, err := s.db.DataSource().EnsureShard(ctx, username)
	if err != nil {
		return nil, err
	}
	maxID, err := s.db.DataSource().MaxLocalID(ctx, loc)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Account: account, UserName: username}
	var fresh []*model.MessageRow    // local_id > maxID,待插入
	var backfill []*model.MessageRow // 已有但可能缺 packed_info_data

	offset := 0
	caughtUp := false
	for !caughtUp && result.Scanned < maxScan {
		conn.Lock()
		raws, err := s.conns.bridge.GetMessages(ctx, conn.Handle, username, s.opts.BatchSize, offset)
		conn.Unlock()
		if err != nil {
			return nil, errors.SyncFailed(account, err)
		}
		if len(raws) == 0 {
			break
		}
		offset += len(raws)

		for _, raw := range raws {
			result.Scanned++
			row, err := NormalizeRow(raw)
			if err != nil {
				// 单行坏数据跳过,不影响整体
				log.Debug().Err(err).Str("talker", username).Msg("skip malformed realtime row")
				continue
			}
			if row.LocalID <= maxID {
				caughtUp = true
				if len(row.PackedInfoData) > 0 && len(backfill) < s.opts.BatchSize {
					backfill = append(backfill, row)
				}
				continue
			}
			fresh = append(fresh, row)
		}
		if len(raws) < s.opts.BatchSize {
			break
		}
	}

	// 在线库新消息在前,落盘按 local_id 升序
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}

	result.Inserted, err = s.db.DataSource().InsertMessageRows(ctx, loc, fresh)
	if err != nil {
		return nil, err
	}
	result.Backfilled, err = s.db.DataSource().BackfillPackedInfo(ctx, loc, backfill)
	if err != nil {
		return nil, err
	}

	if len(fresh) > 0 {
		newest := fresh[len(fresh)-1]
		result.LatestTime = util.NormalizeUnixSeconds(newest.CreateTime)
		s.advanceSession(ctx, account, username, loc, newest)
	}
	return result, nil
}

// advanceSession 推进会话时间戳并刷新预览缓存,失败只记日志。
// 摘要用解码后的正文(非文本给占位标签),发送人取群消息前缀,
// 自己发出的消息记账号名。
func (s *Syncer) advanceSession(ctx context.Context, account, username string, loc *locator.Location, newest *model.MessageRow) {
	ts := util.NormalizeUnixSeconds(newest.CreateTime)

	body := msgdec.Decode(newest.CompressContent, newest.MessageContent)
	sender := username
	if strings.HasSuffix(username, "@chatroom") {
		if from, rest, ok := msgparse.ExtractGroupSender(body); ok {
			sender, body = from, rest
		}
	}
	if newest.Status == 2 && account != "" {
		// Status 2 是自己发出的
		sender = account
	}
	summary := msgparse.PreviewText(newest.LocalType, body)

	err := s.db.DataSource().AdvanceSession(ctx, username, ts, newest.LocalType, 0, sender, summary)
	if err != nil {
		log.Warn().Err(err).Str("talker", username).Msg("advance session failed")
	}

	if store := s.db.PreviewStore(); store != nil {
		preview := &model.SessionPreview{
			UserName:   username,
			SortSeq:    newest.SortSeq,
			LocalID:    newest.LocalID,
			CreateTime: ts,
			LocalType:  newest.LocalType,
			Sender:     sender,
			Preview:    summary,
			DBStem:     strings.TrimSuffix(filepath.Base(loc.DBPath), ".db"),
			TableName:  loc.Table,
			BuiltAt:    time.Now(),
		}
		if err := store.Upsert(ctx, preview); err != nil {
			log.Warn().Err(err).Str("talker", username).Msg("preview upsert failed")
		}
	}
}

// SyncAll 同步账号的全部可见会话。单个会话失败只计入错误列表。
func (s *Syncer) SyncAll(ctx context.Context, account string, maxScan int) (*BatchResult, error) {
	mu := s.batchLock(account)
	mu.Lock()
	defer mu.Unlock()

	conn, err := s.conns.Get(ctx, account, s.opts.StorageDir, s.opts.DatabaseKey)
	if err != nil {
		return nil, err
	}

	conn.Lock()
	raws, err := s.conns.bridge.GetSessions(ctx, conn.Handle, 0, 0)
	conn.Unlock()
	if err != nil {
		return nil, errors.SyncFailed(account, err)
	}

	batch := &BatchResult{Account: account}
	for _, raw := range raws {
		v, ok := pick(raw, "username", "user_name", "userName", "talker")
		if !ok {
			continue
		}
		username, _ := v.(string)
		if username == "" {
			continue
		}
		batch.Sessions++

		result, err := s.SyncLatest(ctx, account, username, maxScan)
		if err != nil {
			if len(batch.Errors) < s.opts.MaxErrors {
				batch.Errors = append(batch.Errors, fmt.Sprintf("%s: %v", username, err))
			} else {
				batch.Dropped++
			}
			continue
		}
		batch.Synced++
		if result.Inserted > 0 || result.Backfilled > 0 {
			batch.Results = append(batch.Results, *result)
		}
	}

	s.saveBookmark(account, batch)
	return batch, nil
}

// saveBookmark 把这轮全量同步推进到的位置落进账号边车,只进不退。
func (s *Syncer) saveBookmark(account string, batch *BatchResult) {
	if s.sns == nil {
		return
	}
	state, err := s.sns.LoadState(account)
	if err != nil {
		log.Warn().Err(err).Str("account", account).Msg("load sync bookmark failed")
		state = &SnsSyncState{}
	}
	for _, r := range batch.Results {
		if r.LatestTime > state.LastCreatedAt {
			state.LastCreatedAt = r.LatestTime
		}
	}
	state.SyncedAt = time.Now()
	if err := s.sns.SaveState(account, state); err != nil {
		log.Warn().Err(err).Str("account", account).Msg("save sync bookmark failed")
	}
}

// PreferSnapshot 判断是否该放弃在线源改读快照:在线源可见行数
// 明显少于快照(隐私设置收紧)时记住这个决定,TTL 内不再探测。
func (s *Syncer) PreferSnapshot(ctx context.Context, account, username string) bool {
	key := account + "\x00" + username
	now := time.Now()

	s.probeMu.Lock()
	d, ok := s.probes[key]
	s.probeMu.Unlock()
	if ok && now.Sub(d.decidedAt) < s.opts.ProbeTTL {
		return d.preferSnapshot
	}

	prefer := s.probeOnce(ctx, account, username)
	s.probeMu.Lock()
	s.probes[key] = probeDecision{preferSnapshot: prefer, decidedAt: now}
	s.probeMu.Unlock()
	return prefer
}

func (s *Syncer) probeOnce(ctx context.Context, account, username string) bool {
	conn, err := s.conns.Get(ctx, account, s.opts.StorageDir, s.opts.DatabaseKey)
	if err != nil {
		return true
	}
	conn.Lock()
	raws, err := s.conns.bridge.GetMessages(ctx, conn.Handle, username, s.opts.ProbeRows, 0)
	conn.Unlock()
	if err != nil {
		return true
	}
	live := len(raws)
	if live >= s.opts.ProbeRows {
		// 在线源至少有探针上限这么多行,不需要换源
		return false
	}

	loc, err := s.db.Locator().Resolve(username)
	if err != nil {
		return false
	}
	snap, err := s.db.DataSource().MaxLocalID(ctx, loc)
	if err != nil {
		return false
	}
	// 在线可见行远少于快照已有行,视作被隐私设置截断
	return snap > int64(live)*2
}

package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zaylenc/wxvault/internal/errors"
	"github.com/zaylenc/wxvault/internal/model"
	"github.com/zaylenc/wxvault/internal/wechatdb/locator"
)

// 实时同步的回写路径。快照分片对 WeChat 本体是只读的,
// 这里只追加它还没写进来的新行,从不更新或删除已有 local_id。

// EnsureShard 定位会话的分片表,没有就在名字序第一个分片里建一张。
func (ds *DataSource) EnsureShard(ctx context.Context, talker string) (*locator.Location, error) {
	loc, err := ds.loc.Resolve(talker)
	if err == nil {
		return loc, nil
	}

	paths, perr := ds.messageShardPaths()
	if perr != nil || len(paths) == 0 {
		return nil, err
	}
	table := "Msg_" + locator.MD5(talker)
	db, werr := ds.OpenShardWritable(paths[0])
	if werr != nil {
		return nil, errors.DBConnectFailed(paths[0], werr)
	}
	defer db.Close()

	_, werr = db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		local_id INTEGER PRIMARY KEY AUTOINCREMENT,
		server_id INTEGER,
		local_type INTEGER,
		sort_seq INTEGER,
		real_sender_id INTEGER,
		create_time INTEGER,
		status INTEGER,
		upload_status INTEGER,
		download_status INTEGER,
		server_seq INTEGER,
		origin_source INTEGER,
		source TEXT,
		message_content TEXT,
		compress_content TEXT,
		packed_info_data BLOB
	)`, table))
	if werr != nil {
		return nil, errors.QueryFailed("create shard table", werr)
	}
	ds.loc.ClearCache()
	return &locator.Location{DBPath: paths[0], Table: table}, nil
}

// MaxLocalID 读分片里该会话已有的最大 local_id,空表返回 0。
func (ds *DataSource) MaxLocalID(ctx context.Context, loc *locator.Location) (int64, error) {
	db, err := ds.OpenShard(loc.DBPath)
	if err != nil {
		return 0, errors.DBConnectFailed(loc.DBPath, err)
	}
	var max sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(local_id) FROM %q`, loc.Table)
	if err := db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, errors.QueryFailed(query, err)
	}
	return max.Int64, nil
}

// InsertMessageRows 把新行按 local_id 升序写入。INSERT OR IGNORE
// 保证对并发竞争幂等,返回实际落盘的行数。
func (ds *DataSource) InsertMessageRows(ctx context.Context, loc *locator.Location, rows []*model.MessageRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	db, err := ds.OpenShardWritable(loc.DBPath)
	if err != nil {
		return 0, errors.DBConnectFailed(loc.DBPath, err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.QueryFailed("begin insert tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT OR IGNORE INTO %q
		(local_id, server_id, local_type, sort_seq, real_sender_id, create_time, status,
		 message_content, compress_content, packed_info_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, loc.Table))
	if err != nil {
		return 0, errors.QueryFailed("prepare insert", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range rows {
		res, err := stmt.ExecContext(ctx, r.LocalID, r.ServerID, r.LocalType, r.SortSeq,
			r.RealSenderID, r.CreateTime, r.Status,
			r.MessageContent, r.CompressContent, r.PackedInfoData)
		if err != nil {
			return inserted, errors.QueryFailed("insert message row", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.QueryFailed("commit insert tx", err)
	}
	return inserted, nil
}

// BackfillPackedInfo 给已有但缺 packed_info_data 的行补数据,
// 不碰其它列。返回补上的行数。
func (ds *DataSource) BackfillPackedInfo(ctx context.Context, loc *locator.Location, rows []*model.MessageRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	db, err := ds.OpenShardWritable(loc.DBPath)
	if err != nil {
		return 0, errors.DBConnectFailed(loc.DBPath, err)
	}
	defer db.Close()

	query := fmt.Sprintf(`UPDATE %q SET packed_info_data = ?
		WHERE local_id = ? AND (packed_info_data IS NULL OR length(packed_info_data) = 0)`, loc.Table)

	backfilled := 0
	for _, r := range rows {
		if len(r.PackedInfoData) == 0 {
			continue
		}
		res, err := db.ExecContext(ctx, query, r.PackedInfoData, r.LocalID)
		if err != nil {
			return backfilled, errors.QueryFailed("backfill packed_info_data", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			backfilled++
		}
	}
	return backfilled, nil
}

// AdvanceSession 单调推进会话的时间戳和最新消息摘要,
// 只在新时间戳严格更大时生效。
func (ds *DataSource) AdvanceSession(ctx context.Context, username string, ts int64, msgType, msgSubType int64, sender, summary string) error {
	paths, err := ds.dbm.GetDBPath(Session)
	if err != nil {
		return errors.DBConnectFailed(Session, err)
	}
	db, err := ds.OpenShardWritable(paths[0])
	if err != nil {
		return errors.DBConnectFailed(paths[0], err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `UPDATE SessionTable
		SET last_timestamp = ?, sort_timestamp = ?,
		    last_msg_type = ?, last_msg_sub_type = ?, last_msg_sender = ?, summary = ?
		WHERE username = ? AND sort_timestamp < ?`,
		ts, ts, msgType, msgSubType, sender, summary, username, ts)
	if err != nil {
		return errors.QueryFailed("advance session", err)
	}
	return nil
}

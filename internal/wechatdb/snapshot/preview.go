package snapshot

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zaylenc/wxvault/internal/errors"
	"github.com/zaylenc/wxvault/internal/model"
)

// PreviewStore 是会话最新消息预览的物化缓存,落在快照目录旁的独立库里。
// 随时可以整体丢弃重建。
type PreviewStore struct {
	db          *sql.DB
	fingerprint string
}

const previewSchema = `
CREATE TABLE IF NOT EXISTS session_preview (
	username    TEXT PRIMARY KEY,
	sort_seq    INTEGER NOT NULL,
	local_id    INTEGER NOT NULL,
	create_time INTEGER NOT NULL,
	local_type  INTEGER NOT NULL,
	sender      TEXT NOT NULL DEFAULT '',
	preview     TEXT NOT NULL DEFAULT '',
	db_stem     TEXT NOT NULL DEFAULT '',
	table_name  TEXT NOT NULL DEFAULT '',
	built_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS preview_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func OpenPreviewStore(path string) (*PreviewStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.DBConnectFailed(path, err)
	}
	if _, err := db.Exec(previewSchema); err != nil {
		db.Close()
		return nil, errors.DBInitFailed(err)
	}
	return &PreviewStore{db: db}, nil
}

// CheckFingerprint 比较存储的指纹,不一致时清空缓存并记录新指纹。
func (s *PreviewStore) CheckFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preview_meta WHERE key = 'fingerprint'`).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, errors.QueryFailed("read preview fingerprint", err)
	}
	if stored == fingerprint {
		return true, nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_preview`); err != nil {
		return false, errors.QueryFailed("clear preview cache", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO preview_meta (key, value) VALUES ('fingerprint', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fingerprint)
	if err != nil {
		return false, errors.QueryFailed("store preview fingerprint", err)
	}
	return false, nil
}

// Upsert 写入一条预览,只在新消息更新(sort_seq 更大)时覆盖。
func (s *PreviewStore) Upsert(ctx context.Context, p *model.SessionPreview) error {
	query := `
	INSERT INTO session_preview
		(username, sort_seq, local_id, create_time, local_type, sender, preview, db_stem, table_name, built_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(username) DO UPDATE SET
		sort_seq = excluded.sort_seq,
		local_id = excluded.local_id,
		create_time = excluded.create_time,
		local_type = excluded.local_type,
		sender = excluded.sender,
		preview = excluded.preview,
		db_stem = excluded.db_stem,
		table_name = excluded.table_name,
		built_at = excluded.built_at
	WHERE excluded.sort_seq >= session_preview.sort_seq`
	_, err := s.db.ExecContext(ctx, query,
		p.UserName, p.SortSeq, p.LocalID, p.CreateTime, p.LocalType,
		p.Sender, p.Preview, p.DBStem, p.TableName, p.BuiltAt.Unix())
	if err != nil {
		return errors.QueryFailed("upsert session preview", err)
	}
	return nil
}

func (s *PreviewStore) Get(ctx context.Context, username string) (*model.SessionPreview, error) {
	query := `SELECT username, sort_seq, local_id, create_time, local_type,
			sender, preview, db_stem, table_name, built_at
			FROM session_preview WHERE username = ?`
	var p model.SessionPreview
	var builtAt int64
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&p.UserName, &p.SortSeq, &p.LocalID, &p.CreateTime, &p.LocalType,
		&p.Sender, &p.Preview, &p.DBStem, &p.TableName, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.QueryFailed(query, err)
	}
	p.BuiltAt = time.Unix(builtAt, 0)
	return &p, nil
}

func (s *PreviewStore) Close() error {
	return s.db.Close()
}

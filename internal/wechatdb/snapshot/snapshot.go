// Package snapshot 读取解密后的 v4 快照目录:会话、联系人、消息分片、
// 头像、硬链接索引和资源库。
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/zaylenc/wxvault/internal/errors"
	"github.com/zaylenc/wxvault/internal/model"
	"github.com/zaylenc/wxvault/internal/msgdec"
	"github.com/zaylenc/wxvault/internal/msgparse"
	"github.com/zaylenc/wxvault/internal/wechatdb/dbm"
	"github.com/zaylenc/wxvault/internal/wechatdb/locator"
	"github.com/zaylenc/wxvault/pkg/util"
)

const (
	Message    = "message"
	BizMessage = "biz_message"
	Contact    = "contact"
	Session    = "session"
	Media      = "media"
	Voice      = "voice"
	HeadImage  = "headimg"
	Resource   = "resource"
)

var Groups = []*dbm.Group{
	{
		Name:      Message,
		Pattern:   `^message(_[0-9]?[0-9])?\.db$`,
		BlackList: []string{"message_resource.db", "message_fts.db"},
	},
	{
		Name:    BizMessage,
		Pattern: `^biz_message(_[0-9]?[0-9])?\.db$`,
	},
	{
		Name:    Contact,
		Pattern: `^contact\.db$`,
	},
	{
		Name:    Session,
		Pattern: `session\.db$`,
	},
	{
		Name:    Media,
		Pattern: `^hardlink\.db$`,
	},
	{
		Name:    Voice,
		Pattern: `^media(_[0-9]?[0-9])?\.db$`,
	},
	{
		Name:    HeadImage,
		Pattern: `^head_image\.db$`,
	},
	{
		Name:    Resource,
		Pattern: `^message_resource\.db$`,
	},
}

type DataSource struct {
	path string
	dbm  *dbm.DBManager
	loc  *locator.Locator
}

func New(path string) (*DataSource, error) {
	ds := &DataSource{
		path: path,
		dbm:  dbm.NewDBManager(path),
	}

	for _, g := range Groups {
		ds.dbm.AddGroup(g)
	}
	if err := ds.dbm.Start(); err != nil {
		return nil, errors.DBInitFailed(err)
	}

	ds.loc = locator.New(ds.messageShardPaths, ds.dbm.OpenDB)

	// 新分片出现时作废定位缓存
	_ = ds.dbm.AddCallback(Message, func(event fsnotify.Event) error {
		if event.Op.Has(fsnotify.Create) {
			ds.loc.ClearCache()
		}
		return nil
	})

	return ds, nil
}

func (ds *DataSource) Path() string { return ds.path }

func (ds *DataSource) Locator() *locator.Locator { return ds.loc }

func (ds *DataSource) SetCallback(group string, callback func(event fsnotify.Event) error) error {
	return ds.dbm.AddCallback(group, callback)
}

// Fingerprint 标识当前消息分片集合,变化意味着缓存需要重建。
func (ds *DataSource) Fingerprint() string {
	return fmt.Sprintf("%016x", ds.dbm.Fingerprint(Message))
}

func (ds *DataSource) messageShardPaths() ([]string, error) {
	paths, err := ds.dbm.GetDBPath(Message)
	if err != nil {
		return nil, err
	}
	out := paths[:0:0]
	for _, p := range paths {
		if locator.IsMessageShard(p, false) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// OpenShard 暴露给实时同步的回写路径。
func (ds *DataSource) OpenShard(path string) (*sql.DB, error) {
	return ds.dbm.OpenDB(path)
}

func (ds *DataSource) OpenShardWritable(path string) (*sql.DB, error) {
	return ds.dbm.OpenWritable(path)
}

// GetSessions 读 SessionTable,按 sort_timestamp 倒序。
func (ds *DataSource) GetSessions(ctx context.Context, key string, limit, offset int) ([]*model.Session, error) {
	var query string
	var args []interface{}

	if key != "" {
		query = `SELECT username, is_hidden, summary, draft, last_timestamp, sort_timestamp,
				last_msg_type, last_msg_sub_type, last_msg_sender
				FROM SessionTable
				WHERE username = ? OR last_sender_display_name = ?
				ORDER BY sort_timestamp DESC`
		args = []interface{}{key, key}
	} else {
		query = `SELECT username, is_hidden, summary, draft, last_timestamp, sort_timestamp,
				last_msg_type, last_msg_sub_type, last_msg_sender
				FROM SessionTable
				ORDER BY sort_timestamp DESC`
	}

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
		if offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", offset)
		}
	}

	db, err := ds.groupDB(Session)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.QueryFailed(query, err)
	}
	defer rows.Close()

	sessions := []*model.Session{}
	for rows.Next() {
		var s model.Session
		var hidden int
		var summary, draft, sender sql.NullString
		err := rows.Scan(
			&s.UserName,
			&hidden,
			&summary,
			&draft,
			&s.LastTimestamp,
			&s.SortTimestamp,
			&s.LastMsgType,
			&s.LastMsgSubType,
			&sender,
		)
		if err != nil {
			return nil, errors.ScanRowFailed(err)
		}
		s.IsHidden = hidden != 0
		s.Summary = summary.String
		s.Draft = draft.String
		s.LastMsgSender = sender.String
		s.LastTimestamp = util.NormalizeUnixSeconds(s.LastTimestamp)
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// contactExtendedColumns 检测 contact 表是否带扩展列。老版本快照没有,
// 缺列时降级到基础列集。
func (ds *DataSource) contactExtendedColumns(ctx context.Context, db *sql.DB) bool {
	rows, err := db.QueryContext(ctx, `PRAGMA table_info(contact)`)
	if err != nil {
		return false
	}
	defer rows.Close()

	has := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		has[strings.ToLower(name)] = true
	}
	return has["big_head_url"] && has["small_head_url"] && has["verify_flag"]
}

func (ds *DataSource) GetContacts(ctx context.Context, key string, limit, offset int) ([]*model.Contact, error) {
	db, err := ds.groupDB(Contact)
	if err != nil {
		return nil, err
	}

	extended := ds.contactExtendedColumns(ctx, db)
	cols := `username, local_type, alias, remark, nick_name`
	if extended {
		cols += `, IFNULL(big_head_url,''), IFNULL(small_head_url,''), IFNULL(verify_flag,0)`
	}

	var query string
	var args []interface{}
	if key != "" {
		query = fmt.Sprintf(`SELECT %s FROM contact
				WHERE username = ? OR alias = ? OR remark = ? OR nick_name = ?`, cols)
		args = []interface{}{key, key, key, key}
	} else {
		query = fmt.Sprintf(`SELECT %s FROM contact`, cols)
	}
	query += ` ORDER BY username`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
		if offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", offset)
		}
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.QueryFailed(query, err)
	}
	defer rows.Close()

	contacts := []*model.Contact{}
	for rows.Next() {
		var c model.Contact
		var alias, remark, nick sql.NullString
		dest := []interface{}{&c.UserName, &c.LocalType, &alias, &remark, &nick}
		if extended {
			dest = append(dest, &c.BigHeadURL, &c.SmallHeadURL, &c.VerifyFlag)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.ScanRowFailed(err)
		}
		c.Alias = alias.String
		c.Remark = remark.String
		c.NickName = nick.String
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}

// GetMessages 读取一个会话在时间范围内的消息并完成解码、解析和媒体字段增强。
// parser 可为 nil,此时只做解码不做类型归一化。
func (ds *DataSource) GetMessages(ctx context.Context, talker string, start, end time.Time, limit, offset int, parser *msgparse.Parser) ([]*model.Message, error) {
	loc, err := ds.loc.Resolve(talker)
	if err != nil {
		return nil, err
	}

	db, err := ds.dbm.OpenDB(loc.DBPath)
	if err != nil {
		return nil, errors.DBConnectFailed(loc.DBPath, err)
	}

	// 老数据偶见毫秒时间戳,过滤前先折算成秒
	const createSecs = "(CASE WHEN m.create_time > 1000000000000 THEN m.create_time/1000 ELSE m.create_time END)"
	conditions := []string{"1=1"}
	args := []interface{}{}
	if !start.IsZero() {
		conditions = append(conditions, createSecs+" >= ?")
		args = append(args, start.Unix())
	}
	if !end.IsZero() {
		conditions = append(conditions, createSecs+" <= ?")
		args = append(args, end.Unix())
	}

	query := fmt.Sprintf(`
		SELECT m.local_id, m.server_id, m.local_type, m.sort_seq,
		       IFNULL(n.user_name,''), m.create_time, m.status,
		       m.message_content, IFNULL(m.compress_content,''), m.packed_info_data
		FROM %s m
		LEFT JOIN Name2Id n ON m.real_sender_id = n.rowid
		WHERE %s
		ORDER BY m.sort_seq ASC
	`, loc.Table, strings.Join(conditions, " AND "))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, errors.MessageStoreNotFound(talker)
		}
		return nil, errors.QueryFailed(query, err)
	}
	defer rows.Close()

	dbStem := strings.TrimSuffix(filepath.Base(loc.DBPath), ".db")
	isChatRoom := strings.HasSuffix(talker, "@chatroom")

	messages := []*model.Message{}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var row model.MessageRow
		var sender string
		var serverID sql.NullInt64
		if err := rows.Scan(
			&row.LocalID,
			&serverID,
			&row.LocalType,
			&row.SortSeq,
			&sender,
			&row.CreateTime,
			&row.Status,
			&row.MessageContent,
			&row.CompressContent,
			&row.PackedInfoData,
		); err != nil {
			return nil, errors.ScanRowFailed(err)
		}
		row.ServerID = serverID.Int64

		msg := ds.wrapRow(&row, dbStem, loc.Table, talker, sender, isChatRoom, parser)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.QueryFailed("iterate message rows", err)
	}

	msgparse.ReconcileTransfers(messages)
	return messages, nil
}

// wrapRow 把物理行转成渲染消息:解码、归一化时间、解析类型、补媒体 md5。
func (ds *DataSource) wrapRow(row *model.MessageRow, dbStem, table, talker, sender string, isChatRoom bool, parser *msgparse.Parser) *model.Message {
	msg := &model.Message{
		ID:         model.CompositeID(dbStem, table, row.LocalID),
		LocalID:    row.LocalID,
		ServerID:   row.ServerID,
		Type:       row.LocalType,
		SortSeq:    row.SortSeq,
		CreateTime: time.Unix(util.NormalizeUnixSeconds(row.CreateTime), 0),
		Talker:     talker,
		IsChatRoom: isChatRoom,
		IsSent:     row.Status == 2,
	}
	if !msg.IsSent && isChatRoom {
		msg.Sender = sender
	}

	text := msgdec.Decode(row.CompressContent, row.MessageContent)
	if parser != nil {
		parser.Parse(msg, text)
	} else {
		msg.Content = text
	}

	// 媒体 md5 增强,优先级:packed_info_data > 资源库 > XML 属性
	if msg.RenderType == model.RenderImage || msg.RenderType == model.RenderVideo {
		if md5FromResource := ds.resourceMD5(context.Background(), row.ServerID, row.LocalID, row.CreateTime); md5FromResource != "" {
			msg.FileMD5 = md5FromResource
		}
		if md5FromPacked := msgparse.ScanPackedInfoMD5(row.PackedInfoData); md5FromPacked != "" {
			msg.FileMD5 = md5FromPacked
		}
	}
	return msg
}

// resourceMD5 在 message_resource.db 里按 server_id/local_id/create_time 查媒体 md5。
// 老快照没有这个库或表结构不同,全部静默降级。
func (ds *DataSource) resourceMD5(ctx context.Context, serverID, localID, createTime int64) string {
	db, err := ds.groupDB(Resource)
	if err != nil {
		return ""
	}
	if !ds.tableExists(db, "message_resource") {
		return ""
	}

	query := `SELECT IFNULL(resource_md5,'') FROM message_resource
			WHERE (server_id = ? AND server_id != 0)
			   OR (local_id = ? AND create_time = ?)
			LIMIT 1`
	var md5 string
	if err := db.QueryRowContext(ctx, query, serverID, localID, createTime).Scan(&md5); err != nil {
		return ""
	}
	return strings.ToLower(md5)
}

// GetHardlinkMedia 查硬链接索引,拿 md5 对应的磁盘相对路径。
func (ds *DataSource) GetHardlinkMedia(ctx context.Context, _type string, key string) (*model.Media, error) {
	if key == "" {
		return nil, errors.InvalidArg("key")
	}

	var table string
	switch _type {
	case model.MediaImage:
		table = "image_hardlink_info_v3"
		// 4.1.0 版本开始使用 v4 表
		if !ds.groupTableExists(Media, table) {
			table = "image_hardlink_info_v4"
		}
	case model.MediaVideo, model.MediaVideoThumb:
		table = "video_hardlink_info_v3"
		if !ds.groupTableExists(Media, table) {
			table = "video_hardlink_info_v4"
		}
	case model.MediaFile:
		table = "file_hardlink_info_v3"
		if !ds.groupTableExists(Media, table) {
			table = "file_hardlink_info_v4"
		}
	case model.MediaVoice:
		return ds.GetVoice(ctx, key)
	default:
		return nil, errors.MediaTypeUnsupported(_type)
	}

	query := fmt.Sprintf(`
	SELECT
		f.md5,
		f.file_name,
		f.file_size,
		f.modify_time,
		IFNULL(d1.username,""),
		IFNULL(d2.username,"")
	FROM
		%s f
	LEFT JOIN
		dir2id d1 ON d1.rowid = f.dir1
	LEFT JOIN
		dir2id d2 ON d2.rowid = f.dir2
	WHERE f.md5 = ? OR f.file_name LIKE ? || '%%'`, table)

	db, err := ds.groupDB(Media)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, key, key)
	if err != nil {
		return nil, errors.QueryFailed(query, err)
	}
	defer rows.Close()

	var media *model.Media
	for rows.Next() {
		var md5, name, dir1, dir2 string
		var size, modifyTime int64
		if err := rows.Scan(&md5, &name, &size, &modifyTime, &dir1, &dir2); err != nil {
			return nil, errors.ScanRowFailed(err)
		}
		media = &model.Media{
			Type: _type,
			Key:  md5,
			Path: hardlinkPath(_type, dir1, dir2, name),
			Size: size,
		}
		// 优先返回高清图
		if _type == model.MediaImage && strings.HasSuffix(name, "_h.dat") {
			break
		}
	}
	if media == nil {
		return nil, errors.ErrMediaNotFound
	}
	return media, nil
}

// hardlinkPath 按 v4 的目录布局拼相对路径 msg/attach/{dir1}/{dir2}/{name}。
func hardlinkPath(_type, dir1, dir2, name string) string {
	switch _type {
	case model.MediaVideo, model.MediaVideoThumb:
		return filepath.Join("msg", "video", dir1, name)
	default:
		parts := []string{"msg", "attach"}
		if dir1 != "" {
			parts = append(parts, dir1)
		}
		if dir2 != "" {
			parts = append(parts, dir2)
		}
		parts = append(parts, name)
		return filepath.Join(parts...)
	}
}

// GetVoice 从 media_*.db 的 VoiceInfo 取 silk 原始数据,key 是 server_id。
func (ds *DataSource) GetVoice(ctx context.Context, key string) (*model.Media, error) {
	// svr_id 是纯数字,其它形式不可能命中
	if !util.IsNumeric(key) {
		return nil, errors.InvalidArg("key")
	}

	paths, err := ds.dbm.GetDBPath(Voice)
	if err != nil {
		return nil, errors.ErrMediaNotFound
	}

	query := `SELECT voice_data FROM VoiceInfo WHERE svr_id = ?`
	for _, path := range paths {
		db, err := ds.dbm.OpenDB(path)
		if err != nil {
			continue
		}
		rows, err := db.QueryContext(ctx, query, key)
		if err != nil {
			continue
		}
		for rows.Next() {
			var voiceData []byte
			if err := rows.Scan(&voiceData); err != nil {
				rows.Close()
				return nil, errors.ScanRowFailed(err)
			}
			if len(voiceData) > 0 {
				rows.Close()
				return &model.Media{Type: model.MediaVoice, Key: key, Data: voiceData}, nil
			}
		}
		rows.Close()
	}
	return nil, errors.ErrMediaNotFound
}

// GetAvatar 读 head_image.db 的头像二进制。
func (ds *DataSource) GetAvatar(ctx context.Context, username string) ([]byte, error) {
	if username == "" {
		return nil, errors.InvalidArg("username")
	}
	db, err := ds.groupDB(HeadImage)
	if err != nil {
		return nil, errors.ErrAvatarNotFound
	}
	row := db.QueryRowContext(ctx, `SELECT image_buffer FROM head_image WHERE username = ?`, username)
	var buf []byte
	if err := row.Scan(&buf); err != nil || len(buf) == 0 {
		return nil, errors.ErrAvatarNotFound
	}
	return buf, nil
}

func (ds *DataSource) groupDB(group string) (*sql.DB, error) {
	paths, err := ds.dbm.GetDBPath(group)
	if err != nil {
		return nil, errors.DBConnectFailed(group, err)
	}
	return ds.dbm.OpenDB(paths[0])
}

func (ds *DataSource) groupTableExists(group, table string) bool {
	db, err := ds.groupDB(group)
	if err != nil {
		return false
	}
	return ds.tableExists(db, table)
}

func (ds *DataSource) tableExists(db *sql.DB, table string) bool {
	var name string
	query := `SELECT name FROM sqlite_master WHERE type='table' AND name=?`
	if err := db.QueryRow(query, table).Scan(&name); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Debug().Err(err).Str("table", table).Msg("table probe failed")
		}
		return false
	}
	return true
}

func (ds *DataSource) Close() error {
	return ds.dbm.Close()
}

package model

import "time"

// 注意,v4 session 是独立数据库文件
// CREATE TABLE SessionTable(
// username TEXT PRIMARY KEY,
// type INTEGER,
// unread_count INTEGER,
// unread_first_msg_srv_id INTEGER,
// is_hidden INTEGER,
// summary TEXT,
// draft TEXT,
// status INTEGER,
// last_timestamp INTEGER,
// sort_timestamp INTEGER,
// last_clear_unread_timestamp INTEGER,
// last_msg_locald_id INTEGER,
// last_msg_type INTEGER,
// last_msg_sub_type INTEGER,
// last_msg_sender TEXT,
// last_sender_display_name TEXT,
// last_msg_ext_type INTEGER
// )
type Session struct {
	UserName       string `json:"username"`
	IsHidden       bool   `json:"isHidden,omitempty"`
	Summary        string `json:"summary,omitempty"`
	Draft          string `json:"draft,omitempty"`
	LastTimestamp  int64  `json:"lastTimestamp"`
	SortTimestamp  int64  `json:"sortTimestamp"`
	LastMsgType    int64  `json:"lastMsgType,omitempty"`
	LastMsgSubType int64  `json:"lastMsgSubType,omitempty"`
	LastMsgSender  string `json:"lastMsgSender,omitempty"`

	// 从联系人信息补齐
	DisplayName string `json:"displayName,omitempty"`
}

func (s *Session) LastTime() time.Time {
	return time.Unix(s.LastTimestamp, 0)
}

// SessionPreview 是会话最新一条消息的物化缓存,可随时重建。
// 不变式:对同一 username,它反映「重建时刻」看到的最新消息;
// 过期靠重建修复,不追求强一致。
type SessionPreview struct {
	UserName   string    `json:"username"`
	SortSeq    int64     `json:"sortSeq"`
	LocalID    int64     `json:"localId"`
	CreateTime int64     `json:"createTime"`
	LocalType  int64     `json:"localType"`
	Sender     string    `json:"sender,omitempty"`
	Preview    string    `json:"preview"`
	DBStem     string    `json:"dbStem"`
	TableName  string    `json:"tableName"`
	BuiltAt    time.Time `json:"builtAt"`
}

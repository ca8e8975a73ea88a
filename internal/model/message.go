package model

import (
	"fmt"
	"strings"
	"time"
)

// 渲染类型,由 local_type(及 appmsg 内嵌 type)归一化得到。
const (
	RenderText      = "text"
	RenderImage     = "image"
	RenderVoice     = "voice"
	RenderVideo     = "video"
	RenderEmoji     = "emoji"
	RenderFile      = "file"
	RenderLink      = "link"
	RenderQuote     = "quote"
	RenderTransfer  = "transfer"
	RenderRedPacket = "redPacket"
	RenderVoip      = "voip"
	RenderSystem    = "system"
)

// CREATE TABLE Msg_xxxxxxxxxxxx(
// local_id INTEGER PRIMARY KEY AUTOINCREMENT,
// server_id INTEGER,
// local_type INTEGER,
// sort_seq INTEGER,
// real_sender_id INTEGER,
// create_time INTEGER,
// status INTEGER,
// upload_status INTEGER,
// download_status INTEGER,
// server_seq INTEGER,
// origin_source INTEGER,
// source TEXT,
// message_content TEXT,
// compress_content TEXT,
// packed_info_data BLOB,
// WCDB_CT_message_content INTEGER DEFAULT NULL,
// WCDB_CT_source INTEGER DEFAULT NULL
// )
type MessageRow struct {
	LocalID         int64  `json:"local_id"`
	ServerID        int64  `json:"server_id"`
	LocalType       int64  `json:"local_type"`       // 消息类型,含若干 64 位的冷门取值
	SortSeq         int64  `json:"sort_seq"`         // 消息序号,10位时间戳 + 3位序号
	RealSenderID    int64  `json:"real_sender_id"`   // 发送人 ID,对应 Name2Id 表序号
	CreateTime      int64  `json:"create_time"`      // 10位时间戳,个别老数据是13位毫秒值
	Status          int64  `json:"status"`           // 2 已发送,4 已接收
	MessageContent  []byte `json:"message_content"`  // 文字内容 或 zstd 压缩内容
	CompressContent []byte `json:"compress_content"` // 部分版本的压缩/转码内容
	PackedInfoData  []byte `json:"packed_info_data"` // 额外数据,类 proto 编码
}

// Message 是统一的渲染结果。RenderType 决定哪些可选字段有意义。
type Message struct {
	ID         string    `json:"id"` // dbStem:table:local_id,跨分片全局唯一
	LocalID    int64     `json:"localId"`
	ServerID   int64     `json:"serverId,omitempty"`
	Type       int64     `json:"type"`
	SortSeq    int64     `json:"sortSeq"`
	CreateTime time.Time `json:"createTime"`
	Talker     string    `json:"talker"`
	IsChatRoom bool      `json:"isChatRoom,omitempty"`
	Sender     string    `json:"sender,omitempty"` // 群聊里的实际发送人
	SenderName string    `json:"senderName,omitempty"`
	IsSent     bool      `json:"isSent"`

	RenderType string `json:"renderType"`
	Content    string `json:"content"`

	// link / file / 小程序等
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`

	// image / video / emoji / file
	FileMD5  string `json:"fileMd5,omitempty"`
	ThumbMD5 string `json:"thumbMd5,omitempty"`
	FileSize string `json:"fileSize,omitempty"`
	FileID   string `json:"fileId,omitempty"`
	CdnURL   string `json:"cdnUrl,omitempty"`

	// voice / voip
	Duration int64 `json:"duration,omitempty"` // 毫秒

	// quote
	QuoteUsername string `json:"quoteUsername,omitempty"`
	QuoteName     string `json:"quoteName,omitempty"`
	QuoteContent  string `json:"quoteContent,omitempty"`

	// transfer / redPacket
	Amount         string `json:"amount,omitempty"`
	PaySubType     int    `json:"paySubType,omitempty"`
	TransferID     string `json:"transferId,omitempty"`
	TransferStatus string `json:"transferStatus,omitempty"`

	// pat 等模板消息涉及的 wxid 列表,调用方用来补显示名
	PatUsernames []string `json:"-"`
}

// CompositeID 拼出全局唯一的消息标识。local_id 只在单表内唯一。
func CompositeID(dbStem, table string, localID int64) string {
	return fmt.Sprintf("%s:%s:%d", dbStem, table, localID)
}

// PlainText 输出一行适合日志/摘要的文本表示,timeLayout 为空时用完整格式。
func (m *Message) PlainText(timeLayout string) string {
	if timeLayout == "" {
		timeLayout = "2006-01-02 15:04:05"
	}
	buf := strings.Builder{}

	talker := m.Talker
	if m.IsSent {
		talker = "我"
	} else if m.IsChatRoom && m.Sender != "" {
		talker = m.Sender
	}
	if m.SenderName != "" {
		buf.WriteString(m.SenderName)
		buf.WriteString("(")
		buf.WriteString(talker)
		buf.WriteString(")")
	} else {
		buf.WriteString(talker)
	}
	buf.WriteString(" ")
	buf.WriteString(m.CreateTime.Format(timeLayout))
	buf.WriteString("\n")
	buf.WriteString(m.Content)
	buf.WriteString("\n")

	return buf.String()
}

package realtime

import (
	"context"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/zaylenc/wxvault/internal/errors"
	"github.com/zaylenc/wxvault/internal/model"
)

// Bridge 封装能读在线加密库的本地组件。实现方返回的行是松散的
// map,字段名大小写和命名风格不稳定,统一在这一层归一化。
type Bridge interface {
	// OpenAccount 建立到指定账号在线库的连接,返回不透明句柄。
	// key 是 64 位十六进制的数据库密钥。
	OpenAccount(ctx context.Context, account, storageDir, key string) (Handle, error)
	CloseAccount(ctx context.Context, h Handle) error
	// GetSessions 返回会话行,按活跃时间倒序。
	GetSessions(ctx context.Context, h Handle, limit, offset int) ([]map[string]any, error)
	// GetMessages 返回某会话的消息行,新消息在前。
	GetMessages(ctx context.Context, h Handle, username string, limit, offset int) ([]map[string]any, error)
	// ExecQuery 对在线库执行只读 SQL。
	ExecQuery(ctx context.Context, h Handle, query string, args ...any) ([]map[string]any, error)
}

// Handle 是本地组件持有的连接句柄,对本包不透明。
type Handle any

// UnavailableBridge 在本地组件缺席时顶位,所有调用返回"不可用"。
// 调用方拿到这个错误后退回只读快照模式。
type UnavailableBridge struct{}

func (UnavailableBridge) OpenAccount(ctx context.Context, account, storageDir, key string) (Handle, error) {
	return nil, errors.BridgeUnavailable(nil)
}

func (UnavailableBridge) CloseAccount(ctx context.Context, h Handle) error { return nil }

func (UnavailableBridge) GetSessions(ctx context.Context, h Handle, limit, offset int) ([]map[string]any, error) {
	return nil, errors.BridgeUnavailable(nil)
}

func (UnavailableBridge) GetMessages(ctx context.Context, h Handle, username string, limit, offset int) ([]map[string]any, error) {
	return nil, errors.BridgeUnavailable(nil)
}

func (UnavailableBridge) ExecQuery(ctx context.Context, h Handle, query string, args ...any) ([]map[string]any, error) {
	return nil, errors.BridgeUnavailable(nil)
}

// 各字段在不同版本的本地组件输出里见过的名字。
var rowSynonyms = map[string][]string{
	"LocalID":         {"local_id", "localId", "localid"},
	"ServerID":        {"server_id", "serverId", "svr_id", "MsgSvrID", "msgSvrId"},
	"LocalType":       {"local_type", "localType", "type", "Type"},
	"SortSeq":         {"sort_seq", "sortSeq"},
	"RealSenderID":    {"real_sender_id", "realSenderId", "sender_id"},
	"CreateTime":      {"create_time", "createTime", "CreateTime", "timestamp"},
	"Status":          {"status", "Status"},
	"MessageContent":  {"message_content", "messageContent", "content", "StrContent"},
	"CompressContent": {"compress_content", "compressContent", "CompressContent"},
	"PackedInfoData":  {"packed_info_data", "packedInfoData", "packed_info"},
}

// pick 在一行里按同义名列表找值,键比较忽略大小写和下划线。
func pick(row map[string]any, names ...string) (any, bool) {
	for _, name := range names {
		if v, ok := row[name]; ok {
			return v, true
		}
	}
	canon := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", ""))
	}
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[canon(name)] = true
	}
	for k, v := range row {
		if want[canon(k)] {
			return v, true
		}
	}
	return nil, false
}

// NormalizeRow 把本地组件的一行消息归一化成快照库的行结构。
// 字符串内容统一转成字节,数字做弱类型转换。
func NormalizeRow(raw map[string]any) (*model.MessageRow, error) {
	flat := make(map[string]any, len(rowSynonyms))
	for field, names := range rowSynonyms {
		if v, ok := pick(raw, names...); ok {
			flat[field] = v
		}
	}
	if s, ok := flat["MessageContent"].(string); ok {
		flat["MessageContent"] = []byte(s)
	}
	if s, ok := flat["CompressContent"].(string); ok {
		flat["CompressContent"] = []byte(s)
	}
	if s, ok := flat["PackedInfoData"].(string); ok {
		flat["PackedInfoData"] = []byte(s)
	}

	var row model.MessageRow
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &row,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(flat); err != nil {
		return nil, err
	}
	return &row, nil
}

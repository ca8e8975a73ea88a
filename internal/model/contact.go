package model

import "strings"

// CREATE TABLE contact(
// id INTEGER PRIMARY KEY,
// username TEXT,
// local_type INTEGER,
// alias TEXT,
// encrypt_username TEXT,
// flag INTEGER,
// delete_flag INTEGER,
// verify_flag INTEGER,
// remark TEXT,
// remark_quan_pin TEXT,
// remark_pin_yin_initial TEXT,
// nick_name TEXT,
// pin_yin_initial TEXT,
// quan_pin TEXT,
// big_head_url TEXT,
// small_head_url TEXT,
// head_img_md5 TEXT,
// chat_room_notify INTEGER,
// is_in_chat_room INTEGER,
// description TEXT,
// extra_buffer BLOB,
// chat_room_type INTEGER
// )
type Contact struct {
	UserName     string `json:"username"`
	Alias        string `json:"alias,omitempty"`
	Remark       string `json:"remark,omitempty"`
	NickName     string `json:"nickName,omitempty"`
	BigHeadURL   string `json:"bigHeadUrl,omitempty"`
	SmallHeadURL string `json:"smallHeadUrl,omitempty"`
	LocalType    int    `json:"localType"` // 2 群聊; 3 群聊成员(非好友); 5,6 企业微信
	VerifyFlag   int    `json:"verifyFlag,omitempty"`
	Gender       int    `json:"gender,omitempty"`
	Signature    string `json:"signature,omitempty"`
	Country      string `json:"country,omitempty"`
	Province     string `json:"province,omitempty"`
	City         string `json:"city,omitempty"`
	SourceScene  int    `json:"sourceScene,omitempty"`
}

// DisplayName 按 remark > nickName > alias > username 取第一个非空值,
// 保证永不为空。
func (c *Contact) DisplayName() string {
	switch {
	case c.Remark != "":
		return c.Remark
	case c.NickName != "":
		return c.NickName
	case c.Alias != "":
		return c.Alias
	default:
		return c.UserName
	}
}

// AvatarURL 优先大头像。
func (c *Contact) AvatarURL() string {
	if c.BigHeadURL != "" {
		return c.BigHeadURL
	}
	return c.SmallHeadURL
}

func (c *Contact) IsChatRoom() bool {
	return strings.HasSuffix(c.UserName, "@chatroom")
}

func (c *Contact) IsFriend() bool {
	return c.LocalType != 3
}

// Package msgparse 把解码后的消息文本按 local_type 归一化成统一的渲染结构。
// 所有解析路径都有兜底占位文案,不向上抛错。
package msgparse

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/zaylenc/wxvault/internal/model"
)

// local_type 取值。大数值常量是线上观察到的编码,含义只有占位标签。
const (
	TypeText     int64 = 1
	TypeImage    int64 = 3
	TypeVoice    int64 = 34
	TypeFriendOK int64 = 37
	TypeCard     int64 = 42
	TypeVideo    int64 = 43
	TypeEmoji    int64 = 47
	TypeLocation int64 = 48
	TypeAppMsg   int64 = 49
	TypeVoip     int64 = 50
	TypeVideoOld int64 = 62
	TypeSystem   int64 = 10000

	TypeQuoteAlt int64 = 244813135921
	TypePatAlt   int64 = 266287972401
	TypeLiveAlt  int64 = 8594229559345
)

// appmsg 内嵌 <type> 取值。
const (
	AppMsgLink       = 5
	AppMsgFile       = 6
	AppMsgGIF        = 8
	AppMsgForward    = 19
	AppMsgMiniApp    = 33
	AppMsgMiniApp2   = 36
	AppMsgQuote      = 57
	AppMsgPat        = 62
	AppMsgChannel    = 63
	AppMsgFile2      = 74
	AppMsgLink2      = 68
	AppMsgNotice     = 87
	AppMsgTransfer   = 2000
	AppMsgRedPacket  = 2001
	AppMsgRedPacket2 = 2003
)

// Parser 负责类型分发。resolve 把 wxid 换成显示名,供拍一拍模板用,可为 nil。
type Parser struct {
	resolve func(username string) string
}

func New(resolve func(username string) string) *Parser {
	return &Parser{resolve: resolve}
}

// Parse 根据 m.Type 解析 text,填充 m 的渲染字段。
// 群聊消息先尝试剥离 "sender:\n" 前缀。
func (p *Parser) Parse(m *model.Message, text string) {
	if m.IsChatRoom && m.Sender == "" {
		if sender, body, ok := ExtractGroupSender(text); ok {
			m.Sender = sender
			text = body
		}
	}

	switch m.Type {
	case TypeText:
		m.RenderType = model.RenderText
		m.Content = text
	case TypeImage:
		p.parseImage(m, text)
	case TypeVoice:
		p.parseVoice(m, text)
	case TypeVideo, TypeVideoOld:
		p.parseVideo(m, text)
	case TypeEmoji:
		p.parseEmoji(m, text)
	case TypeAppMsg:
		p.ParseAppMessage(m, text)
	case TypeVoip:
		p.parseVoip(m, text)
	case TypeSystem:
		p.parseSystem(m, text)
	case TypePatAlt:
		p.parsePat(m, text)
	case TypeQuoteAlt:
		p.parseQuoteMessage(m, text)
	default:
		m.RenderType = model.RenderText
		m.Content = LabelForType(m.Type)
	}

	if m.IsChatRoom && m.Sender == "" && strings.HasPrefix(strings.TrimSpace(text), "<") {
		m.Sender = extractFromUsername(text)
	}
}

// ExtractGroupSender 剥离群消息的发送人前缀。
// 规则:分隔符必须是 ":\n",前缀非空、≤128 字符、不含空白,
// 且形如标识符(wxid_ 开头、@chatroom 结尾或含 @)。
func ExtractGroupSender(text string) (sender, body string, ok bool) {
	idx := strings.Index(text, ":\n")
	if idx <= 0 {
		return "", text, false
	}
	prefix := text[:idx]
	if len(prefix) > 128 {
		return "", text, false
	}
	if strings.ContainsAny(prefix, " \t\r\n") {
		return "", text, false
	}
	if !looksLikeUsername(prefix) {
		return "", text, false
	}
	return prefix, text[idx+2:], true
}

func looksLikeUsername(s string) bool {
	return strings.HasPrefix(s, "wxid_") ||
		strings.HasSuffix(s, "@chatroom") ||
		strings.Contains(s, "@")
}

// extractFromUsername 从 XML 体的群消息里取 fromusername 标签或属性。
func extractFromUsername(text string) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return ""
	}
	if el := doc.FindElement("//fromusername"); el != nil {
		return strings.TrimSpace(el.Text())
	}
	if root := doc.Root(); root != nil {
		if v := root.SelectAttrValue("fromusername", ""); v != "" {
			return v
		}
	}
	return ""
}

// md5 属性同义名,按优先级排列。不同客户端版本写的字段名不一致。
var imageMD5Attrs = []string{
	"md5", "cdnthumbmd5", "cdnmidimgmd5", "cdnbigimgmd5",
	"hdmd5", "hevc_mid_md5", "hevc_md5", "imgmd5", "filemd5",
}

func (p *Parser) parseImage(m *model.Message, text string) {
	m.RenderType = model.RenderImage
	m.Content = "[图片]"

	el := findElement(text, "//img")
	if el == nil {
		return
	}
	for _, attr := range imageMD5Attrs {
		if v := el.SelectAttrValue(attr, ""); v != "" {
			m.FileMD5 = strings.ToLower(v)
			break
		}
	}
}

func (p *Parser) parseVoice(m *model.Message, text string) {
	m.RenderType = model.RenderVoice
	m.Content = "[语音]"

	if el := findElement(text, "//voicemsg"); el != nil {
		m.Duration = attrInt64(el, "voicelength")
	}
}

func (p *Parser) parseVideo(m *model.Message, text string) {
	m.RenderType = model.RenderVideo
	m.Content = "[视频]"

	el := findElement(text, "//videomsg")
	if el == nil {
		return
	}
	if v := el.SelectAttrValue("md5", ""); v != "" {
		m.FileMD5 = strings.ToLower(v)
	}
	for _, attr := range []string{"cdnthumbmd5", "thumbmd5", "rawmd5"} {
		if v := el.SelectAttrValue(attr, ""); v != "" {
			m.ThumbMD5 = strings.ToLower(v)
			break
		}
	}
	for _, attr := range []string{"cdnvideourl", "cdnurl"} {
		if v := el.SelectAttrValue(attr, ""); v != "" {
			m.CdnURL = v
			break
		}
	}
}

func (p *Parser) parseEmoji(m *model.Message, text string) {
	m.RenderType = model.RenderEmoji
	m.Content = "[动画表情]"

	el := findElement(text, "//emoji")
	if el == nil {
		return
	}
	if v := el.SelectAttrValue("md5", ""); v != "" {
		m.FileMD5 = strings.ToLower(v)
	}
	for _, attr := range []string{"cdnurl", "cdn_url"} {
		if v := el.SelectAttrValue(attr, ""); v != "" {
			m.CdnURL = v
			break
		}
	}
}

func findElement(text, path string) *etree.Element {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return nil
	}
	return doc.FindElement(path)
}

func attrInt64(el *etree.Element, name string) int64 {
	v := el.SelectAttrValue(name, "")
	if v == "" {
		return 0
	}
	var n int64
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	return n
}

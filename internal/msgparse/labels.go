package msgparse

import "strings"

// 静态占位标签表。大数值 local_type 是线上观察到的编码,
// 含义未公开,按经验补充。
var typeLabels = map[int64]string{
	TypeFriendOK: "[好友确认]",
	TypeCard:     "[名片]",
	TypeLocation: "[位置]",
	TypeLiveAlt:  "[直播]",
	49014:        "[小程序]",
	822083633:    "[引用]",
	922746929:    "[拍一拍]",
	1090519089:   "[文件]",
	16777265:     "[链接]",
	285212721:    "[音乐]",
	1040187441:   "[小程序]",
	419430449:    "[转账]",
	436207665:    "[红包]",
	201326641:    "[聊天记录]",
	25769803825:  "[视频号]",
}

// LabelForType 返回未专门解析的类型的占位文案。
func LabelForType(t int64) string {
	if label, ok := typeLabels[t]; ok {
		return label
	}
	return "[Message]"
}

const previewMaxRunes = 64

// PreviewText 生成会话摘要的一行文案:文本用正文,appmsg 取标题,
// 其余类型给占位标签。
func PreviewText(t int64, body string) string {
	switch t {
	case TypeText:
		return truncateRunes(strings.TrimSpace(body))
	case TypeImage:
		return "[图片]"
	case TypeVoice:
		return "[语音]"
	case TypeVideo, TypeVideoOld:
		return "[视频]"
	case TypeEmoji:
		return "[动画表情]"
	case TypeVoip:
		return "[音视频通话]"
	case TypeSystem:
		return "[系统消息]"
	case TypeAppMsg:
		if el := findElement(body, "msg/appmsg/title"); el != nil {
			if title := strings.TrimSpace(el.Text()); title != "" {
				return truncateRunes(title)
			}
		}
		return "[应用消息]"
	}
	return LabelForType(t)
}

func truncateRunes(s string) string {
	r := []rune(s)
	if len(r) <= previewMaxRunes {
		return s
	}
	return string(r[:previewMaxRunes]) + "…"
}

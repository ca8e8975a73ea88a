package snapshot

import "strings"

// 系统/机器人账号前缀。
var systemPrefixes = []string{
	"weixin", "qqmail", "fmessage", "medianote", "floatbottle", "newsapp",
}

// 客服和 openim 的标记子串。
var excludedSubstrings = []string{
	"@kefu.openim", "@openim", "service_",
}

// 精确排除的系统会话。
var sessionDenylist = map[string]struct{}{
	"brandsessionholder":         {},
	"notifymessage":              {},
	"notification_messages":      {},
	"opencustomerservicemsg":     {},
	"appbrandcustomerservicemsg": {},
	"brandservicesessionholder":  {},
	"chatroomnotify":             {},
}

// KeepSession 判断会话是否展示给用户。过滤公众号(可选)、系统号、
// openim 客服,只保留群聊、wxid 和普通用户名。
func KeepSession(username string, includeOfficial bool) bool {
	username = strings.TrimSpace(username)
	if username == "" {
		return false
	}

	if strings.HasPrefix(username, "gh_") {
		return includeOfficial
	}

	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(username, prefix) {
			return false
		}
	}
	for _, sub := range excludedSubstrings {
		if strings.Contains(username, sub) {
			return false
		}
	}
	if _, ok := sessionDenylist[username]; ok {
		return false
	}

	if strings.HasSuffix(username, "@chatroom") {
		return true
	}
	if strings.HasPrefix(username, "wxid_") {
		return true
	}
	return !strings.Contains(username, "@")
}

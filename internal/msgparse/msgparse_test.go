package msgparse

import (
	"strings"
	"testing"
	"time"

	"github.com/zaylenc/wxvault/internal/model"
)

func newMessage(localType int64) *model.Message {
	return &model.Message{
		Type:       localType,
		CreateTime: time.Unix(1700000000, 0),
	}
}

func TestExtractGroupSender(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantSender string
		wantBody   string
		wantOK     bool
	}{
		{"wxid prefix", "wxid_abc123:\nhello", "wxid_abc123", "hello", true},
		{"at style", "someone@chatroom:\nhi", "someone@chatroom", "hi", true},
		{"whitespace in prefix", "not a prefix: test", "", "not a prefix: test", false},
		{"no separator", "plain text", "", "plain text", false},
		{"colon without newline", "wxid_abc: hello", "", "wxid_abc: hello", false},
		{"plain word prefix", "hello:\nworld", "", "hello:\nworld", false},
		{"empty prefix", ":\nbody", "", ":\nbody", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, body, ok := ExtractGroupSender(tt.in)
			if sender != tt.wantSender || body != tt.wantBody || ok != tt.wantOK {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					sender, body, ok, tt.wantSender, tt.wantBody, tt.wantOK)
			}
		})
	}
}

func TestParseText(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeText)
	p.Parse(m, "早上好")
	if m.RenderType != model.RenderText || m.Content != "早上好" {
		t.Errorf("got (%s, %q)", m.RenderType, m.Content)
	}
}

func TestParseGroupTextStripsSender(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeText)
	m.IsChatRoom = true
	p.Parse(m, "wxid_abc123:\nhello")
	if m.Sender != "wxid_abc123" {
		t.Errorf("sender = %q", m.Sender)
	}
	if m.Content != "hello" {
		t.Errorf("content = %q", m.Content)
	}
}

func TestParseImageMD5Synonyms(t *testing.T) {
	p := New(nil)

	tests := []struct {
		name string
		xml  string
		want string
	}{
		{"md5 attr", `<msg><img md5="AABB01" length="100"/></msg>`, "aabb01"},
		{"cdnthumbmd5 fallback", `<msg><img cdnthumbmd5="ccdd02"/></msg>`, "ccdd02"},
		{"md5 wins over synonym", `<msg><img cdnthumbmd5="ccdd02" md5="aabb01"/></msg>`, "aabb01"},
		{"no md5", `<msg><img length="1"/></msg>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMessage(TypeImage)
			p.Parse(m, tt.xml)
			if m.RenderType != model.RenderImage {
				t.Fatalf("renderType = %s", m.RenderType)
			}
			if m.FileMD5 != tt.want {
				t.Errorf("md5 = %q, want %q", m.FileMD5, tt.want)
			}
		})
	}
}

func TestParseVoiceDuration(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeVoice)
	p.Parse(m, `<msg><voicemsg voicelength="3200" length="1234"/></msg>`)
	if m.RenderType != model.RenderVoice || m.Duration != 3200 {
		t.Errorf("got (%s, %d)", m.RenderType, m.Duration)
	}
}

func TestParseFileAppMessage(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeAppMsg)
	p.Parse(m, `<msg><appmsg><type>6</type><title>report.pdf</title><totallen>1024</totallen><md5>abc123def</md5></appmsg></msg>`)
	if m.RenderType != model.RenderFile {
		t.Fatalf("renderType = %s", m.RenderType)
	}
	if m.Title != "report.pdf" || m.FileMD5 != "abc123def" || m.FileSize != "1024" {
		t.Errorf("got title=%q md5=%q size=%q", m.Title, m.FileMD5, m.FileSize)
	}
}

func TestParseLinkAppMessage(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeAppMsg)
	p.Parse(m, `<msg><appmsg><type>5</type><title>一篇文章</title><url>https://example.com/a</url></appmsg></msg>`)
	if m.RenderType != model.RenderLink || m.Title != "一篇文章" || m.URL != "https://example.com/a" {
		t.Errorf("got (%s, %q, %q)", m.RenderType, m.Title, m.URL)
	}
}

func TestParseQuoteMessage(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeAppMsg)
	p.Parse(m, `<msg><appmsg><type>57</type><title>同意</title><refermsg><type>1</type><chatusr>wxid_peer</chatusr><displayname>老王</displayname><content>明天开会吗</content></refermsg></appmsg></msg>`)
	if m.RenderType != model.RenderQuote {
		t.Fatalf("renderType = %s", m.RenderType)
	}
	if m.Content != "同意" || m.QuoteUsername != "wxid_peer" || m.QuoteName != "老王" || m.QuoteContent != "明天开会吗" {
		t.Errorf("got content=%q quser=%q qname=%q qcontent=%q",
			m.Content, m.QuoteUsername, m.QuoteName, m.QuoteContent)
	}
}

func TestParseQuoteVoiceDuration(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeAppMsg)
	p.Parse(m, `<msg><appmsg><type>57</type><title>收到</title><refermsg><type>34</type><chatusr>wxid_peer</chatusr><content>wxid_peer:6500:0:</content></refermsg></appmsg></msg>`)
	if m.QuoteContent != `[语音] 7"` {
		t.Errorf("quoteContent = %q", m.QuoteContent)
	}
}

func TestParseQuoteStripsDuplicateLeadingLine(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeAppMsg)
	p.Parse(m, `<msg><appmsg><type>57</type><title>明天开会吗
好的</title><refermsg><type>1</type><content>明天开会吗</content></refermsg></appmsg></msg>`)
	if m.Content != "好的" {
		t.Errorf("content = %q", m.Content)
	}
}

func TestParseSystemRevoke(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeSystem)
	p.Parse(m, `<sysmsg type="revokemsg"><revokemsg><msgid>1</msgid></revokemsg></sysmsg>`)
	if m.RenderType != model.RenderSystem || m.Content != "撤回了一条消息" {
		t.Errorf("got (%s, %q)", m.RenderType, m.Content)
	}
}

func TestParseSystemStripsTags(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeSystem)
	p.Parse(m, `你邀请了<username>老王</username>加入群聊`)
	if m.Content != "你邀请了 老王 加入群聊" {
		t.Errorf("content = %q", m.Content)
	}
}

func TestParsePatTemplate(t *testing.T) {
	resolve := func(username string) string {
		names := map[string]string{"wxid_a": "张三", "wxid_b": "李四"}
		return names[username]
	}
	p := New(resolve)
	m := newMessage(TypePatAlt)
	p.Parse(m, `<sysmsg type="pat"><pat><template>"${wxid_a}" 拍了拍 "${wxid_b}"</template></pat></sysmsg>`)
	if m.RenderType != model.RenderSystem {
		t.Fatalf("renderType = %s", m.RenderType)
	}
	if m.Content != `"张三" 拍了拍 "李四"` {
		t.Errorf("content = %q", m.Content)
	}
	if len(m.PatUsernames) != 2 || m.PatUsernames[0] != "wxid_a" || m.PatUsernames[1] != "wxid_b" {
		t.Errorf("patUsernames = %v", m.PatUsernames)
	}
}

func TestParseVoip(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeVoip)
	p.Parse(m, `<msg><VoIPBubbleMsg><room_type>0</room_type><msg>通话时长 00:42</msg></VoIPBubbleMsg></msg>`)
	if m.RenderType != model.RenderVoip {
		t.Fatalf("renderType = %s", m.RenderType)
	}
	if m.Content != "[视频通话] 通话时长 00:42" {
		t.Errorf("content = %q", m.Content)
	}
}

func TestParseUnknownTypeFallsBack(t *testing.T) {
	p := New(nil)
	m := newMessage(123456789)
	p.Parse(m, "whatever")
	if m.Content != "[Message]" {
		t.Errorf("content = %q", m.Content)
	}
}

func TestLabelForKnownOpaqueType(t *testing.T) {
	if got := LabelForType(TypeLiveAlt); got != "[直播]" {
		t.Errorf("got %q", got)
	}
}

// 解析必须对损坏输入收敛。
func TestParseMalformedXMLNeverPanics(t *testing.T) {
	p := New(nil)
	types := []int64{TypeImage, TypeVoice, TypeVideo, TypeEmoji, TypeAppMsg, TypeVoip, TypeSystem, TypePatAlt, TypeQuoteAlt}
	inputs := []string{"", "<", "<msg><appmsg>", "<msg></other>", "no xml at all", "<msg><appmsg><type>abc</type></appmsg></msg>"}
	for _, typ := range types {
		for _, in := range inputs {
			m := newMessage(typ)
			p.Parse(m, in)
			if m.RenderType == "" {
				t.Errorf("type %d input %q: empty renderType", typ, in)
			}
		}
	}
}

func TestPreviewText(t *testing.T) {
	long := strings.Repeat("很", 80)
	tests := []struct {
		name string
		typ  int64
		body string
		want string
	}{
		{"text", TypeText, "  下午见  ", "下午见"},
		{"text truncated", TypeText, long, string([]rune(long)[:64]) + "…"},
		{"image", TypeImage, "<msg><img/></msg>", "[图片]"},
		{"voice", TypeVoice, "<msg><voicemsg/></msg>", "[语音]"},
		{"video", TypeVideo, "", "[视频]"},
		{"old video", TypeVideoOld, "", "[视频]"},
		{"emoji", TypeEmoji, "", "[动画表情]"},
		{"voip", TypeVoip, "", "[音视频通话]"},
		{"system", TypeSystem, "xx 撤回了一条消息", "[系统消息]"},
		{"appmsg title", TypeAppMsg, "<msg><appmsg><title>季度报告.pdf</title></appmsg></msg>", "季度报告.pdf"},
		{"appmsg no title", TypeAppMsg, "<msg><appmsg></appmsg></msg>", "[应用消息]"},
		{"pat", TypePatAlt, "", LabelForType(TypePatAlt)},
	}
	for _, tt := range tests {
		if got := PreviewText(tt.typ, tt.body); got != tt.want {
			t.Errorf("%s: PreviewText(%d) = %q, want %q", tt.name, tt.typ, got, tt.want)
		}
	}
}

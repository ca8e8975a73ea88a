package msgparse

import (
	"regexp"
	"strings"

	"github.com/beevik/etree"

	"github.com/zaylenc/wxvault/internal/model"
)

// parseSystem 处理 local_type 10000。撤回消息单独归一,其余剥掉 XML 标签。
func (p *Parser) parseSystem(m *model.Message, text string) {
	m.RenderType = model.RenderSystem

	if strings.Contains(text, "revokemsg") {
		m.Content = "撤回了一条消息"
		return
	}

	plain := StripTags(text)
	if plain == "" {
		plain = "[系统消息]"
	}
	m.Content = plain
}

var patWxidRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// parsePat 处理拍一拍的模板编码:<template> 里的 ${wxid} 换成显示名。
func (p *Parser) parsePat(m *model.Message, text string) {
	m.RenderType = model.RenderSystem
	m.Content = "[拍一拍]"

	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return
	}
	tmpl := doc.FindElement("//template")
	if tmpl == nil {
		return
	}

	rendered := patWxidRe.ReplaceAllStringFunc(strings.TrimSpace(tmpl.Text()), func(match string) string {
		wxid := match[2 : len(match)-1]
		m.PatUsernames = append(m.PatUsernames, wxid)
		if p.resolve != nil {
			if name := p.resolve(wxid); name != "" {
				return name
			}
		}
		return wxid
	})
	if rendered != "" {
		m.Content = rendered
	}
}

// parseVoip 处理 local_type 50 的通话消息。room_type 0 视频 1 语音。
func (p *Parser) parseVoip(m *model.Message, text string) {
	m.RenderType = model.RenderVoip
	m.Content = "[语音通话]"

	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return
	}
	bubble := doc.FindElement("//VoIPBubbleMsg")
	if bubble == nil {
		return
	}

	if el := bubble.FindElement("room_type"); el != nil {
		switch strings.TrimSpace(el.Text()) {
		case "0":
			m.Content = "[视频通话]"
		case "1":
			m.Content = "[语音通话]"
		}
	}
	if el := bubble.FindElement("msg"); el != nil {
		if v := strings.TrimSpace(el.Text()); v != "" {
			m.Content += " " + v
		}
	}
}

// parseQuoteMessage 处理 244813135921 的引用消息编码,复用 refermsg 逻辑。
func (p *Parser) parseQuoteMessage(m *model.Message, text string) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		m.RenderType = model.RenderQuote
		m.Content = text
		return
	}
	appmsg := doc.FindElement("//appmsg")
	if appmsg == nil {
		m.RenderType = model.RenderQuote
		m.Content = StripTags(text)
		return
	}
	p.parseQuote(m, appmsg, elementText(appmsg, "title"))
}

var tagRe = regexp.MustCompile(`<[^>]*>`)
var spaceRe = regexp.MustCompile(`\s+`)

// StripTags 去掉所有 XML 标签并折叠空白。
func StripTags(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

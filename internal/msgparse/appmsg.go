package msgparse

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/zaylenc/wxvault/internal/model"
)

// file md5 的同义标签名。
var fileMD5Tags = []string{"md5", "filemd5", "attachfilemd5"}

// ParseAppMessage 解析 local_type 49 的 appmsg,按内嵌 <type> 再次分发。
func (p *Parser) ParseAppMessage(m *model.Message, text string) {
	m.RenderType = model.RenderText
	m.Content = "[应用消息]"

	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return
	}

	appmsg := doc.FindElement("//appmsg")
	if appmsg == nil {
		// 个别版本只有 wcpayinfo 没有 appmsg 外层
		if pay := doc.FindElement("//wcpayinfo"); pay != nil {
			p.parsePayInfo(m, pay, 0)
		}
		return
	}

	appType := 0
	if el := appmsg.FindElement("type"); el != nil {
		appType, _ = strconv.Atoi(strings.TrimSpace(el.Text()))
	}
	title := elementText(appmsg, "title")
	des := elementText(appmsg, "des")

	switch appType {
	case AppMsgLink, AppMsgLink2:
		m.RenderType = model.RenderLink
		m.Title = title
		m.URL = elementText(appmsg, "url")
		m.Content = "[链接] " + title
	case AppMsgFile, AppMsgFile2:
		m.RenderType = model.RenderFile
		m.Title = title
		m.FileSize = elementText(appmsg, "totallen")
		m.FileMD5 = strings.ToLower(firstElementText(appmsg, fileMD5Tags))
		m.Content = "[文件] " + title
	case AppMsgGIF:
		m.RenderType = model.RenderEmoji
		m.Content = "[GIF表情]"
	case AppMsgForward:
		m.RenderType = model.RenderText
		m.Title = title
		m.Content = "[聊天记录]"
	case AppMsgMiniApp, AppMsgMiniApp2:
		m.RenderType = model.RenderLink
		m.Title = title
		m.URL = elementText(appmsg, "url")
		m.Content = "[小程序] " + title
	case AppMsgQuote:
		p.parseQuote(m, appmsg, title)
	case AppMsgPat:
		m.RenderType = model.RenderSystem
		m.Content = "[拍一拍]"
	case AppMsgChannel:
		m.RenderType = model.RenderLink
		m.Title = title
		m.Content = "[视频号] " + title
	case AppMsgNotice:
		m.RenderType = model.RenderSystem
		m.Content = "[群公告] " + title
	case AppMsgTransfer:
		if pay := appmsg.FindElement("wcpayinfo"); pay != nil {
			p.parsePayInfo(m, pay, appType)
		} else {
			m.RenderType = model.RenderTransfer
			m.Content = "[转账]"
		}
	case AppMsgRedPacket, AppMsgRedPacket2:
		m.RenderType = model.RenderRedPacket
		m.Title = title
		m.Content = "[红包] " + title
	default:
		if pay := appmsg.FindElement("wcpayinfo"); pay != nil {
			p.parsePayInfo(m, pay, appType)
			return
		}
		if title != "" {
			m.RenderType = model.RenderText
			m.Title = title
			m.Content = title
		} else if des != "" {
			m.RenderType = model.RenderText
			m.Content = des
		}
	}
}

// parsePayInfo 处理 wcpayinfo:转账和红包共用的支付结构。
func (p *Parser) parsePayInfo(m *model.Message, pay *etree.Element, appType int) {
	paySubType, _ := strconv.Atoi(elementText(pay, "paysubtype"))
	templateID := elementText(pay, "templateid")
	amount := strings.TrimPrefix(elementText(pay, "feedesc"), "￥")

	isRedPacket := appType == AppMsgRedPacket || appType == AppMsgRedPacket2 ||
		templateID != "" || (paySubType == 0 && amount == "" && pay.FindElement("sendertitle") != nil)
	if isRedPacket && appType != AppMsgTransfer {
		m.RenderType = model.RenderRedPacket
		m.Title = elementText(pay, "sendertitle")
		if m.Title == "" {
			m.Title = "恭喜发财,大吉大利"
		}
		m.Content = "[红包] " + m.Title
		return
	}

	m.RenderType = model.RenderTransfer
	m.Amount = amount
	m.PaySubType = paySubType
	m.TransferID = elementText(pay, "transferid")
	m.TransferStatus = transferStatus(
		elementText(pay, "receivestatus"),
		paySubType,
		m.IsSent,
		elementText(pay, "sendertitle"),
		elementText(pay, "receivertitle"),
		elementText(pay, "senderdes"),
		elementText(pay, "receiverdes"),
	)
	m.Content = "[转账] " + m.TransferStatus
	if amount != "" {
		m.Content += " ￥" + amount
	}
}

// parseQuote 处理 type 57 引用消息,refermsg 是被引用的原始消息。
func (p *Parser) parseQuote(m *model.Message, appmsg *etree.Element, title string) {
	m.RenderType = model.RenderQuote
	m.Content = title

	refer := appmsg.FindElement("refermsg")
	if refer == nil {
		return
	}

	referType, _ := strconv.ParseInt(elementText(refer, "type"), 10, 64)
	m.QuoteUsername = elementText(refer, "chatusr")
	if m.QuoteUsername == "" {
		m.QuoteUsername = elementText(refer, "fromusr")
	}
	m.QuoteName = elementText(refer, "displayname")
	referContent := elementText(refer, "content")

	switch referType {
	case TypeImage:
		m.QuoteContent = "[图片]"
	case TypeEmoji:
		m.QuoteContent = "[表情]"
	case TypeVideo, TypeVideoOld:
		m.QuoteContent = "[视频]"
	case TypeVoice:
		// 语音引用的 content 形如 "sender:durationMs:flag:"
		m.QuoteContent = "[语音]"
		if parts := strings.Split(referContent, ":"); len(parts) >= 2 {
			if ms, err := strconv.ParseInt(parts[1], 10, 64); err == nil && ms > 0 {
				m.QuoteContent = "[语音] " + formatDuration(ms)
			}
		}
	case TypeAppMsg:
		m.QuoteContent = "[链接]"
		if t := quotedAppMsgTitle(referContent); t != "" {
			m.QuoteContent = "[链接] " + t
		}
	default:
		m.QuoteContent = referContent
	}

	// 回复文本重复了被引用内容时去掉首行
	if m.QuoteContent != "" {
		lines := strings.SplitN(m.Content, "\n", 2)
		if len(lines) == 2 && strings.TrimSpace(lines[0]) == strings.TrimSpace(m.QuoteContent) {
			m.Content = lines[1]
		}
	}
}

// quotedAppMsgTitle 从被引用的 appmsg XML 里提取标题。
func quotedAppMsgTitle(content string) string {
	if !strings.Contains(content, "<") {
		return ""
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString(content); err != nil {
		return ""
	}
	if el := doc.FindElement("//appmsg/title"); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}

func formatDuration(ms int64) string {
	secs := (ms + 999) / 1000
	return strconv.FormatInt(secs, 10) + `"`
}

func elementText(parent *etree.Element, tag string) string {
	if el := parent.FindElement(tag); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}

func firstElementText(parent *etree.Element, tags []string) string {
	for _, tag := range tags {
		if v := elementText(parent, tag); v != "" {
			return v
		}
	}
	return ""
}

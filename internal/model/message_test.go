package model

import (
	"strings"
	"testing"
	"time"
)

func TestPlainTextTimeLayout(t *testing.T) {
	m := &Message{
		Talker:     "wxid_peer",
		CreateTime: time.Date(2024, 3, 15, 9, 30, 0, 0, time.Local),
		Content:    "hello",
	}
	if got := m.PlainText("15:04:05"); !strings.Contains(got, "09:30:00") || strings.Contains(got, "2024") {
		t.Errorf("short layout output = %q", got)
	}
	if got := m.PlainText(""); !strings.Contains(got, "2024-03-15 09:30:00") {
		t.Errorf("default layout output = %q", got)
	}
}

func TestPlainTextSenderLine(t *testing.T) {
	m := &Message{
		Talker:     "52731@chatroom",
		IsChatRoom: true,
		Sender:     "wxid_member",
		SenderName: "小王",
		CreateTime: time.Unix(1700000000, 0),
		Content:    "今晚开会",
	}
	got := m.PlainText("")
	if !strings.HasPrefix(got, "小王(wxid_member)") {
		t.Errorf("output = %q", got)
	}

	m.IsSent = true
	if got := m.PlainText(""); !strings.Contains(got, "(我)") {
		t.Errorf("sent output = %q", got)
	}
}

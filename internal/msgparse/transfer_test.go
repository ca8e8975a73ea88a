package msgparse

import (
	"testing"
	"time"

	"github.com/zaylenc/wxvault/internal/model"
)

func TestTransferStatusPrecedence(t *testing.T) {
	tests := []struct {
		name          string
		receiveStatus string
		paySubType    int
		isSent        bool
		senderTitle   string
		want          string
	}{
		{"receivestatus 1 beats paysubtype", "1", 4, false, "", StatusReceived},
		{"receivestatus 2", "2", 0, false, "", StatusReturned},
		{"receivestatus 3", "3", 0, false, "", StatusExpired},
		{"paysubtype 4", "", 4, false, "", StatusReturned},
		{"paysubtype 9", "", 9, false, "", StatusBeenReturned},
		{"paysubtype 10", "", 10, false, "", StatusExpired},
		{"paysubtype 8", "", 8, true, "", StatusInitiated},
		{"paysubtype 3 sent", "", 3, true, "", StatusReceived},
		{"paysubtype 3 received", "", 3, false, "", StatusAccepted},
		{"paysubtype 1", "", 1, false, "", StatusPlain},
		{"title fallback", "", 0, true, "已收款", "已收款"},
		{"nothing known", "", 0, false, "", StatusPlain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transferStatus(tt.receiveStatus, tt.paySubType, tt.isSent, tt.senderTitle, "", "", "")
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTransferXML(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeAppMsg)
	m.IsSent = true
	p.Parse(m, `<msg><appmsg><type>2000</type><wcpayinfo><paysubtype>1</paysubtype><feedesc>￥520.00</feedesc><transferid>tx100</transferid></wcpayinfo></appmsg></msg>`)
	if m.RenderType != model.RenderTransfer {
		t.Fatalf("renderType = %s", m.RenderType)
	}
	if m.Amount != "520.00" || m.TransferID != "tx100" || m.PaySubType != 1 {
		t.Errorf("got amount=%q id=%q subtype=%d", m.Amount, m.TransferID, m.PaySubType)
	}
	if m.TransferStatus != StatusPlain {
		t.Errorf("status = %q", m.TransferStatus)
	}
}

func TestParseRedPacket(t *testing.T) {
	p := New(nil)
	m := newMessage(TypeAppMsg)
	p.Parse(m, `<msg><appmsg><type>2001</type><title>恭喜发财</title></appmsg></msg>`)
	if m.RenderType != model.RenderRedPacket {
		t.Errorf("renderType = %s", m.RenderType)
	}
}

func transferMsg(id string, paySubType int, isSent bool, amount string, at int64) *model.Message {
	return &model.Message{
		Type:       TypeAppMsg,
		RenderType: model.RenderTransfer,
		TransferID: id,
		PaySubType: paySubType,
		IsSent:     isSent,
		Amount:     amount,
		CreateTime: time.Unix(at, 0),
	}
}

func TestReconcileTransfersByID(t *testing.T) {
	initiated := transferMsg("tx1", 8, true, "100.00", 1700000000)
	accepted := transferMsg("tx1", 3, false, "100.00", 1700000100)

	ReconcileTransfers([]*model.Message{initiated, accepted})

	if initiated.TransferStatus != StatusAccepted {
		t.Errorf("initiated status = %q, want %q", initiated.TransferStatus, StatusAccepted)
	}
}

func TestReconcileTransfersPrefersReturned(t *testing.T) {
	initiated := transferMsg("", 8, true, "66.00", 1700000000)
	accepted := transferMsg("", 3, false, "66.00", 1700000100)
	returned := transferMsg("", 4, false, "66.00", 1700000200)

	ReconcileTransfers([]*model.Message{initiated, accepted, returned})

	if initiated.TransferStatus != StatusBeenReturned {
		t.Errorf("status = %q, want %q", initiated.TransferStatus, StatusBeenReturned)
	}
}

func TestReconcileTransfersRespectsWindow(t *testing.T) {
	initiated := transferMsg("", 8, true, "10.00", 1700000000)
	// 超过 24 小时,不应匹配
	accepted := transferMsg("", 3, false, "10.00", 1700000000+transferMatchWindow+3600)

	ReconcileTransfers([]*model.Message{initiated, accepted})

	if initiated.TransferStatus != "" {
		t.Errorf("status = %q, want unchanged", initiated.TransferStatus)
	}
}

func TestReconcileTransfersAmountMismatch(t *testing.T) {
	initiated := transferMsg("", 8, true, "10.00", 1700000000)
	accepted := transferMsg("", 3, false, "20.00", 1700000100)

	ReconcileTransfers([]*model.Message{initiated, accepted})

	if initiated.TransferStatus != "" {
		t.Errorf("status = %q, want unchanged", initiated.TransferStatus)
	}
}

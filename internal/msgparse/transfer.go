package msgparse

import (
	"github.com/zaylenc/wxvault/internal/model"
)

// 转账状态文案。receivestatus 优先于 paysubtype。
const (
	StatusReceived     = "已收款"
	StatusReturned     = "已退还"
	StatusBeenReturned = "已被退还"
	StatusExpired      = "已过期"
	StatusInitiated    = "发起转账"
	StatusAccepted     = "已被接收"
	StatusPlain        = "转账"
)

// transferStatus 按优先级推导转账状态:
// receivestatus → paysubtype → sender/receiver 文案兜底。
func transferStatus(receiveStatus string, paySubType int, isSent bool, senderTitle, receiverTitle, senderDes, receiverDes string) string {
	switch receiveStatus {
	case "1":
		return StatusReceived
	case "2":
		return StatusReturned
	case "3":
		return StatusExpired
	}

	switch paySubType {
	case 4:
		return StatusReturned
	case 9:
		return StatusBeenReturned
	case 10:
		return StatusExpired
	case 8:
		return StatusInitiated
	case 3:
		if isSent {
			return StatusReceived
		}
		return StatusAccepted
	case 1:
		return StatusPlain
	}

	if isSent {
		if senderTitle != "" {
			return senderTitle
		}
		if senderDes != "" {
			return senderDes
		}
	} else {
		if receiverTitle != "" {
			return receiverTitle
		}
		if receiverDes != "" {
			return receiverDes
		}
	}
	if senderTitle != "" {
		return senderTitle
	}
	return StatusPlain
}

// 模糊金额匹配的时间窗口,秒。
const transferMatchWindow = 24 * 60 * 60

// ReconcileTransfers 对一批已解析消息做第二遍扫描,把状态不明的转账
// (paysubtype 1/8)按同一 transferId 或 24 小时内同金额的后续消息升级状态。
// 同时存在退还与收款匹配时取退还。
func ReconcileTransfers(msgs []*model.Message) {
	type resolution struct {
		status     string
		createTime int64
		amount     string
	}

	// 先收集所有已定案的转账消息
	byID := make(map[string]resolution)
	resolved := make([]resolution, 0)
	for _, m := range msgs {
		if m.RenderType != model.RenderTransfer {
			continue
		}
		var status string
		switch m.PaySubType {
		case 3:
			if m.IsSent {
				status = StatusReceived
			} else {
				status = StatusAccepted
			}
		case 4, 9:
			status = StatusBeenReturned
		default:
			continue
		}
		r := resolution{status: status, createTime: m.CreateTime.Unix(), amount: m.Amount}
		if m.TransferID != "" {
			// 退还优先于收款
			if old, ok := byID[m.TransferID]; !ok || old.status != StatusBeenReturned {
				byID[m.TransferID] = r
			}
		}
		resolved = append(resolved, r)
	}

	for _, m := range msgs {
		if m.RenderType != model.RenderTransfer {
			continue
		}
		if m.PaySubType != 1 && m.PaySubType != 8 {
			continue
		}

		if m.TransferID != "" {
			if r, ok := byID[m.TransferID]; ok {
				m.TransferStatus = upgradeStatus(r.status, m.IsSent)
				continue
			}
		}

		// 兜底:同金额且时间接近
		var best string
		ts := m.CreateTime.Unix()
		for _, r := range resolved {
			if r.amount == "" || r.amount != m.Amount {
				continue
			}
			delta := r.createTime - ts
			if delta < -transferMatchWindow || delta > transferMatchWindow {
				continue
			}
			if best == "" || r.status == StatusBeenReturned {
				best = r.status
			}
		}
		if best != "" {
			m.TransferStatus = upgradeStatus(best, m.IsSent)
		}
	}
}

// upgradeStatus 把对方视角的状态换算到本条消息的视角。
func upgradeStatus(matched string, isSent bool) string {
	if matched == StatusBeenReturned {
		return StatusBeenReturned
	}
	if isSent {
		return StatusAccepted
	}
	return StatusReceived
}

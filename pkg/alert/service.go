// 文件: pkg/alert/service.go
// 告警服务 - 接在风险监控器的等级变化回调上
//
// 等级变化 → 记录告警 + 推送 NATS 风险主题。
// 冷却抑制掉的变化不推送。告警失败只记日志，不影响监控

package alert

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"mex.com/pkg/notify"
	"mex.com/pkg/risk"
)

// Service 告警服务
type Service struct {
	alerts   Manager
	notifier notify.Notifier

	now func() int64 // Unix 毫秒
}

// NewService 创建告警服务
// notifier 可以为 nil：只记告警不推送
func NewService(alerts Manager, notifier notify.Notifier) *Service {
	return &Service{
		alerts:   alerts,
		notifier: notifier,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// OnTierChange 风险等级变化回调（挂到监控器上）
func (s *Service) OnTierChange(userID int64, symbol string, from, to risk.Tier, ratio decimal.Decimal) {
	kind := KindTierChange
	if to == risk.TierLiquidation {
		kind = KindLiquidation
	}

	a := RiskAlert{
		UserID:    userID,
		Symbol:    symbol,
		Kind:      kind,
		Tier:      to.String(),
		RiskRatio: ratio.String(),
		Message:   "risk tier " + from.String() + " -> " + to.String(),
		CreatedAt: s.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	recorded, err := s.alerts.Record(ctx, a)
	if err != nil {
		log.Printf("[alert] record failed user=%d symbol=%s: %v", userID, symbol, err)
		return
	}
	if !recorded {
		// 冷却中，抑制
		return
	}

	if s.notifier == nil {
		return
	}
	err = s.notifier.Publish(notify.SubjectRiskTier, notify.TierChangeNotice{
		UserID:    userID,
		Symbol:    symbol,
		From:      from,
		To:        to,
		RiskRatio: ratio.String(),
		Timestamp: a.CreatedAt,
	})
	if err != nil {
		log.Printf("[alert] publish failed user=%d symbol=%s: %v", userID, symbol, err)
	}
}

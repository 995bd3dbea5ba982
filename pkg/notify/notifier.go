// 文件: pkg/notify/notifier.go
// 引擎对外通知
//
// 撮合结果、风险等级变化、强平结果通过 NATS 推给下游
// （行情推送、用户通知、运营告警）。通知是尽力而为的旁路，
// 发送失败只记日志，不影响引擎状态

package notify

import (
	"fmt"

	"mex.com/pkg/mtrade"
	"mex.com/pkg/risk"
)

// =============================================================================
// 主题
// =============================================================================

const (
	// SubjectTrades 成交推送: engine.trades.{symbol}
	SubjectTrades = "engine.trades.%s"

	// SubjectDepth 深度推送: engine.depth.{symbol}
	SubjectDepth = "engine.depth.%s"

	// SubjectRiskTier 风险等级变化
	SubjectRiskTier = "engine.risk.tier"

	// SubjectLiquidation 强平结果
	SubjectLiquidation = "engine.liquidation.result"
)

// TradeSubject 成交主题
func TradeSubject(symbol string) string {
	return fmt.Sprintf(SubjectTrades, symbol)
}

// DepthSubject 深度主题
func DepthSubject(symbol string) string {
	return fmt.Sprintf(SubjectDepth, symbol)
}

// =============================================================================
// 载荷
// =============================================================================

// TradeNotice 成交通知
type TradeNotice struct {
	Symbol string         `json:"symbol"`
	Trades []mtrade.Trade `json:"trades"`
}

// TierChangeNotice 风险等级变化通知
type TierChangeNotice struct {
	UserID    int64     `json:"user_id"`
	Symbol    string    `json:"symbol"`
	From      risk.Tier `json:"from"`
	To        risk.Tier `json:"to"`
	RiskRatio string    `json:"risk_ratio"`
	Timestamp int64     `json:"timestamp"`
}

// LiquidationNotice 强平结果通知
type LiquidationNotice struct {
	RequestID   int64  `json:"request_id"`
	UserID      int64  `json:"user_id"`
	Symbol      string `json:"symbol"`
	Cause       string `json:"cause"`
	Status      string `json:"status"`
	TotalClosed string `json:"total_closed"`
	FailedQty   string `json:"failed_qty"`
	Timestamp   int64  `json:"timestamp"`
}

// =============================================================================
// Notifier
// =============================================================================

// Notifier 通知接口
type Notifier interface {
	// Publish 发布 JSON 序列化后的载荷
	Publish(subject string, payload any) error

	// Close 关闭连接
	Close()
}

// =============================================================================
// NopNotifier
// =============================================================================

// 确保实现了接口
var _ Notifier = (*NopNotifier)(nil)

// NopNotifier 空实现（测试和单机模式）
type NopNotifier struct {
	// Published 记录发布次数，按主题统计
	Published map[string]int
}

// NewNopNotifier 创建空通知器
func NewNopNotifier() *NopNotifier {
	return &NopNotifier{Published: make(map[string]int)}
}

// Publish 只计数
func (n *NopNotifier) Publish(subject string, _ any) error {
	n.Published[subject]++
	return nil
}

// Close 空操作
func (n *NopNotifier) Close() {}

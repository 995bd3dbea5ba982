// 文件: pkg/liquidation/cause.go
// 强平原因与强平请求
//
// 【设计】原因参数集中在一张查表里，不散落在 switch 分支

package liquidation

import (
	"github.com/shopspring/decimal"
	"mex.com/pkg/mtrade"
)

// =============================================================================
// 强平原因
// =============================================================================

// Cause 强平原因
type Cause int8

const (
	CauseMarginInsufficient Cause = iota // 保证金不足
	CauseRiskExceeded                    // 风险率超限
	CausePriceDeviation                  // 价格异常偏离
	CauseSystemRisk                      // 系统性风险
	CauseRegulatory                      // 监管指令
	CauseManual                          // 人工强平
	CauseExpiry                          // 合约到期
	CauseOther                           // 其他
)

// Class 强平分类
type Class int8

const (
	ClassAuto      Class = iota // 自动触发
	ClassManual                 // 人工触发
	ClassEmergency              // 紧急处置
)

func (c Class) String() string {
	switch c {
	case ClassManual:
		return "MANUAL"
	case ClassEmergency:
		return "EMERGENCY"
	default:
		return "AUTO"
	}
}

// causeSpec 单个原因的参数
type causeSpec struct {
	name     string
	priority int // 数值越大越优先
	class    Class
}

// causeTable 原因参数表
var causeTable = map[Cause]causeSpec{
	CauseMarginInsufficient: {"MARGIN_INSUFFICIENT", 90, ClassAuto},
	CauseRiskExceeded:       {"RISK_EXCEEDED", 80, ClassAuto},
	CausePriceDeviation:     {"PRICE_DEVIATION", 70, ClassAuto},
	CauseSystemRisk:         {"SYSTEM_RISK", 100, ClassEmergency},
	CauseRegulatory:         {"REGULATORY", 95, ClassEmergency},
	CauseManual:             {"MANUAL", 50, ClassManual},
	CauseExpiry:             {"EXPIRY", 60, ClassAuto},
	CauseOther:              {"OTHER", 10, ClassManual},
}

func (c Cause) String() string {
	if spec, ok := causeTable[c]; ok {
		return spec.name
	}
	return "UNKNOWN"
}

// Priority 原因优先级
func (c Cause) Priority() int {
	return causeTable[c].priority
}

// Class 原因分类
func (c Cause) Class() Class {
	return causeTable[c].class
}

// IsEmergency 是否紧急处置
func (c Cause) IsEmergency() bool {
	return causeTable[c].class == ClassEmergency
}

// =============================================================================
// 强平请求
// =============================================================================

// Status 强平请求状态
type Status int8

const (
	StatusExecuting Status = iota // 执行中
	StatusCompleted               // 已完成（含部分成交完成）
	StatusFailed                  // 失败
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return "EXECUTING"
	}
}

// Request 强平请求（一次性工作项）
// 由强平指令创建，执行完输出结果后即丢弃，不落库
type Request struct {
	ID     int64  // 命令 ID
	Cause  Cause  // 强平原因
	UserID int64  // 目标用户
	Symbol string // 目标交易对（全仓模式可为空）

	// ===== 风险预言机输入 =====
	IndexPrice  decimal.Decimal            // 目标交易对指数价
	IndexPrices map[string]decimal.Decimal // 全仓模式：各交易对指数价
	Balance     decimal.Decimal            // 账户余额
	Margin      decimal.Decimal            // 保证金
	RiskRatio   decimal.Decimal            // 触发时风险率
	UPnL        decimal.Decimal            // 未实现盈亏

	// ===== 派生字段 =====
	Priority  int    // 由原因决定
	Emergency bool   // 紧急处置
	Status    Status // 生命周期状态
	Error     string // 失败/部分失败说明

	Timestamp int64 // 命令时间（毫秒）
}

// NewRequest 创建强平请求，填充派生字段
func NewRequest(id int64, cause Cause, userID int64, symbol string, ts int64) *Request {
	return &Request{
		ID:        id,
		Cause:     cause,
		UserID:    userID,
		Symbol:    symbol,
		Priority:  cause.Priority(),
		Emergency: cause.IsEmergency(),
		Status:    StatusExecuting,
		Timestamp: ts,
	}
}

// =============================================================================
// 执行结果
// =============================================================================

// Step 分级强平的一步
type Step struct {
	Tier       int8            `json:"tier"`        // 本步所处等级
	Symbol     string          `json:"symbol"`      // 本步处置的交易对
	ClosedQty  decimal.Decimal `json:"closed_qty"`  // 平掉数量
	AvgPrice   decimal.Decimal `json:"avg_price"`   // 平均成交价
	Amount     decimal.Decimal `json:"amount"`      // 成交额
	TradeCount int             `json:"trade_count"` // 成交笔数

	// Trades 本步产生的成交（供事件发布，不参与状态）
	Trades []mtrade.Trade `json:"-"`
}

// Result 强平执行汇总
type Result struct {
	Request *Request `json:"request"`

	Steps       []Step          `json:"steps"`        // 每一步的明细
	TotalClosed decimal.Decimal `json:"total_closed"` // 总平仓数量
	TotalAmount decimal.Decimal `json:"total_amount"` // 总成交额
	FailedQty   decimal.Decimal `json:"failed_qty"`   // 流动性不足未平掉的数量
	FinalTier   int8            `json:"final_tier"`   // 结束时的风险等级
	RealizedPnL decimal.Decimal `json:"realized_pnl"` // 强平产生的已实现盈亏
}

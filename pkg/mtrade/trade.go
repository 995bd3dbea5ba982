package mtrade

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// 成交记录 (Trade)
// =============================================================================
//
// 【面试】一次撮合可能产生多个 Trade（吃多个价位）
// Trade 只由撮合器创建，创建后不可变

// TradeFlag 成交来源标记
type TradeFlag int8

const (
	TradeFlagNormal      TradeFlag = iota // 普通撮合
	TradeFlagLiquidation                  // 强平单产生
	TradeFlagADL                          // 自动减仓产生
)

func (f TradeFlag) String() string {
	switch f {
	case TradeFlagLiquidation:
		return "LIQUIDATION"
	case TradeFlagADL:
		return "ADL"
	default:
		return "NORMAL"
	}
}

// Trade 成交记录
type Trade struct {
	ID     int64  // 成交 ID（订单簿内单调递增，随快照保存，重放可复现）
	Symbol string // 交易对

	Price int64 // 成交价格（定点数，= Maker 价格）
	Qty   int64 // 成交数量（定点数）

	TakerOrderID int64 // Taker 订单 ID
	MakerOrderID int64 // Maker 订单 ID
	TakerUserID  int64 // Taker 用户 ID
	MakerUserID  int64 // Maker 用户 ID

	TakerSide   Side           // Taker 方向
	TakerAction PositionAction // Taker 仓位动作
	MakerAction PositionAction // Maker 仓位动作
	Flag        TradeFlag      // 成交来源

	Amount   decimal.Decimal // 成交额 = 价格 × 数量
	TakerFee decimal.Decimal // Taker 手续费
	MakerFee decimal.Decimal // Maker 手续费

	Timestamp int64 // 成交时间（取 Taker 命令时间，保证重放确定性）
}

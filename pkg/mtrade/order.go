package mtrade

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// 常量定义
// =============================================================================

// 【面试高频】Side 买卖方向
// 问：为什么用 int8 而不是 string？
// 答：内存小、比较快、避免字符串分配
type Side int8

const (
	SideBuy  Side = 1  // 买入
	SideSell Side = -1 // 卖出，用 -1 方便计算对手盘
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// Opposite 返回对手方向
// 【面试】撮合时需要快速获取对手盘方向
func (s Side) Opposite() Side {
	return -s // Buy(1) -> Sell(-1), Sell(-1) -> Buy(1)
}

// =============================================================================
// 订单类型
// =============================================================================

// 【面试高频】OrderType 订单类型
// 问：解释 Limit、Market、IOC、FOK、PostOnly、Stop 的区别
type OrderType int8

const (
	OrderTypeLimit     OrderType = iota // 限价单：指定价格，可部分成交，剩余挂单
	OrderTypeMarket                     // 市价单：吃对手盘，受深度/滑点上限约束
	OrderTypeFOK                        // Fill or Kill：全部成交或整单拒绝（撮合前深度模拟）
	OrderTypeIOC                        // Immediate or Cancel：立即成交，剩余取消
	OrderTypePostOnly                   // 仅做 Maker，会吃单则整单拒绝
	OrderTypeStop                       // 止损市价单：触发价到达后按市价撮合
	OrderTypeStopLimit                  // 止损限价单：触发价到达后按限价撮合
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeFOK:
		return "FOK"
	case OrderTypeIOC:
		return "IOC"
	case OrderTypePostOnly:
		return "POST_ONLY"
	case OrderTypeStop:
		return "STOP"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// IsStop 是否是止损类订单（先入触发队列，不直接撮合）
func (t OrderType) IsStop() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// =============================================================================
// 仓位动作
// =============================================================================

// PositionAction 订单对应的仓位动作
// OPEN 增加仓位，CLOSE 减少仓位（撮合前需要通过持仓锁定检查）
type PositionAction int8

const (
	ActionOpen  PositionAction = iota // 开仓
	ActionClose                       // 平仓
)

func (a PositionAction) String() string {
	if a == ActionOpen {
		return "OPEN"
	}
	return "CLOSE"
}

// =============================================================================
// 订单状态
// =============================================================================

// 【面试】订单状态机：Pending → Active → PartiallyFilled → Filled/Cancelled
// Rejected/Expired 是终态，终态订单必须同时离开价位队列和 ID 索引
type OrderStatus int8

const (
	OrderStatusPending         OrderStatus = iota // 已接收，等待撮合
	OrderStatusActive                             // 已挂入订单簿
	OrderStatusPartiallyFilled                    // 部分成交
	OrderStatusFilled                             // 完全成交
	OrderStatusCancelled                          // 已取消
	OrderStatusRejected                           // 被拒绝
	OrderStatusExpired                            // 已过期
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusActive:
		return "ACTIVE"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 是否终态
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// =============================================================================
// 订单结构体
// =============================================================================

// 【面试高频】Order 订单结构
// 问：为什么 Price 和 Qty 用 int64 而不是 float64？
// 答：避免浮点精度问题，用定点数表示（price * 1e8）
//
// 【性能优化】字段按 8 字节对齐，减少内存填充
type Order struct {
	// ========== 64 位字段放前面（内存对齐）==========

	ID        int64 // 订单 ID（Snowflake 生成，随命令载荷落日志）
	UserID    int64 // 用户 ID
	Price     int64 // 价格（定点数，实际价格 = Price / 1e8；市价单为 0）
	StopPrice int64 // 触发价（仅 STOP/STOP_LIMIT）
	Qty       int64 // 数量（定点数）
	FilledQty int64 // 已成交数量（不变式：Filled + Remaining = Qty）
	CreatedAt int64 // 创建时间（Unix 毫秒，随命令载荷落日志）
	UpdatedAt int64 // 最后更新时间

	// ========== 小字段放后面 ==========

	Side     Side           // 买卖方向
	Type     OrderType      // 订单类型
	Status   OrderStatus    // 订单状态
	Action   PositionAction // 仓位动作
	Leverage int32          // 杠杆倍数

	// Symbol 放最后（string 是 16 字节）
	Symbol string // 交易对，如 "BTC_USDT"
}

// RemainingQty 返回剩余未成交数量
// 【面试】撮合时需要频繁调用
func (o *Order) RemainingQty() int64 {
	return o.Qty - o.FilledQty
}

// IsFilled 是否完全成交
func (o *Order) IsFilled() bool {
	return o.FilledQty >= o.Qty
}

// IsMarket 是否按市价撮合（市价单和已触发的止损市价单）
func (o *Order) IsMarket() bool {
	return o.Type == OrderTypeMarket || o.Type == OrderTypeStop
}

// String 格式化输出
func (o *Order) String() string {
	return fmt.Sprintf("Order{ID:%d, %s %s %s %d@%d, Filled:%d, Status:%s}",
		o.ID, o.Side, o.Action, o.Symbol, o.Qty, o.Price, o.FilledQty, o.Status)
}

// =============================================================================
// 价格转换工具
// =============================================================================

const (
	// Precision 价格/数量精度因子
	// 【面试】为什么是 1e8？对标比特币最小单位 satoshi
	Precision = 100_000_000

	// DecimalScale 十进制小数位（与 Precision 对应）
	DecimalScale = 8
)

// ToFixed 将 decimal 转为定点数（半进位舍入到 8 位）
func ToFixed(d decimal.Decimal) int64 {
	return d.Shift(DecimalScale).Round(0).IntPart()
}

// FromFixed 将定点数转为 decimal
func FromFixed(v int64) decimal.Decimal {
	return decimal.New(v, -DecimalScale)
}

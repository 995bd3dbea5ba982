// 文件: pkg/engine/command.go
// 引擎命令面
//
// 引擎对外只有一个入口：提交命令。状态变更类命令由写线程
// 按命令 ID 串行执行并落事件日志；查询类命令同样走写线程
// （读到的一定是某条命令之后的完整状态），但不占用命令 ID、不落日志

package engine

import (
	"github.com/shopspring/decimal"

	"mex.com/pkg/liquidation"
	"mex.com/pkg/mtrade"
	"mex.com/pkg/position"
)

// =============================================================================
// 命令类型
// =============================================================================

// CommandType 命令类型
type CommandType int8

const (
	CmdNewOrder      CommandType = iota // 下单
	CmdCancelOrder                      // 撤单
	CmdClear                            // 清空订单簿
	CmdLiquidation                      // 强平
	CmdSnapshot                         // 触发快照
	CmdStop                             // 停机
	CmdQueryOrder                       // 查询订单
	CmdQueryPosition                    // 查询持仓
)

func (t CommandType) String() string {
	switch t {
	case CmdNewOrder:
		return "NEW_ORDER"
	case CmdCancelOrder:
		return "CANCEL_ORDER"
	case CmdClear:
		return "CLEAR"
	case CmdLiquidation:
		return "LIQUIDATION"
	case CmdSnapshot:
		return "SNAPSHOT"
	case CmdStop:
		return "STOP"
	case CmdQueryOrder:
		return "QUERY_ORDER"
	case CmdQueryPosition:
		return "QUERY_POSITION"
	default:
		return "UNKNOWN"
	}
}

// IsMutating 是否改变引擎状态（占用命令 ID 并落日志）
func (t CommandType) IsMutating() bool {
	switch t {
	case CmdNewOrder, CmdCancelOrder, CmdClear, CmdLiquidation:
		return true
	}
	return false
}

// =============================================================================
// 拒绝原因
// =============================================================================

// ReasonCode 命令执行结果码
// 拒绝类结果不产生任何状态变更
type ReasonCode int8

const (
	ReasonOK ReasonCode = iota
	ReasonSymbolNotTradeable
	ReasonInvalidPrice
	ReasonInvalidQty
	ReasonLeverageViolation
	ReasonPositionNotFound
	ReasonInsufficientPosition
	ReasonPostOnlyWouldCross
	ReasonFOKNotFillable
	ReasonOrderNotFound
	ReasonDuplicateOrder
	ReasonQueueFull
	ReasonStopped
	ReasonInternal
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonOK:
		return "OK"
	case ReasonSymbolNotTradeable:
		return "SYMBOL_NOT_TRADEABLE"
	case ReasonInvalidPrice:
		return "INVALID_PRICE"
	case ReasonInvalidQty:
		return "INVALID_QTY"
	case ReasonLeverageViolation:
		return "LEVERAGE_VIOLATION"
	case ReasonPositionNotFound:
		return "POSITION_NOT_FOUND"
	case ReasonInsufficientPosition:
		return "INSUFFICIENT_POSITION"
	case ReasonPostOnlyWouldCross:
		return "POST_ONLY_WOULD_CROSS"
	case ReasonFOKNotFillable:
		return "FOK_NOT_FILLABLE"
	case ReasonOrderNotFound:
		return "ORDER_NOT_FOUND"
	case ReasonDuplicateOrder:
		return "DUPLICATE_ORDER"
	case ReasonQueueFull:
		return "QUEUE_FULL"
	case ReasonStopped:
		return "ENGINE_STOPPED"
	default:
		return "INTERNAL"
	}
}

// OK 是否成功
func (r ReasonCode) OK() bool {
	return r == ReasonOK
}

// =============================================================================
// 命令载荷
// =============================================================================

// OrderPayload 下单载荷
type OrderPayload struct {
	Order *mtrade.Order `json:"order"`
	Mode  position.Mode `json:"mode"` // 开仓的保证金模式
}

// CancelPayload 撤单载荷
type CancelPayload struct {
	Symbol  string `json:"symbol"`
	OrderID int64  `json:"order_id"`
}

// ClearPayload 清空载荷，Symbol 为空表示全部交易对
type ClearPayload struct {
	Symbol string `json:"symbol"`
}

// LiquidatePayload 强平载荷
// 风险预言机输入随命令落日志，重放时不重新取价
type LiquidatePayload struct {
	Cause  liquidation.Cause `json:"cause"`
	UserID int64             `json:"user_id"`
	Symbol string            `json:"symbol"` // 为空表示全仓强平

	IndexPrice  decimal.Decimal            `json:"index_price"`
	IndexPrices map[string]decimal.Decimal `json:"index_prices,omitempty"`
	Balance     decimal.Decimal            `json:"balance"`
	Margin      decimal.Decimal            `json:"margin"`
	RiskRatio   decimal.Decimal            `json:"risk_ratio"`
	UPnL        decimal.Decimal            `json:"upnl"`
}

// QueryPayload 查询载荷
type QueryPayload struct {
	Symbol  string `json:"symbol"`
	OrderID int64  `json:"order_id,omitempty"`
	UserID  int64  `json:"user_id,omitempty"`
}

// Command 引擎命令
// 状态变更命令的载荷必须可序列化：载荷原样落日志，重放即重建状态
type Command struct {
	ID        int64       `json:"id"` // 写线程分配，严格递增
	Type      CommandType `json:"type"`
	Timestamp int64       `json:"timestamp"` // 毫秒，写线程分配

	Order     *OrderPayload     `json:"order,omitempty"`
	Cancel    *CancelPayload    `json:"cancel,omitempty"`
	Clear     *ClearPayload     `json:"clear,omitempty"`
	Liquidate *LiquidatePayload `json:"liquidate,omitempty"`
	Query     *QueryPayload     `json:"query,omitempty"`

	// 应答通道（重放时为 nil）
	reply chan *Result
}

// =============================================================================
// 执行结果
// =============================================================================

// Result 命令执行结果
type Result struct {
	CommandID int64
	Type      CommandType
	Reason    ReasonCode
	Err       error

	// NEW_ORDER / CANCEL
	Order  *mtrade.Order
	Trades []mtrade.Trade

	// CLEAR
	Cleared []*mtrade.Order

	// LIQUIDATION
	Liquidation *liquidation.Result

	// SNAPSHOT
	SnapshotID int64

	// QUERY_POSITION
	Position *position.Position
}

// resultRecord 落日志的结果摘要
type resultRecord struct {
	Reason     string `json:"reason"`
	FilledQty  int64  `json:"filled_qty,omitempty"`
	TradeCount int    `json:"trade_count,omitempty"`
	Cleared    int    `json:"cleared,omitempty"`
	Closed     string `json:"closed,omitempty"` // 强平平掉数量
	FailedQty  string `json:"failed_qty,omitempty"`
}

// 便捷构造

// NewOrderCommand 下单命令
func NewOrderCommand(order *mtrade.Order, mode position.Mode) *Command {
	return &Command{
		Type:  CmdNewOrder,
		Order: &OrderPayload{Order: order, Mode: mode},
	}
}

// CancelCommand 撤单命令
func CancelCommand(symbol string, orderID int64) *Command {
	return &Command{
		Type:   CmdCancelOrder,
		Cancel: &CancelPayload{Symbol: symbol, OrderID: orderID},
	}
}

// ClearCommand 清空命令
func ClearCommand(symbol string) *Command {
	return &Command{
		Type:  CmdClear,
		Clear: &ClearPayload{Symbol: symbol},
	}
}

// SnapshotCommand 快照命令
func SnapshotCommand() *Command {
	return &Command{Type: CmdSnapshot}
}

// StopCommand 停机命令
func StopCommand() *Command {
	return &Command{Type: CmdStop}
}

// QueryOrderCommand 查询订单
func QueryOrderCommand(symbol string, orderID int64) *Command {
	return &Command{
		Type:  CmdQueryOrder,
		Query: &QueryPayload{Symbol: symbol, OrderID: orderID},
	}
}

// QueryPositionCommand 查询持仓
func QueryPositionCommand(userID int64, symbol string) *Command {
	return &Command{
		Type:  CmdQueryPosition,
		Query: &QueryPayload{Symbol: symbol, UserID: userID},
	}
}

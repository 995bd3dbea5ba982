// 文件: pkg/position/position.go
// 用户持仓数据结构
//
// 【存储策略】
// - 主存储: 引擎内存 (单写线程独占，随快照持久化)
// - 镜像: MySQL (异步落库，供查询/对账，不参与撮合路径)
//
// 【关键概念区分】
// - 未实现盈亏 (uPnL): 随价格实时变化，用方法 UnrealizedPnL() 计算，不落库
// - 已实现盈亏 (RealizedPnL): 只有平仓/减仓时才产生，累计保存

package position

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// 枚举定义
// =============================================================================

// Side 持仓方向
type Side int8

const (
	SideLong  Side = 1  // 多头
	SideShort Side = -1 // 空头
)

func (s Side) String() string {
	if s == SideLong {
		return "LONG"
	}
	return "SHORT"
}

// Mode 保证金模式
type Mode int8

const (
	ModeIsolated Mode = iota // 逐仓：每个交易对独立核算风险
	ModeCross                // 全仓：所有持仓共享保证金
)

func (m Mode) String() string {
	if m == ModeCross {
		return "CROSS"
	}
	return "ISOLATED"
}

// LockStatus 锁定状态
type LockStatus int8

const (
	LockStatusUnlocked        LockStatus = iota // 未锁定
	LockStatusPartiallyLocked                   // 部分锁定
	LockStatusLocked                            // 全部锁定
)

func (s LockStatus) String() string {
	switch s {
	case LockStatusPartiallyLocked:
		return "PARTIALLY_LOCKED"
	case LockStatusLocked:
		return "LOCKED"
	default:
		return "UNLOCKED"
	}
}

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrInvalidQty         = errors.New("position: qty must be positive")
	ErrInsufficientQty    = errors.New("position: available qty insufficient")
	ErrInsufficientLocked = errors.New("position: locked qty insufficient")
	ErrSideMismatch       = errors.New("position: side mismatch")
)

// RoundScale 金额/均价统一保留 8 位小数，四舍五入
const RoundScale = 8

// =============================================================================
// Position - 用户持仓
// =============================================================================

// Position 用户在某交易对上的持仓
//
// 不变式：Locked + Available() == Qty，且 Qty >= 0
type Position struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID int64  `gorm:"column:user_id;index:idx_user_symbol,unique" json:"user_id"`
	Symbol string `gorm:"column:symbol;type:varchar(32);index:idx_user_symbol,unique" json:"symbol"`

	Side Side `gorm:"column:side" json:"side"`
	Mode Mode `gorm:"column:mode" json:"mode"`

	// ===== 持仓状态 =====
	Qty      decimal.Decimal `gorm:"column:qty;type:decimal(32,8)" json:"qty"`
	AvgPrice decimal.Decimal `gorm:"column:avg_price;type:decimal(32,8)" json:"avg_price"`
	Margin   decimal.Decimal `gorm:"column:margin;type:decimal(32,8)" json:"margin"`
	Leverage int32           `gorm:"column:leverage" json:"leverage"`

	// ===== 已实现盈亏 =====
	// 【注意】只有平仓/减仓时才更新此字段
	// 例: 开多 1 BTC @ 50000, 平 0.5 BTC @ 52000
	//     → RealizedPnL += (52000-50000)*0.5 = 1000 USDT
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:decimal(32,8)" json:"realized_pnl"`

	// ===== 强平参考价 =====
	LiqPrice decimal.Decimal `gorm:"column:liq_price;type:decimal(32,8)" json:"liq_price"`

	// ===== 锁定量 =====
	// 平仓方向的挂单先锁定对应数量，防止超平
	Locked decimal.Decimal `gorm:"column:locked;type:decimal(32,8)" json:"locked"`

	CreatedAt int64 `gorm:"column:created_at" json:"created_at"`
	UpdatedAt int64 `gorm:"column:updated_at" json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// New 创建空持仓
func New(userID int64, symbol string, side Side, mode Mode, leverage int32) *Position {
	return &Position{
		UserID:   userID,
		Symbol:   symbol,
		Side:     side,
		Mode:     mode,
		Leverage: leverage,
	}
}

// =============================================================================
// 查询方法
// =============================================================================

// Available 可用数量 = 总量 - 锁定量
func (p *Position) Available() decimal.Decimal {
	return p.Qty.Sub(p.Locked)
}

// IsEmpty 是否无持仓
func (p *Position) IsEmpty() bool {
	return p.Qty.IsZero()
}

// LockState 锁定状态
func (p *Position) LockState() LockStatus {
	if p.Locked.IsZero() {
		return LockStatusUnlocked
	}
	if p.Locked.GreaterThanOrEqual(p.Qty) {
		return LockStatusLocked
	}
	return LockStatusPartiallyLocked
}

// UnrealizedPnL 未实现盈亏
// 多头: (标记价 - 均价) × 数量；空头取反
func (p *Position) UnrealizedPnL(markPrice decimal.Decimal) decimal.Decimal {
	if p.IsEmpty() {
		return decimal.Zero
	}
	diff := markPrice.Sub(p.AvgPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Qty).Round(RoundScale)
}

// Value 仓位价值 = 数量 × 标记价
func (p *Position) Value(markPrice decimal.Decimal) decimal.Decimal {
	return p.Qty.Mul(markPrice).Round(RoundScale)
}

func (p *Position) String() string {
	return fmt.Sprintf("Position{user=%d %s %s qty=%s avg=%s margin=%s}",
		p.UserID, p.Symbol, p.Side, p.Qty, p.AvgPrice, p.Margin)
}

// =============================================================================
// 仓位变更（无锁，仅由写线程调用）
// =============================================================================

// Open 开仓/加仓
// 首次成交确定均价，后续成交按数量加权重新计算均价
func (p *Position) Open(qty, price decimal.Decimal) error {
	if !qty.IsPositive() {
		return ErrInvalidQty
	}

	if p.Qty.IsZero() {
		p.AvgPrice = price
		p.Qty = qty
		return nil
	}

	// 加权均价 = (旧均价×旧数量 + 成交价×成交量) / 新数量
	newQty := p.Qty.Add(qty)
	cost := p.AvgPrice.Mul(p.Qty).Add(price.Mul(qty))
	p.AvgPrice = cost.Div(newQty).Round(RoundScale)
	p.Qty = newQty
	return nil
}

// Close 平仓/减仓
// 要求可用数量充足；返回本次产生的已实现盈亏
func (p *Position) Close(qty, price decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, ErrInvalidQty
	}
	if p.Available().LessThan(qty) {
		return decimal.Zero, ErrInsufficientQty
	}

	// 已实现盈亏：多头 (平仓价-均价)×数量，空头取反
	diff := price.Sub(p.AvgPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	realized := diff.Mul(qty).Round(RoundScale)

	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.Qty = p.Qty.Sub(qty)

	// 完全平仓后均价清零
	if p.Qty.IsZero() {
		p.AvgPrice = decimal.Zero
		p.Margin = decimal.Zero
		p.LiqPrice = decimal.Zero
	}
	return realized, nil
}

// ForceClose 强平专用平仓：先解锁再平，绕过可用量检查
// 强平/ADL 优先级高于用户挂单的锁定
func (p *Position) ForceClose(qty, price decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, ErrInvalidQty
	}
	if p.Qty.LessThan(qty) {
		return decimal.Zero, ErrInsufficientQty
	}

	// 被强平吃掉的部分如果处于锁定状态，同步解锁
	if p.Available().LessThan(qty) {
		p.Locked = p.Qty.Sub(qty)
	}
	return p.Close(qty, price)
}

// =============================================================================
// 锁定/解锁
// =============================================================================

// Lock 锁定数量（平仓挂单前调用）
func (p *Position) Lock(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return ErrInvalidQty
	}
	if p.Available().LessThan(qty) {
		return ErrInsufficientQty
	}
	p.Locked = p.Locked.Add(qty)
	return nil
}

// Unlock 解锁数量（平仓单取消/成交后调用）
func (p *Position) Unlock(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return ErrInvalidQty
	}
	if p.Locked.LessThan(qty) {
		return ErrInsufficientLocked
	}
	p.Locked = p.Locked.Sub(qty)
	return nil
}

// =============================================================================
// 持仓变更事件 (通知强平引擎)
// =============================================================================

type ChangeType int8

const (
	ChangeOpen   ChangeType = iota // 新开仓
	ChangeAdd                      // 加仓
	ChangeReduce                   // 减仓
	ChangeClose                    // 平仓
)

func (t ChangeType) String() string {
	switch t {
	case ChangeOpen:
		return "OPEN"
	case ChangeAdd:
		return "ADD"
	case ChangeReduce:
		return "REDUCE"
	case ChangeClose:
		return "CLOSE"
	}
	return "UNKNOWN"
}

// ChangedEvent 持仓变更事件
// 用于通知强平引擎更新内存索引
type ChangedEvent struct {
	UserID     int64
	Symbol     string
	ChangeType ChangeType

	// 变更后状态
	Qty      decimal.Decimal
	AvgPrice decimal.Decimal
	Margin   decimal.Decimal
	Side     Side
	Mode     Mode
	Leverage int32

	RealizedPnL decimal.Decimal
	LiqPrice    decimal.Decimal
	Locked      decimal.Decimal

	Timestamp int64
}

// NewChangedEvent 从 Position 创建事件
func NewChangedEvent(pos *Position, changeType ChangeType, ts int64) *ChangedEvent {
	return &ChangedEvent{
		UserID:     pos.UserID,
		Symbol:     pos.Symbol,
		ChangeType: changeType,
		Qty:        pos.Qty,
		AvgPrice:   pos.AvgPrice,
		Margin:     pos.Margin,
		Side:       pos.Side,
		Mode:       pos.Mode,
		Leverage:   pos.Leverage,

		RealizedPnL: pos.RealizedPnL,
		LiqPrice:    pos.LiqPrice,
		Locked:      pos.Locked,

		Timestamp: ts,
	}
}

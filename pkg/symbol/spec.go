// 文件: pkg/symbol/spec.go
// 交易对规格定义
//
// 生命周期: PENDING → TRADING → HALTED → TRADING → ... → DELISTED
// 只有 TRADING 且已绑定风险限额配置的交易对才接受下单

package symbol

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"mex.com/pkg/mtrade"
)

// =============================================================================
// 状态
// =============================================================================

// Status 交易对状态
type Status int8

const (
	StatusPending  Status = iota // 已创建未上线
	StatusTrading                // 交易中
	StatusHalted                 // 暂停交易（挂单保留）
	StatusDelisted               // 已下线
)

// String 状态名
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusTrading:
		return "TRADING"
	case StatusHalted:
		return "HALTED"
	case StatusDelisted:
		return "DELISTED"
	default:
		return "UNKNOWN"
	}
}

// 状态转移表
var statusTransitions = map[Status][]Status{
	StatusPending:  {StatusTrading, StatusDelisted},
	StatusTrading:  {StatusHalted, StatusDelisted},
	StatusHalted:   {StatusTrading, StatusDelisted},
	StatusDelisted: {},
}

// CanTransition 判断状态转移是否合法
func (s Status) CanTransition(to Status) bool {
	for _, next := range statusTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrSymbolExists      = errors.New("symbol: already exists")
	ErrSymbolNotFound    = errors.New("symbol: not found")
	ErrInvalidSpec       = errors.New("symbol: invalid spec")
	ErrInvalidTransition = errors.New("symbol: invalid status transition")
	ErrPriceTick         = errors.New("symbol: price not aligned to tick size")
	ErrQtyOutOfRange     = errors.New("symbol: quantity out of range")
)

// =============================================================================
// Spec - 交易对规格
// =============================================================================

// Spec 交易对规格
type Spec struct {
	ID     int64  `gorm:"primaryKey" json:"id"`
	Symbol string `gorm:"uniqueIndex;size:32" json:"symbol"`
	Base   string `gorm:"size:16" json:"base"`  // 基础资产 BTC
	Quote  string `gorm:"size:16" json:"quote"` // 计价资产 USDT

	// 交易约束
	TickSize decimal.Decimal `gorm:"type:decimal(32,8)" json:"tick_size"` // 价格最小变动
	MinQty   decimal.Decimal `gorm:"type:decimal(32,8)" json:"min_qty"`   // 单笔最小数量
	MaxQty   decimal.Decimal `gorm:"type:decimal(32,8)" json:"max_qty"`   // 单笔最大数量，零值不限

	// 手续费率
	MakerFeeRate decimal.Decimal `gorm:"type:decimal(16,8)" json:"maker_fee_rate"`
	TakerFeeRate decimal.Decimal `gorm:"type:decimal(16,8)" json:"taker_fee_rate"`

	// 市价单保护
	MaxMarketDepth int             `json:"max_market_depth"` // 最多吃的价位档数
	MaxSlippage    decimal.Decimal `gorm:"type:decimal(16,8)" json:"max_slippage"`

	Status Status `gorm:"index" json:"status"`

	ListedAt  int64 `json:"listed_at"` // 首次上线时间（毫秒）
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// TableName GORM 表名
func (Spec) TableName() string {
	return "symbol_specs"
}

// Validate 规格自检
func (s *Spec) Validate() error {
	if s.Symbol == "" || s.Base == "" || s.Quote == "" {
		return fmt.Errorf("%w: symbol/base/quote required", ErrInvalidSpec)
	}
	if !s.TickSize.IsPositive() {
		return fmt.Errorf("%w: tick size must be positive", ErrInvalidSpec)
	}
	if !s.MinQty.IsPositive() {
		return fmt.Errorf("%w: min qty must be positive", ErrInvalidSpec)
	}
	if !s.MaxQty.IsZero() && s.MaxQty.LessThan(s.MinQty) {
		return fmt.Errorf("%w: max qty < min qty", ErrInvalidSpec)
	}
	if s.MakerFeeRate.IsNegative() || s.TakerFeeRate.IsNegative() {
		return fmt.Errorf("%w: fee rate must not be negative", ErrInvalidSpec)
	}
	return nil
}

// CheckPrice 校验定点数价格对齐到 tick size
func (s *Spec) CheckPrice(price int64) error {
	if price <= 0 {
		return fmt.Errorf("%w: price %d", ErrPriceTick, price)
	}
	tick := mtrade.ToFixed(s.TickSize)
	if tick > 0 && price%tick != 0 {
		return fmt.Errorf("%w: price %d, tick %d", ErrPriceTick, price, tick)
	}
	return nil
}

// CheckQty 校验定点数数量在允许区间
func (s *Spec) CheckQty(qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: qty %d", ErrQtyOutOfRange, qty)
	}
	if qty < mtrade.ToFixed(s.MinQty) {
		return fmt.Errorf("%w: qty %d below min", ErrQtyOutOfRange, qty)
	}
	if !s.MaxQty.IsZero() && qty > mtrade.ToFixed(s.MaxQty) {
		return fmt.Errorf("%w: qty %d above max", ErrQtyOutOfRange, qty)
	}
	return nil
}

// MatcherConfig 生成撮合约束配置
func (s *Spec) MatcherConfig() mtrade.MatcherConfig {
	return mtrade.MatcherConfig{
		MaxMarketDepth: s.MaxMarketDepth,
		MaxSlippage:    s.MaxSlippage,
		MakerFeeRate:   s.MakerFeeRate,
		TakerFeeRate:   s.TakerFeeRate,
	}
}

// DefaultSpec 默认规格（仿真和测试用）
func DefaultSpec(symbol, base, quote string) *Spec {
	return &Spec{
		Symbol:         symbol,
		Base:           base,
		Quote:          quote,
		TickSize:       decimal.NewFromFloat(0.01),
		MinQty:         decimal.NewFromFloat(0.0001),
		MaxQty:         decimal.NewFromInt(10000),
		MakerFeeRate:   decimal.NewFromFloat(0.0002),
		TakerFeeRate:   decimal.NewFromFloat(0.0005),
		MaxMarketDepth: 20,
		MaxSlippage:    decimal.NewFromFloat(0.05),
		Status:         StatusPending,
	}
}

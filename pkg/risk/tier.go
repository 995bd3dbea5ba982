// 文件: pkg/risk/tier.go
// 风险等级与风险限额配置
//
// 【设计】枚举只承载顺序，参数全部集中在配置表里，
// 避免业务数值散落在 switch 分支中

package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// 风险等级
// =============================================================================

// Tier 风险等级，按严重程度全序排列
type Tier int8

const (
	TierNormal      Tier = iota // 正常
	TierWarning                 // 预警：只提醒，不动仓位
	TierDanger                  // 危险：触发减仓
	TierEmergency               // 紧急：减仓 + 强平候选
	TierLiquidation             // 强平：立即强平
)

func (t Tier) String() string {
	switch t {
	case TierWarning:
		return "WARNING"
	case TierDanger:
		return "DANGER"
	case TierEmergency:
		return "EMERGENCY"
	case TierLiquidation:
		return "LIQUIDATION"
	default:
		return "NORMAL"
	}
}

// NeedReduction 该等级是否触发减仓
func (t Tier) NeedReduction() bool {
	return t == TierDanger || t == TierEmergency
}

// NeedLiquidation 该等级是否触发强平
func (t Tier) NeedLiquidation() bool {
	return t == TierEmergency || t == TierLiquidation
}

// allTiersDescending 按严重程度降序（等级判定从最严重开始匹配）
var allTiersDescending = []Tier{
	TierLiquidation, TierEmergency, TierDanger, TierWarning,
}

// =============================================================================
// 风险限额配置
// =============================================================================

// TierConfig 单个风险等级的参数
type TierConfig struct {
	// Threshold 风险率达到该值进入此等级
	Threshold decimal.Decimal `json:"threshold"`

	// ReductionRatio 减仓时平掉剩余仓位的比例
	ReductionRatio decimal.Decimal `json:"reduction_ratio"`

	// LiquidationRatio 分级强平每一步平掉剩余仓位的比例
	LiquidationRatio decimal.Decimal `json:"liquidation_ratio"`

	// MaxLeverage 该等级下允许的最大开仓杠杆，0 表示沿用模式上限
	MaxLeverage int32 `json:"max_leverage,omitempty"`
}

// ModeConfig 单个保证金模式下的完整配置
type ModeConfig struct {
	// Tiers 各等级参数（TierNormal 无参数，不在表中）
	Tiers map[Tier]TierConfig `json:"tiers"`

	// MaxLeverage 最大杠杆
	MaxLeverage int32 `json:"max_leverage"`

	// MinLeverage 最小杠杆
	MinLeverage int32 `json:"min_leverage"`
}

// SymbolRiskLimitConfig 交易对风险限额配置
// 交易对未挂载该配置前不可交易
type SymbolRiskLimitConfig struct {
	Symbol   string     `json:"symbol"`
	Isolated ModeConfig `json:"isolated"`
	Cross    ModeConfig `json:"cross"`
}

// ErrLeverageOutOfRange 杠杆超出允许区间
var ErrLeverageOutOfRange = errors.New("risk: leverage out of range")

// ValidateLeverage 校验杠杆倍数（模式全局区间）
func (c *ModeConfig) ValidateLeverage(leverage int32) error {
	if leverage < c.MinLeverage || leverage > c.MaxLeverage {
		return fmt.Errorf("%w: %d not in [%d, %d]",
			ErrLeverageOutOfRange, leverage, c.MinLeverage, c.MaxLeverage)
	}
	return nil
}

// MaxLeverageAt 指定风险等级下的最大杠杆
// 等级未配置上限时沿用模式上限
func (c *ModeConfig) MaxLeverageAt(tier Tier) int32 {
	if cfg, ok := c.Tiers[tier]; ok && cfg.MaxLeverage > 0 {
		return cfg.MaxLeverage
	}
	return c.MaxLeverage
}

// ValidateLeverageAt 按持仓当前风险等级校验杠杆
// 等级越严上限越低，阻止高风险持仓继续放大敞口
func (c *ModeConfig) ValidateLeverageAt(tier Tier, leverage int32) error {
	limit := c.MaxLeverageAt(tier)
	if leverage < c.MinLeverage || leverage > limit {
		return fmt.Errorf("%w: %d not in [%d, %d] at tier %s",
			ErrLeverageOutOfRange, leverage, c.MinLeverage, limit, tier)
	}
	return nil
}

// TierOf 风险率 → 等级
// 从最严重的等级开始匹配，第一个达到阈值的等级生效
func (c *ModeConfig) TierOf(ratio decimal.Decimal) Tier {
	for _, tier := range allTiersDescending {
		cfg, ok := c.Tiers[tier]
		if ok && ratio.GreaterThanOrEqual(cfg.Threshold) {
			return tier
		}
	}
	return TierNormal
}

// DefaultConfig 默认风险限额配置
//
// 阈值：0.7 预警 / 0.8 危险 / 0.9 紧急 / 1.0 强平
func DefaultConfig(symbol string) *SymbolRiskLimitConfig {
	return &SymbolRiskLimitConfig{
		Symbol: symbol,
		Isolated: ModeConfig{
			Tiers:       defaultTiers(),
			MaxLeverage: 100,
			MinLeverage: 1,
		},
		Cross: ModeConfig{
			Tiers:       defaultTiers(),
			MaxLeverage: 50,
			MinLeverage: 1,
		},
	}
}

// defaultTiers 每次返回新表，逐仓/全仓各持一份，互不影响
func defaultTiers() map[Tier]TierConfig {
	return map[Tier]TierConfig{
		TierWarning: {
			Threshold:   decimal.NewFromFloat(0.7),
			MaxLeverage: 50,
		},
		TierDanger: {
			Threshold:        decimal.NewFromFloat(0.8),
			ReductionRatio:   decimal.NewFromFloat(0.2),
			LiquidationRatio: decimal.NewFromFloat(0.25),
			MaxLeverage:      20,
		},
		TierEmergency: {
			Threshold:        decimal.NewFromFloat(0.9),
			ReductionRatio:   decimal.NewFromFloat(0.3),
			LiquidationRatio: decimal.NewFromFloat(0.5),
			MaxLeverage:      10,
		},
		TierLiquidation: {
			Threshold:        decimal.NewFromFloat(1.0),
			ReductionRatio:   decimal.NewFromFloat(1.0),
			LiquidationRatio: decimal.NewFromFloat(0.5),
			MaxLeverage:      1,
		},
	}
}

// 文件: pkg/risk/recalc.go
// 风险重算服务
//
// 纯函数：输入 (持仓, 预言机数据) → 输出 (风险率, 等级, 处置标记)
// 不持有状态，不产生副作用，方便单测和重放

package risk

import (
	"errors"

	"github.com/shopspring/decimal"
	"mex.com/pkg/position"
)

// =============================================================================
// 输入/输出
// =============================================================================

// OracleInputs 外部风险预言机提供的输入
// 指数价、余额等由外部服务计算，引擎只消费结果
type OracleInputs struct {
	IndexPrice decimal.Decimal // 指数价（标记价）

	// 全仓模式：跨交易对汇总值由预言机提供
	TotalMargin decimal.Decimal // 全仓总保证金
	TotalUPnL   decimal.Decimal // 全仓总未实现盈亏
}

// Assessment 风险评估结果
type Assessment struct {
	Ratio           decimal.Decimal // 风险率
	Tier            Tier            // 风险等级
	NeedReduction   bool            // 是否触发减仓
	NeedLiquidation bool            // 是否触发强平
}

// ErrNoMargin 保证金为零，无法计算风险率
var ErrNoMargin = errors.New("risk: margin is zero")

// =============================================================================
// Recalculator - 风险重算器
// =============================================================================

// Recalculator 风险重算器
type Recalculator struct{}

func NewRecalculator() *Recalculator { return &Recalculator{} }

// Evaluate 评估持仓风险
// 逐仓用本仓保证金，全仓用预言机汇总值，等级判定共用同一张表
func (r *Recalculator) Evaluate(pos *position.Position, in OracleInputs, cfg *SymbolRiskLimitConfig) (Assessment, error) {
	if pos.Mode == position.ModeCross {
		ratio, err := RiskRatio(in.TotalMargin, in.TotalUPnL)
		if err != nil {
			return Assessment{}, err
		}
		return r.assess(ratio, &cfg.Cross), nil
	}

	ratio, err := RiskRatio(pos.Margin, pos.UnrealizedPnL(in.IndexPrice))
	if err != nil {
		return Assessment{}, err
	}
	return r.assess(ratio, &cfg.Isolated), nil
}

// EvaluateRatio 用外部已算好的风险率直接判级
func (r *Recalculator) EvaluateRatio(ratio decimal.Decimal, mode position.Mode, cfg *SymbolRiskLimitConfig) Assessment {
	if mode == position.ModeCross {
		return r.assess(ratio, &cfg.Cross)
	}
	return r.assess(ratio, &cfg.Isolated)
}

func (r *Recalculator) assess(ratio decimal.Decimal, cfg *ModeConfig) Assessment {
	tier := cfg.TierOf(ratio)
	return Assessment{
		Ratio:           ratio,
		Tier:            tier,
		NeedReduction:   tier.NeedReduction(),
		NeedLiquidation: tier.NeedLiquidation(),
	}
}

// =============================================================================
// 风险率公式
// =============================================================================

// RiskRatio 风险率 = 1 - (保证金 + 未实现盈亏) / 保证金
//
// 即亏损吃掉保证金的比例：
//   - 无亏损 → 0
//   - 亏掉一半保证金 → 0.5
//   - 亏光保证金 → 1.0（强平线）
//
// 盈利时结果为负，判级时等同于 NORMAL
func RiskRatio(margin, upnl decimal.Decimal) (decimal.Decimal, error) {
	if !margin.IsPositive() {
		return decimal.Zero, ErrNoMargin
	}
	equity := margin.Add(upnl)
	return decimal.NewFromInt(1).Sub(equity.Div(margin)).Round(position.RoundScale), nil
}

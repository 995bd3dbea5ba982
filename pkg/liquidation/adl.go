// 文件: pkg/liquidation/adl.go
// 自动减仓 (Auto-Deleveraging)
//
// 强平单在订单簿里找不到对手盘时的最后手段：
// 按策略挑选同交易对的反向持仓者，直接按指数价撮出强制成交。
// 机制与普通撮合一致，成交标记为 ADL

package liquidation

import (
	"sort"

	"github.com/shopspring/decimal"
	"mex.com/pkg/mtrade"
	"mex.com/pkg/position"
	"mex.com/pkg/risk"
)

// =============================================================================
// 减仓策略
// =============================================================================

// Strategy 减仓对象的挑选策略
type Strategy int8

const (
	StrategyNone              Strategy = iota // 不做 ADL
	StrategyCounterpartyFirst                 // 反向敞口最大的优先
	StrategyProfitFirst                       // 浮盈最多的优先
	StrategyLossFirst                         // 浮亏最少的优先
	StrategyTimeFirst                         // 开仓最早的优先
	StrategySizeFirst                         // 仓位最大的优先
	StrategyHybrid                            // 加权综合评分
)

func (s Strategy) String() string {
	switch s {
	case StrategyCounterpartyFirst:
		return "COUNTERPARTY_FIRST"
	case StrategyProfitFirst:
		return "PROFIT_FIRST"
	case StrategyLossFirst:
		return "LOSS_FIRST"
	case StrategyTimeFirst:
		return "TIME_FIRST"
	case StrategySizeFirst:
		return "SIZE_FIRST"
	case StrategyHybrid:
		return "HYBRID"
	default:
		return "NONE"
	}
}

// StrategyParams 策略执行参数
type StrategyParams struct {
	// ADLRatio 每个目标最多被减掉的比例
	ADLRatio decimal.Decimal

	// MaxADLCount 单次 ADL 最多波及的目标数
	MaxADLCount int
}

// strategyParams 策略参数表
var strategyParams = map[Strategy]StrategyParams{
	StrategyCounterpartyFirst: {decimal.NewFromFloat(0.5), 10},
	StrategyProfitFirst:       {decimal.NewFromFloat(0.3), 20},
	StrategyLossFirst:         {decimal.NewFromFloat(0.3), 20},
	StrategyTimeFirst:         {decimal.NewFromFloat(0.3), 20},
	StrategySizeFirst:         {decimal.NewFromFloat(0.5), 10},
	StrategyHybrid:            {decimal.NewFromFloat(0.4), 15},
}

// Params 策略参数
func (s Strategy) Params() StrategyParams {
	return strategyParams[s]
}

// Hybrid 评分权重：0.4×仓位 + 0.3×浮盈 + 0.3×持仓时长
var (
	hybridSizeWeight = decimal.NewFromFloat(0.4)
	hybridPnLWeight  = decimal.NewFromFloat(0.3)
	hybridTimeWeight = decimal.NewFromFloat(0.3)
)

// =============================================================================
// 策略选择表
// =============================================================================

// strategySelector (强平原因, 风险等级) → 策略
// 紧急原因波及面大的策略，常规原因优先动浮盈
var strategySelector = map[Cause]map[risk.Tier]Strategy{
	CauseMarginInsufficient: {
		risk.TierEmergency:   StrategyProfitFirst,
		risk.TierLiquidation: StrategyHybrid,
	},
	CauseRiskExceeded: {
		risk.TierEmergency:   StrategyProfitFirst,
		risk.TierLiquidation: StrategyHybrid,
	},
	CausePriceDeviation: {
		risk.TierLiquidation: StrategyCounterpartyFirst,
	},
	CauseSystemRisk: {
		risk.TierEmergency:   StrategySizeFirst,
		risk.TierLiquidation: StrategySizeFirst,
	},
	CauseRegulatory: {
		risk.TierEmergency:   StrategyCounterpartyFirst,
		risk.TierLiquidation: StrategyCounterpartyFirst,
	},
	CauseManual: {
		risk.TierLiquidation: StrategyTimeFirst,
	},
	CauseExpiry: {
		risk.TierLiquidation: StrategyTimeFirst,
	},
}

// SelectStrategy 根据强平原因和当前等级查表选择策略
func SelectStrategy(cause Cause, tier risk.Tier) Strategy {
	if byTier, ok := strategySelector[cause]; ok {
		if s, ok := byTier[tier]; ok {
			return s
		}
	}
	// 强平等级默认用综合评分，其余不做 ADL
	if tier == risk.TierLiquidation {
		return StrategyHybrid
	}
	return StrategyNone
}

// =============================================================================
// ADL 执行
// =============================================================================

// AutoDeleverage 自动减仓
//
// targetQty: 需要通过 ADL 平掉的数量（通常是强平的流动性缺口）
// 按策略逐个削减反向持仓，每个目标减掉 adlRatio × 目标仓位，
// 受剩余缺口和 maxADLCount 双重封顶
func (s *Service) AutoDeleverage(req *Request, tier risk.Tier, targetQty decimal.Decimal) (*Result, error) {
	pos := s.positions.Get(req.UserID, req.Symbol)
	if pos == nil || pos.IsEmpty() {
		return nil, ErrNoPosition
	}
	book := s.market.Book(req.Symbol)
	if book == nil {
		return nil, ErrSymbolUnknown
	}

	strategy := SelectStrategy(req.Cause, tier)
	result := &Result{Request: req, FinalTier: int8(tier)}

	if strategy == StrategyNone {
		req.Status = StatusCompleted
		return result, nil
	}

	if targetQty.GreaterThan(pos.Qty) {
		targetQty = pos.Qty
	}

	targets := s.adlTargets(req.UserID, req.Symbol, pos.Side, strategy, req.IndexPrice)
	params := strategy.Params()

	remaining := targetQty
	for _, target := range targets {
		if !remaining.IsPositive() || len(result.Steps) >= params.MaxADLCount {
			break
		}

		reduce := target.Qty.Mul(params.ADLRatio).Round(position.RoundScale)
		if reduce.GreaterThan(remaining) {
			reduce = remaining
		}
		if reduce.GreaterThan(target.Qty) {
			reduce = target.Qty
		}
		if !reduce.IsPositive() {
			continue
		}

		step, realized, err := s.adlStep(book, pos, target, reduce, req)
		if err != nil {
			continue
		}

		step.Tier = int8(tier)
		result.Steps = append(result.Steps, step)
		result.TotalClosed = result.TotalClosed.Add(step.ClosedQty)
		result.TotalAmount = result.TotalAmount.Add(step.Amount)
		result.RealizedPnL = result.RealizedPnL.Add(realized)
		remaining = remaining.Sub(reduce)
	}

	result.FailedQty = remaining
	req.Status = StatusCompleted
	return result, nil
}

// adlStep 把一对持仓按指数价强制撮出一笔成交，双边回写仓位
func (s *Service) adlStep(book *mtrade.OrderBook, pos, target *position.Position, qty decimal.Decimal, req *Request) (Step, decimal.Decimal, error) {
	price := req.IndexPrice
	amount := price.Mul(qty).Round(position.RoundScale)

	takerSide := mtrade.SideSell
	if pos.Side == position.SideShort {
		takerSide = mtrade.SideBuy
	}

	trade := mtrade.Trade{
		ID:          book.NextTradeID(),
		Symbol:      req.Symbol,
		Price:       mtrade.ToFixed(price),
		Qty:         mtrade.ToFixed(qty),
		TakerUserID: pos.UserID,
		MakerUserID: target.UserID,
		TakerSide:   takerSide,
		TakerAction: mtrade.ActionClose,
		MakerAction: mtrade.ActionClose,
		Flag:        mtrade.TradeFlagADL,
		Amount:      amount,
		Timestamp:   req.Timestamp,
	}
	book.RecordTrade(trade.Price, trade.Qty)

	realized, err := pos.ForceClose(qty, price)
	if err != nil {
		return Step{}, decimal.Zero, err
	}
	targetRealized, err := target.ForceClose(qty, price)
	if err != nil {
		return Step{}, decimal.Zero, err
	}

	// 双边已实现盈亏冲抵各自保证金
	if !pos.IsEmpty() {
		pos.Margin = pos.Margin.Add(realized)
	}
	if !target.IsEmpty() {
		target.Margin = target.Margin.Add(targetRealized)
	}

	return Step{
		Symbol:     req.Symbol,
		ClosedQty:  qty,
		AvgPrice:   price,
		Amount:     amount,
		TradeCount: 1,
		Trades:     []mtrade.Trade{trade},
	}, realized, nil
}

// =============================================================================
// 目标排序
// =============================================================================

// adlTargets 挑出同交易对的反向持仓并按策略排序
func (s *Service) adlTargets(excludeUser int64, symbol string, side position.Side, strategy Strategy, markPrice decimal.Decimal) []*position.Position {
	var targets []*position.Position
	for _, p := range s.positions.BySymbol(symbol) {
		if p.UserID == excludeUser || p.Side == side || p.IsEmpty() {
			continue
		}
		targets = append(targets, p)
	}
	rankTargets(targets, strategy, markPrice)
	return targets
}

// rankTargets 按策略排序，平局按 UserID 保证确定顺序
func rankTargets(targets []*position.Position, strategy Strategy, markPrice decimal.Decimal) {
	less := func(a, b *position.Position) bool {
		switch strategy {
		case StrategyCounterpartyFirst:
			// 反向敞口（仓位价值）降序
			return a.Value(markPrice).GreaterThan(b.Value(markPrice))
		case StrategyProfitFirst:
			return a.UnrealizedPnL(markPrice).GreaterThan(b.UnrealizedPnL(markPrice))
		case StrategyLossFirst:
			return a.UnrealizedPnL(markPrice).LessThan(b.UnrealizedPnL(markPrice))
		case StrategyTimeFirst:
			return a.CreatedAt < b.CreatedAt
		case StrategySizeFirst:
			return a.Qty.GreaterThan(b.Qty)
		case StrategyHybrid:
			return hybridScore(a, targets, markPrice).GreaterThan(hybridScore(b, targets, markPrice))
		}
		return false
	}

	sort.SliceStable(targets, func(i, j int) bool {
		a, b := targets[i], targets[j]
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		return a.UserID < b.UserID
	})
}

// hybridScore 综合评分 = 0.4×仓位得分 + 0.3×浮盈得分 + 0.3×时长得分
// 各项按候选集内最大值归一化到 [0,1]
func hybridScore(p *position.Position, all []*position.Position, markPrice decimal.Decimal) decimal.Decimal {
	maxQty := decimal.Zero
	maxPnL := decimal.Zero
	minCreated, maxCreated := int64(0), int64(0)

	for i, t := range all {
		if t.Qty.GreaterThan(maxQty) {
			maxQty = t.Qty
		}
		if upnl := t.UnrealizedPnL(markPrice); upnl.GreaterThan(maxPnL) {
			maxPnL = upnl
		}
		if i == 0 || t.CreatedAt < minCreated {
			minCreated = t.CreatedAt
		}
		if t.CreatedAt > maxCreated {
			maxCreated = t.CreatedAt
		}
	}

	score := decimal.Zero

	if maxQty.IsPositive() {
		score = score.Add(hybridSizeWeight.Mul(p.Qty.Div(maxQty)))
	}
	if maxPnL.IsPositive() {
		upnl := p.UnrealizedPnL(markPrice)
		if upnl.IsPositive() {
			score = score.Add(hybridPnLWeight.Mul(upnl.Div(maxPnL)))
		}
	}
	if span := maxCreated - minCreated; span > 0 {
		// 开仓越早得分越高
		age := decimal.NewFromInt(maxCreated - p.CreatedAt).Div(decimal.NewFromInt(span))
		score = score.Add(hybridTimeWeight.Mul(age))
	}
	return score
}

// 文件: pkg/liquidation/service.go
// 风险处置服务：减仓、分级强平、全仓强平
//
// 【设计】所有处置都在引擎写线程内同步执行——
// 强平本质上是一串普通的市价平仓撮合，中间状态对其他命令不可见

package liquidation

import (
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"mex.com/pkg/mtrade"
	"mex.com/pkg/position"
	"mex.com/pkg/risk"
)

// =============================================================================
// 依赖接口
// =============================================================================

// MarketAccess 撮合入口
// 由引擎实现，强平服务通过它把强制平仓单打进订单簿
type MarketAccess interface {
	// Matcher 获取交易对的撮合器，不存在返回 nil
	Matcher(symbol string) *mtrade.Matcher

	// Book 获取交易对的订单簿，不存在返回 nil
	Book(symbol string) *mtrade.OrderBook
}

// ConfigSource 风险限额配置来源
type ConfigSource interface {
	RiskConfig(symbol string) *risk.SymbolRiskLimitConfig
}

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrSymbolUnknown = errors.New("liquidation: unknown symbol")
	ErrNoConfig      = errors.New("liquidation: risk config not attached")
	ErrNoPosition    = errors.New("liquidation: position not found")
	ErrNoLiquidity   = errors.New("liquidation: no resting liquidity")
)

// =============================================================================
// Service - 风险处置服务
// =============================================================================

// Service 风险处置服务
type Service struct {
	market    MarketAccess
	positions *position.Store
	configs   ConfigSource
	recalc    *risk.Recalculator

	// 强制单订单 ID 由引擎分配（随命令载荷重放）
	nextOrderID func() int64

	// 全仓强平策略参数（可配置的启发式，不是契约）
	crossCloseRatio decimal.Decimal // 每个仓位平掉的比例，默认 0.5
	crossSafeRatio  decimal.Decimal // 风险率降到该值以下即停止，默认 0.8
}

// NewService 创建风险处置服务
func NewService(market MarketAccess, positions *position.Store, configs ConfigSource, nextOrderID func() int64) *Service {
	return &Service{
		market:          market,
		positions:       positions,
		configs:         configs,
		recalc:          risk.NewRecalculator(),
		nextOrderID:     nextOrderID,
		crossCloseRatio: decimal.NewFromFloat(0.5),
		crossSafeRatio:  decimal.NewFromFloat(0.8),
	}
}

// SetCrossPolicy 调整全仓强平策略参数
func (s *Service) SetCrossPolicy(closeRatio, safeRatio decimal.Decimal) {
	s.crossCloseRatio = closeRatio
	s.crossSafeRatio = safeRatio
}

// =============================================================================
// 分级强平（逐仓）
// =============================================================================

// TieredLiquidation 分级强平状态机
//
// 每一步平掉「当前等级配置的 liquidationRatio × 剩余仓位」，然后重算风险。
// 停止条件（任一满足）：
//  1. 仓位清零
//  2. 等级降到起始等级之下（安全目标）
//  3. needLiquidation 变为 false
//
// 流动性不足时记录未平数量，状态仍为 COMPLETED，错误信息说明缺口
func (s *Service) TieredLiquidation(req *Request) (*Result, error) {
	pos := s.positions.Get(req.UserID, req.Symbol)
	if pos == nil || pos.IsEmpty() {
		return nil, ErrNoPosition
	}

	cfg := s.configs.RiskConfig(req.Symbol)
	if cfg == nil {
		return nil, ErrNoConfig
	}
	modeCfg := &cfg.Isolated

	assess := s.assess(pos, req.IndexPrice, cfg)

	result := &Result{Request: req, FinalTier: int8(assess.Tier)}

	if !assess.NeedLiquidation && !req.Emergency {
		// 风险已回落，无需处置
		req.Status = StatusCompleted
		return result, nil
	}

	startTier := assess.Tier
	safeTarget := startTier - 1

	for {
		tierCfg, ok := modeCfg.Tiers[assess.Tier]
		if !ok || !tierCfg.LiquidationRatio.IsPositive() {
			// 等级无强平参数（已降回安全区）
			break
		}

		closeQty := pos.Qty.Mul(tierCfg.LiquidationRatio).Round(position.RoundScale)
		if !closeQty.IsPositive() || closeQty.GreaterThan(pos.Qty) {
			closeQty = pos.Qty
		}

		step, realized, err := s.marketClose(pos, closeQty, req.Timestamp, mtrade.TradeFlagLiquidation)
		if err != nil {
			// 无对手盘：记录缺口，完成而非中止
			result.FailedQty = pos.Qty
			req.Status = StatusCompleted
			req.Error = fmt.Sprintf("no liquidity: %s %s unclosed", pos.Qty, req.Symbol)
			log.Printf("[liquidation] partial: user=%d symbol=%s unclosed=%s", req.UserID, req.Symbol, pos.Qty)
			return result, nil
		}

		step.Tier = int8(assess.Tier)
		result.Steps = append(result.Steps, step)
		result.TotalClosed = result.TotalClosed.Add(step.ClosedQty)
		result.TotalAmount = result.TotalAmount.Add(step.Amount)
		result.RealizedPnL = result.RealizedPnL.Add(realized)

		if pos.IsEmpty() {
			result.FinalTier = int8(risk.TierNormal)
			break
		}

		assess = s.assess(pos, req.IndexPrice, cfg)
		result.FinalTier = int8(assess.Tier)

		if assess.Tier <= safeTarget || !assess.NeedLiquidation {
			break
		}
	}

	req.Status = StatusCompleted
	return result, nil
}

// =============================================================================
// 风险减仓
// =============================================================================

// RiskReduction 减仓：平掉当前等级配置的 reductionRatio × 剩余仓位，单步执行
func (s *Service) RiskReduction(req *Request) (*Result, error) {
	pos := s.positions.Get(req.UserID, req.Symbol)
	if pos == nil || pos.IsEmpty() {
		return nil, ErrNoPosition
	}

	cfg := s.configs.RiskConfig(req.Symbol)
	if cfg == nil {
		return nil, ErrNoConfig
	}

	assess := s.assess(pos, req.IndexPrice, cfg)

	result := &Result{Request: req, FinalTier: int8(assess.Tier)}

	if !assess.NeedReduction {
		req.Status = StatusCompleted
		return result, nil
	}

	tierCfg := cfg.Isolated.Tiers[assess.Tier]
	closeQty := pos.Qty.Mul(tierCfg.ReductionRatio).Round(position.RoundScale)
	if !closeQty.IsPositive() {
		req.Status = StatusCompleted
		return result, nil
	}

	step, realized, err := s.marketClose(pos, closeQty, req.Timestamp, mtrade.TradeFlagLiquidation)
	if err != nil {
		result.FailedQty = closeQty
		req.Status = StatusCompleted
		req.Error = fmt.Sprintf("no liquidity: reduction of %s %s skipped", closeQty, req.Symbol)
		return result, nil
	}

	step.Tier = int8(assess.Tier)
	result.Steps = append(result.Steps, step)
	result.TotalClosed = step.ClosedQty
	result.TotalAmount = step.Amount
	result.RealizedPnL = realized

	result.FinalTier = int8(s.assess(pos, req.IndexPrice, cfg).Tier)

	req.Status = StatusCompleted
	return result, nil
}

// assess 评估持仓风险，保证金已耗尽时按最高等级处理
func (s *Service) assess(pos *position.Position, indexPrice decimal.Decimal, cfg *risk.SymbolRiskLimitConfig) risk.Assessment {
	a, err := s.recalc.Evaluate(pos, risk.OracleInputs{IndexPrice: indexPrice}, cfg)
	if err != nil {
		// 保证金 ≤ 0：已穿仓，按强平区处理
		return risk.Assessment{
			Tier:            risk.TierLiquidation,
			NeedLiquidation: true,
		}
	}
	return a
}

// =============================================================================
// 全仓强平
// =============================================================================

// CrossLiquidation 全仓强平
//
// 按未实现亏损从重到轻排序用户的全部全仓持仓，
// 逐个平掉 crossCloseRatio 比例，直到全仓风险率降到 crossSafeRatio 以下。
// 每平一个仓位记一步
func (s *Service) CrossLiquidation(req *Request) (*Result, error) {
	positions := s.positions.CrossByUser(req.UserID)
	if len(positions) == 0 {
		return nil, ErrNoPosition
	}

	result := &Result{Request: req}

	// 按未实现亏损升序（最亏的在前），同亏损按 Symbol 保证确定顺序
	ranked := make([]*position.Position, len(positions))
	copy(ranked, positions)
	sortByUPnLAsc(ranked, req.IndexPrices)

	for _, pos := range ranked {
		if pos.IsEmpty() {
			continue
		}

		ratio, err := s.crossRatio(req)
		if err != nil {
			return nil, err
		}
		if ratio.LessThanOrEqual(s.crossSafeRatio) {
			break
		}

		closeQty := pos.Qty.Mul(s.crossCloseRatio).Round(position.RoundScale)
		if !closeQty.IsPositive() {
			continue
		}

		step, realized, err := s.marketClose(pos, closeQty, req.Timestamp, mtrade.TradeFlagLiquidation)
		if err != nil {
			result.FailedQty = result.FailedQty.Add(closeQty)
			continue
		}

		result.Steps = append(result.Steps, step)
		result.TotalClosed = result.TotalClosed.Add(step.ClosedQty)
		result.TotalAmount = result.TotalAmount.Add(step.Amount)
		result.RealizedPnL = result.RealizedPnL.Add(realized)
	}

	req.Status = StatusCompleted
	if result.FailedQty.IsPositive() {
		req.Error = fmt.Sprintf("no liquidity: %s unclosed across positions", result.FailedQty)
	}
	return result, nil
}

// crossRatio 重算用户当前的全仓风险率
func (s *Service) crossRatio(req *Request) (decimal.Decimal, error) {
	positions := s.positions.CrossByUser(req.UserID)

	totalMargin := decimal.Zero
	totalUPnL := decimal.Zero
	for _, pos := range positions {
		if pos.IsEmpty() {
			continue
		}
		totalMargin = totalMargin.Add(pos.Margin)
		if price, ok := req.IndexPrices[pos.Symbol]; ok {
			totalUPnL = totalUPnL.Add(pos.UnrealizedPnL(price))
		}
	}
	if !totalMargin.IsPositive() {
		// 仓位全部清零，风险归零
		return decimal.Zero, nil
	}
	return risk.RiskRatio(totalMargin, totalUPnL)
}

// sortByUPnLAsc 按未实现盈亏升序排序（亏得最多的在前）
func sortByUPnLAsc(positions []*position.Position, prices map[string]decimal.Decimal) {
	upnl := func(p *position.Position) decimal.Decimal {
		if price, ok := prices[p.Symbol]; ok {
			return p.UnrealizedPnL(price)
		}
		return decimal.Zero
	}
	for i := 1; i < len(positions); i++ {
		for j := i; j > 0; j-- {
			a, b := positions[j-1], positions[j]
			ua, ub := upnl(a), upnl(b)
			if ub.LessThan(ua) || (ub.Equal(ua) && b.Symbol < a.Symbol) {
				positions[j-1], positions[j] = b, a
			} else {
				break
			}
		}
	}
}

// =============================================================================
// 强制市价平仓
// =============================================================================

// marketClose 把一笔强制平仓单打进订单簿，回写持仓
// 流动性不足（一笔未成交）返回 ErrNoLiquidity
func (s *Service) marketClose(pos *position.Position, qty decimal.Decimal, ts int64, flag mtrade.TradeFlag) (Step, decimal.Decimal, error) {
	matcher := s.market.Matcher(pos.Symbol)
	if matcher == nil {
		return Step{}, decimal.Zero, ErrSymbolUnknown
	}

	// 平多 → 卖出；平空 → 买入
	side := mtrade.SideSell
	if pos.Side == position.SideShort {
		side = mtrade.SideBuy
	}

	order := &mtrade.Order{
		ID:        s.nextOrderID(),
		UserID:    pos.UserID,
		Symbol:    pos.Symbol,
		Side:      side,
		Type:      mtrade.OrderTypeMarket,
		Action:    mtrade.ActionClose,
		Qty:       mtrade.ToFixed(qty),
		Leverage:  pos.Leverage,
		CreatedAt: ts,
	}

	matchResult := matcher.Process(order, flag)
	defer mtrade.PutMatchResult(matchResult)

	if matchResult.FilledQty == 0 {
		return Step{}, decimal.Zero, ErrNoLiquidity
	}

	filled := mtrade.FromFixed(matchResult.FilledQty)
	amount := decimal.Zero
	for _, trade := range matchResult.Trades {
		amount = amount.Add(trade.Amount)
	}
	avgPrice := amount.Div(filled).Round(position.RoundScale)

	// 已实现盈亏直接冲抵保证金，剩余保证金全部留作缓冲；
	// 成交价优于指数价时风险率随之回落，完全平仓时由 Close 清零
	realized, err := pos.ForceClose(filled, avgPrice)
	if err != nil {
		return Step{}, decimal.Zero, err
	}
	if !pos.IsEmpty() {
		pos.Margin = pos.Margin.Add(realized)
	}

	return Step{
		Symbol:     pos.Symbol,
		ClosedQty:  filled,
		AvgPrice:   avgPrice,
		Amount:     amount,
		TradeCount: len(matchResult.Trades),
		Trades:     append([]mtrade.Trade(nil), matchResult.Trades...),
	}, realized, nil
}

// 文件: pkg/oracle/oracle.go
// 风险预言机
//
// 监控器在引擎之外跑，不能直接读写线程私有的持仓存储。
// 预言机从持仓变更事件维护自己的只读视图，结合指数价
// 计算监控器需要的风险输入：
//   逐仓：本仓保证金 + 本仓未实现盈亏
//   全仓：该用户全部全仓持仓的汇总

package oracle

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"mex.com/pkg/liquidation"
	"mex.com/pkg/position"
	"mex.com/pkg/risk"
)

// ErrNotTracked 预言机没有该持仓的视图
var ErrNotTracked = errors.New("oracle: position not tracked")

// posView 持仓只读视图（来自变更事件）
type posView struct {
	Symbol   string
	Side     position.Side
	Mode     position.Mode
	Qty      decimal.Decimal
	AvgPrice decimal.Decimal
	Margin   decimal.Decimal
}

// Oracle 风险预言机
type Oracle struct {
	index *IndexSource

	mu      sync.RWMutex
	entries map[position.Key]*posView
}

var _ liquidation.RiskOracle = (*Oracle)(nil)

// New 创建风险预言机
func New(index *IndexSource) *Oracle {
	return &Oracle{
		index:   index,
		entries: make(map[position.Key]*posView),
	}
}

// OnPositionChanged 持仓变更回调（与监控器挂同一个事件源）
func (o *Oracle) OnPositionChanged(ev *position.ChangedEvent) {
	key := position.Key{UserID: ev.UserID, Symbol: ev.Symbol}

	o.mu.Lock()
	defer o.mu.Unlock()
	if ev.Qty.IsZero() {
		delete(o.entries, key)
		return
	}
	o.entries[key] = &posView{
		Symbol:   ev.Symbol,
		Side:     ev.Side,
		Mode:     ev.Mode,
		Qty:      ev.Qty,
		AvgPrice: ev.AvgPrice,
		Margin:   ev.Margin,
	}
}

// Inputs 获取用户在某交易对上的风险输入
func (o *Oracle) Inputs(_ context.Context, userID int64, symbol string) (risk.OracleInputs, error) {
	index, err := o.index.IndexPrice(symbol)
	if err != nil {
		return risk.OracleInputs{}, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	entry, ok := o.entries[position.Key{UserID: userID, Symbol: symbol}]
	if !ok {
		return risk.OracleInputs{}, ErrNotTracked
	}

	if entry.Mode == position.ModeIsolated {
		return risk.OracleInputs{
			IndexPrice:  index,
			TotalMargin: entry.Margin,
			TotalUPnL:   upnl(entry, index),
		}, nil
	}

	// 全仓：汇总该用户所有全仓持仓，各交易对用各自的指数价
	margin := decimal.Zero
	pnl := decimal.Zero
	for key, v := range o.entries {
		if key.UserID != userID || v.Mode != position.ModeCross {
			continue
		}
		idx, err := o.index.IndexPrice(v.Symbol)
		if err != nil {
			// 任何一个交易对缺指数价就无法评估整个全仓账户
			return risk.OracleInputs{}, err
		}
		margin = margin.Add(v.Margin)
		pnl = pnl.Add(upnl(v, idx))
	}
	return risk.OracleInputs{
		IndexPrice:  index,
		TotalMargin: margin,
		TotalUPnL:   pnl,
	}, nil
}

// upnl 视图的未实现盈亏
func upnl(v *posView, index decimal.Decimal) decimal.Decimal {
	diff := index.Sub(v.AvgPrice)
	if v.Side == position.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(v.Qty).Round(position.RoundScale)
}

package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mex.com/pkg/eventlog"
	"mex.com/pkg/liquidation"
	"mex.com/pkg/mtrade"
	"mex.com/pkg/notify"
	"mex.com/pkg/position"
	"mex.com/pkg/replay"
	"mex.com/pkg/risk"
	"mex.com/pkg/snapshot"
	"mex.com/pkg/symbol"
)

const (
	testSymbol = "BTCUSDT"
	testNow    = int64(1700000000000)
)

// newTestEngine 创建未启动的引擎，命令直接走 apply，不经过命令循环
func newTestEngine(t *testing.T) (*Engine, *eventlog.MemoryLog) {
	t.Helper()
	memlog := eventlog.NewMemoryLog()
	e := New(DefaultConfig(), memlog, notify.NewNopNotifier(), snapshot.NewMemoryStore())
	e.now = func() int64 { return testNow }

	spec := symbol.DefaultSpec(testSymbol, "BTC", "USDT")
	require.NoError(t, e.RegisterSymbol(spec, risk.DefaultConfig(testSymbol)))
	require.NoError(t, e.OpenSymbol(testSymbol))
	return e, memlog
}

func limitOrder(id, user int64, side mtrade.Side, action mtrade.PositionAction, price, qty string) *mtrade.Order {
	return &mtrade.Order{
		ID:       id,
		UserID:   user,
		Symbol:   testSymbol,
		Side:     side,
		Type:     mtrade.OrderTypeLimit,
		Action:   action,
		Price:    mtrade.ToFixed(decimal.RequireFromString(price)),
		Qty:      mtrade.ToFixed(decimal.RequireFromString(qty)),
		Leverage: 10,
	}
}

func place(e *Engine, order *mtrade.Order) *Result {
	return e.apply(NewOrderCommand(order, position.ModeIsolated), true)
}

// =============================================================================
// 下单与持仓结算
// =============================================================================

func TestOrderFlowOpensPositions(t *testing.T) {
	e, memlog := newTestEngine(t)

	res := place(e, limitOrder(2, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "1"))
	require.Equal(t, ReasonOK, res.Reason)
	require.Empty(t, res.Trades)

	res = place(e, limitOrder(1, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1"))
	require.Equal(t, ReasonOK, res.Reason)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, mtrade.ToFixed(decimal.NewFromInt(50000)), res.Trades[0].Price)
	assert.Equal(t, mtrade.OrderStatusFilled, res.Order.Status)

	long := e.positions.Get(100, testSymbol)
	require.NotNil(t, long)
	assert.Equal(t, position.SideLong, long.Side)
	assert.Equal(t, "1", long.Qty.String())
	assert.Equal(t, "50000", long.AvgPrice.String())
	assert.Equal(t, "5000", long.Margin.String()) // 50000×1/10

	short := e.positions.Get(200, testSymbol)
	require.NotNil(t, short)
	assert.Equal(t, position.SideShort, short.Side)
	assert.Equal(t, "1", short.Qty.String())
	assert.Equal(t, "5000", short.Margin.String())

	// 两条状态变更 + 一条撮合结果
	assert.Equal(t, 2, memlog.Len(eventlog.TopicStateChanges))
	assert.Equal(t, 1, memlog.Len(eventlog.TopicMatchResults))
	assert.Equal(t, int64(1), e.stats.TradesExecuted)
}

func TestOrderRejections(t *testing.T) {
	e, memlog := newTestEngine(t)

	unknown := limitOrder(1, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1")
	unknown.Symbol = "ETHUSDT"
	assert.Equal(t, ReasonSymbolNotTradeable, place(e, unknown).Reason)

	tiny := limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "0.00001")
	assert.Equal(t, ReasonInvalidQty, place(e, tiny).Reason)

	offTick := limitOrder(3, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000.001", "1")
	assert.Equal(t, ReasonInvalidPrice, place(e, offTick).Reason)

	overLev := limitOrder(4, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1")
	overLev.Leverage = 200
	assert.Equal(t, ReasonLeverageViolation, place(e, overLev).Reason)

	noPos := limitOrder(5, 100, mtrade.SideSell, mtrade.ActionClose, "50000", "1")
	assert.Equal(t, ReasonPositionNotFound, place(e, noPos).Reason)

	// 拒绝不产生持仓
	assert.Equal(t, 0, e.positions.Len())

	// 失败命令同样占用命令 ID 并落日志，水位保持连续
	assert.Equal(t, int64(5), e.sequencer.Current())
	assert.Equal(t, 5, memlog.Len(eventlog.TopicStateChanges))
	assert.Equal(t, int64(5), e.stats.OrdersRejected)
}

func TestPostOnlyAndFOKRejection(t *testing.T) {
	e, _ := newTestEngine(t)

	require.Equal(t, ReasonOK,
		place(e, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "1")).Reason)

	postOnly := limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1")
	postOnly.Type = mtrade.OrderTypePostOnly
	assert.Equal(t, ReasonPostOnlyWouldCross, place(e, postOnly).Reason)

	fok := limitOrder(3, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "2")
	fok.Type = mtrade.OrderTypeFOK
	assert.Equal(t, ReasonFOKNotFillable, place(e, fok).Reason)

	// 整单拒绝无任何副作用：对手盘原样挂着，Taker 没有持仓
	assert.Nil(t, e.positions.Get(100, testSymbol))
	assert.NotNil(t, e.books[testSymbol].GetOrder(1))
}

// =============================================================================
// 平仓锁定生命周期
// =============================================================================

func TestCloseOrderLockLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)

	// 建仓：user100 多 2，user200 空 2
	place(e, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "2"))
	res := place(e, limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "2"))
	require.Equal(t, ReasonOK, res.Reason)

	pos := e.positions.Get(100, testSymbol)
	require.Equal(t, "10000", pos.Margin.String())

	// 平仓挂单锁定对应数量
	closing := limitOrder(3, 100, mtrade.SideSell, mtrade.ActionClose, "51000", "1")
	require.Equal(t, ReasonOK, place(e, closing).Reason)
	assert.Equal(t, "1", pos.Locked.String())
	assert.Equal(t, "1", pos.Available().String())

	// 可用量不足的平仓被拒
	tooMuch := limitOrder(4, 100, mtrade.SideSell, mtrade.ActionClose, "51000", "2")
	assert.Equal(t, ReasonInsufficientPosition, place(e, tooMuch).Reason)

	// 方向不符的平仓被拒
	wrongSide := limitOrder(5, 100, mtrade.SideBuy, mtrade.ActionClose, "50000", "1")
	assert.Equal(t, ReasonInsufficientPosition, place(e, wrongSide).Reason)

	// 撤单解锁
	cancelRes := e.apply(CancelCommand(testSymbol, 3), true)
	require.Equal(t, ReasonOK, cancelRes.Reason)
	assert.Equal(t, "0", pos.Locked.String())

	// 平仓成交：锁定随成交释放，数量减少
	place(e, limitOrder(6, 300, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1"))
	closeRes := place(e, limitOrder(7, 100, mtrade.SideSell, mtrade.ActionClose, "50000", "1"))
	require.Equal(t, ReasonOK, closeRes.Reason)
	require.Len(t, closeRes.Trades, 1)

	assert.Equal(t, "1", pos.Qty.String())
	assert.Equal(t, "0", pos.Locked.String())
	assert.Equal(t, "0", pos.RealizedPnL.String()) // 原价平仓无盈亏

	// 对手方新开仓
	maker := e.positions.Get(300, testSymbol)
	require.NotNil(t, maker)
	assert.Equal(t, "1", maker.Qty.String())
	assert.Equal(t, "5000", maker.Margin.String())
}

func TestCloseRealizesPnL(t *testing.T) {
	e, _ := newTestEngine(t)

	place(e, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "2"))
	place(e, limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "2"))

	// 52000 平掉 1：盈利 2000，计入已实现盈亏并追加到保证金
	place(e, limitOrder(3, 300, mtrade.SideBuy, mtrade.ActionOpen, "52000", "1"))
	res := place(e, limitOrder(4, 100, mtrade.SideSell, mtrade.ActionClose, "52000", "1"))
	require.Equal(t, ReasonOK, res.Reason)

	pos := e.positions.Get(100, testSymbol)
	assert.Equal(t, "1", pos.Qty.String())
	assert.Equal(t, "2000", pos.RealizedPnL.String())
	assert.Equal(t, "12000", pos.Margin.String()) // 10000 + 2000

	// 完全平仓后持仓移出存储
	place(e, limitOrder(5, 300, mtrade.SideBuy, mtrade.ActionOpen, "52000", "1"))
	res = place(e, limitOrder(6, 100, mtrade.SideSell, mtrade.ActionClose, "52000", "1"))
	require.Equal(t, ReasonOK, res.Reason)
	assert.Nil(t, e.positions.Get(100, testSymbol))
}

// =============================================================================
// 反向开仓轧差
// =============================================================================

func TestOppositeOpenNetsPosition(t *testing.T) {
	e, _ := newTestEngine(t)

	// user100 多 1 @50000
	place(e, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "1"))
	require.Equal(t, ReasonOK,
		place(e, limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1")).Reason)

	// 反向开空 1 @49000：与多头轧差，持仓归零而不是加到同一方向
	place(e, limitOrder(3, 300, mtrade.SideBuy, mtrade.ActionOpen, "49000", "1"))
	res := place(e, limitOrder(4, 100, mtrade.SideSell, mtrade.ActionOpen, "49000", "1"))
	require.Equal(t, ReasonOK, res.Reason)
	require.Len(t, res.Trades, 1)

	assert.Nil(t, e.positions.Get(100, testSymbol))

	// 对手方正常开仓
	maker := e.positions.Get(300, testSymbol)
	require.NotNil(t, maker)
	assert.Equal(t, position.SideLong, maker.Side)
	assert.Equal(t, "4900", maker.Margin.String())
}

func TestOppositeOpenFlipsRemainder(t *testing.T) {
	e, _ := newTestEngine(t)

	// user100 多 1 @50000
	place(e, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "1"))
	place(e, limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1"))

	// 反向开空 2 @49000：轧掉多头 1，剩余 1 换方向开空
	place(e, limitOrder(3, 300, mtrade.SideBuy, mtrade.ActionOpen, "49000", "2"))
	res := place(e, limitOrder(4, 100, mtrade.SideSell, mtrade.ActionOpen, "49000", "2"))
	require.Equal(t, ReasonOK, res.Reason)

	pos := e.positions.Get(100, testSymbol)
	require.NotNil(t, pos)
	assert.Equal(t, position.SideShort, pos.Side)
	assert.Equal(t, "1", pos.Qty.String())
	assert.Equal(t, "49000", pos.AvgPrice.String())
	assert.Equal(t, int32(10), pos.Leverage)
	assert.Equal(t, "4900", pos.Margin.String()) // 49000×1/10
}

// =============================================================================
// 挂单结算元数据
// =============================================================================

func TestMakerReopenKeepsOrderLeverage(t *testing.T) {
	e, _ := newTestEngine(t)

	// user100 多 1 @50000
	place(e, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "1"))
	place(e, limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1"))

	// user100 再挂一张全仓开多单，暂不成交
	resting := limitOrder(3, 100, mtrade.SideBuy, mtrade.ActionOpen, "49000", "1")
	require.Equal(t, ReasonOK,
		e.apply(NewOrderCommand(resting, position.ModeCross), true).Reason)

	// 完全平掉现有持仓，持仓行被移除
	place(e, limitOrder(4, 300, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1"))
	res := place(e, limitOrder(5, 100, mtrade.SideSell, mtrade.ActionClose, "50000", "1"))
	require.Equal(t, ReasonOK, res.Reason)
	require.Nil(t, e.positions.Get(100, testSymbol))

	// 挂单作为 Maker 成交：新建持仓沿用下单时的模式和杠杆
	res = place(e, limitOrder(6, 400, mtrade.SideSell, mtrade.ActionOpen, "49000", "1"))
	require.Equal(t, ReasonOK, res.Reason)
	require.Len(t, res.Trades, 1)

	pos := e.positions.Get(100, testSymbol)
	require.NotNil(t, pos)
	assert.Equal(t, position.SideLong, pos.Side)
	assert.Equal(t, position.ModeCross, pos.Mode)
	assert.Equal(t, int32(10), pos.Leverage)
	assert.Equal(t, "49000", pos.AvgPrice.String())
	assert.Equal(t, "4900", pos.Margin.String()) // 49000×1/10，不是全额

	// 订单离场后元数据清理干净
	assert.Empty(t, e.orderMetas)
}

// =============================================================================
// 风险等级杠杆上限
// =============================================================================

func TestTierLeverageCapOnRiskyPosition(t *testing.T) {
	e, _ := newTestEngine(t)

	// user100 多 1 @50000，保证金 5000
	place(e, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "1"))
	place(e, limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1"))

	// 最新价砸到 46000：浮亏 4000，风险率 0.8 进入危险等级
	place(e, limitOrder(3, 300, mtrade.SideSell, mtrade.ActionOpen, "46000", "1"))
	place(e, limitOrder(4, 400, mtrade.SideBuy, mtrade.ActionOpen, "46000", "1"))

	// 危险等级上限 20 倍，30 倍加仓被拒
	risky := limitOrder(5, 100, mtrade.SideBuy, mtrade.ActionOpen, "45000", "1")
	risky.Leverage = 30
	assert.Equal(t, ReasonLeverageViolation, place(e, risky).Reason)

	// 上限以内照常接受
	ok := limitOrder(6, 100, mtrade.SideBuy, mtrade.ActionOpen, "45000", "1")
	assert.Equal(t, ReasonOK, place(e, ok).Reason)

	// 没有持仓的用户不受等级收紧影响
	fresh := limitOrder(7, 500, mtrade.SideBuy, mtrade.ActionOpen, "45000", "1")
	fresh.Leverage = 30
	assert.Equal(t, ReasonOK, place(e, fresh).Reason)
}

// =============================================================================
// 止损触发
// =============================================================================

func TestStopTriggeredByTrade(t *testing.T) {
	e, _ := newTestEngine(t)

	place(e, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "1"))
	place(e, limitOrder(2, 200, mtrade.SideSell, mtrade.ActionOpen, "50500", "1"))
	place(e, limitOrder(3, 200, mtrade.SideSell, mtrade.ActionOpen, "50600", "1"))

	// 买入止损：最新价 >= 50500 触发
	stop := &mtrade.Order{
		ID: 4, UserID: 300, Symbol: testSymbol,
		Side: mtrade.SideBuy, Type: mtrade.OrderTypeStop, Action: mtrade.ActionOpen,
		StopPrice: mtrade.ToFixed(decimal.NewFromInt(50500)),
		Qty:       mtrade.ToFixed(decimal.NewFromInt(1)),
		Leverage:  10,
	}
	res := place(e, stop)
	require.Equal(t, ReasonOK, res.Reason)
	require.Empty(t, res.Trades)
	assert.Equal(t, mtrade.OrderStatusPending, stop.Status)

	// 50000 成交不触发
	res = place(e, limitOrder(5, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1"))
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(0), e.stats.StopsTriggered)

	// 50500 成交触发止损，止损单按市价吃掉 50600 档
	res = place(e, limitOrder(6, 100, mtrade.SideBuy, mtrade.ActionOpen, "50500", "1"))
	require.Equal(t, ReasonOK, res.Reason)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, mtrade.ToFixed(decimal.NewFromInt(50600)), res.Trades[1].Price)
	assert.Equal(t, int64(1), e.stats.StopsTriggered)

	triggered := e.positions.Get(300, testSymbol)
	require.NotNil(t, triggered)
	assert.Equal(t, "1", triggered.Qty.String())
	assert.Equal(t, "50600", triggered.AvgPrice.String())
}

// =============================================================================
// 强平命令
// =============================================================================

func TestLiquidationCommand(t *testing.T) {
	e, _ := newTestEngine(t)

	// user100 多 2 BTC @50000，保证金 10000
	place(e, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "2"))
	place(e, limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "2"))

	// 接强平单的买盘
	place(e, limitOrder(3, 300, mtrade.SideBuy, mtrade.ActionOpen, "45500", "5"))

	// 指数价 45500：浮亏 9000，风险率 0.9 → EMERGENCY，分级强平平掉 50%
	res := e.apply(&Command{
		Type: CmdLiquidation,
		Liquidate: &LiquidatePayload{
			Cause:      liquidation.CauseRiskExceeded,
			UserID:     100,
			Symbol:     testSymbol,
			IndexPrice: decimal.NewFromInt(45500),
		},
	}, true)
	require.Equal(t, ReasonOK, res.Reason)
	require.NotNil(t, res.Liquidation)

	assert.Equal(t, "1", res.Liquidation.TotalClosed.String())
	require.Len(t, res.Liquidation.Steps, 1)
	assert.Equal(t, int8(risk.TierEmergency), res.Liquidation.Steps[0].Tier)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, mtrade.TradeFlagLiquidation, res.Trades[0].Flag)

	// 被强平方：剩 1 BTC，已实现亏损 4500 冲抵保证金
	pos := e.positions.Get(100, testSymbol)
	require.NotNil(t, pos)
	assert.Equal(t, "1", pos.Qty.String())
	assert.Equal(t, "5500", pos.Margin.String())

	// 平掉一半后风险率回落到 DANGER，状态机停下
	assert.Equal(t, int8(risk.TierDanger), res.Liquidation.FinalTier)

	// Maker 侧在引擎里结算：user300 接到 1 BTC 多仓
	maker := e.positions.Get(300, testSymbol)
	require.NotNil(t, maker)
	assert.Equal(t, "1", maker.Qty.String())
	assert.Equal(t, "45500", maker.AvgPrice.String())
	assert.Equal(t, "4550", maker.Margin.String())

	assert.Equal(t, int64(1), e.stats.Liquidations)
}

// =============================================================================
// 快照与重放
// =============================================================================

func TestSnapshotQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotQueueSize = 1
	e := New(cfg, eventlog.NewMemoryLog(), notify.NewNopNotifier(), snapshot.NewMemoryStore())
	e.now = func() int64 { return testNow }
	require.NoError(t, e.RegisterSymbol(symbol.DefaultSpec(testSymbol, "BTC", "USDT"), risk.DefaultConfig(testSymbol)))

	// 持久化线程未启动，队列容量 1：第二次快照被拒
	res := e.apply(SnapshotCommand(), true)
	require.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, int64(1), res.SnapshotID)

	res = e.apply(SnapshotCommand(), true)
	assert.Equal(t, ReasonQueueFull, res.Reason)
	assert.Equal(t, int64(1), e.stats.SnapshotsTaken)
	assert.Equal(t, int64(1), e.stats.SnapshotsDenied)

	// 快照命令不占用命令水位
	assert.Equal(t, int64(0), e.sequencer.Current())
}

func TestQueryCommands(t *testing.T) {
	e, _ := newTestEngine(t)

	place(e, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "2"))
	place(e, limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1"))

	res := e.apply(QueryOrderCommand(testSymbol, 1), true)
	require.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, mtrade.OrderStatusPartiallyFilled, res.Order.Status)

	// 返回的是副本，改它不影响订单簿
	res.Order.FilledQty = 0
	assert.NotEqual(t, int64(0), e.books[testSymbol].GetOrder(1).FilledQty)

	res = e.apply(QueryPositionCommand(100, testSymbol), true)
	require.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, "1", res.Position.Qty.String())

	res = e.apply(QueryPositionCommand(999, testSymbol), true)
	assert.Equal(t, ReasonPositionNotFound, res.Reason)

	// 查询不占用命令水位
	assert.Equal(t, int64(2), e.sequencer.Current())
}

// runScenario 跑一段混合命令序列：建仓、部分平仓、撤单、拒绝、强平
func runScenario(e *Engine) {
	place(e, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "2"))
	place(e, limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "2"))
	place(e, limitOrder(3, 300, mtrade.SideBuy, mtrade.ActionOpen, "49000", "3"))
	// 挂一张平仓单再撤掉，外加一张注定被拒的单
	place(e, limitOrder(4, 100, mtrade.SideSell, mtrade.ActionClose, "52000", "1"))
	place(e, limitOrder(5, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000.001", "1"))
	e.apply(CancelCommand(testSymbol, 4), true)
	e.apply(&Command{
		Type: CmdLiquidation,
		Liquidate: &LiquidatePayload{
			Cause:      liquidation.CauseRiskExceeded,
			UserID:     100,
			Symbol:     testSymbol,
			IndexPrice: decimal.NewFromInt(45500),
		},
	}, true)
}

func assertSameState(t *testing.T, want, got *Engine) {
	t.Helper()

	assert.Equal(t, want.sequencer.Current(), got.sequencer.Current())

	wantPos := want.positions.All()
	gotPos := got.positions.All()
	require.Len(t, gotPos, len(wantPos))
	for i, p := range wantPos {
		q := gotPos[i]
		assert.Equal(t, p.UserID, q.UserID)
		assert.Equal(t, p.Symbol, q.Symbol)
		assert.Equal(t, p.Side, q.Side)
		assert.Equal(t, p.Qty.String(), q.Qty.String())
		assert.Equal(t, p.AvgPrice.String(), q.AvgPrice.String())
		assert.Equal(t, p.Margin.String(), q.Margin.String())
		assert.Equal(t, p.Locked.String(), q.Locked.String())
		assert.Equal(t, p.RealizedPnL.String(), q.RealizedPnL.String())
	}

	wantBids, wantAsks := want.Depth(testSymbol, 10)
	gotBids, gotAsks := got.Depth(testSymbol, 10)
	assert.Equal(t, wantBids, gotBids)
	assert.Equal(t, wantAsks, gotAsks)
	assert.Equal(t, want.books[testSymbol].LastPrice, got.books[testSymbol].LastPrice)
	assert.Equal(t, want.orderMetas, got.orderMetas)
}

func TestReplayRebuildsState(t *testing.T) {
	src, memlog := newTestEngine(t)
	runScenario(src)

	// 空引擎 + 完整日志重放 = 相同状态
	dst, _ := newTestEngine(t)
	watermark, err := replay.Run(memlog, dst, 0)
	require.NoError(t, err)
	// 全部 7 条命令（含被拒绝的那条）都重放
	assert.Equal(t, int64(7), watermark)

	assertSameState(t, src, dst)
}

func TestSnapshotPlusReplayTail(t *testing.T) {
	src, memlog := newTestEngine(t)

	// 前半段
	place(src, limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "2"))
	place(src, limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "2"))

	snap := snapshot.Build(1, src, testNow)
	require.NoError(t, snap.Validate())

	// 后半段
	place(src, limitOrder(3, 300, mtrade.SideBuy, mtrade.ActionOpen, "49000", "3"))
	place(src, limitOrder(4, 100, mtrade.SideSell, mtrade.ActionClose, "49000", "1"))

	// 从快照恢复，重放水位之后的日志尾巴
	dst := New(DefaultConfig(), eventlog.NewMemoryLog(), notify.NewNopNotifier(), snapshot.NewMemoryStore())
	dst.now = func() int64 { return testNow }
	snapshot.Restore(snap, dst)

	watermark, err := replay.Run(memlog, dst, snap.LastCommandID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), watermark)

	assertSameState(t, src, dst)
}

// =============================================================================
// 命令循环生命周期
// =============================================================================

func TestEngineStartExecuteStop(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Start()

	res := e.Execute(NewOrderCommand(
		limitOrder(1, 200, mtrade.SideSell, mtrade.ActionOpen, "50000", "1"), position.ModeIsolated))
	require.Equal(t, ReasonOK, res.Reason)

	res = e.Execute(NewOrderCommand(
		limitOrder(2, 100, mtrade.SideBuy, mtrade.ActionOpen, "50000", "1"), position.ModeIsolated))
	require.Equal(t, ReasonOK, res.Reason)
	require.Len(t, res.Trades, 1)

	e.Stop()

	// 停机后命令直接返回
	res = e.Execute(CancelCommand(testSymbol, 1))
	assert.Equal(t, ReasonStopped, res.Reason)
}

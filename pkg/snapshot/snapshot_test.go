package snapshot

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mex.com/pkg/eventlog"
	"mex.com/pkg/mtrade"
	"mex.com/pkg/position"
	"mex.com/pkg/risk"
	"mex.com/pkg/symbol"
)

// fakeEngine 同时充当快照来源和恢复目标
type fakeEngine struct {
	lastCmd   int64
	registry  *symbol.Registry
	books     map[string]*mtrade.OrderBook
	positions *position.Store
	metas     map[int64]OrderMeta
	offsets   *eventlog.OffsetTable
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		registry:  symbol.NewRegistry(),
		books:     make(map[string]*mtrade.OrderBook),
		positions: position.NewStore(),
		metas:     make(map[int64]OrderMeta),
		offsets:   eventlog.NewOffsetTable(),
	}
}

func (e *fakeEngine) LastCommandID() int64                { return e.lastCmd }
func (e *fakeEngine) Registry() *symbol.Registry          { return e.registry }
func (e *fakeEngine) Books() map[string]*mtrade.OrderBook { return e.books }
func (e *fakeEngine) Positions() *position.Store          { return e.positions }
func (e *fakeEngine) OrderMetas() map[int64]OrderMeta     { return e.metas }
func (e *fakeEngine) LogOffsets() *eventlog.OffsetTable   { return e.offsets }

func (e *fakeEngine) ResetState() {
	e.lastCmd = 0
	e.registry = symbol.NewRegistry()
	e.books = make(map[string]*mtrade.OrderBook)
	e.positions = position.NewStore()
	e.metas = make(map[int64]OrderMeta)
	e.offsets = eventlog.NewOffsetTable()
}

func (e *fakeEngine) RestoreRegistry(img *symbol.RegistryImage) { e.registry.RestoreImage(img) }

func (e *fakeEngine) RestoreBook(img *mtrade.BookImage) {
	book := mtrade.NewOrderBook(img.Symbol)
	book.RestoreImage(img)
	e.books[img.Symbol] = book
}

func (e *fakeEngine) RestorePositions(positions []*position.Position) {
	e.positions.Restore(positions)
}

func (e *fakeEngine) RestoreOrderMetas(metas map[int64]OrderMeta) {
	e.metas = make(map[int64]OrderMeta, len(metas))
	for id, m := range metas {
		e.metas[id] = m
	}
}

func (e *fakeEngine) RestoreLogOffsets(offsets map[string]eventlog.OffsetPair) {
	e.offsets.Restore(offsets)
}

func (e *fakeEngine) SetCommandWatermark(id int64) { e.lastCmd = id }

// populate 构造一份有代表性的引擎状态
func populate(t *testing.T, e *fakeEngine) {
	t.Helper()

	spec := symbol.DefaultSpec("BTCUSDT", "BTC", "USDT")
	require.NoError(t, e.registry.Add(spec))
	require.NoError(t, e.registry.SetStatus("BTCUSDT", symbol.StatusTrading, 1700000000000))
	require.NoError(t, e.registry.AttachRiskConfig(risk.DefaultConfig("BTCUSDT")))

	book := mtrade.NewOrderBook("BTCUSDT")
	book.AddOrder(&mtrade.Order{
		ID: 1, UserID: 100, Symbol: "BTCUSDT",
		Side: mtrade.SideBuy, Type: mtrade.OrderTypeLimit,
		Price: 50000 * mtrade.Precision, Qty: 2 * mtrade.Precision,
		FilledQty: 1 * mtrade.Precision, CreatedAt: 1700000000001,
	})
	book.AddOrder(&mtrade.Order{
		ID: 2, UserID: 200, Symbol: "BTCUSDT",
		Side: mtrade.SideSell, Type: mtrade.OrderTypeLimit,
		Price: 50100 * mtrade.Precision, Qty: 1 * mtrade.Precision,
		CreatedAt: 1700000000002,
	})
	book.ParkStop(&mtrade.Order{
		ID: 3, UserID: 100, Symbol: "BTCUSDT",
		Side: mtrade.SideSell, Type: mtrade.OrderTypeStop,
		StopPrice: 49000 * mtrade.Precision, Qty: 1 * mtrade.Precision,
		CreatedAt: 1700000000003,
	})
	book.RecordTrade(50050*mtrade.Precision, 1*mtrade.Precision)
	book.NextTradeID()
	book.NextTradeID()
	e.books["BTCUSDT"] = book

	pos := e.positions.GetOrCreate(100, "BTCUSDT", position.SideLong, position.ModeIsolated, 10)
	require.NoError(t, pos.Open(decimal.NewFromInt(2), decimal.NewFromInt(50000)))
	pos.Margin = decimal.NewFromInt(10000)

	// 买一是张没成交完的开仓单，结算元数据随快照保存
	e.metas[1] = OrderMeta{Mode: position.ModeIsolated, Leverage: 10}

	e.offsets.Advance(eventlog.TopicStateChanges)
	e.offsets.Advance(eventlog.TopicStateChanges)
	e.offsets.Commit(eventlog.TopicStateChanges, 2)
	e.offsets.Advance(eventlog.TopicMatchResults)
	e.offsets.Commit(eventlog.TopicMatchResults, 1)

	e.lastCmd = 42
}

func TestBuildAndValidate(t *testing.T) {
	engine := newFakeEngine()
	populate(t, engine)

	snap := Build(1, engine, 1700000005000)

	require.NoError(t, snap.Validate())
	assert.Equal(t, int64(1), snap.ID)
	assert.Equal(t, int64(42), snap.LastCommandID)
	require.Len(t, snap.Books, 1)
	assert.Equal(t, "BTCUSDT", snap.Books[0].Symbol)
	assert.Len(t, snap.Books[0].Orders, 2)
	assert.Len(t, snap.Books[0].Stops, 1)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, eventlog.OffsetPair{Current: 2, Committed: 2},
		snap.Offsets[eventlog.TopicStateChanges])
}

func TestValidateRejectsCorruption(t *testing.T) {
	engine := newFakeEngine()
	populate(t, engine)

	// 订单簿引用了不存在的交易对
	snap := Build(1, engine, 0)
	snap.Books[0].Symbol = "GHOST"
	assert.ErrorIs(t, snap.Validate(), ErrInvalid)

	// 已成交量超过订单量
	snap = Build(2, engine, 0)
	snap.Books[0].Orders[0].FilledQty = snap.Books[0].Orders[0].Qty + 1
	assert.ErrorIs(t, snap.Validate(), ErrInvalid)

	// 锁定量超过持仓量
	snap = Build(3, engine, 0)
	snap.Positions[0].Locked = snap.Positions[0].Qty.Add(decimal.NewFromInt(1))
	assert.ErrorIs(t, snap.Validate(), ErrInvalid)

	// committed 超前 current
	snap = Build(4, engine, 0)
	snap.Offsets[eventlog.TopicSnapshots] = eventlog.OffsetPair{Current: 1, Committed: 2}
	assert.ErrorIs(t, snap.Validate(), ErrInvalid)

	// 缺少注册表
	snap = Build(5, engine, 0)
	snap.Registry = nil
	assert.ErrorIs(t, snap.Validate(), ErrInvalid)
}

func TestRestoreRebuildsState(t *testing.T) {
	engine := newFakeEngine()
	populate(t, engine)
	snap := Build(1, engine, 1700000005000)

	restored := newFakeEngine()
	Restore(snap, restored)

	assert.Equal(t, int64(42), restored.lastCmd)
	assert.True(t, restored.registry.IsTradeable("BTCUSDT"))

	book := restored.books["BTCUSDT"]
	require.NotNil(t, book)
	// 部分成交的挂单原样恢复
	order := book.GetOrder(1)
	require.NotNil(t, order)
	assert.Equal(t, int64(1*mtrade.Precision), order.FilledQty)
	assert.Equal(t, mtrade.OrderStatusPartiallyFilled, order.Status)
	// 止损单仍在触发队列
	stop := book.GetOrder(3)
	require.NotNil(t, stop)
	assert.Equal(t, mtrade.OrderStatusPending, stop.Status)
	// 行情统计与成交序列恢复
	assert.Equal(t, int64(50050*mtrade.Precision), book.LastPrice)
	assert.Equal(t, int64(2), book.NextTradeID()-1)

	pos := restored.positions.Get(100, "BTCUSDT")
	require.NotNil(t, pos)
	assert.True(t, pos.Qty.Equal(decimal.NewFromInt(2)))
	assert.True(t, pos.Margin.Equal(decimal.NewFromInt(10000)))

	assert.Equal(t, OrderMeta{Mode: position.ModeIsolated, Leverage: 10}, restored.metas[1])

	assert.Equal(t, eventlog.OffsetPair{Current: 2, Committed: 2},
		restored.offsets.Get(eventlog.TopicStateChanges))
}

func TestStoreRoundTrip(t *testing.T) {
	engine := newFakeEngine()
	populate(t, engine)
	snap := Build(7, engine, 1700000005000)

	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Latest(ctx)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())
	assert.Equal(t, snap.ID, loaded.ID)
	assert.Equal(t, snap.LastCommandID, loaded.LastCommandID)
	require.Len(t, loaded.Books, 1)
	assert.Equal(t, snap.Books[0].TradeSeq, loaded.Books[0].TradeSeq)
	require.Len(t, loaded.Positions, 1)
	assert.True(t, loaded.Positions[0].Qty.Equal(snap.Positions[0].Qty))

	// 序列化往返后恢复，状态与直接恢复一致
	restored := newFakeEngine()
	Restore(loaded, restored)
	assert.Equal(t, int64(42), restored.lastCmd)
	assert.Equal(t, 1, restored.positions.Len())

	byID, err := store.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), byID.ID)
	_, err = store.Get(ctx, 8)
	assert.ErrorIs(t, err, ErrNotFound)
}

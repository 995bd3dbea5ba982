package mtrade

import (
	"testing"
)

// =============================================================================
// 跳表测试
// =============================================================================

func TestSkipList_Basic(t *testing.T) {
	sl := NewSkipList(true) // 升序

	sl.Insert(100)
	sl.Insert(50)
	sl.Insert(150)

	if sl.Len() != 3 {
		t.Errorf("expected len 3, got %d", sl.Len())
	}

	// 第一个应该是 50（升序）
	first := sl.First()
	if first == nil || first.GetPrice() != 50 {
		t.Errorf("expected first price 50, got %v", first)
	}

	node := sl.Find(100)
	if node == nil || node.GetPrice() != 100 {
		t.Errorf("expected to find price 100")
	}

	sl.Delete(50)
	if sl.Len() != 2 {
		t.Errorf("expected len 2 after delete, got %d", sl.Len())
	}

	first = sl.First()
	if first == nil || first.GetPrice() != 100 {
		t.Errorf("expected first price 100 after delete, got %v", first)
	}
}

func TestSkipList_Descending(t *testing.T) {
	sl := NewSkipList(false) // 降序（买盘）

	sl.Insert(100)
	sl.Insert(50)
	sl.Insert(150)

	first := sl.First()
	if first == nil || first.GetPrice() != 150 {
		t.Errorf("expected first price 150 (descending), got %v", first)
	}
}

func TestSkipList_DeterministicStructure(t *testing.T) {
	// 固定种子下，同样的插入序列必须得到同样的节点高度
	build := func() *SkipList {
		sl := NewSkipList(true)
		for i := int64(1); i <= 100; i++ {
			sl.Insert(i * 100)
		}
		return sl
	}

	a, b := build(), build()
	if a.height != b.height {
		t.Errorf("expected identical height, got %d vs %d", a.height, b.height)
	}

	na, nb := a.head.next[0], b.head.next[0]
	for na != nil && nb != nil {
		if len(na.next) != len(nb.next) {
			t.Fatalf("node %d: height %d vs %d", na.price, len(na.next), len(nb.next))
		}
		na, nb = na.next[0], nb.next[0]
	}
	if na != nil || nb != nil {
		t.Error("expected identical length")
	}
}

// =============================================================================
// 环形队列测试
// =============================================================================

func TestRingPriceLevel_FIFO(t *testing.T) {
	pl := NewRingPriceLevel(50000)

	for i := int64(1); i <= 3; i++ {
		pl.AddOrder(&Order{ID: i, Price: 50000, Qty: i * 10})
	}

	if pl.TotalQty != 60 {
		t.Errorf("expected total qty 60, got %d", pl.TotalQty)
	}

	// 先进先出
	for i := int64(1); i <= 3; i++ {
		o := pl.PopFront()
		if o == nil || o.ID != i {
			t.Errorf("expected order %d, got %v", i, o)
		}
	}

	if !pl.IsEmpty() || pl.TotalQty != 0 {
		t.Errorf("expected empty level, count=%d totalQty=%d", pl.Len(), pl.TotalQty)
	}
}

func TestRingPriceLevel_Grow(t *testing.T) {
	pl := NewRingPriceLevel(50000)

	// 超过默认容量触发扩容
	n := int64(DefaultRingCapacity * 3)
	for i := int64(1); i <= n; i++ {
		pl.AddOrder(&Order{ID: i, Price: 50000, Qty: 1})
	}

	if pl.Len() != int(n) {
		t.Fatalf("expected %d orders, got %d", n, pl.Len())
	}

	// 扩容后顺序不变
	for i := int64(1); i <= n; i++ {
		if o := pl.PopFront(); o.ID != i {
			t.Fatalf("expected order %d after grow, got %d", i, o.ID)
		}
	}
}

func TestRingPriceLevel_RemoveMiddle(t *testing.T) {
	pl := NewRingPriceLevel(50000)

	for i := int64(1); i <= 5; i++ {
		pl.AddOrder(&Order{ID: i, Price: 50000, Qty: 10})
	}

	removed := pl.RemoveOrder(3)
	if removed == nil || removed.ID != 3 {
		t.Fatalf("expected to remove order 3, got %v", removed)
	}
	if pl.TotalQty != 40 {
		t.Errorf("expected total qty 40, got %d", pl.TotalQty)
	}

	// 剩余顺序：1 2 4 5
	want := []int64{1, 2, 4, 5}
	for _, id := range want {
		if o := pl.PopFront(); o.ID != id {
			t.Errorf("expected order %d, got %d", id, o.ID)
		}
	}
}

// =============================================================================
// 订单簿测试
// =============================================================================

func TestOrderBook_AddAndCancel(t *testing.T) {
	ob := NewOrderBook("BTC_USDT")

	order := &Order{
		ID:     1,
		UserID: 100,
		Side:   SideBuy,
		Price:  50000,
		Qty:    10,
		Symbol: "BTC_USDT",
	}
	ob.AddOrder(order)
	ob.UpdateSnapshot()

	if order.Status != OrderStatusActive {
		t.Errorf("expected status ACTIVE, got %s", order.Status)
	}

	bid, ok := ob.BestBid()
	if !ok || bid != 50000 {
		t.Errorf("expected best bid 50000, got %d", bid)
	}

	cancelled := ob.CancelOrder(1)
	if cancelled == nil || cancelled.Status != OrderStatusCancelled {
		t.Error("expected cancelled order")
	}
	ob.UpdateSnapshot()

	if _, ok = ob.BestBid(); ok {
		t.Error("expected no best bid after cancel")
	}
	if ob.GetOrder(1) != nil {
		t.Error("expected order removed from index")
	}
}

func TestOrderBook_UserIndex(t *testing.T) {
	ob := NewOrderBook("BTC_USDT")

	ob.AddOrder(&Order{ID: 1, UserID: 100, Side: SideBuy, Price: 50000, Qty: 10})
	ob.AddOrder(&Order{ID: 2, UserID: 100, Side: SideSell, Price: 51000, Qty: 5})
	ob.AddOrder(&Order{ID: 3, UserID: 200, Side: SideBuy, Price: 49000, Qty: 1})

	if got := len(ob.OrdersByUser(100)); got != 2 {
		t.Errorf("expected 2 orders for user 100, got %d", got)
	}

	ob.CancelOrder(1)
	if got := len(ob.OrdersByUser(100)); got != 1 {
		t.Errorf("expected 1 order after cancel, got %d", got)
	}

	ob.CancelOrder(2)
	if got := len(ob.OrdersByUser(100)); got != 0 {
		t.Errorf("expected no orders after cancelling all, got %d", got)
	}
}

func TestOrderBook_Depth(t *testing.T) {
	ob := NewOrderBook("BTC_USDT")

	for i := int64(0); i < 5; i++ {
		ob.AddOrder(&Order{
			ID:    i + 1,
			Side:  SideBuy,
			Price: 50000 - i*100,
			Qty:   10,
		})
	}
	ob.UpdateSnapshot()

	bids, _ := ob.Depth(3)
	if len(bids) != 3 {
		t.Fatalf("expected 3 bid levels, got %d", len(bids))
	}
	// 买盘降序
	if bids[0].Price != 50000 || bids[1].Price != 49900 || bids[2].Price != 49800 {
		t.Errorf("unexpected bid order: %v", bids)
	}
}

func TestOrderBook_Clear(t *testing.T) {
	ob := NewOrderBook("BTC_USDT")

	ob.AddOrder(&Order{ID: 1, UserID: 100, Side: SideBuy, Price: 50000, Qty: 10})
	ob.AddOrder(&Order{ID: 2, UserID: 100, Side: SideSell, Price: 51000, Qty: 5})
	ob.ParkStop(&Order{ID: 3, UserID: 100, Side: SideSell, Type: OrderTypeStop, StopPrice: 48000, Qty: 1})

	cleared := ob.Clear()
	if len(cleared) != 3 {
		t.Fatalf("expected 3 cleared orders, got %d", len(cleared))
	}
	for _, o := range cleared {
		if o.Status != OrderStatusCancelled {
			t.Errorf("order %d: expected CANCELLED, got %s", o.ID, o.Status)
		}
	}

	if ob.GetOrder(1) != nil || ob.GetOrder(3) != nil {
		t.Error("expected all indexes emptied")
	}
	if len(ob.OrdersByUser(100)) != 0 {
		t.Error("expected user index emptied")
	}
}

// =============================================================================
// 止损触发队列测试
// =============================================================================

func TestOrderBook_StopTrigger(t *testing.T) {
	ob := NewOrderBook("BTC_USDT")

	// 卖出止损：最新价 <= 触发价时触发
	sellStop := &Order{ID: 1, Side: SideSell, Type: OrderTypeStop, StopPrice: 49000, Qty: 10}
	// 买入止损：最新价 >= 触发价时触发
	buyStop := &Order{ID: 2, Side: SideBuy, Type: OrderTypeStop, StopPrice: 52000, Qty: 10}
	ob.ParkStop(sellStop)
	ob.ParkStop(buyStop)

	if sellStop.Status != OrderStatusPending {
		t.Errorf("expected PENDING, got %s", sellStop.Status)
	}

	// 价格在区间内，都不触发
	ob.RecordTrade(50000, 1)
	if got := ob.PopTriggeredStops(); len(got) != 0 {
		t.Fatalf("expected no triggers at 50000, got %d", len(got))
	}

	// 跌破 49000，触发卖出止损
	ob.RecordTrade(48900, 1)
	got := ob.PopTriggeredStops()
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected sell stop triggered, got %v", got)
	}

	// 突破 52000，触发买入止损
	ob.RecordTrade(52100, 1)
	got = ob.PopTriggeredStops()
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("expected buy stop triggered, got %v", got)
	}

	if len(ob.stops) != 0 {
		t.Errorf("expected empty stop queue, got %d", len(ob.stops))
	}
}

func TestOrderBook_CancelParkedStop(t *testing.T) {
	ob := NewOrderBook("BTC_USDT")

	ob.ParkStop(&Order{ID: 1, Side: SideSell, Type: OrderTypeStop, StopPrice: 49000, Qty: 10})

	cancelled := ob.CancelOrder(1)
	if cancelled == nil || cancelled.Status != OrderStatusCancelled {
		t.Fatal("expected parked stop to be cancellable")
	}

	ob.RecordTrade(48000, 1)
	if got := ob.PopTriggeredStops(); len(got) != 0 {
		t.Error("cancelled stop must not trigger")
	}
}

// =============================================================================
// 镜像导出/导入测试
// =============================================================================

func TestOrderBook_ImageRoundTrip(t *testing.T) {
	ob := NewOrderBook("BTC_USDT")

	ob.AddOrder(&Order{ID: 1, UserID: 100, Side: SideBuy, Price: 50000, Qty: 10, FilledQty: 3})
	ob.AddOrder(&Order{ID: 2, UserID: 100, Side: SideBuy, Price: 50000, Qty: 5})
	ob.AddOrder(&Order{ID: 3, UserID: 200, Side: SideSell, Price: 51000, Qty: 8})
	ob.ParkStop(&Order{ID: 4, UserID: 200, Side: SideSell, Type: OrderTypeStop, StopPrice: 48000, Qty: 2})
	ob.RecordTrade(50500, 3)
	ob.NextTradeID()

	img := ob.Image()

	restored := NewOrderBook("BTC_USDT")
	restored.RestoreImage(img)

	if restored.LastPrice != 50500 || restored.Volume != 3 {
		t.Errorf("market stats not restored: last=%d vol=%d", restored.LastPrice, restored.Volume)
	}
	if restored.tradeSeq != ob.tradeSeq {
		t.Errorf("trade seq not restored: %d vs %d", restored.tradeSeq, ob.tradeSeq)
	}

	o := restored.GetOrder(1)
	if o == nil || o.FilledQty != 3 || o.Status != OrderStatusPartiallyFilled {
		t.Errorf("partially filled order not restored: %v", o)
	}

	// 同价位 FIFO 顺序保持
	node := restored.bids.Find(50000)
	if node == nil {
		t.Fatal("expected bid level 50000")
	}
	if front := node.GetLevel().Front(); front == nil || front.ID != 1 {
		t.Errorf("expected order 1 at front, got %v", front)
	}

	if s := restored.GetOrder(4); s == nil || s.Status != OrderStatusPending {
		t.Errorf("stop not restored: %v", s)
	}

	// 镜像是深拷贝，改原订单簿不影响镜像
	ob.GetOrder(2).FilledQty = 5
	if img.Orders[1].FilledQty == 5 {
		t.Error("image must be a deep copy")
	}
}

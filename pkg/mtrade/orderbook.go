package mtrade

import (
	"sync/atomic"
)

// =============================================================================
// 订单簿 (Order Book) - 无锁设计
// =============================================================================
//
// 【面试高频】无锁撮合
//
// 设计原则：
//   1. 写线程独享 OrderBook，内部操作无锁
//   2. 外部查询通过快照机制，使用 atomic.Pointer
//   3. 完全避免锁竞争
//
// 不变式：一个订单要么同时存在于「价位队列 + ID 索引 + 用户索引」，
// 要么三者都不存在，不允许中间状态对外可见

// OrderBook 订单簿（无锁版本）
// 【核心设计】由引擎写线程独占访问，无需锁
type OrderBook struct {
	Symbol string // 交易对

	bids PriceIndex // 买盘（价格降序）
	asks PriceIndex // 卖盘（价格升序）

	// 订单索引：OrderID → Order
	orderIndex map[int64]*Order

	// 用户索引：UserID → OrderID → Order
	userIndex map[int64]map[int64]*Order

	// 止损触发队列（已接收、未触发的 STOP/STOP_LIMIT）
	stops []*Order

	// 行情统计
	LastPrice int64 // 最新成交价
	HighPrice int64 // 最高成交价
	LowPrice  int64 // 最低成交价
	Volume    int64 // 累计成交量（定点数）

	// 成交序列号（订单簿内递增，随快照保存）
	tradeSeq int64

	// 快照（供外部查询，原子更新）
	snapshot atomic.Pointer[DepthSnapshot]
}

// DepthSnapshot 订单簿深度快照（只读）
// 【面试】外部查询使用快照，无锁读
type DepthSnapshot struct {
	BestBid   int64
	BestAsk   int64
	Spread    int64
	LastPrice int64
	BidLevels int
	AskLevels int
	BidDepth  []DepthLevel
	AskDepth  []DepthLevel
}

// DepthLevel 深度档位
type DepthLevel struct {
	Price    int64
	Quantity int64
	Orders   int
}

// NewOrderBook 创建订单簿
func NewOrderBook(symbol string) *OrderBook {
	ob := &OrderBook{
		Symbol:     symbol,
		bids:       NewSkipList(false), // 降序
		asks:       NewSkipList(true),  // 升序
		orderIndex: make(map[int64]*Order),
		userIndex:  make(map[int64]map[int64]*Order),
	}
	// 初始化空快照
	ob.snapshot.Store(&DepthSnapshot{})
	return ob
}

// =============================================================================
// 订单操作（无锁，仅供写线程调用）
// =============================================================================

// AddOrder 添加订单到订单簿
// 【无锁】仅由写线程调用
func (ob *OrderBook) AddOrder(order *Order) bool {
	// 检查订单是否已存在
	if _, exists := ob.orderIndex[order.ID]; exists {
		return false
	}

	// 获取对应的价格索引
	priceIndex := ob.getSideIndex(order.Side)

	// 插入或获取价格档位
	node := priceIndex.Insert(order.Price)
	node.GetLevel().AddOrder(order)

	// 添加到订单索引和用户索引
	ob.orderIndex[order.ID] = order
	ob.addUserIndex(order)

	if order.FilledQty > 0 {
		order.Status = OrderStatusPartiallyFilled
	} else {
		order.Status = OrderStatusActive
	}

	return true
}

// CancelOrder 取消订单
// 【无锁】仅由写线程调用
func (ob *OrderBook) CancelOrder(orderID int64) *Order {
	order := ob.removeOrder(orderID)
	if order == nil {
		// 可能是未触发的止损单
		order = ob.removeStop(orderID)
		if order == nil {
			return nil
		}
	}
	order.Status = OrderStatusCancelled
	return order
}

// removeOrder 从三个结构中同时移除订单
func (ob *OrderBook) removeOrder(orderID int64) *Order {
	order, exists := ob.orderIndex[orderID]
	if !exists {
		return nil
	}

	priceIndex := ob.getSideIndex(order.Side)
	node := priceIndex.Find(order.Price)
	if node != nil {
		level := node.GetLevel()
		level.RemoveOrder(orderID)

		// 如果价格档位空了，删除它
		if level.IsEmpty() {
			priceIndex.Delete(order.Price)
		}
	}

	delete(ob.orderIndex, orderID)
	ob.removeUserIndex(order)
	return order
}

// removeFilledFront 撮合完全成交后移除队首 Maker
// 【无锁】仅由撮合器调用，level.PopFront 已经出队
func (ob *OrderBook) removeFilledFront(order *Order) {
	delete(ob.orderIndex, order.ID)
	ob.removeUserIndex(order)
}

// GetOrder 获取订单
// 【无锁】仅由写线程调用
func (ob *OrderBook) GetOrder(orderID int64) *Order {
	if o, ok := ob.orderIndex[orderID]; ok {
		return o
	}
	for _, s := range ob.stops {
		if s.ID == orderID {
			return s
		}
	}
	return nil
}

// OrdersByUser 获取用户的全部挂单
func (ob *OrderBook) OrdersByUser(userID int64) []*Order {
	m := ob.userIndex[userID]
	orders := make([]*Order, 0, len(m))
	for _, o := range m {
		orders = append(orders, o)
	}
	return orders
}

// Clear 清空订单簿（CLEAR 命令）
// 所有挂单和未触发止损单置为 Cancelled，返回被清除的订单
func (ob *OrderBook) Clear() []*Order {
	cleared := make([]*Order, 0, len(ob.orderIndex)+len(ob.stops))
	for _, o := range ob.orderIndex {
		o.Status = OrderStatusCancelled
		cleared = append(cleared, o)
	}
	for _, o := range ob.stops {
		o.Status = OrderStatusCancelled
		cleared = append(cleared, o)
	}

	ob.bids = NewSkipList(false)
	ob.asks = NewSkipList(true)
	ob.orderIndex = make(map[int64]*Order)
	ob.userIndex = make(map[int64]map[int64]*Order)
	ob.stops = nil
	return cleared
}

func (ob *OrderBook) addUserIndex(order *Order) {
	m, ok := ob.userIndex[order.UserID]
	if !ok {
		m = make(map[int64]*Order)
		ob.userIndex[order.UserID] = m
	}
	m[order.ID] = order
}

func (ob *OrderBook) removeUserIndex(order *Order) {
	if m, ok := ob.userIndex[order.UserID]; ok {
		delete(m, order.ID)
		if len(m) == 0 {
			delete(ob.userIndex, order.UserID)
		}
	}
}

// =============================================================================
// 止损触发队列
// =============================================================================

// ParkStop 挂入止损触发队列
func (ob *OrderBook) ParkStop(order *Order) {
	order.Status = OrderStatusPending
	ob.stops = append(ob.stops, order)
}

// removeStop 从触发队列移除
func (ob *OrderBook) removeStop(orderID int64) *Order {
	for i, s := range ob.stops {
		if s.ID == orderID {
			ob.stops = append(ob.stops[:i], ob.stops[i+1:]...)
			return s
		}
	}
	return nil
}

// PopTriggeredStops 弹出所有已触发的止损单（按入队顺序）
// 买入止损：最新价 >= 触发价；卖出止损：最新价 <= 触发价
func (ob *OrderBook) PopTriggeredStops() []*Order {
	if len(ob.stops) == 0 || ob.LastPrice == 0 {
		return nil
	}

	var triggered []*Order
	remain := ob.stops[:0]
	for _, s := range ob.stops {
		if ob.stopTriggered(s) {
			triggered = append(triggered, s)
		} else {
			remain = append(remain, s)
		}
	}
	ob.stops = remain
	return triggered
}

func (ob *OrderBook) stopTriggered(order *Order) bool {
	if order.Side == SideBuy {
		return ob.LastPrice >= order.StopPrice
	}
	return ob.LastPrice <= order.StopPrice
}

// =============================================================================
// 撮合辅助方法（无锁）
// =============================================================================

// GetOppositeIndex 获取对手盘索引
func (ob *OrderBook) GetOppositeIndex(side Side) PriceIndex {
	if side == SideBuy {
		return ob.asks
	}
	return ob.bids
}

// getSideIndex 获取对应方向的价格索引
func (ob *OrderBook) getSideIndex(side Side) PriceIndex {
	if side == SideBuy {
		return ob.bids
	}
	return ob.asks
}

// RecordTrade 成交后更新行情统计
func (ob *OrderBook) RecordTrade(price, qty int64) {
	ob.LastPrice = price
	if ob.HighPrice == 0 || price > ob.HighPrice {
		ob.HighPrice = price
	}
	if ob.LowPrice == 0 || price < ob.LowPrice {
		ob.LowPrice = price
	}
	ob.Volume += qty
}

// NextTradeID 分配下一个成交 ID
func (ob *OrderBook) NextTradeID() int64 {
	ob.tradeSeq++
	return ob.tradeSeq
}

// =============================================================================
// 快照机制（无锁读）
// =============================================================================

// UpdateSnapshot 更新深度快照
// 【无锁】仅由写线程调用，撮合后执行
func (ob *OrderBook) UpdateSnapshot() {
	snap := &DepthSnapshot{
		LastPrice: ob.LastPrice,
		BidLevels: ob.bids.Len(),
		AskLevels: ob.asks.Len(),
		BidDepth:  ob.getDepth(ob.bids, 20),
		AskDepth:  ob.getDepth(ob.asks, 20),
	}

	if node := ob.bids.First(); node != nil {
		snap.BestBid = node.GetPrice()
	}
	if node := ob.asks.First(); node != nil {
		snap.BestAsk = node.GetPrice()
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.Spread = snap.BestAsk - snap.BestBid
	}

	ob.snapshot.Store(snap)
}

// GetSnapshot 获取深度快照（无锁读）
// 【线程安全】可从任意 goroutine 调用
func (ob *OrderBook) GetSnapshot() *DepthSnapshot {
	return ob.snapshot.Load()
}

// getDepth 获取一侧的深度
func (ob *OrderBook) getDepth(index PriceIndex, n int) []DepthLevel {
	nodes := index.GetTopN(n)
	result := make([]DepthLevel, len(nodes))

	for i, node := range nodes {
		level := node.GetLevel()
		result[i] = DepthLevel{
			Price:    node.GetPrice(),
			Quantity: level.TotalQty,
			Orders:   level.Len(),
		}
	}

	return result
}

// BestBid 获取最优买价（从快照读取）
func (ob *OrderBook) BestBid() (int64, bool) {
	snap := ob.GetSnapshot()
	if snap.BestBid == 0 {
		return 0, false
	}
	return snap.BestBid, true
}

// BestAsk 获取最优卖价（从快照读取）
func (ob *OrderBook) BestAsk() (int64, bool) {
	snap := ob.GetSnapshot()
	if snap.BestAsk == 0 {
		return 0, false
	}
	return snap.BestAsk, true
}

// Depth 获取深度（从快照读取）
func (ob *OrderBook) Depth(n int) (bids, asks []DepthLevel) {
	snap := ob.GetSnapshot()

	if n > len(snap.BidDepth) {
		n = len(snap.BidDepth)
	}
	bids = snap.BidDepth[:n]

	m := n
	if m > len(snap.AskDepth) {
		m = len(snap.AskDepth)
	}
	asks = snap.AskDepth[:m]

	return bids, asks
}

// =============================================================================
// 快照镜像（全量导出/导入，供 SnapshotService 使用）
// =============================================================================

// BookImage 订单簿全量镜像
// 订单按「买盘价格优先 → 档位内 FIFO → 卖盘 → 止损队列」的确定顺序导出，
// 导入按同样顺序重建，保证镜像恢复后结构一致
type BookImage struct {
	Symbol    string   `json:"symbol"`
	Orders    []*Order `json:"orders"`
	Stops     []*Order `json:"stops"`
	LastPrice int64    `json:"last_price"`
	HighPrice int64    `json:"high_price"`
	LowPrice  int64    `json:"low_price"`
	Volume    int64    `json:"volume"`
	TradeSeq  int64    `json:"trade_seq"`
}

// Image 导出全量镜像
// 【注意】只能在两个命令之间调用，不允许观察到撮合中途状态
func (ob *OrderBook) Image() *BookImage {
	img := &BookImage{
		Symbol:    ob.Symbol,
		LastPrice: ob.LastPrice,
		HighPrice: ob.HighPrice,
		LowPrice:  ob.LowPrice,
		Volume:    ob.Volume,
		TradeSeq:  ob.tradeSeq,
	}

	collect := func(index PriceIndex) {
		index.ForEach(func(node PriceLevelNode) bool {
			node.GetLevel().ForEach(func(o *Order) {
				c := *o
				img.Orders = append(img.Orders, &c)
			})
			return true
		})
	}
	collect(ob.bids)
	collect(ob.asks)

	for _, s := range ob.stops {
		c := *s
		img.Stops = append(img.Stops, &c)
	}
	return img
}

// RestoreImage 从镜像重建订单簿
func (ob *OrderBook) RestoreImage(img *BookImage) {
	ob.Clear()
	ob.Symbol = img.Symbol
	ob.LastPrice = img.LastPrice
	ob.HighPrice = img.HighPrice
	ob.LowPrice = img.LowPrice
	ob.Volume = img.Volume
	ob.tradeSeq = img.TradeSeq

	for _, o := range img.Orders {
		c := *o
		ob.AddOrder(&c)
	}
	for _, s := range img.Stops {
		c := *s
		ob.ParkStop(&c)
	}
	ob.UpdateSnapshot()
}

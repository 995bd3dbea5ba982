package mtrade

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// 撮合器 (Matcher)
// =============================================================================
//
// 【面试核心】实现价格优先、时间优先的撮合算法
//
// 原子性约定：拒绝类检查（POST_ONLY 会吃单、FOK 深度不足、止损未触发）
// 全部发生在第一笔成交之前，整个订单转换要么完整生效、要么毫无副作用

var (
	// ErrPostOnlyWouldCross POST_ONLY 订单会立即成交
	ErrPostOnlyWouldCross = errors.New("post-only order would cross the book")

	// ErrFOKNotFillable FOK 订单无法全部成交
	ErrFOKNotFillable = errors.New("fok order cannot be fully filled")
)

// =============================================================================
// 对象池优化
// =============================================================================

// 【性能优化】MatchResult 对象池，减少内存分配
var matchResultPool = sync.Pool{
	New: func() interface{} {
		return &MatchResult{
			Trades: make([]Trade, 0, 8), // 预分配容量
		}
	},
}

// getMatchResult 从对象池获取 MatchResult
func getMatchResult() *MatchResult {
	result := matchResultPool.Get().(*MatchResult)
	// 重置状态
	result.Trades = result.Trades[:0]
	result.TakerOrder = nil
	result.FilledQty = 0
	result.RemainingQty = 0
	result.FullyFilled = false
	result.Rejected = false
	result.Err = nil
	return result
}

// PutMatchResult 归还 MatchResult 到对象池
// 【注意】调用者在使用完结果后应该调用此方法
func PutMatchResult(result *MatchResult) {
	if result != nil {
		matchResultPool.Put(result)
	}
}

// =============================================================================
// 撮合结果
// =============================================================================

// MatchResult 撮合结果
type MatchResult struct {
	Trades       []Trade // 成交记录
	TakerOrder   *Order  // Taker 订单（更新后）
	FilledQty    int64   // 本次成交总量
	RemainingQty int64   // 剩余未成交量
	FullyFilled  bool    // 是否完全成交
	Rejected     bool    // 整单被拒绝（无任何副作用）
	Err          error   // 拒绝原因
}

// =============================================================================
// 撮合器配置
// =============================================================================

// MatcherConfig 撮合约束（来自交易对配置）
type MatcherConfig struct {
	// MaxMarketDepth 市价单最多吃的价位档数，0 表示不限制
	MaxMarketDepth int

	// MaxSlippage 市价单允许的最大滑点（相对首个成交价位的偏离比例），
	// 零值表示不限制
	MaxSlippage decimal.Decimal

	// 手续费率
	MakerFeeRate decimal.Decimal
	TakerFeeRate decimal.Decimal
}

// DefaultMatcherConfig 默认撮合约束
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		MaxMarketDepth: 20,
		MaxSlippage:    decimal.NewFromFloat(0.05),
		MakerFeeRate:   decimal.NewFromFloat(0.0002),
		TakerFeeRate:   decimal.NewFromFloat(0.0005),
	}
}

// Matcher 撮合器
type Matcher struct {
	book *OrderBook
	cfg  MatcherConfig
}

// NewMatcher 创建撮合器
func NewMatcher(book *OrderBook, cfg MatcherConfig) *Matcher {
	return &Matcher{
		book: book,
		cfg:  cfg,
	}
}

// =============================================================================
// 订单处理入口
// =============================================================================

// Process 处理订单（完整流程）
// 【面试】根据订单类型决定撮合前检查和撮合后的行为
func (m *Matcher) Process(taker *Order, flag TradeFlag) *MatchResult {
	result := getMatchResult()
	result.TakerOrder = taker

	// 止损单：先入触发队列，不参与撮合
	if taker.Type.IsStop() {
		m.book.ParkStop(taker)
		result.RemainingQty = taker.RemainingQty()
		return result
	}

	// POST_ONLY：会吃单则整单拒绝，不碰订单簿
	if taker.Type == OrderTypePostOnly && m.wouldCross(taker) {
		taker.Status = OrderStatusRejected
		result.Rejected = true
		result.Err = ErrPostOnlyWouldCross
		return result
	}

	// FOK：撮合前做深度模拟，吃不满则整单拒绝
	if taker.Type == OrderTypeFOK && m.fillableQty(taker) < taker.RemainingQty() {
		taker.Status = OrderStatusRejected
		result.Rejected = true
		result.Err = ErrFOKNotFillable
		return result
	}

	// 撮合
	m.match(taker, result, flag)

	// 剩余量的处理
	if !result.FullyFilled {
		switch taker.Type {
		case OrderTypeLimit, OrderTypePostOnly:
			// 限价类：剩余挂单
			m.book.AddOrder(taker)

		case OrderTypeMarket, OrderTypeIOC, OrderTypeStop:
			// 市价/IOC：剩余取消
			taker.Status = OrderStatusCancelled

		case OrderTypeFOK:
			// 深度模拟保证了 FOK 到这里必然完全成交
			taker.Status = OrderStatusCancelled
		}
	}

	return result
}

// ProcessTriggered 处理已触发的止损单
// STOP 按市价撮合，STOP_LIMIT 按限价撮合
func (m *Matcher) ProcessTriggered(order *Order, flag TradeFlag) *MatchResult {
	result := getMatchResult()
	result.TakerOrder = order

	m.match(order, result, flag)

	if !result.FullyFilled {
		if order.Type == OrderTypeStopLimit {
			m.book.AddOrder(order)
		} else {
			order.Status = OrderStatusCancelled
		}
	}
	return result
}

// =============================================================================
// 核心撮合逻辑
// =============================================================================

// match 撮合订单
// 【面试高频】这是最核心的函数
//
// 流程：
// 1. 获取对手盘最优价位
// 2. 价格优先、时间优先逐档撮合
// 3. 更新订单状态和行情统计
func (m *Matcher) match(taker *Order, result *MatchResult, flag TradeFlag) {
	oppositeIndex := m.book.GetOppositeIndex(taker.Side)

	var (
		levelsUsed int   // 市价单已吃的档数
		refPrice   int64 // 滑点基准价（首个成交价位）
	)

	for taker.RemainingQty() > 0 {
		bestNode := oppositeIndex.First()
		if bestNode == nil {
			break // 对手盘空了
		}

		levelPrice := bestNode.GetPrice()
		if !m.canMatch(taker, levelPrice) {
			break // 价格不匹配
		}

		// 市价单深度/滑点约束
		if taker.IsMarket() {
			levelsUsed++
			if m.cfg.MaxMarketDepth > 0 && levelsUsed > m.cfg.MaxMarketDepth {
				break
			}
			if refPrice == 0 {
				refPrice = levelPrice
			} else if m.exceedsSlippage(refPrice, levelPrice) {
				break
			}
		}

		// 撮合这个价位
		m.matchAtLevel(taker, bestNode.GetLevel(), result, flag)

		// 如果价位空了，删除它
		if bestNode.GetLevel().IsEmpty() {
			oppositeIndex.Delete(levelPrice)
		}
	}

	// 更新结果
	result.FilledQty = taker.FilledQty
	result.RemainingQty = taker.RemainingQty()
	result.FullyFilled = taker.IsFilled()

	// 更新 Taker 状态
	if taker.IsFilled() {
		taker.Status = OrderStatusFilled
	} else if taker.FilledQty > 0 {
		taker.Status = OrderStatusPartiallyFilled
	}
}

// canMatch 检查价格是否可以成交
// 【面试】买单：买价 >= 卖价；卖单：卖价 <= 买价
func (m *Matcher) canMatch(taker *Order, makerPrice int64) bool {
	if taker.IsMarket() {
		return true // 市价单总是可以成交（深度/滑点另行约束）
	}

	if taker.Side == SideBuy {
		return taker.Price >= makerPrice
	}
	return taker.Price <= makerPrice
}

// exceedsSlippage 价位是否超出滑点上限
func (m *Matcher) exceedsSlippage(refPrice, levelPrice int64) bool {
	if m.cfg.MaxSlippage.IsZero() {
		return false
	}
	diff := levelPrice - refPrice
	if diff < 0 {
		diff = -diff
	}
	deviation := FromFixed(diff).Div(FromFixed(refPrice))
	return deviation.GreaterThan(m.cfg.MaxSlippage)
}

// matchAtLevel 在一个价位上撮合
// 【面试】时间优先：FIFO 队列
func (m *Matcher) matchAtLevel(taker *Order, level *RingPriceLevel, result *MatchResult, flag TradeFlag) {
	for taker.RemainingQty() > 0 && !level.IsEmpty() {
		// 队首订单（最早的 Maker）
		maker := level.Front()

		// 成交数量 = 双方剩余量的较小值
		matchQty := min(taker.RemainingQty(), maker.RemainingQty())

		// 更新订单
		taker.FilledQty += matchQty
		maker.FilledQty += matchQty
		level.ReduceQty(matchQty)

		// 生成成交记录（成交价 = Maker 价格）
		result.Trades = append(result.Trades, m.buildTrade(taker, maker, matchQty, flag))

		// 更新行情统计
		m.book.RecordTrade(maker.Price, matchQty)

		// 如果 Maker 完全成交，从队列和索引移除
		if maker.IsFilled() {
			maker.Status = OrderStatusFilled
			level.PopFront()
			m.book.removeFilledFront(maker)
		} else {
			maker.Status = OrderStatusPartiallyFilled
		}
	}
}

// buildTrade 构建成交记录（含成交额和双边手续费）
func (m *Matcher) buildTrade(taker, maker *Order, qty int64, flag TradeFlag) Trade {
	amount := FromFixed(maker.Price).Mul(FromFixed(qty))

	return Trade{
		ID:           m.book.NextTradeID(),
		Symbol:       taker.Symbol,
		Price:        maker.Price,
		Qty:          qty,
		TakerOrderID: taker.ID,
		MakerOrderID: maker.ID,
		TakerUserID:  taker.UserID,
		MakerUserID:  maker.UserID,
		TakerSide:    taker.Side,
		TakerAction:  taker.Action,
		MakerAction:  maker.Action,
		Flag:         flag,
		Amount:       amount,
		TakerFee:     amount.Mul(m.cfg.TakerFeeRate).Round(DecimalScale),
		MakerFee:     amount.Mul(m.cfg.MakerFeeRate).Round(DecimalScale),
		Timestamp:    taker.CreatedAt, // 取命令时间，保证重放确定性
	}
}

// =============================================================================
// 深度模拟（FOK 前置检查）
// =============================================================================

// fillableQty 模拟撮合，返回当前深度下最多能吃到的数量
// 【面试】FOK 必须在撮合前判断，避免部分成交后回滚
func (m *Matcher) fillableQty(taker *Order) int64 {
	oppositeIndex := m.book.GetOppositeIndex(taker.Side)

	var (
		available  int64
		levelsUsed int
		refPrice   int64
	)

	oppositeIndex.ForEach(func(node PriceLevelNode) bool {
		levelPrice := node.GetPrice()
		if !m.canMatch(taker, levelPrice) {
			return false
		}
		if taker.IsMarket() {
			levelsUsed++
			if m.cfg.MaxMarketDepth > 0 && levelsUsed > m.cfg.MaxMarketDepth {
				return false
			}
			if refPrice == 0 {
				refPrice = levelPrice
			} else if m.exceedsSlippage(refPrice, levelPrice) {
				return false
			}
		}
		available += node.GetLevel().TotalQty
		return available < taker.RemainingQty()
	})

	return available
}

// wouldCross 检查订单是否会立即成交（POST_ONLY 前置检查）
func (m *Matcher) wouldCross(taker *Order) bool {
	bestNode := m.book.GetOppositeIndex(taker.Side).First()
	if bestNode == nil {
		return false
	}
	return m.canMatch(taker, bestNode.GetPrice())
}

// min 返回较小值
func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

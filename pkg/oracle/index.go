// 文件: pkg/oracle/index.go
// 指数价格源 - 多喂价源取中位数
//
// 最新成交价容易被操控，强平依据的指数价取多个外部喂价源
// 的中位数，单一源异常不影响结果。超时的喂价不参与计算

package oracle

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoFreshFeeds 没有未超时的喂价
var ErrNoFreshFeeds = errors.New("oracle: no fresh price feeds")

// DefaultFeedTimeout 喂价超时时长
const DefaultFeedTimeout = 30 * time.Second

type feedPrice struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// IndexSource 指数价格源
type IndexSource struct {
	mu sync.RWMutex
	// symbol → feed 名 → 喂价
	feeds   map[string]map[string]*feedPrice
	timeout time.Duration

	// onUpdate 指数价变化回调（挂监控器的行情触发，可为 nil）
	onUpdate func(symbol string, price decimal.Decimal)

	now func() time.Time
}

// NewIndexSource 创建指数价格源
func NewIndexSource(timeout time.Duration) *IndexSource {
	if timeout <= 0 {
		timeout = DefaultFeedTimeout
	}
	return &IndexSource{
		feeds:   make(map[string]map[string]*feedPrice),
		timeout: timeout,
		now:     time.Now,
	}
}

// OnUpdate 设置指数价变化回调
func (s *IndexSource) OnUpdate(fn func(symbol string, price decimal.Decimal)) {
	s.onUpdate = fn
}

// UpdateFeed 更新某个喂价源的价格
func (s *IndexSource) UpdateFeed(symbol, feed string, price decimal.Decimal) {
	s.mu.Lock()
	if s.feeds[symbol] == nil {
		s.feeds[symbol] = make(map[string]*feedPrice)
	}
	s.feeds[symbol][feed] = &feedPrice{price: price, updatedAt: s.now()}
	index, err := s.medianLocked(symbol)
	s.mu.Unlock()

	if err == nil && s.onUpdate != nil {
		s.onUpdate(symbol, index)
	}
}

// IndexPrice 当前指数价（未超时喂价的中位数）
func (s *IndexSource) IndexPrice(symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.medianLocked(symbol)
}

func (s *IndexSource) medianLocked(symbol string) (decimal.Decimal, error) {
	now := s.now()

	var prices []decimal.Decimal
	for _, fp := range s.feeds[symbol] {
		if now.Sub(fp.updatedAt) > s.timeout {
			continue
		}
		prices = append(prices, fp.price)
	}
	if len(prices) == 0 {
		return decimal.Zero, ErrNoFreshFeeds
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })
	mid := len(prices) / 2
	if len(prices)%2 == 0 {
		return prices[mid-1].Add(prices[mid]).Div(decimal.NewFromInt(2)), nil
	}
	return prices[mid], nil
}

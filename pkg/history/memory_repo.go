// 文件: pkg/history/memory_repo.go
// 内存版成交仓库，测试和单机模式使用

package history

import (
	"context"
	"errors"
	"sync"
)

// ErrFillNotFound 成交不存在
var ErrFillNotFound = errors.New("history: fill not found")

type MemoryFillRepository struct {
	mu    sync.RWMutex
	fills []*Fill
}

var _ FillRepository = (*MemoryFillRepository)(nil)

func NewMemoryFillRepository() *MemoryFillRepository {
	return &MemoryFillRepository{}
}

func (r *MemoryFillRepository) Save(_ context.Context, fills []*Fill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, fills...)
	return nil
}

func (r *MemoryFillRepository) GetByTradeID(_ context.Context, symbol string, tradeID int64) (*Fill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.fills {
		if f.Symbol == symbol && f.TradeID == tradeID {
			c := *f
			return &c, nil
		}
	}
	return nil, ErrFillNotFound
}

func (r *MemoryFillRepository) GetByUser(_ context.Context, userID int64, symbol string, limit int) ([]*Fill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*Fill
	// 新的在前，与 MySQL 实现的 timestamp DESC 一致
	for i := len(r.fills) - 1; i >= 0 && len(result) < limit; i-- {
		f := r.fills[i]
		if f.TakerUserID != userID && f.MakerUserID != userID {
			continue
		}
		if symbol != "" && f.Symbol != symbol {
			continue
		}
		c := *f
		result = append(result, &c)
	}
	return result, nil
}

func (r *MemoryFillRepository) GetBySymbol(_ context.Context, symbol string, limit int) ([]*Fill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*Fill
	for i := len(r.fills) - 1; i >= 0 && len(result) < limit; i-- {
		if r.fills[i].Symbol != symbol {
			continue
		}
		c := *r.fills[i]
		result = append(result, &c)
	}
	return result, nil
}

// Len 已落库成交数
func (r *MemoryFillRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fills)
}

// 文件: pkg/position/store.go
// 持仓内存存储
//
// 【设计】引擎写线程独占访问，无锁
// 快照导出按 (UserID, Symbol) 排序，保证序列化结果可复现

package position

import (
	"sort"
)

// Key 持仓主键
type Key struct {
	UserID int64
	Symbol string
}

// Store 持仓存储（无锁，仅由写线程访问）
type Store struct {
	positions map[Key]*Position
}

// NewStore 创建持仓存储
func NewStore() *Store {
	return &Store{
		positions: make(map[Key]*Position),
	}
}

// Get 获取持仓
func (s *Store) Get(userID int64, symbol string) *Position {
	return s.positions[Key{UserID: userID, Symbol: symbol}]
}

// GetOrCreate 获取持仓，不存在则创建
func (s *Store) GetOrCreate(userID int64, symbol string, side Side, mode Mode, leverage int32) *Position {
	key := Key{UserID: userID, Symbol: symbol}
	if p, ok := s.positions[key]; ok {
		return p
	}
	p := New(userID, symbol, side, mode, leverage)
	s.positions[key] = p
	return p
}

// Put 写入持仓（快照恢复用）
func (s *Store) Put(p *Position) {
	s.positions[Key{UserID: p.UserID, Symbol: p.Symbol}] = p
}

// Remove 删除持仓
func (s *Store) Remove(userID int64, symbol string) {
	delete(s.positions, Key{UserID: userID, Symbol: symbol})
}

// Len 持仓数量
func (s *Store) Len() int {
	return len(s.positions)
}

// Clear 清空全部持仓
func (s *Store) Clear() {
	s.positions = make(map[Key]*Position)
}

// =============================================================================
// 查询
// =============================================================================

// ByUser 获取用户的全部持仓
func (s *Store) ByUser(userID int64) []*Position {
	var result []*Position
	for key, p := range s.positions {
		if key.UserID == userID {
			result = append(result, p)
		}
	}
	sortPositions(result)
	return result
}

// BySymbol 获取交易对的全部持仓
func (s *Store) BySymbol(symbol string) []*Position {
	var result []*Position
	for key, p := range s.positions {
		if key.Symbol == symbol {
			result = append(result, p)
		}
	}
	sortPositions(result)
	return result
}

// CrossByUser 获取用户的全仓持仓
func (s *Store) CrossByUser(userID int64) []*Position {
	var result []*Position
	for key, p := range s.positions {
		if key.UserID == userID && p.Mode == ModeCross {
			result = append(result, p)
		}
	}
	sortPositions(result)
	return result
}

// All 获取全部持仓（确定顺序，供快照导出）
func (s *Store) All() []*Position {
	result := make([]*Position, 0, len(s.positions))
	for _, p := range s.positions {
		result = append(result, p)
	}
	sortPositions(result)
	return result
}

// Restore 从快照批量恢复（深拷贝）
func (s *Store) Restore(positions []*Position) {
	s.Clear()
	for _, p := range positions {
		c := *p
		s.Put(&c)
	}
}

// sortPositions 按 (UserID, Symbol) 排序，保证遍历顺序可复现
func sortPositions(positions []*Position) {
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].UserID != positions[j].UserID {
			return positions[i].UserID < positions[j].UserID
		}
		return positions[i].Symbol < positions[j].Symbol
	})
}

// 文件: pkg/snapshot/snapshot.go
// 引擎全量快照
//
// 快照只允许在两个命令之间构建：命令循环是单写线程，
// 两个命令之间不存在撮合中途状态，导出即一致。
// 恢复顺序固定：清空 → 交易对配置 → 订单簿 → 仓位 → 挂单元数据 → 日志偏移 → 命令水位，
// 先有配置再有订单，先有订单再有仓位依赖的行情

package snapshot

import (
	"errors"
	"fmt"
	"sort"

	"mex.com/pkg/eventlog"
	"mex.com/pkg/mtrade"
	"mex.com/pkg/position"
	"mex.com/pkg/symbol"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrInvalid  = errors.New("snapshot: validation failed")
	ErrNotFound = errors.New("snapshot: not found")
)

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot 引擎全量快照
// 所有切片按确定顺序导出，同一状态产出的快照字节级一致
type Snapshot struct {
	ID            int64 `json:"id"`              // 快照序号（递增）
	LastCommandID int64 `json:"last_command_id"` // 已执行到的命令水位
	Timestamp     int64 `json:"timestamp"`       // 构建时间（毫秒）

	Registry   *symbol.RegistryImage          `json:"registry"`
	Books      []*mtrade.BookImage            `json:"books"` // 按 symbol 排序
	Positions  []*position.Position           `json:"positions"`
	OrderMetas map[int64]OrderMeta            `json:"order_metas,omitempty"`
	Offsets    map[string]eventlog.OffsetPair `json:"offsets"`
}

// OrderMeta 挂单的结算元数据
// 订单成交时持仓行可能已被移除，保证金模式和杠杆必须随订单保存
type OrderMeta struct {
	Mode     position.Mode `json:"mode"`
	Leverage int32         `json:"leverage"`
}

// =============================================================================
// 构建
// =============================================================================

// StateSource 快照的状态来源（引擎实现）
type StateSource interface {
	// LastCommandID 已执行到的命令水位
	LastCommandID() int64

	// Registry 交易对注册表
	Registry() *symbol.Registry

	// Books 全部订单簿
	Books() map[string]*mtrade.OrderBook

	// Positions 仓位存储
	Positions() *position.Store

	// OrderMetas 挂单的结算元数据
	OrderMetas() map[int64]OrderMeta

	// LogOffsets 外部日志偏移量表
	LogOffsets() *eventlog.OffsetTable
}

// Build 构建快照
// 【注意】必须在命令循环内、两个命令之间调用
func Build(id int64, src StateSource, now int64) *Snapshot {
	snap := &Snapshot{
		ID:            id,
		LastCommandID: src.LastCommandID(),
		Timestamp:     now,
		Registry:      src.Registry().Image(),
		Positions:     src.Positions().All(),
		OrderMetas:    src.OrderMetas(),
		Offsets:       src.LogOffsets().Export(),
	}

	books := src.Books()
	symbols := make([]string, 0, len(books))
	for sym := range books {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		snap.Books = append(snap.Books, books[sym].Image())
	}

	return snap
}

// =============================================================================
// 校验
// =============================================================================

// Validate 结构校验
// 启动恢复前调用；校验失败视为致命错误，进程应终止而不是带坏状态运行
func (s *Snapshot) Validate() error {
	if s.LastCommandID < 0 {
		return fmt.Errorf("%w: negative command watermark %d", ErrInvalid, s.LastCommandID)
	}
	if s.Registry == nil {
		return fmt.Errorf("%w: missing registry", ErrInvalid)
	}

	known := make(map[string]bool, len(s.Registry.Specs))
	for _, spec := range s.Registry.Specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("%w: spec %s: %v", ErrInvalid, spec.Symbol, err)
		}
		known[spec.Symbol] = true
	}

	seen := make(map[string]bool, len(s.Books))
	for _, img := range s.Books {
		if img.Symbol == "" {
			return fmt.Errorf("%w: book with empty symbol", ErrInvalid)
		}
		if seen[img.Symbol] {
			return fmt.Errorf("%w: duplicate book %s", ErrInvalid, img.Symbol)
		}
		seen[img.Symbol] = true
		if !known[img.Symbol] {
			return fmt.Errorf("%w: book %s has no spec", ErrInvalid, img.Symbol)
		}
		for _, o := range img.Orders {
			if o.Price <= 0 || o.Qty <= 0 || o.FilledQty < 0 || o.FilledQty > o.Qty {
				return fmt.Errorf("%w: book %s order %d corrupt", ErrInvalid, img.Symbol, o.ID)
			}
		}
	}

	for _, p := range s.Positions {
		if p.Qty.IsNegative() {
			return fmt.Errorf("%w: position %d/%s negative qty", ErrInvalid, p.UserID, p.Symbol)
		}
		if p.Locked.IsNegative() || p.Locked.GreaterThan(p.Qty) {
			return fmt.Errorf("%w: position %d/%s locked out of range", ErrInvalid, p.UserID, p.Symbol)
		}
	}

	for topic, pair := range s.Offsets {
		if pair.Committed > pair.Current {
			return fmt.Errorf("%w: topic %s committed ahead of current", ErrInvalid, topic)
		}
	}

	return nil
}

// =============================================================================
// 恢复
// =============================================================================

// StateSink 快照恢复目标（引擎实现）
type StateSink interface {
	// ResetState 清空全部内存态
	ResetState()

	// RestoreRegistry 恢复交易对注册表
	RestoreRegistry(img *symbol.RegistryImage)

	// RestoreBook 恢复一个订单簿
	RestoreBook(img *mtrade.BookImage)

	// RestorePositions 恢复全部仓位
	RestorePositions(positions []*position.Position)

	// RestoreOrderMetas 恢复挂单的结算元数据
	RestoreOrderMetas(metas map[int64]OrderMeta)

	// RestoreLogOffsets 恢复日志偏移
	RestoreLogOffsets(offsets map[string]eventlog.OffsetPair)

	// SetCommandWatermark 设置命令水位，重放从水位+1开始
	SetCommandWatermark(id int64)
}

// Restore 把快照灌回引擎
// 调用方需先 Validate，恢复过程中引擎不得接收命令
func Restore(snap *Snapshot, sink StateSink) {
	sink.ResetState()
	sink.RestoreRegistry(snap.Registry)
	for _, img := range snap.Books {
		sink.RestoreBook(img)
	}
	sink.RestorePositions(snap.Positions)
	sink.RestoreOrderMetas(snap.OrderMetas)
	sink.RestoreLogOffsets(snap.Offsets)
	sink.SetCommandWatermark(snap.LastCommandID)
}

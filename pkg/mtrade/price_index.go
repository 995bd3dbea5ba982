// 文件: pkg/mtrade/price_index.go
// 价格索引抽象
//
// 订单簿只依赖这组接口组织价格档位，当前实现是跳表；
// 换成红黑树或 B 树只需替换实现，订单簿一行不改

package mtrade

// PriceLevelNode 价格档位节点
// 一个节点对应一个价格，档位内的订单按到达顺序排队
type PriceLevelNode interface {
	// GetPrice 节点价格
	GetPrice() int64

	// GetLevel 该价格下的订单队列
	GetLevel() *RingPriceLevel
}

// PriceIndex 订单簿一侧的价格索引
// 买盘按价格降序、卖盘按价格升序，First 永远是最优价
type PriceIndex interface {
	// Find 查找指定价格的节点，不存在返回 nil
	Find(price int64) PriceLevelNode

	// Insert 插入价格档位，已存在时返回现有节点
	Insert(price int64) PriceLevelNode

	// Delete 删除价格档位，返回被删节点，不存在返回 nil
	Delete(price int64) PriceLevelNode

	// First 最优价节点，空索引返回 nil
	First() PriceLevelNode

	// Len 价格档位数量
	Len() int

	// IsEmpty 是否没有任何档位
	IsEmpty() bool

	// ForEach 从最优价开始遍历，fn 返回 false 时停止
	ForEach(fn func(PriceLevelNode) bool)

	// GetTopN 最优的前 N 个档位（盘口深度用）
	GetTopN(n int) []PriceLevelNode
}

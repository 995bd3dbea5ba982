// 文件: pkg/seq/snowflake.go
// 雪花算法 ID 生成器
// 使用开源库: github.com/bwmarrin/snowflake
//
// 【与命令 ID 的区别】
// - 命令 ID (Sequencer): 严格连续递增，决定重放顺序
// - 订单/成交 ID (雪花): 全局唯一即可，随命令载荷一起落日志，
//   重放时不重新生成，保证确定性

package seq

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	initOnce sync.Once
)

// InitSnowflake 初始化雪花算法
// nodeID: 节点ID (0-1023)
func InitSnowflake(nodeID int64) error {
	var err error
	initOnce.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// GenerateID 生成订单/成交 ID
func GenerateID() int64 {
	if node == nil {
		// 未初始化则使用默认节点0
		InitSnowflake(0)
	}
	return node.Generate().Int64()
}

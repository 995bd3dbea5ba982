// 文件: pkg/seq/sequencer.go
// 命令序列号发生器
//
// 【设计】
// - 每个改变状态的命令分配一个全局唯一、严格递增的命令 ID
// - 命令 ID 是重放顺序的唯一依据
// - 显式持有、显式注入，不做进程级静态变量（方便恢复时 Set 水位）

package seq

// =============================================================================
// Sequencer 命令序列号
// =============================================================================

// Sequencer 命令 ID 发生器
// 【无锁】仅由引擎写线程单线程调用
type Sequencer struct {
	current int64
}

// NewSequencer 创建序列号发生器，初始值 0（首个命令 ID 为 1）
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next 分配下一个命令 ID
func (s *Sequencer) Next() int64 {
	s.current++
	return s.current
}

// Current 当前已分配的最大命令 ID
func (s *Sequencer) Current() int64 {
	return s.current
}

// Set 设置水位（快照恢复后调用）
// 下一个 Next 返回 id+1
func (s *Sequencer) Set(id int64) {
	s.current = id
}

// Reset 归零
func (s *Sequencer) Reset() {
	s.current = 0
}

// 文件: pkg/eventlog/appender.go
// 事件日志追加接口与内存实现

package eventlog

import (
	"errors"
	"sync"
)

// ErrClosed 日志已关闭
var ErrClosed = errors.New("eventlog: appender closed")

// Appender 事件日志追加接口
// 引擎只依赖这个接口，Kafka 实现和内存实现可互换
type Appender interface {
	// Append 追加一条消息，返回该 topic 的新 current 偏移。
	// 异步实现里返回即表示已入发送队列，确认通过 Offsets 观察
	Append(topic, key string, value []byte) (int64, error)

	// Offsets 偏移量表
	Offsets() *OffsetTable

	// Close 关闭，等待在途消息确认
	Close() error
}

// =============================================================================
// MemoryLog - 内存日志
// =============================================================================

// MemoryLog 内存事件日志
// 测试和单机模式使用；消息追加即确认
type MemoryLog struct {
	mu      sync.RWMutex
	records map[string][][]byte
	offsets *OffsetTable
	closed  bool
}

var _ Appender = (*MemoryLog)(nil)

// NewMemoryLog 创建内存日志
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		records: make(map[string][][]byte),
		offsets: NewOffsetTable(),
	}
}

// Append 追加消息（同步确认）
func (l *MemoryLog) Append(topic, _ string, value []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}

	c := make([]byte, len(value))
	copy(c, value)
	l.records[topic] = append(l.records[topic], c)

	offset := l.offsets.Advance(topic)
	l.offsets.Commit(topic, offset)
	return offset, nil
}

// Offsets 偏移量表
func (l *MemoryLog) Offsets() *OffsetTable {
	return l.offsets
}

// Close 关闭日志
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Read 从指定偏移开始读取（偏移从 1 开始计）
func (l *MemoryLog) Read(topic string, from int64) [][]byte {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := l.records[topic]
	if from < 1 {
		from = 1
	}
	if from > int64(len(records)) {
		return nil
	}

	result := make([][]byte, 0, int64(len(records))-from+1)
	for _, r := range records[from-1:] {
		c := make([]byte, len(r))
		copy(c, r)
		result = append(result, c)
	}
	return result
}

// Len 某 topic 的消息数
func (l *MemoryLog) Len(topic string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records[topic])
}

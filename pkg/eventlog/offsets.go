// 文件: pkg/eventlog/offsets.go
// 外部日志偏移量跟踪
//
// 每个逻辑 topic 维护两个单调递增的偏移量：
//   current   已写入的最新偏移
//   committed 已确认落盘的偏移
// pending = current - committed，两者相等即为一致状态。
// 恢复时从快照里的 committed 偏移重新订阅

package eventlog

import (
	"sort"
	"sync"
)

// 三个逻辑 topic
const (
	TopicMatchResults = "match-results" // 撮合结果
	TopicSnapshots    = "snapshots"     // 快照
	TopicStateChanges = "state-changes" // 状态变更事件
)

// AllTopics 全部逻辑 topic（固定顺序）
var AllTopics = []string{TopicMatchResults, TopicSnapshots, TopicStateChanges}

// OffsetPair 一个 topic 的偏移对
type OffsetPair struct {
	Current   int64 `json:"current"`
	Committed int64 `json:"committed"`
}

// Pending 未确认数量
func (p OffsetPair) Pending() int64 {
	return p.Current - p.Committed
}

// Consistent 是否全部确认
func (p OffsetPair) Consistent() bool {
	return p.Current == p.Committed
}

// =============================================================================
// OffsetTable - 偏移量表
// =============================================================================

// OffsetTable 各 topic 的偏移量表
// 写入方和确认回调在不同 goroutine，需要加锁
type OffsetTable struct {
	mu      sync.RWMutex
	offsets map[string]*OffsetPair
}

// NewOffsetTable 创建偏移量表
func NewOffsetTable() *OffsetTable {
	t := &OffsetTable{
		offsets: make(map[string]*OffsetPair),
	}
	for _, topic := range AllTopics {
		t.offsets[topic] = &OffsetPair{}
	}
	return t
}

func (t *OffsetTable) pair(topic string) *OffsetPair {
	p, ok := t.offsets[topic]
	if !ok {
		p = &OffsetPair{}
		t.offsets[topic] = p
	}
	return p
}

// Advance 写入一条消息，current+1，返回新偏移
func (t *OffsetTable) Advance(topic string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.pair(topic)
	p.Current++
	return p.Current
}

// Commit 确认到指定偏移（只前进不后退）
func (t *OffsetTable) Commit(topic string, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.pair(topic)
	if offset > p.Committed {
		p.Committed = offset
	}
}

// Get 读取偏移对
func (t *OffsetTable) Get(topic string) OffsetPair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.offsets[topic]; ok {
		return *p
	}
	return OffsetPair{}
}

// Pending 某 topic 的未确认数量
func (t *OffsetTable) Pending(topic string) int64 {
	return t.Get(topic).Pending()
}

// Consistent 所有 topic 是否都已确认
func (t *OffsetTable) Consistent() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.offsets {
		if !p.Consistent() {
			return false
		}
	}
	return true
}

// Export 导出全表（topic 名排序，供快照）
func (t *OffsetTable) Export() map[string]OffsetPair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make(map[string]OffsetPair, len(t.offsets))
	for topic, p := range t.offsets {
		result[topic] = *p
	}
	return result
}

// Restore 从快照恢复
func (t *OffsetTable) Restore(offsets map[string]OffsetPair) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offsets = make(map[string]*OffsetPair, len(offsets))
	for topic, p := range offsets {
		c := p
		t.offsets[topic] = &c
	}
}

// Topics 已知 topic 列表（排序）
func (t *OffsetTable) Topics() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	topics := make([]string, 0, len(t.offsets))
	for topic := range t.offsets {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

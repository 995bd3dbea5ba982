// 文件: pkg/replay/replay.go
// 事件重放器
//
// 崩溃恢复 = 最新快照 + 从命令水位之后重放状态变更事件。
// 规则：
//   - 严格按命令 ID 升序应用，水位之前的 ID 直接跳过（天然幂等）
//   - 乱序到达的事件先缓存，等前驱补齐后连续应用
//   - 缓存超限仍未补齐视为日志断档，致命错误，不允许带缺口运行

package replay

import (
	"encoding/json"
	"errors"
	"fmt"

	"mex.com/pkg/eventlog"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	// ErrGap 日志断档：缺失的事件在允许窗口内没有补齐
	ErrGap = errors.New("replay: event log gap")

	// ErrDecode 事件反序列化失败
	ErrDecode = errors.New("replay: decode event")
)

// =============================================================================
// Replayer
// =============================================================================

// Applier 事件应用目标（引擎实现）
// 重放期间引擎不接收实时命令，Apply 在恢复线程串行调用
type Applier interface {
	Apply(event *eventlog.StateChangeEvent) error
}

// Config 重放配置
type Config struct {
	// MaxBuffered 乱序缓存上限，超过即判定断档
	MaxBuffered int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{MaxBuffered: 1024}
}

// Replayer 事件重放器
type Replayer struct {
	applier   Applier
	cfg       Config
	watermark int64 // 已应用到的命令 ID

	// 乱序缓存: CommandID → 事件
	buffered map[int64]*eventlog.StateChangeEvent

	appliedCount int64
	skippedCount int64
}

// NewReplayer 创建重放器，watermark 取快照里的命令水位
func NewReplayer(applier Applier, watermark int64, cfg Config) *Replayer {
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = DefaultConfig().MaxBuffered
	}
	return &Replayer{
		applier:   applier,
		cfg:       cfg,
		watermark: watermark,
		buffered:  make(map[int64]*eventlog.StateChangeEvent),
	}
}

// Feed 投喂一条事件
func (r *Replayer) Feed(event *eventlog.StateChangeEvent) error {
	id := event.CommandID

	// 水位之前的事件已经体现在快照里，跳过
	if id <= r.watermark {
		r.skippedCount++
		return nil
	}

	if id == r.watermark+1 {
		if err := r.apply(event); err != nil {
			return err
		}
		return r.drain()
	}

	// 乱序：先缓存等前驱
	r.buffered[id] = event
	if len(r.buffered) > r.cfg.MaxBuffered {
		return fmt.Errorf("%w: %d events buffered waiting for command %d",
			ErrGap, len(r.buffered), r.watermark+1)
	}
	return nil
}

// FeedRaw 投喂一条序列化的事件
func (r *Replayer) FeedRaw(data []byte) error {
	var event eventlog.StateChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return r.Feed(&event)
}

// drain 连续应用缓存中已就绪的事件
func (r *Replayer) drain() error {
	for {
		next, ok := r.buffered[r.watermark+1]
		if !ok {
			return nil
		}
		delete(r.buffered, next.CommandID)
		if err := r.apply(next); err != nil {
			return err
		}
	}
}

func (r *Replayer) apply(event *eventlog.StateChangeEvent) error {
	if err := r.applier.Apply(event); err != nil {
		return fmt.Errorf("apply command %d: %w", event.CommandID, err)
	}
	r.watermark = event.CommandID
	r.appliedCount++
	return nil
}

// Finish 日志读完后收尾
// 缓存里还有事件说明中间存在永远补不齐的缺口
func (r *Replayer) Finish() error {
	if len(r.buffered) > 0 {
		return fmt.Errorf("%w: command %d missing, %d events stranded",
			ErrGap, r.watermark+1, len(r.buffered))
	}
	return nil
}

// Watermark 已应用到的命令 ID
func (r *Replayer) Watermark() int64 {
	return r.watermark
}

// Stats 重放统计
type Stats struct {
	Applied  int64
	Skipped  int64
	Buffered int
}

// GetStats 获取统计
func (r *Replayer) GetStats() Stats {
	return Stats{
		Applied:  r.appliedCount,
		Skipped:  r.skippedCount,
		Buffered: len(r.buffered),
	}
}

// =============================================================================
// 便捷入口
// =============================================================================

// Run 从内存日志重放全部状态变更事件
// 单机模式和测试使用；生产环境从 Kafka 消费后逐条 FeedRaw
func Run(memlog *eventlog.MemoryLog, applier Applier, watermark int64) (int64, error) {
	r := NewReplayer(applier, watermark, DefaultConfig())
	for _, data := range memlog.Read(eventlog.TopicStateChanges, 1) {
		if err := r.FeedRaw(data); err != nil {
			return r.watermark, err
		}
	}
	if err := r.Finish(); err != nil {
		return r.watermark, err
	}
	return r.watermark, nil
}

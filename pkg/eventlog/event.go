// 文件: pkg/eventlog/event.go
// 状态变更事件

package eventlog

import (
	"encoding/json"
	"fmt"
)

// StateChangeEvent 状态变更事件（追加写，不可变）
// 重放的基本单元：载荷带着命令 ID，按 ID 升序回放即可重建状态
type StateChangeEvent struct {
	CommandID int64           `json:"command_id"`
	EventType string          `json:"event_type"` // 命令类型名
	Payload   json.RawMessage `json:"payload"`    // 原始命令载荷
	Result    json.RawMessage `json:"result"`     // 执行结果
	Success   bool            `json:"success"`
	Timestamp int64           `json:"timestamp"`
}

// Topic 实现 kafka 消息接口
func (e *StateChangeEvent) Topic() string {
	return TopicStateChanges
}

// Key 同一引擎实例的事件全部路由到同一分区，保证顺序
func (e *StateChangeEvent) Key() string {
	return "engine"
}

// Value 序列化消息体
func (e *StateChangeEvent) Value() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal state change event: %w", err)
	}
	return data, nil
}

// 文件: pkg/history/mirror.go
// 成交历史镜像 - 消费撮合结果事件，落库成交明细
//
// 引擎把成交按交易对分组发到 match-results topic，
// 镜像服务作为独立消费者组订阅，写入 MySQL。
// 镜像只追加：同一条成交重复消费时靠 (symbol, trade_id) 幂等去重

package history

import (
	"context"
	"encoding/json"
	"log"

	"mex.com/pkg/eventlog"
	"mex.com/pkg/notify"
)

// Mirror 成交历史镜像
type Mirror struct {
	repo FillRepository
}

// NewMirror 创建镜像服务
func NewMirror(repo FillRepository) *Mirror {
	return &Mirror{repo: repo}
}

// Handler 返回事件日志消费回调
func (m *Mirror) Handler() eventlog.MessageHandler {
	return func(topic string, _ int32, offset int64, _, value []byte) error {
		if topic != eventlog.TopicMatchResults {
			return nil
		}
		if err := m.handleNotice(context.Background(), value); err != nil {
			log.Printf("[history] mirror failed: offset=%d err=%v", offset, err)
			return err
		}
		return nil
	}
}

// handleNotice 处理一条成交通知
func (m *Mirror) handleNotice(ctx context.Context, data []byte) error {
	var notice notify.TradeNotice
	if err := json.Unmarshal(data, &notice); err != nil {
		return err
	}
	if len(notice.Trades) == 0 {
		return nil
	}

	fills := make([]*Fill, 0, len(notice.Trades))
	for i := range notice.Trades {
		// 重复消费检查：已存在的 trade_id 跳过
		if _, err := m.repo.GetByTradeID(ctx, notice.Symbol, notice.Trades[i].ID); err == nil {
			continue
		}
		fills = append(fills, NewFill(&notice.Trades[i]))
	}
	return m.repo.Save(ctx, fills)
}

// NewConsumer 创建订阅 match-results 的 Kafka 消费者
func (m *Mirror) NewConsumer(brokers []string) (*eventlog.Consumer, error) {
	cfg := eventlog.DefaultConsumerConfig(brokers, "history-mirror",
		[]string{eventlog.TopicMatchResults})
	return eventlog.NewConsumer(cfg, m.Handler())
}

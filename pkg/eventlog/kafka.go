// 文件: pkg/eventlog/kafka.go
// Kafka 事件日志实现
//
// 特点:
// - 异步发送，批量刷盘（N 条或 T 毫秒先到者触发），撮合路径不等待 I/O
// - 成功回执推进 committed 偏移，失败带退避重发
// - 优雅关闭

package eventlog

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// =============================================================================
// 配置
// =============================================================================

// KafkaConfig Kafka 日志配置
type KafkaConfig struct {
	Brokers        []string      // broker 地址列表
	RequiredAcks   int           // 确认模式: 0=不等待, 1=leader确认, -1=全部确认
	Compression    string        // 压缩方式: none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration // 批量刷新间隔
	FlushMessages  int           // 批量消息数
	MaxRetries     int           // 发送失败最大重试次数
	RetryBackoff   time.Duration // 重试退避基数
}

// DefaultKafkaConfig 默认配置
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:        brokers,
		RequiredAcks:   1,
		Compression:    "snappy",
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     3,
		RetryBackoff:   200 * time.Millisecond,
	}
}

// =============================================================================
// KafkaLog
// =============================================================================

// KafkaLog Kafka 事件日志
type KafkaLog struct {
	producer sarama.AsyncProducer
	config   KafkaConfig
	offsets  *OffsetTable

	// 统计
	sentCount  atomic.Int64
	errorCount atomic.Int64

	// 生命周期
	closed atomic.Bool
	wg     sync.WaitGroup
}

var _ Appender = (*KafkaLog)(nil)

// NewKafkaLog 创建 Kafka 日志
func NewKafkaLog(cfg KafkaConfig) (*KafkaLog, error) {
	saramaConfig := sarama.NewConfig()

	switch cfg.RequiredAcks {
	case 0:
		saramaConfig.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	default:
		saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch cfg.Compression {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	// 批量：N 条或 T 毫秒先到者触发刷盘
	saramaConfig.Producer.Flush.Frequency = cfg.FlushFrequency
	saramaConfig.Producer.Flush.Messages = cfg.FlushMessages
	saramaConfig.Producer.Retry.Max = cfg.MaxRetries
	saramaConfig.Producer.Retry.Backoff = cfg.RetryBackoff

	// 成功回执用于推进 committed 偏移
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	l := &KafkaLog{
		producer: producer,
		config:   cfg,
		offsets:  NewOffsetTable(),
	}

	l.wg.Add(2)
	go l.handleSuccesses()
	go l.handleErrors()

	return l, nil
}

// Append 追加消息（异步）
// 返回的偏移是本地逻辑偏移，确认后经回执推进 committed
func (l *KafkaLog) Append(topic, key string, value []byte) (int64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}

	offset := l.offsets.Advance(topic)

	l.producer.Input() <- &sarama.ProducerMessage{
		Topic:    topic,
		Key:      sarama.StringEncoder(key),
		Value:    sarama.ByteEncoder(value),
		Metadata: offset,
	}
	l.sentCount.Add(1)

	return offset, nil
}

// Offsets 偏移量表
func (l *KafkaLog) Offsets() *OffsetTable {
	return l.offsets
}

// =============================================================================
// 回执处理
// =============================================================================

func (l *KafkaLog) handleSuccesses() {
	defer l.wg.Done()

	for msg := range l.producer.Successes() {
		if offset, ok := msg.Metadata.(int64); ok {
			l.offsets.Commit(msg.Topic, offset)
		}
	}
}

func (l *KafkaLog) handleErrors() {
	defer l.wg.Done()

	for err := range l.producer.Errors() {
		l.errorCount.Add(1)
		// sarama 已按 Retry.Max 重试过，到这里是最终失败。
		// committed 不前进，Consistent() 会持续报告不一致，由上层告警
		log.Printf("[eventlog] send failed after retries: topic=%s err=%v", err.Msg.Topic, err.Err)
	}
}

// =============================================================================
// 统计与生命周期
// =============================================================================

// KafkaStats 统计信息
type KafkaStats struct {
	SentCount  int64
	ErrorCount int64
}

// Stats 获取统计信息
func (l *KafkaLog) Stats() KafkaStats {
	return KafkaStats{
		SentCount:  l.sentCount.Load(),
		ErrorCount: l.errorCount.Load(),
	}
}

// Close 关闭生产者，等待在途消息回执
func (l *KafkaLog) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	err := l.producer.Close()
	l.wg.Wait()
	return err
}

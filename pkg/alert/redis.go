// 文件: pkg/alert/redis.go
// Redis 版告警管理器
//
// 冷却去重用 SetNX：键存在说明冷却中，写入失败即抑制。
// 多实例监控器共享同一套冷却键，不会重复告警。
// 最近告警用 List：LPUSH + LTRIM 保留最新 N 条

package alert

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recentKey     = "risk:alert:recent"
	recentUserKey = "risk:alert:user:" // + userID
)

type RedisManager struct {
	client   *redis.Client
	cooldown time.Duration
}

var _ Manager = (*RedisManager)(nil)

func NewRedisManager(addr string, cooldown time.Duration) *RedisManager {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisManager{client: rdb, cooldown: cooldown}
}

func (m *RedisManager) Record(ctx context.Context, a RiskAlert) (bool, error) {
	// SetNX: 键不存在则设置成功；存在说明冷却中
	allowed, err := m.client.SetNX(ctx, a.cooldownKey(), "1", m.cooldown).Result()
	if err != nil {
		return false, err
	}
	if !allowed {
		return false, nil
	}

	data, err := json.Marshal(a)
	if err != nil {
		return false, err
	}

	pipe := m.client.Pipeline()
	pipe.LPush(ctx, recentKey, data)
	pipe.LTrim(ctx, recentKey, 0, maxRecent-1)
	userKey := recentUserKey + strconv.FormatInt(a.UserID, 10)
	pipe.LPush(ctx, userKey, data)
	pipe.LTrim(ctx, userKey, 0, maxRecent-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (m *RedisManager) Recent(ctx context.Context, limit int) ([]RiskAlert, error) {
	return m.readList(ctx, recentKey, limit)
}

func (m *RedisManager) RecentByUser(ctx context.Context, userID int64, limit int) ([]RiskAlert, error) {
	return m.readList(ctx, recentUserKey+strconv.FormatInt(userID, 10), limit)
}

func (m *RedisManager) readList(ctx context.Context, key string, limit int) ([]RiskAlert, error) {
	items, err := m.client.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]RiskAlert, 0, len(items))
	for _, item := range items {
		var a RiskAlert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue // 坏记录跳过，不让一条脏数据拖垮查询
		}
		result = append(result, a)
	}
	return result, nil
}

// Close 关闭 Redis 连接
func (m *RedisManager) Close() error {
	return m.client.Close()
}

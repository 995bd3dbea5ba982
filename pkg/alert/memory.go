// 文件: pkg/alert/memory.go
// 内存版告警管理器，测试和单机模式使用

package alert

import (
	"context"
	"sync"
	"time"
)

// maxRecent 最近告警保留条数
const maxRecent = 1000

// DefaultCooldown 默认冷却时长
const DefaultCooldown = 60 * time.Second

type MemoryManager struct {
	mu       sync.Mutex
	cooldown time.Duration
	expires  map[string]time.Time // cooldownKey → 冷却到期时间
	recent   []RiskAlert          // 新的在前

	now func() time.Time
}

var _ Manager = (*MemoryManager)(nil)

func NewMemoryManager(cooldown time.Duration) *MemoryManager {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &MemoryManager{
		cooldown: cooldown,
		expires:  make(map[string]time.Time),
		now:      time.Now,
	}
}

func (m *MemoryManager) Record(_ context.Context, a RiskAlert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := a.cooldownKey()
	if expiry, ok := m.expires[key]; ok && now.Before(expiry) {
		return false, nil
	}
	m.expires[key] = now.Add(m.cooldown)

	m.recent = append([]RiskAlert{a}, m.recent...)
	if len(m.recent) > maxRecent {
		m.recent = m.recent[:maxRecent]
	}
	return true, nil
}

func (m *MemoryManager) Recent(_ context.Context, limit int) ([]RiskAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit > len(m.recent) {
		limit = len(m.recent)
	}
	result := make([]RiskAlert, limit)
	copy(result, m.recent[:limit])
	return result, nil
}

func (m *MemoryManager) RecentByUser(_ context.Context, userID int64, limit int) ([]RiskAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []RiskAlert
	for _, a := range m.recent {
		if a.UserID != userID {
			continue
		}
		result = append(result, a)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// 文件: pkg/snapshot/store.go
// 快照存储
//
// Redis 实现存 JSON 序列化的整包快照，保留最近 N 份历史，
// latest 指针单独一个 key，崩溃恢复只读 latest

package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store 快照存储接口
type Store interface {
	// Save 保存快照并更新 latest 指针
	Save(ctx context.Context, snap *Snapshot) error

	// Latest 读取最新快照，不存在返回 ErrNotFound
	Latest(ctx context.Context) (*Snapshot, error)

	// Get 按快照序号读取
	Get(ctx context.Context, id int64) (*Snapshot, error)
}

// =============================================================================
// RedisStore
// =============================================================================

const (
	snapKeyLatest  = "engine:snapshot:latest"
	snapKeyByID    = "engine:snapshot:id:%d"
	snapKeyHistory = "engine:snapshot:history"

	// 保留的历史快照数量
	defaultKeepHistory = 5

	snapTTL = 7 * 24 * time.Hour
)

// 确保实现了接口
var _ Store = (*RedisStore)(nil)

// RedisStore Redis 快照存储
type RedisStore struct {
	redis *redis.Client
	keep  int64
}

// NewRedisStore 创建 Redis 快照存储
func NewRedisStore(rds *redis.Client) *RedisStore {
	return &RedisStore{
		redis: rds,
		keep:  defaultKeepHistory,
	}
}

// Save 保存快照
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot %d: %w", snap.ID, err)
	}

	key := fmt.Sprintf(snapKeyByID, snap.ID)
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, key, data, snapTTL)
	pipe.Set(ctx, snapKeyLatest, data, 0) // latest 不过期
	pipe.LPush(ctx, snapKeyHistory, snap.ID)
	pipe.LTrim(ctx, snapKeyHistory, 0, s.keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot %d: %w", snap.ID, err)
	}
	return nil
}

// Latest 读取最新快照
func (s *RedisStore) Latest(ctx context.Context) (*Snapshot, error) {
	data, err := s.redis.Get(ctx, snapKeyLatest).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}
	return decode(data)
}

// Get 按序号读取快照
func (s *RedisStore) Get(ctx context.Context, id int64) (*Snapshot, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf(snapKeyByID, id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %d: %w", id, err)
	}
	return decode(data)
}

func decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &snap, nil
}

// =============================================================================
// MemoryStore
// =============================================================================

// 确保实现了接口
var _ Store = (*MemoryStore)(nil)

// MemoryStore 内存快照存储（测试和单机模式）
// 同样走 JSON 编解码，保证与 Redis 实现的序列化行为一致
type MemoryStore struct {
	blobs  map[int64][]byte
	latest int64
	has    bool
}

// NewMemoryStore 创建内存快照存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[int64][]byte)}
}

// Save 保存快照
func (s *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot %d: %w", snap.ID, err)
	}
	s.blobs[snap.ID] = data
	s.latest = snap.ID
	s.has = true
	return nil
}

// Latest 读取最新快照
func (s *MemoryStore) Latest(_ context.Context) (*Snapshot, error) {
	if !s.has {
		return nil, ErrNotFound
	}
	return decode(s.blobs[s.latest])
}

// Get 按序号读取快照
func (s *MemoryStore) Get(_ context.Context, id int64) (*Snapshot, error) {
	data, ok := s.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

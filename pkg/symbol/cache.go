// 文件: pkg/symbol/cache.go
// 交易对规格 Redis 缓存层
//
// 【设计模式】装饰器模式
// - 包装底层 Repository，透明添加缓存能力
//
// 【缓存策略】
// - 读: 先查 Redis，miss 则查 DB 并回填
// - 写: 先写 DB，成功后删除缓存 (Cache Aside)

package symbol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 确保实现了接口
var _ Repository = (*CachedRepository)(nil)

const (
	// 缓存 Key 前缀
	cacheKeyPrefix = "symbol:spec:"

	// 单个交易对: symbol:spec:one:{symbol}
	cacheKeyOne = cacheKeyPrefix + "one:%s"

	// 可交易列表: symbol:spec:trading
	cacheKeyTradingList = cacheKeyPrefix + "trading"

	// 缓存过期时间
	cacheTTL = 24 * time.Hour

	// 列表缓存过期时间 (较短，状态可能变化)
	listCacheTTL = 5 * time.Minute
)

// CachedRepository Redis 缓存装饰器
type CachedRepository struct {
	repo  Repository
	redis *redis.Client
}

// NewCachedRepository 创建带缓存的 Repository
func NewCachedRepository(repo Repository, rds *redis.Client) *CachedRepository {
	return &CachedRepository{
		repo:  repo,
		redis: rds,
	}
}

// =============================================================================
// 读操作 (带缓存)
// =============================================================================

// GetBySymbol 根据 symbol 查询 (带缓存)
func (r *CachedRepository) GetBySymbol(ctx context.Context, symbol string) (*Spec, error) {
	cacheKey := fmt.Sprintf(cacheKeyOne, symbol)

	data, err := r.redis.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var spec Spec
		if json.Unmarshal(data, &spec) == nil {
			return &spec, nil // Cache hit
		}
	}

	spec, err := r.repo.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	// 回填缓存 (异步，不阻塞主流程)
	go r.setCache(context.Background(), cacheKey, spec, cacheTTL)

	return spec, nil
}

// ListByStatus 按状态查询 (只缓存 Trading 列表)
func (r *CachedRepository) ListByStatus(ctx context.Context, status Status) ([]*Spec, error) {
	if status != StatusTrading {
		return r.repo.ListByStatus(ctx, status)
	}

	data, err := r.redis.Get(ctx, cacheKeyTradingList).Bytes()
	if err == nil {
		var specs []*Spec
		if json.Unmarshal(data, &specs) == nil {
			return specs, nil
		}
	}

	specs, err := r.repo.ListByStatus(ctx, StatusTrading)
	if err != nil {
		return nil, err
	}

	go r.setCacheList(context.Background(), cacheKeyTradingList, specs, listCacheTTL)

	return specs, nil
}

// List 列出未下线的交易对（不缓存）
func (r *CachedRepository) List(ctx context.Context) ([]*Spec, error) {
	return r.repo.List(ctx)
}

// =============================================================================
// 写操作 (写穿 + 删缓存)
// =============================================================================

// Create 创建交易对
func (r *CachedRepository) Create(ctx context.Context, spec *Spec) error {
	if err := r.repo.Create(ctx, spec); err != nil {
		return err
	}
	// 新增可能影响列表缓存
	r.redis.Del(ctx, cacheKeyTradingList)
	return nil
}

// Update 更新交易对
func (r *CachedRepository) Update(ctx context.Context, spec *Spec) error {
	if err := r.repo.Update(ctx, spec); err != nil {
		return err
	}
	r.invalidate(ctx, spec.Symbol)
	return nil
}

// UpdateStatus 状态转移
func (r *CachedRepository) UpdateStatus(ctx context.Context, symbol string, from, to Status) error {
	if err := r.repo.UpdateStatus(ctx, symbol, from, to); err != nil {
		return err
	}
	r.invalidate(ctx, symbol)
	return nil
}

// =============================================================================
// 缓存操作
// =============================================================================

func (r *CachedRepository) setCache(ctx context.Context, key string, spec *Spec, ttl time.Duration) {
	data, err := json.Marshal(spec)
	if err != nil {
		return
	}
	r.redis.Set(ctx, key, data, ttl)
}

func (r *CachedRepository) setCacheList(ctx context.Context, key string, specs []*Spec, ttl time.Duration) {
	data, err := json.Marshal(specs)
	if err != nil {
		return
	}
	r.redis.Set(ctx, key, data, ttl)
}

func (r *CachedRepository) invalidate(ctx context.Context, symbol string) {
	r.redis.Del(ctx, fmt.Sprintf(cacheKeyOne, symbol))
	r.redis.Del(ctx, cacheKeyTradingList)
}

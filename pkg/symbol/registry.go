// 文件: pkg/symbol/registry.go
// 引擎内交易对注册表
//
// 写操作只来自引擎写线程，读操作可能来自风险监控等其他 goroutine，
// 因此仍然加读写锁。规格和风险限额分开绑定：
// 规格决定怎么撮合，风险限额决定怎么算风险，两者齐备才可交易

package symbol

import (
	"sort"
	"sync"

	"mex.com/pkg/risk"
)

// Registry 交易对注册表
type Registry struct {
	mu          sync.RWMutex
	specs       map[string]*Spec
	riskConfigs map[string]*risk.SymbolRiskLimitConfig
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		specs:       make(map[string]*Spec),
		riskConfigs: make(map[string]*risk.SymbolRiskLimitConfig),
	}
}

// Add 注册交易对
func (r *Registry) Add(spec *Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Symbol]; exists {
		return ErrSymbolExists
	}
	r.specs[spec.Symbol] = spec
	return nil
}

// Get 查询规格
func (r *Registry) Get(symbol string) *Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs[symbol]
}

// SetStatus 状态转移
func (r *Registry) SetStatus(symbol string, to Status, now int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	spec, ok := r.specs[symbol]
	if !ok {
		return ErrSymbolNotFound
	}
	if !spec.Status.CanTransition(to) {
		return ErrInvalidTransition
	}

	spec.Status = to
	spec.UpdatedAt = now
	if to == StatusTrading && spec.ListedAt == 0 {
		spec.ListedAt = now
	}
	return nil
}

// AttachRiskConfig 绑定风险限额配置
func (r *Registry) AttachRiskConfig(cfg *risk.SymbolRiskLimitConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[cfg.Symbol]; !ok {
		return ErrSymbolNotFound
	}
	r.riskConfigs[cfg.Symbol] = cfg
	return nil
}

// RiskConfig 查询风险限额配置，未绑定返回 nil
func (r *Registry) RiskConfig(symbol string) *risk.SymbolRiskLimitConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.riskConfigs[symbol]
}

// IsTradeable 是否可交易: TRADING 状态且已绑定风险限额
func (r *Registry) IsTradeable(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[symbol]
	if !ok || spec.Status != StatusTrading {
		return false
	}
	_, hasRisk := r.riskConfigs[symbol]
	return hasRisk
}

// List 全部交易对（按 symbol 排序）
func (r *Registry) List() []*Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]*Spec, 0, len(r.specs))
	for _, s := range r.specs {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Symbol < specs[j].Symbol })
	return specs
}

// Len 交易对数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

// =============================================================================
// 快照镜像
// =============================================================================

// RegistryImage 注册表全量镜像（按 symbol 排序，保证确定性）
type RegistryImage struct {
	Specs       []*Spec                       `json:"specs"`
	RiskConfigs []*risk.SymbolRiskLimitConfig `json:"risk_configs"`
}

// Image 导出全量镜像
// 风险限额配置绑定后视为不可变，浅拷贝即可
func (r *Registry) Image() *RegistryImage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	img := &RegistryImage{
		Specs:       make([]*Spec, 0, len(r.specs)),
		RiskConfigs: make([]*risk.SymbolRiskLimitConfig, 0, len(r.riskConfigs)),
	}
	for _, s := range r.specs {
		c := *s
		img.Specs = append(img.Specs, &c)
	}
	for _, cfg := range r.riskConfigs {
		c := *cfg
		img.RiskConfigs = append(img.RiskConfigs, &c)
	}

	sort.Slice(img.Specs, func(i, j int) bool { return img.Specs[i].Symbol < img.Specs[j].Symbol })
	sort.Slice(img.RiskConfigs, func(i, j int) bool { return img.RiskConfigs[i].Symbol < img.RiskConfigs[j].Symbol })
	return img
}

// RestoreImage 从镜像重建注册表
func (r *Registry) RestoreImage(img *RegistryImage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.specs = make(map[string]*Spec, len(img.Specs))
	r.riskConfigs = make(map[string]*risk.SymbolRiskLimitConfig, len(img.RiskConfigs))
	for _, s := range img.Specs {
		c := *s
		r.specs[c.Symbol] = &c
	}
	for _, cfg := range img.RiskConfigs {
		c := *cfg
		r.riskConfigs[c.Symbol] = &c
	}
}

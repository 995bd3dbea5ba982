// 文件: pkg/liquidation/monitor.go
// 风险监控器
//
// 引擎之外的后台监控：维护高风险用户索引，按等级定频复查，
// 发现需要强平的用户时向引擎提交一条 LIQUIDATION 命令。
// 监控器自己绝不改状态——所有仓位变更都必须走命令序列，
// 这样重放时不依赖监控器的触发时机
//
// 检查频率：
//   WARNING   每 5 秒
//   DANGER    每 2 秒
//   EMERGENCY 每 500ms + 行情触发

package liquidation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"mex.com/pkg/position"
	"mex.com/pkg/risk"
)

// =============================================================================
// 配置常量
// =============================================================================

const (
	CheckIntervalWarning   = 5 * time.Second
	CheckIntervalDanger    = 2 * time.Second
	CheckIntervalEmergency = 500 * time.Millisecond
)

// =============================================================================
// 依赖接口
// =============================================================================

// RiskOracle 外部风险预言机
// 指数价、余额、汇总保证金由外部服务计算，监控器只消费
type RiskOracle interface {
	// Inputs 获取用户在某交易对上的风险输入
	Inputs(ctx context.Context, userID int64, symbol string) (risk.OracleInputs, error)
}

// Submitter 强平命令提交入口（引擎命令队列）
type Submitter interface {
	// SubmitLiquidation 提交强平请求，队列满返回 false
	SubmitLiquidation(cause Cause, userID int64, symbol string, in risk.OracleInputs) bool
}

// =============================================================================
// 用户风险索引
// =============================================================================

// watchEntry 被监控用户的风险快照
type watchEntry struct {
	UserID    int64
	Symbol    string
	Mode      position.Mode
	Ratio     decimal.Decimal
	Tier      risk.Tier
	UpdatedAt int64
}

// Monitor 风险监控器
type Monitor struct {
	oracle  RiskOracle
	submit  Submitter
	configs ConfigSource
	recalc  *risk.Recalculator

	// onTierChange 等级变化回调（告警服务挂载，可为 nil）
	onTierChange func(userID int64, symbol string, from, to risk.Tier, ratio decimal.Decimal)

	mu      sync.RWMutex
	entries map[position.Key]*watchEntry
	// symbol → 持有该交易对的被监控用户（行情触发用）
	bySymbol map[string]map[int64]struct{}

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor 创建风险监控器
func NewMonitor(oracle RiskOracle, submit Submitter, configs ConfigSource) *Monitor {
	return &Monitor{
		oracle:   oracle,
		submit:   submit,
		configs:  configs,
		recalc:   risk.NewRecalculator(),
		entries:  make(map[position.Key]*watchEntry),
		bySymbol: make(map[string]map[int64]struct{}),
	}
}

// OnTierChange 设置等级变化回调，Start 之前调用
func (m *Monitor) OnTierChange(fn func(userID int64, symbol string, from, to risk.Tier, ratio decimal.Decimal)) {
	m.onTierChange = fn
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动各等级检查器
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.startChecker(risk.TierWarning, CheckIntervalWarning)
	m.startChecker(risk.TierDanger, CheckIntervalDanger)
	m.startChecker(risk.TierEmergency, CheckIntervalEmergency)

	log.Println("[monitor] started")
}

// Stop 停止监控器
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.running = false
	log.Println("[monitor] stopped")
}

func (m *Monitor) startChecker(tier risk.Tier, interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.checkTier(tier)
			}
		}
	}()
}

// =============================================================================
// 事件入口
// =============================================================================

// OnPositionChanged 持仓变更回调（引擎发布的状态事件）
// 重新评估该持仓，决定进入/离开监控索引
func (m *Monitor) OnPositionChanged(ev *position.ChangedEvent) {
	if ev.Qty.IsZero() {
		m.remove(position.Key{UserID: ev.UserID, Symbol: ev.Symbol})
		return
	}
	m.reassess(ev.UserID, ev.Symbol, ev.Mode)
}

// OnPriceChange 行情回调：立即复查持有该交易对的紧急区用户
// 这是「毫秒级强平触发」的来源
func (m *Monitor) OnPriceChange(symbol string, _ decimal.Decimal) {
	m.mu.RLock()
	users := make([]int64, 0, len(m.bySymbol[symbol]))
	for userID := range m.bySymbol[symbol] {
		users = append(users, userID)
	}
	m.mu.RUnlock()

	for _, userID := range users {
		entry := m.get(position.Key{UserID: userID, Symbol: symbol})
		if entry == nil || entry.Tier < risk.TierEmergency {
			continue
		}
		m.reassess(userID, symbol, entry.Mode)
	}
}

// =============================================================================
// 检查与升降级
// =============================================================================

func (m *Monitor) checkTier(tier risk.Tier) {
	for _, entry := range m.snapshotTier(tier) {
		m.reassess(entry.UserID, entry.Symbol, entry.Mode)
	}
}

// reassess 重算一个持仓的风险，处理升降级和强平触发
func (m *Monitor) reassess(userID int64, symbol string, mode position.Mode) {
	cfg := m.configs.RiskConfig(symbol)
	if cfg == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	in, err := m.oracle.Inputs(ctx, userID, symbol)
	if err != nil {
		log.Printf("[monitor] oracle failed user=%d symbol=%s: %v", userID, symbol, err)
		return
	}

	// 预言机按模式给出汇总值：逐仓是本仓保证金/盈亏，全仓是账户级汇总
	ratio, err := risk.RiskRatio(in.TotalMargin, in.TotalUPnL)
	if err != nil {
		return
	}

	assess := m.recalc.EvaluateRatio(ratio, mode, cfg)
	key := position.Key{UserID: userID, Symbol: symbol}

	prevTier := risk.TierNormal
	if prev := m.get(key); prev != nil {
		prevTier = prev.Tier
	}

	switch {
	case assess.Tier == risk.TierNormal:
		m.remove(key)

	case assess.Tier == risk.TierLiquidation:
		// 提交强平命令后移出索引，等持仓变更事件重新评估
		if m.submit.SubmitLiquidation(CauseRiskExceeded, userID, symbol, in) {
			log.Printf("[monitor] liquidation submitted: user=%d symbol=%s ratio=%s", userID, symbol, ratio)
			m.remove(key)
		} else {
			log.Printf("[monitor] WARNING: submit queue full, user=%d symbol=%s", userID, symbol)
		}

	default:
		m.put(&watchEntry{
			UserID:    userID,
			Symbol:    symbol,
			Mode:      mode,
			Ratio:     ratio,
			Tier:      assess.Tier,
			UpdatedAt: time.Now().UnixNano(),
		})
	}

	if m.onTierChange != nil && assess.Tier != prevTier {
		m.onTierChange(userID, symbol, prevTier, assess.Tier, ratio)
	}
}

// =============================================================================
// 索引操作
// =============================================================================

func (m *Monitor) get(key position.Key) *watchEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[key]
}

func (m *Monitor) put(entry *watchEntry) {
	key := position.Key{UserID: entry.UserID, Symbol: entry.Symbol}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	if m.bySymbol[entry.Symbol] == nil {
		m.bySymbol[entry.Symbol] = make(map[int64]struct{})
	}
	m.bySymbol[entry.Symbol][entry.UserID] = struct{}{}
}

func (m *Monitor) remove(key position.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	if users, ok := m.bySymbol[key.Symbol]; ok {
		delete(users, key.UserID)
		if len(users) == 0 {
			delete(m.bySymbol, key.Symbol)
		}
	}
}

func (m *Monitor) snapshotTier(tier risk.Tier) []*watchEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*watchEntry
	for _, entry := range m.entries {
		if entry.Tier == tier {
			result = append(result, entry)
		}
	}
	return result
}

// =============================================================================
// 监控统计
// =============================================================================

// Stats 监控器统计
type Stats struct {
	Watched   int // 被监控持仓数
	Warning   int
	Danger    int
	Emergency int
}

// GetStats 获取统计信息
func (m *Monitor) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Watched: len(m.entries)}
	for _, entry := range m.entries {
		switch entry.Tier {
		case risk.TierWarning:
			stats.Warning++
		case risk.TierDanger:
			stats.Danger++
		case risk.TierEmergency:
			stats.Emergency++
		}
	}
	return stats
}

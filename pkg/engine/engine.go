// 文件: pkg/engine/engine.go
// 撮合与风险引擎
//
// 【核心设计】单写线程
// 所有状态变更命令经一个 channel 进入唯一的写线程，按命令 ID
// 串行执行；订单簿、持仓、风险处置全部在写线程内完成，无锁。
// 外部读取走命令循环（查询命令）或订单簿的原子深度快照。
//
// 架构：
//   Submit ──► cmdCh ──► commandLoop ──► eventlog / notify
//                              │
//                              └──► snapshotCh ──► snapshotWorker

package engine

import (
	"errors"
	"log"
	"sync"
	"time"

	"mex.com/pkg/eventlog"
	"mex.com/pkg/liquidation"
	"mex.com/pkg/mtrade"
	"mex.com/pkg/notify"
	"mex.com/pkg/position"
	"mex.com/pkg/risk"
	"mex.com/pkg/seq"
	"mex.com/pkg/snapshot"
	"mex.com/pkg/symbol"
)

// =============================================================================
// 配置
// =============================================================================

// Config 引擎配置
type Config struct {
	CommandQueueSize  int // 命令队列容量
	SnapshotQueueSize int // 快照持久化队列容量（满则拒绝快照命令）
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		CommandQueueSize:  10000,
		SnapshotQueueSize: 2,
	}
}

// ErrNotRunning 引擎未运行
var ErrNotRunning = errors.New("engine: not running")

// =============================================================================
// Engine
// =============================================================================

// Engine 撮合与风险引擎
type Engine struct {
	cfg Config

	// ===== 状态（写线程独占）=====
	sequencer *seq.Sequencer
	registry  *symbol.Registry
	books     map[string]*mtrade.OrderBook
	matchers  map[string]*mtrade.Matcher
	positions *position.Store
	snapSeq   int64 // 快照序号

	// 开仓挂单的结算元数据：订单成交时持仓行可能已被移除，
	// 保证金模式和杠杆随订单记录，订单离场时清理
	orderMetas map[int64]snapshot.OrderMeta

	// ===== 风险处置 =====
	liqService   *liquidation.Service
	orchestrator *liquidation.Orchestrator

	// ===== 外设 =====
	eventLog  eventlog.Appender
	notifier  notify.Notifier
	snapStore snapshot.Store

	// 持仓变更回调（风险监控器挂载，可为 nil）
	onPositionChanged func(*position.ChangedEvent)

	// ===== 命令循环 =====
	cmdCh      chan *Command
	snapshotCh chan *snapshot.Snapshot
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex // 只保护 running 标志

	now func() int64 // 毫秒时钟，测试可替换

	stats Stats
}

// Stats 引擎统计
type Stats struct {
	CommandsApplied int64
	OrdersReceived  int64
	OrdersRejected  int64
	OrdersCancelled int64
	TradesExecuted  int64
	StopsTriggered  int64
	Liquidations    int64
	SnapshotsTaken  int64
	SnapshotsDenied int64
}

// New 创建引擎
func New(cfg Config, eventLog eventlog.Appender, notifier notify.Notifier, snapStore snapshot.Store) *Engine {
	if cfg.CommandQueueSize <= 0 {
		cfg.CommandQueueSize = DefaultConfig().CommandQueueSize
	}
	if cfg.SnapshotQueueSize <= 0 {
		cfg.SnapshotQueueSize = DefaultConfig().SnapshotQueueSize
	}

	e := &Engine{
		cfg:        cfg,
		sequencer:  seq.NewSequencer(),
		registry:   symbol.NewRegistry(),
		books:      make(map[string]*mtrade.OrderBook),
		matchers:   make(map[string]*mtrade.Matcher),
		positions:  position.NewStore(),
		orderMetas: make(map[int64]snapshot.OrderMeta),
		eventLog:   eventLog,
		notifier:   notifier,
		snapStore:  snapStore,
		cmdCh:      make(chan *Command, cfg.CommandQueueSize),
		snapshotCh: make(chan *snapshot.Snapshot, cfg.SnapshotQueueSize),
		stopCh:     make(chan struct{}),
		now:        func() int64 { return time.Now().UnixMilli() },
	}

	e.liqService = liquidation.NewService(e, e.positions, e.registry, seq.GenerateID)
	e.orchestrator = liquidation.NewOrchestrator(e.liqService)
	return e
}

// OnPositionChanged 挂载持仓变更回调（启动前调用）
func (e *Engine) OnPositionChanged(fn func(*position.ChangedEvent)) {
	e.onPositionChanged = fn
}

// =============================================================================
// 交易对管理（启动阶段或恢复阶段调用，不走命令循环）
// =============================================================================

// RegisterSymbol 注册交易对：规格 + 风险限额 + 订单簿 + 撮合器
func (e *Engine) RegisterSymbol(spec *symbol.Spec, riskCfg *risk.SymbolRiskLimitConfig) error {
	if err := e.registry.Add(spec); err != nil {
		return err
	}
	if riskCfg != nil {
		if err := e.registry.AttachRiskConfig(riskCfg); err != nil {
			return err
		}
	}

	book := mtrade.NewOrderBook(spec.Symbol)
	e.books[spec.Symbol] = book
	e.matchers[spec.Symbol] = mtrade.NewMatcher(book, spec.MatcherConfig())
	return nil
}

// OpenSymbol 交易对上线
func (e *Engine) OpenSymbol(sym string) error {
	return e.registry.SetStatus(sym, symbol.StatusTrading, e.now())
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动命令循环和快照持久化线程
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})

	e.wg.Add(2)
	go e.commandLoop()
	go e.snapshotWorker()
	log.Println("[engine] started")
}

// Stop 停机：写线程执行完队列中 STOP 之前的命令后退出
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.Execute(StopCommand())
	e.wg.Wait()

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	log.Println("[engine] stopped")
}

// =============================================================================
// 命令提交
// =============================================================================

// Submit 异步提交命令，队列满返回 false
func (e *Engine) Submit(cmd *Command) bool {
	select {
	case e.cmdCh <- cmd:
		return true
	default:
		return false
	}
}

// Execute 同步执行命令，等待结果
func (e *Engine) Execute(cmd *Command) *Result {
	cmd.reply = make(chan *Result, 1)
	select {
	case e.cmdCh <- cmd:
	case <-e.stopCh:
		return &Result{Type: cmd.Type, Reason: ReasonStopped, Err: ErrNotRunning}
	}

	select {
	case result := <-cmd.reply:
		return result
	case <-e.stopCh:
		return &Result{Type: cmd.Type, Reason: ReasonStopped, Err: ErrNotRunning}
	}
}

// SubmitLiquidation 风险监控器的强平提交入口
func (e *Engine) SubmitLiquidation(cause liquidation.Cause, userID int64, sym string, in risk.OracleInputs) bool {
	return e.Submit(&Command{
		Type: CmdLiquidation,
		Liquidate: &LiquidatePayload{
			Cause:      cause,
			UserID:     userID,
			Symbol:     sym,
			IndexPrice: in.IndexPrice,
			Margin:     in.TotalMargin,
			UPnL:       in.TotalUPnL,
		},
	})
}

// =============================================================================
// 命令循环
// =============================================================================

func (e *Engine) commandLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return

		case cmd := <-e.cmdCh:
			if cmd.Type == CmdStop {
				if cmd.reply != nil {
					cmd.reply <- &Result{Type: CmdStop, Reason: ReasonOK}
				}
				close(e.stopCh)
				return
			}

			result := e.apply(cmd, true)
			if cmd.reply != nil {
				cmd.reply <- result
			}
		}
	}
}

// apply 执行一条命令
// record=true 时分配命令 ID 并落事件日志；重放路径传 false
func (e *Engine) apply(cmd *Command, record bool) *Result {
	mutating := cmd.Type.IsMutating()

	if mutating && record {
		cmd.ID = e.sequencer.Next()
		if cmd.Timestamp == 0 {
			cmd.Timestamp = e.now()
		}
	}

	// 载荷在执行前序列化：执行会原地更新订单状态，
	// 日志里必须是命令的输入而不是输出
	var payload []byte
	if mutating && record && e.eventLog != nil {
		payload = e.marshalPayload(cmd)
	}

	var result *Result
	switch cmd.Type {
	case CmdNewOrder:
		result = e.execNewOrder(cmd)
	case CmdCancelOrder:
		result = e.execCancel(cmd)
	case CmdClear:
		result = e.execClear(cmd)
	case CmdLiquidation:
		result = e.execLiquidation(cmd)
	case CmdSnapshot:
		result = e.execSnapshot(cmd)
	case CmdQueryOrder:
		result = e.execQueryOrder(cmd)
	case CmdQueryPosition:
		result = e.execQueryPosition(cmd)
	default:
		result = &Result{Reason: ReasonInternal}
	}

	result.CommandID = cmd.ID
	result.Type = cmd.Type
	e.stats.CommandsApplied++

	if mutating && record && e.eventLog != nil {
		e.logStateChange(cmd, result, payload)
		e.publishTrades(cmd, result)
	}

	return result
}

// =============================================================================
// MarketAccess 实现（强平服务通过它进撮合）
// =============================================================================

// Matcher 获取交易对的撮合器
func (e *Engine) Matcher(sym string) *mtrade.Matcher {
	return e.matchers[sym]
}

// Book 获取交易对的订单簿
func (e *Engine) Book(sym string) *mtrade.OrderBook {
	return e.books[sym]
}

// RiskConfig 风险限额配置
func (e *Engine) RiskConfig(sym string) *risk.SymbolRiskLimitConfig {
	return e.registry.RiskConfig(sym)
}

// =============================================================================
// 快照来源 / 恢复目标
// =============================================================================

// LastCommandID 已执行到的命令水位
func (e *Engine) LastCommandID() int64 {
	return e.sequencer.Current()
}

// Registry 交易对注册表
func (e *Engine) Registry() *symbol.Registry {
	return e.registry
}

// Books 全部订单簿
func (e *Engine) Books() map[string]*mtrade.OrderBook {
	return e.books
}

// Positions 仓位存储
func (e *Engine) Positions() *position.Store {
	return e.positions
}

// OrderMetas 导出挂单的结算元数据
func (e *Engine) OrderMetas() map[int64]snapshot.OrderMeta {
	out := make(map[int64]snapshot.OrderMeta, len(e.orderMetas))
	for id, m := range e.orderMetas {
		out[id] = m
	}
	return out
}

// LogOffsets 外部日志偏移量表
func (e *Engine) LogOffsets() *eventlog.OffsetTable {
	if e.eventLog == nil {
		return eventlog.NewOffsetTable()
	}
	return e.eventLog.Offsets()
}

// ResetState 清空全部内存态（恢复前调用）
func (e *Engine) ResetState() {
	e.sequencer.Reset()
	e.registry = symbol.NewRegistry()
	e.books = make(map[string]*mtrade.OrderBook)
	e.matchers = make(map[string]*mtrade.Matcher)
	e.positions.Clear()
	e.orderMetas = make(map[int64]snapshot.OrderMeta)
	e.liqService = liquidation.NewService(e, e.positions, e.registry, seq.GenerateID)
	e.orchestrator = liquidation.NewOrchestrator(e.liqService)
}

// RestoreRegistry 恢复交易对注册表
func (e *Engine) RestoreRegistry(img *symbol.RegistryImage) {
	e.registry.RestoreImage(img)
}

// RestoreBook 恢复订单簿并重建撮合器
func (e *Engine) RestoreBook(img *mtrade.BookImage) {
	book := mtrade.NewOrderBook(img.Symbol)
	book.RestoreImage(img)
	e.books[img.Symbol] = book

	cfg := mtrade.DefaultMatcherConfig()
	if spec := e.registry.Get(img.Symbol); spec != nil {
		cfg = spec.MatcherConfig()
	}
	e.matchers[img.Symbol] = mtrade.NewMatcher(book, cfg)
}

// RestorePositions 恢复全部仓位
func (e *Engine) RestorePositions(positions []*position.Position) {
	e.positions.Restore(positions)
}

// RestoreOrderMetas 恢复挂单的结算元数据
func (e *Engine) RestoreOrderMetas(metas map[int64]snapshot.OrderMeta) {
	e.orderMetas = make(map[int64]snapshot.OrderMeta, len(metas))
	for id, m := range metas {
		e.orderMetas[id] = m
	}
}

// RestoreLogOffsets 恢复日志偏移
func (e *Engine) RestoreLogOffsets(offsets map[string]eventlog.OffsetPair) {
	if e.eventLog != nil {
		e.eventLog.Offsets().Restore(offsets)
	}
}

// SetCommandWatermark 设置命令水位
func (e *Engine) SetCommandWatermark(id int64) {
	e.sequencer.Set(id)
}

// =============================================================================
// 重放
// =============================================================================

// Apply 实现重放接口：把日志里的事件重新执行一遍
// 重放期间引擎不得 Start；命令 ID 取日志值，不重新分配、不再落日志
func (e *Engine) Apply(event *eventlog.StateChangeEvent) error {
	cmd, err := decodeCommand(event)
	if err != nil {
		return err
	}

	e.apply(cmd, false)
	e.sequencer.Set(event.CommandID)
	return nil
}

// =============================================================================
// 快照持久化线程
// =============================================================================

func (e *Engine) snapshotWorker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return

		case snap := <-e.snapshotCh:
			e.persistSnapshot(snap)
		}
	}
}

func (e *Engine) persistSnapshot(snap *snapshot.Snapshot) {
	if e.snapStore == nil {
		return
	}
	ctx, cancel := snapshotContext()
	defer cancel()

	if err := e.snapStore.Save(ctx, snap); err != nil {
		log.Printf("[engine] snapshot %d save failed: %v", snap.ID, err)
		return
	}

	if e.eventLog != nil {
		record, err := marshalSnapshotRecord(snap)
		if err == nil {
			e.eventLog.Append(eventlog.TopicSnapshots, "engine", record)
		}
	}
	log.Printf("[engine] snapshot %d persisted (watermark=%d)", snap.ID, snap.LastCommandID)
}

// GetStats 引擎统计
func (e *Engine) GetStats() Stats {
	return e.stats
}

// Depth 无锁读深度
func (e *Engine) Depth(sym string, n int) (bids, asks []mtrade.DepthLevel) {
	book := e.books[sym]
	if book == nil {
		return nil, nil
	}
	return book.Depth(n)
}

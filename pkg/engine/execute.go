// 文件: pkg/engine/execute.go
// 命令执行（写线程内）
//
// 拒绝类结果在第一个状态变更之前返回：一条命令要么完整生效、
// 要么对状态毫无影响。平仓单在撮合前锁定持仓，成交逐笔解锁

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

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
// NEW_ORDER
// =============================================================================

func (e *Engine) execNewOrder(cmd *Command) *Result {
	p := cmd.Order
	order := p.Order
	e.stats.OrdersReceived++

	book := e.books[order.Symbol]
	matcher := e.matchers[order.Symbol]
	if book == nil || matcher == nil || !e.registry.IsTradeable(order.Symbol) {
		return e.rejectOrder(order, ReasonSymbolNotTradeable, nil)
	}

	spec := e.registry.Get(order.Symbol)
	if err := spec.CheckQty(order.Qty); err != nil {
		return e.rejectOrder(order, ReasonInvalidQty, err)
	}
	if reason, err := checkPrices(spec, order); !reason.OK() {
		return e.rejectOrder(order, reason, err)
	}

	riskCfg := e.registry.RiskConfig(order.Symbol)
	modeCfg := &riskCfg.Isolated
	if p.Mode == position.ModeCross {
		modeCfg = &riskCfg.Cross
	}
	if err := modeCfg.ValidateLeverage(order.Leverage); err != nil {
		return e.rejectOrder(order, ReasonLeverageViolation, err)
	}
	// 持仓已处于风险等级时，开仓杠杆按该等级的上限收紧
	if order.Action == mtrade.ActionOpen {
		if tier := e.positionTier(order.UserID, order.Symbol, riskCfg); tier != risk.TierNormal {
			if err := modeCfg.ValidateLeverageAt(tier, order.Leverage); err != nil {
				return e.rejectOrder(order, ReasonLeverageViolation, err)
			}
		}
	}

	if book.GetOrder(order.ID) != nil {
		return e.rejectOrder(order, ReasonDuplicateOrder, nil)
	}

	// 平仓单：锁定持仓，防止超平
	qty := mtrade.FromFixed(order.Qty)
	if order.Action == mtrade.ActionClose {
		pos := e.positions.Get(order.UserID, order.Symbol)
		if pos == nil || pos.IsEmpty() {
			return e.rejectOrder(order, ReasonPositionNotFound, nil)
		}
		if pos.Side != closedPositionSide(order.Side) {
			return e.rejectOrder(order, ReasonInsufficientPosition, position.ErrSideMismatch)
		}
		if err := pos.Lock(qty); err != nil {
			return e.rejectOrder(order, ReasonInsufficientPosition, err)
		}
	} else {
		// 开仓单：预建持仓，结算元数据随订单记录
		e.positions.GetOrCreate(order.UserID, order.Symbol,
			openedPositionSide(order.Side), p.Mode, order.Leverage)
		e.orderMetas[order.ID] = snapshot.OrderMeta{Mode: p.Mode, Leverage: order.Leverage}
	}

	matchResult := matcher.Process(order, mtrade.TradeFlagNormal)
	defer mtrade.PutMatchResult(matchResult)

	if matchResult.Rejected {
		delete(e.orderMetas, order.ID)
		if order.Action == mtrade.ActionClose {
			e.unlockRemaining(order)
		} else if pos := e.positions.Get(order.UserID, order.Symbol); pos != nil &&
			pos.IsEmpty() && pos.Locked.IsZero() && len(book.OrdersByUser(order.UserID)) == 0 {
			// 预建的空持仓没派上用场，清掉
			e.positions.Remove(order.UserID, order.Symbol)
		}
		reason := ReasonInternal
		switch matchResult.Err {
		case mtrade.ErrPostOnlyWouldCross:
			reason = ReasonPostOnlyWouldCross
		case mtrade.ErrFOKNotFillable:
			reason = ReasonFOKNotFillable
		}
		e.stats.OrdersRejected++
		return &Result{Reason: reason, Err: matchResult.Err, Order: order}
	}

	trades := append([]mtrade.Trade(nil), matchResult.Trades...)
	e.settleTrades(trades, cmd.Timestamp)

	// 市价/IOC 的剩余量已取消：把对应锁定量还回去
	if order.Status == mtrade.OrderStatusCancelled && order.Action == mtrade.ActionClose {
		e.unlockRemaining(order)
	}

	// 成交改变最新价后处理止损触发
	trades = append(trades, e.processStops(book, matcher, cmd.Timestamp)...)

	e.pruneOrderMetas(book, trades)
	e.pruneOrderMeta(book, order.ID)
	book.UpdateSnapshot()
	e.stats.TradesExecuted += int64(len(trades))

	return &Result{Reason: ReasonOK, Order: order, Trades: trades}
}

func (e *Engine) rejectOrder(order *mtrade.Order, reason ReasonCode, err error) *Result {
	order.Status = mtrade.OrderStatusRejected
	e.stats.OrdersRejected++
	return &Result{Reason: reason, Err: err, Order: order}
}

// checkPrices 按订单类型校验价格字段
func checkPrices(spec *symbol.Spec, order *mtrade.Order) (ReasonCode, error) {
	switch order.Type {
	case mtrade.OrderTypeLimit, mtrade.OrderTypePostOnly,
		mtrade.OrderTypeFOK, mtrade.OrderTypeIOC:
		if err := spec.CheckPrice(order.Price); err != nil {
			return ReasonInvalidPrice, err
		}
	case mtrade.OrderTypeStop:
		if err := spec.CheckPrice(order.StopPrice); err != nil {
			return ReasonInvalidPrice, err
		}
	case mtrade.OrderTypeStopLimit:
		if err := spec.CheckPrice(order.StopPrice); err != nil {
			return ReasonInvalidPrice, err
		}
		if err := spec.CheckPrice(order.Price); err != nil {
			return ReasonInvalidPrice, err
		}
	}
	return ReasonOK, nil
}

// openedPositionSide 开仓方向: 买开多，卖开空
func openedPositionSide(side mtrade.Side) position.Side {
	if side == mtrade.SideBuy {
		return position.SideLong
	}
	return position.SideShort
}

// closedPositionSide 平仓对应的持仓方向: 卖平多，买平空
func closedPositionSide(side mtrade.Side) position.Side {
	if side == mtrade.SideSell {
		return position.SideLong
	}
	return position.SideShort
}

// unlockRemaining 把订单未成交部分的锁定量还回持仓
// 锁定量变化不影响风险率，不推变更事件
func (e *Engine) unlockRemaining(order *mtrade.Order) {
	remaining := mtrade.FromFixed(order.RemainingQty())
	if !remaining.IsPositive() {
		return
	}
	pos := e.positions.Get(order.UserID, order.Symbol)
	if pos == nil {
		return
	}
	if pos.Locked.LessThan(remaining) {
		remaining = pos.Locked
	}
	if remaining.IsPositive() {
		pos.Unlock(remaining)
	}
}

// =============================================================================
// 成交结算
// =============================================================================

// settleTrades 把一批成交回写到双方持仓
func (e *Engine) settleTrades(trades []mtrade.Trade, ts int64) {
	for i := range trades {
		t := &trades[i]
		price := mtrade.FromFixed(t.Price)
		qty := mtrade.FromFixed(t.Qty)

		e.settleFill(t.TakerOrderID, t.TakerUserID, t.Symbol, t.TakerSide, t.TakerAction, qty, price, ts)
		e.settleFill(t.MakerOrderID, t.MakerUserID, t.Symbol, t.TakerSide.Opposite(), t.MakerAction, qty, price, ts)
	}
}

// settleFill 单边结算一笔成交
func (e *Engine) settleFill(orderID, userID int64, sym string, side mtrade.Side,
	action mtrade.PositionAction, qty, price decimal.Decimal, ts int64) {

	if action == mtrade.ActionOpen {
		posSide := openedPositionSide(side)
		meta := e.orderMetaFor(orderID)

		// 反向开仓先和现有持仓轧差，剩余量才换方向开新仓
		if pos := e.positions.Get(userID, sym); pos != nil &&
			!pos.IsEmpty() && pos.Side != posSide {
			offset := decimal.Min(qty, pos.Qty)
			realized, err := pos.ForceClose(offset, price)
			if err != nil {
				log.Printf("[engine] net open fill failed: user=%d symbol=%s: %v", userID, sym, err)
				return
			}
			if pos.IsEmpty() {
				e.emitPositionEvent(pos, position.ChangeClose, ts)
				e.positions.Remove(userID, sym)
			} else {
				pos.Margin = pos.Margin.Add(realized)
				e.emitPositionEvent(pos, position.ChangeReduce, ts)
			}
			qty = qty.Sub(offset)
			if !qty.IsPositive() {
				return
			}
		}

		pos := e.positions.GetOrCreate(userID, sym, posSide, meta.Mode, meta.Leverage)
		change := position.ChangeAdd
		if pos.IsEmpty() {
			// 持仓行可能是遗留的空行，按本单元数据重新初始化
			pos.Side = posSide
			pos.Mode = meta.Mode
			pos.Leverage = meta.Leverage
			change = position.ChangeOpen
		}
		pos.Open(qty, price)

		// 保证金 = 成交额 / 杠杆
		lev := decimal.NewFromInt32(pos.Leverage)
		if lev.IsPositive() {
			pos.Margin = pos.Margin.Add(price.Mul(qty).Div(lev).Round(position.RoundScale))
		}
		e.emitPositionEvent(pos, change, ts)
		return
	}

	pos := e.positions.Get(userID, sym)
	if pos == nil {
		return
	}

	// 成交量对应的锁定量同步释放
	if pos.Locked.GreaterThanOrEqual(qty) {
		pos.Unlock(qty)
	} else if pos.Locked.IsPositive() {
		pos.Unlock(pos.Locked)
	}

	realized, err := pos.Close(qty, price)
	if err != nil {
		// 平仓量超过持仓：按剩余全平（强平抢先吃掉了部分持仓）
		if pos.Qty.IsPositive() {
			realized, err = pos.ForceClose(pos.Qty, price)
			if err != nil {
				log.Printf("[engine] close fill fallback failed: user=%d symbol=%s: %v", userID, sym, err)
				return
			}
		}
	}
	if !pos.IsEmpty() {
		pos.Margin = pos.Margin.Add(realized)
		e.emitPositionEvent(pos, position.ChangeReduce, ts)
		return
	}

	e.emitPositionEvent(pos, position.ChangeClose, ts)
	e.positions.Remove(userID, sym)
}

// orderMetaFor 订单的结算元数据，未登记时回退到最保守的参数
func (e *Engine) orderMetaFor(orderID int64) snapshot.OrderMeta {
	if meta, ok := e.orderMetas[orderID]; ok {
		return meta
	}
	return snapshot.OrderMeta{Mode: position.ModeIsolated, Leverage: 1}
}

// pruneOrderMeta 订单已不在簿上时清掉它的结算元数据
func (e *Engine) pruneOrderMeta(book *mtrade.OrderBook, orderID int64) {
	if _, ok := e.orderMetas[orderID]; !ok {
		return
	}
	if book.GetOrder(orderID) == nil {
		delete(e.orderMetas, orderID)
	}
}

// pruneOrderMetas 按成交批量清理双方订单的元数据
func (e *Engine) pruneOrderMetas(book *mtrade.OrderBook, trades []mtrade.Trade) {
	for i := range trades {
		e.pruneOrderMeta(book, trades[i].TakerOrderID)
		e.pruneOrderMeta(book, trades[i].MakerOrderID)
	}
}

// positionTier 用户在该交易对持仓的当前风险等级
// 用最新成交价近似标记价格，保证重放时结果确定；
// 没有持仓或没有行情时视为正常等级
func (e *Engine) positionTier(userID int64, sym string, cfg *risk.SymbolRiskLimitConfig) risk.Tier {
	pos := e.positions.Get(userID, sym)
	if pos == nil || pos.IsEmpty() {
		return risk.TierNormal
	}

	if pos.Mode == position.ModeCross {
		margin := decimal.Zero
		upnl := decimal.Zero
		for _, p := range e.positions.CrossByUser(userID) {
			book := e.books[p.Symbol]
			if book == nil || book.LastPrice == 0 {
				return risk.TierNormal
			}
			margin = margin.Add(p.Margin)
			upnl = upnl.Add(p.UnrealizedPnL(mtrade.FromFixed(book.LastPrice)))
		}
		ratio, err := risk.RiskRatio(margin, upnl)
		if err != nil {
			return risk.TierNormal
		}
		return cfg.Cross.TierOf(ratio)
	}

	book := e.books[sym]
	if book == nil || book.LastPrice == 0 {
		return risk.TierNormal
	}
	ratio, err := risk.RiskRatio(pos.Margin, pos.UnrealizedPnL(mtrade.FromFixed(book.LastPrice)))
	if err != nil {
		return risk.TierNormal
	}
	return cfg.Isolated.TierOf(ratio)
}

func (e *Engine) emitPositionEvent(pos *position.Position, change position.ChangeType, ts int64) {
	if e.onPositionChanged == nil {
		return
	}
	e.onPositionChanged(position.NewChangedEvent(pos, change, ts))
}

// =============================================================================
// 止损触发
// =============================================================================

// processStops 循环处理已触发的止损单，直到没有新的触发
// 触发单的成交可能再次推动最新价，继续触发后续止损
func (e *Engine) processStops(book *mtrade.OrderBook, matcher *mtrade.Matcher, ts int64) []mtrade.Trade {
	var all []mtrade.Trade

	for {
		triggered := book.PopTriggeredStops()
		if len(triggered) == 0 {
			return all
		}

		for _, order := range triggered {
			e.stats.StopsTriggered++
			result := matcher.ProcessTriggered(order, mtrade.TradeFlagNormal)

			trades := append([]mtrade.Trade(nil), result.Trades...)
			e.settleTrades(trades, ts)
			all = append(all, trades...)

			if order.Status == mtrade.OrderStatusCancelled && order.Action == mtrade.ActionClose {
				e.unlockRemaining(order)
			}
			e.pruneOrderMetas(book, trades)
			e.pruneOrderMeta(book, order.ID)
			mtrade.PutMatchResult(result)
		}
	}
}

// =============================================================================
// CANCEL / CLEAR
// =============================================================================

func (e *Engine) execCancel(cmd *Command) *Result {
	p := cmd.Cancel
	book := e.books[p.Symbol]
	if book == nil {
		return &Result{Reason: ReasonOrderNotFound}
	}

	order := book.CancelOrder(p.OrderID)
	if order == nil {
		return &Result{Reason: ReasonOrderNotFound}
	}

	if order.Action == mtrade.ActionClose {
		e.unlockRemaining(order)
	}
	delete(e.orderMetas, order.ID)

	book.UpdateSnapshot()
	e.stats.OrdersCancelled++
	return &Result{Reason: ReasonOK, Order: order}
}

func (e *Engine) execClear(cmd *Command) *Result {
	var symbols []string
	if cmd.Clear != nil && cmd.Clear.Symbol != "" {
		if e.books[cmd.Clear.Symbol] == nil {
			return &Result{Reason: ReasonSymbolNotTradeable}
		}
		symbols = []string{cmd.Clear.Symbol}
	} else {
		for _, spec := range e.registry.List() {
			if e.books[spec.Symbol] != nil {
				symbols = append(symbols, spec.Symbol)
			}
		}
	}

	var cleared []*mtrade.Order
	for _, sym := range symbols {
		book := e.books[sym]
		for _, order := range book.Clear() {
			if order.Action == mtrade.ActionClose {
				e.unlockRemaining(order)
			}
			delete(e.orderMetas, order.ID)
			cleared = append(cleared, order)
		}
		book.UpdateSnapshot()
	}

	e.stats.OrdersCancelled += int64(len(cleared))
	return &Result{Reason: ReasonOK, Cleared: cleared}
}

// =============================================================================
// LIQUIDATION
// =============================================================================

func (e *Engine) execLiquidation(cmd *Command) *Result {
	p := cmd.Liquidate

	req := liquidation.NewRequest(cmd.ID, p.Cause, p.UserID, p.Symbol, cmd.Timestamp)
	req.IndexPrice = p.IndexPrice
	req.IndexPrices = p.IndexPrices
	req.Balance = p.Balance
	req.Margin = p.Margin
	req.RiskRatio = p.RiskRatio
	req.UPnL = p.UPnL

	liqResult, err := e.orchestrator.Execute(req)
	if err != nil {
		return &Result{Reason: mapLiquidationError(err), Err: err}
	}
	e.stats.Liquidations++

	// 强平的 Taker 侧（被强平用户）由处置服务回写持仓；
	// 吃到强制单的 Maker 侧在这里结算。ADL 成交双边都已回写
	var trades []mtrade.Trade
	affected := map[int64]struct{}{req.UserID: {}}
	for _, step := range liqResult.Steps {
		for i := range step.Trades {
			t := &step.Trades[i]
			trades = append(trades, *t)
			affected[t.MakerUserID] = struct{}{}
			if t.Flag == mtrade.TradeFlagLiquidation {
				e.settleFill(t.MakerOrderID, t.MakerUserID, t.Symbol, t.TakerSide.Opposite(), t.MakerAction,
					mtrade.FromFixed(t.Qty), mtrade.FromFixed(t.Price), cmd.Timestamp)
			}
		}
		if book := e.books[step.Symbol]; book != nil {
			e.pruneOrderMetas(book, step.Trades)
			trades = append(trades, e.processStops(book, e.matchers[step.Symbol], cmd.Timestamp)...)
			book.UpdateSnapshot()
		}
	}
	e.stats.TradesExecuted += int64(len(trades))

	// 被强平清零的持仓移出存储，并把变更推给监控器
	users := make([]int64, 0, len(affected))
	for userID := range affected {
		users = append(users, userID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	for _, userID := range users {
		e.sweepUser(userID, cmd.Timestamp)
	}

	e.notifyLiquidation(req, liqResult)
	return &Result{Reason: ReasonOK, Liquidation: liqResult, Trades: trades}
}

func mapLiquidationError(err error) ReasonCode {
	switch err {
	case liquidation.ErrNoPosition:
		return ReasonPositionNotFound
	case liquidation.ErrNoConfig, liquidation.ErrSymbolUnknown:
		return ReasonSymbolNotTradeable
	default:
		return ReasonInternal
	}
}

// sweepUser 清理用户的空持仓，推送持仓变更事件
func (e *Engine) sweepUser(userID int64, ts int64) {
	for _, pos := range e.positions.ByUser(userID) {
		if pos.IsEmpty() {
			e.emitPositionEvent(pos, position.ChangeClose, ts)
			e.positions.Remove(pos.UserID, pos.Symbol)
		} else {
			e.emitPositionEvent(pos, position.ChangeReduce, ts)
		}
	}
}

func (e *Engine) notifyLiquidation(req *liquidation.Request, result *liquidation.Result) {
	if e.notifier == nil {
		return
	}
	notice := notify.LiquidationNotice{
		RequestID:   req.ID,
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Cause:       req.Cause.String(),
		Status:      req.Status.String(),
		TotalClosed: result.TotalClosed.String(),
		FailedQty:   result.FailedQty.String(),
		Timestamp:   req.Timestamp,
	}
	if err := e.notifier.Publish(notify.SubjectLiquidation, notice); err != nil {
		// 通知是旁路，失败不影响状态
		log.Printf("[engine] liquidation notice failed: %v", err)
	}
}

// =============================================================================
// SNAPSHOT / 查询
// =============================================================================

func (e *Engine) execSnapshot(cmd *Command) *Result {
	e.snapSeq++
	snap := snapshot.Build(e.snapSeq, e, e.now())

	select {
	case e.snapshotCh <- snap:
		e.stats.SnapshotsTaken++
		return &Result{Reason: ReasonOK, SnapshotID: snap.ID}
	default:
		// 持久化线程忙不过来，拒绝而不是阻塞写线程
		e.stats.SnapshotsDenied++
		return &Result{Reason: ReasonQueueFull}
	}
}

func (e *Engine) execQueryOrder(cmd *Command) *Result {
	book := e.books[cmd.Query.Symbol]
	if book == nil {
		return &Result{Reason: ReasonOrderNotFound}
	}
	order := book.GetOrder(cmd.Query.OrderID)
	if order == nil {
		return &Result{Reason: ReasonOrderNotFound}
	}
	c := *order
	return &Result{Reason: ReasonOK, Order: &c}
}

func (e *Engine) execQueryPosition(cmd *Command) *Result {
	pos := e.positions.Get(cmd.Query.UserID, cmd.Query.Symbol)
	if pos == nil {
		return &Result{Reason: ReasonPositionNotFound}
	}
	c := *pos
	return &Result{Reason: ReasonOK, Position: &c}
}

// =============================================================================
// 日志与发布
// =============================================================================

// prepareOrder 在落日志前补齐订单的 ID 和时间戳
func (e *Engine) prepareOrder(cmd *Command) {
	if cmd.Type != CmdNewOrder || cmd.Order == nil || cmd.Order.Order == nil {
		return
	}
	order := cmd.Order.Order
	if order.ID == 0 {
		order.ID = seq.GenerateID()
	}
	if order.CreatedAt == 0 {
		order.CreatedAt = cmd.Timestamp
	}
}

func (e *Engine) marshalPayload(cmd *Command) []byte {
	e.prepareOrder(cmd)
	data, err := json.Marshal(cmd)
	if err != nil {
		log.Printf("[engine] marshal command failed: %v", err)
		return nil
	}
	return data
}

// logStateChange 把命令和结果摘要追加到状态变更日志
func (e *Engine) logStateChange(cmd *Command, result *Result, payload []byte) {
	record := resultRecord{
		Reason:     result.Reason.String(),
		TradeCount: len(result.Trades),
		Cleared:    len(result.Cleared),
	}
	if result.Order != nil {
		record.FilledQty = result.Order.FilledQty
	}
	if result.Liquidation != nil {
		record.Closed = result.Liquidation.TotalClosed.String()
		record.FailedQty = result.Liquidation.FailedQty.String()
	}
	resData, _ := json.Marshal(record)

	event := &eventlog.StateChangeEvent{
		CommandID: cmd.ID,
		EventType: cmd.Type.String(),
		Payload:   payload,
		Result:    resData,
		Success:   result.Reason.OK(),
		Timestamp: cmd.Timestamp,
	}
	value, err := event.Value()
	if err != nil {
		return
	}
	e.eventLog.Append(event.Topic(), event.Key(), value)
}

// publishTrades 把成交按交易对分组发布到撮合结果 topic 和行情通知
func (e *Engine) publishTrades(cmd *Command, result *Result) {
	if len(result.Trades) == 0 {
		return
	}

	bySymbol := make(map[string][]mtrade.Trade)
	var symbols []string
	for _, t := range result.Trades {
		if _, ok := bySymbol[t.Symbol]; !ok {
			symbols = append(symbols, t.Symbol)
		}
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		notice := notify.TradeNotice{Symbol: sym, Trades: bySymbol[sym]}
		data, err := json.Marshal(notice)
		if err != nil {
			continue
		}
		e.eventLog.Append(eventlog.TopicMatchResults, sym, data)
		if e.notifier != nil {
			e.notifier.Publish(notify.TradeSubject(sym), notice)
		}
	}
}

// decodeCommand 从日志事件还原命令
func decodeCommand(event *eventlog.StateChangeEvent) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(event.Payload, &cmd); err != nil {
		return nil, fmt.Errorf("decode command %d: %w", event.CommandID, err)
	}
	cmd.ID = event.CommandID
	return &cmd, nil
}

// snapshotRecord 快照 topic 里的轻量记录，正文在快照存储里
type snapshotRecord struct {
	SnapshotID    int64 `json:"snapshot_id"`
	LastCommandID int64 `json:"last_command_id"`
	Books         int   `json:"books"`
	Positions     int   `json:"positions"`
	Timestamp     int64 `json:"timestamp"`
}

func marshalSnapshotRecord(snap *snapshot.Snapshot) ([]byte, error) {
	return json.Marshal(snapshotRecord{
		SnapshotID:    snap.ID,
		LastCommandID: snap.LastCommandID,
		Books:         len(snap.Books),
		Positions:     len(snap.Positions),
		Timestamp:     snap.Timestamp,
	})
}

func snapshotContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// 文件: pkg/liquidation/orchestrator.go
// 强平编排器
//
// 把一条外部强平指令翻译成一串强制平仓动作：
// 分级强平 → 流动性缺口转 ADL → 汇总结果。
// 整个过程在引擎写线程内同步完成

package liquidation

import (
	"log"

	"mex.com/pkg/mtrade"
	"mex.com/pkg/risk"
)

// Orchestrator 强平编排器
type Orchestrator struct {
	svc *Service
}

// NewOrchestrator 创建编排器
func NewOrchestrator(svc *Service) *Orchestrator {
	return &Orchestrator{svc: svc}
}

// Execute 执行强平指令
//
// 路由规则：
//   - Symbol 为空 → 全仓强平
//   - 紧急原因（系统风险/监管）→ 全量平仓
//   - 其余 → 分级强平，流动性缺口转 ADL
func (o *Orchestrator) Execute(req *Request) (*Result, error) {
	req.Status = StatusExecuting

	var (
		result *Result
		err    error
	)

	switch {
	case req.Symbol == "":
		result, err = o.svc.CrossLiquidation(req)
	case req.Emergency:
		result, err = o.emergencyClose(req)
	default:
		result, err = o.tieredWithADL(req)
	}

	if err != nil {
		req.Status = StatusFailed
		req.Error = err.Error()
		log.Printf("[liquidation] failed: user=%d symbol=%s cause=%s: %v",
			req.UserID, req.Symbol, req.Cause, err)
		return nil, err
	}

	log.Printf("[liquidation] done: user=%d symbol=%s cause=%s steps=%d closed=%s failed=%s",
		req.UserID, req.Symbol, req.Cause, len(result.Steps), result.TotalClosed, result.FailedQty)
	return result, nil
}

// tieredWithADL 分级强平，缺口转 ADL
func (o *Orchestrator) tieredWithADL(req *Request) (*Result, error) {
	result, err := o.svc.TieredLiquidation(req)
	if err != nil {
		return nil, err
	}

	if result.FailedQty.IsPositive() {
		adlResult, adlErr := o.svc.AutoDeleverage(req, risk.Tier(result.FinalTier), result.FailedQty)
		if adlErr == nil {
			mergeResults(result, adlResult)
		}
	}
	return result, nil
}

// emergencyClose 紧急全量平仓：先吃订单簿，剩余全部转 ADL
func (o *Orchestrator) emergencyClose(req *Request) (*Result, error) {
	pos := o.svc.positions.Get(req.UserID, req.Symbol)
	if pos == nil || pos.IsEmpty() {
		return nil, ErrNoPosition
	}

	result := &Result{Request: req, FinalTier: int8(risk.TierLiquidation)}

	step, realized, err := o.svc.marketClose(pos, pos.Qty, req.Timestamp, mtrade.TradeFlagLiquidation)
	if err == nil {
		step.Tier = int8(risk.TierLiquidation)
		result.Steps = append(result.Steps, step)
		result.TotalClosed = step.ClosedQty
		result.TotalAmount = step.Amount
		result.RealizedPnL = realized
	}

	if !pos.IsEmpty() {
		adlResult, adlErr := o.svc.AutoDeleverage(req, risk.TierLiquidation, pos.Qty)
		if adlErr == nil {
			mergeResults(result, adlResult)
		} else {
			result.FailedQty = pos.Qty
		}
	}

	req.Status = StatusCompleted
	if result.FailedQty.IsPositive() {
		req.Error = "emergency close incomplete: " + result.FailedQty.String() + " unclosed"
	}
	return result, nil
}

// mergeResults 把 ADL 结果并入主结果
func mergeResults(dst, src *Result) {
	dst.Steps = append(dst.Steps, src.Steps...)
	dst.TotalClosed = dst.TotalClosed.Add(src.TotalClosed)
	dst.TotalAmount = dst.TotalAmount.Add(src.TotalAmount)
	dst.RealizedPnL = dst.RealizedPnL.Add(src.RealizedPnL)
	dst.FailedQty = src.FailedQty
}

// 文件: pkg/alert/model.go
// 风险告警
//
// 监控器发现风险等级变化或提交强平时生成告警记录。
// 告警是给运营和用户通知用的旁路数据，带冷却去重防止
// 行情抖动时同一持仓反复刷屏

package alert

import (
	"context"
	"strconv"
)

// Kind 告警类别
type Kind string

const (
	KindTierChange  Kind = "TIER_CHANGE" // 风险等级变化
	KindLiquidation Kind = "LIQUIDATION" // 强平提交
)

// RiskAlert 一条风险告警
type RiskAlert struct {
	UserID    int64  `json:"user_id"`
	Symbol    string `json:"symbol"`
	Kind      Kind   `json:"kind"`
	Tier      string `json:"tier"`       // 变化后的等级
	RiskRatio string `json:"risk_ratio"` // 触发时的风险率
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"` // Unix 毫秒
}

// cooldownKey 冷却去重键
// 同一 (用户, 交易对, 类别, 等级) 在冷却期内只告警一次；
// 升到新等级是不同的键，立即放行
func (a *RiskAlert) cooldownKey() string {
	// 字符串拼接代替 fmt.Sprintf
	return "risk:alert:cd:" + strconv.FormatInt(a.UserID, 10) + ":" + a.Symbol + ":" + string(a.Kind) + ":" + a.Tier
}

// Manager 告警管理器
type Manager interface {
	// Record 记录告警。冷却期内的重复告警被抑制，返回 false
	Record(ctx context.Context, a RiskAlert) (bool, error)

	// Recent 最近的告警，新的在前
	Recent(ctx context.Context, limit int) ([]RiskAlert, error)

	// RecentByUser 某用户最近的告警，新的在前
	RecentByUser(ctx context.Context, userID int64, limit int) ([]RiskAlert, error)
}

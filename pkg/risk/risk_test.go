package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"mex.com/pkg/position"
)

func d(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// =============================================================================
// 风险率公式测试
// =============================================================================

func TestRiskRatio(t *testing.T) {
	cases := []struct {
		margin, upnl, want float64
	}{
		{1000, 0, 0},       // 无盈亏
		{1000, -500, 0.5},  // 亏掉一半保证金
		{1000, -1000, 1},   // 亏光，强平线
		{1000, -1200, 1.2}, // 穿仓
		{1000, 300, -0.3},  // 盈利为负风险率
	}

	for _, c := range cases {
		got, err := RiskRatio(d(c.margin), d(c.upnl))
		if err != nil {
			t.Fatalf("RiskRatio(%v, %v): %v", c.margin, c.upnl, err)
		}
		if !got.Equal(d(c.want)) {
			t.Errorf("RiskRatio(%v, %v) = %s, want %v", c.margin, c.upnl, got, c.want)
		}
	}

	if _, err := RiskRatio(decimal.Zero, d(100)); err != ErrNoMargin {
		t.Errorf("expected ErrNoMargin, got %v", err)
	}
}

// =============================================================================
// 等级判定测试
// =============================================================================

func TestTierOf(t *testing.T) {
	cfg := DefaultConfig("BTC_USDT")

	cases := []struct {
		ratio float64
		want  Tier
	}{
		{0.0, TierNormal},
		{0.69, TierNormal},
		{0.7, TierWarning},
		{0.79, TierWarning},
		{0.8, TierDanger},
		{0.9, TierEmergency},
		{1.0, TierLiquidation},
		{1.5, TierLiquidation},
		{-0.3, TierNormal}, // 盈利
	}

	for _, c := range cases {
		if got := cfg.Isolated.TierOf(d(c.ratio)); got != c.want {
			t.Errorf("TierOf(%v) = %s, want %s", c.ratio, got, c.want)
		}
	}
}

// 单调性：风险率上升，等级绝不下降
func TestTierOf_Monotonic(t *testing.T) {
	cfg := DefaultConfig("BTC_USDT")

	prev := TierNormal
	for r := -50; r <= 150; r++ {
		tier := cfg.Isolated.TierOf(decimal.NewFromInt(int64(r)).Div(decimal.NewFromInt(100)))
		if tier < prev {
			t.Fatalf("tier decreased at ratio %d/100: %s < %s", r, tier, prev)
		}
		prev = tier
	}
}

func TestTier_Flags(t *testing.T) {
	cases := []struct {
		tier            Tier
		needReduction   bool
		needLiquidation bool
	}{
		{TierNormal, false, false},
		{TierWarning, false, false},
		{TierDanger, true, false},
		{TierEmergency, true, true},
		{TierLiquidation, false, true},
	}

	for _, c := range cases {
		if got := c.tier.NeedReduction(); got != c.needReduction {
			t.Errorf("%s.NeedReduction() = %v", c.tier, got)
		}
		if got := c.tier.NeedLiquidation(); got != c.needLiquidation {
			t.Errorf("%s.NeedLiquidation() = %v", c.tier, got)
		}
	}
}

// =============================================================================
// 评估测试
// =============================================================================

func TestRecalculator_EvaluateIsolated(t *testing.T) {
	r := NewRecalculator()
	cfg := DefaultConfig("BTC_USDT")

	// 开多 1 @ 50000，保证金 5000（10x）
	pos := position.New(100, "BTC_USDT", position.SideLong, position.ModeIsolated, 10)
	pos.Open(d(1), d(50000))
	pos.Margin = d(5000)

	// 价格跌到 45500 → uPnL = -4500 → 风险率 0.9 → EMERGENCY
	got, err := r.Evaluate(pos, OracleInputs{IndexPrice: d(45500)}, cfg)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !got.Ratio.Equal(d(0.9)) || got.Tier != TierEmergency {
		t.Errorf("expected ratio 0.9 EMERGENCY, got %s %s", got.Ratio, got.Tier)
	}
	if !got.NeedReduction || !got.NeedLiquidation {
		t.Errorf("expected both flags set, got %+v", got)
	}
}

func TestRecalculator_EvaluateCross(t *testing.T) {
	r := NewRecalculator()
	cfg := DefaultConfig("BTC_USDT")

	pos := position.New(100, "BTC_USDT", position.SideLong, position.ModeCross, 10)
	pos.Open(d(1), d(50000))

	// 全仓用预言机汇总：总保证金 10000，总亏损 -7500 → 0.75 → WARNING
	got, err := r.Evaluate(pos, OracleInputs{
		TotalMargin: d(10000),
		TotalUPnL:   d(-7500),
	}, cfg)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !got.Ratio.Equal(d(0.75)) || got.Tier != TierWarning {
		t.Errorf("expected ratio 0.75 WARNING, got %s %s", got.Ratio, got.Tier)
	}
}

// =============================================================================
// 杠杆校验测试
// =============================================================================

func TestValidateLeverage(t *testing.T) {
	cfg := DefaultConfig("BTC_USDT")

	if err := cfg.Isolated.ValidateLeverage(100); err != nil {
		t.Errorf("expected 100x allowed for isolated, got %v", err)
	}
	if err := cfg.Isolated.ValidateLeverage(101); err == nil {
		t.Error("expected 101x rejected for isolated")
	}
	if err := cfg.Cross.ValidateLeverage(51); err == nil {
		t.Error("expected 51x rejected for cross")
	}
	if err := cfg.Cross.ValidateLeverage(0); err == nil {
		t.Error("expected 0x rejected")
	}
}

func TestMaxLeverageAt(t *testing.T) {
	cfg := DefaultConfig("BTC_USDT")

	// 正常等级沿用模式上限
	if got := cfg.Isolated.MaxLeverageAt(TierNormal); got != 100 {
		t.Errorf("expected 100x at NORMAL, got %d", got)
	}

	// 等级越严上限越低
	cases := map[Tier]int32{
		TierWarning:     50,
		TierDanger:      20,
		TierEmergency:   10,
		TierLiquidation: 1,
	}
	for tier, want := range cases {
		if got := cfg.Isolated.MaxLeverageAt(tier); got != want {
			t.Errorf("tier %s: expected %dx, got %d", tier, want, got)
		}
	}

	// 等级未配置上限时回退到模式上限
	bare := ModeConfig{
		Tiers:       map[Tier]TierConfig{TierDanger: {Threshold: decimal.NewFromFloat(0.8)}},
		MaxLeverage: 75,
		MinLeverage: 1,
	}
	if got := bare.MaxLeverageAt(TierDanger); got != 75 {
		t.Errorf("expected fallback 75x, got %d", got)
	}
}

func TestValidateLeverageAt(t *testing.T) {
	cfg := DefaultConfig("BTC_USDT")

	if err := cfg.Isolated.ValidateLeverageAt(TierDanger, 20); err != nil {
		t.Errorf("expected 20x allowed at DANGER, got %v", err)
	}
	if err := cfg.Isolated.ValidateLeverageAt(TierDanger, 21); err == nil {
		t.Error("expected 21x rejected at DANGER")
	}
	if err := cfg.Isolated.ValidateLeverageAt(TierLiquidation, 2); err == nil {
		t.Error("expected 2x rejected at LIQUIDATION")
	}
	if err := cfg.Isolated.ValidateLeverageAt(TierNormal, 100); err != nil {
		t.Errorf("expected 100x allowed at NORMAL, got %v", err)
	}
}

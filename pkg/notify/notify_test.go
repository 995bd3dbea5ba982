package notify

import (
	"encoding/json"
	"testing"

	"mex.com/pkg/risk"
)

func TestSubjects(t *testing.T) {
	if got := TradeSubject("BTCUSDT"); got != "engine.trades.BTCUSDT" {
		t.Fatalf("trade subject = %s", got)
	}
	if got := DepthSubject("ETHUSDT"); got != "engine.depth.ETHUSDT" {
		t.Fatalf("depth subject = %s", got)
	}
}

func TestNopNotifierCounts(t *testing.T) {
	n := NewNopNotifier()

	notice := TierChangeNotice{
		UserID: 100, Symbol: "BTCUSDT",
		From: risk.TierNormal, To: risk.TierWarning,
		RiskRatio: "0.75", Timestamp: 1700000000000,
	}
	if err := n.Publish(SubjectRiskTier, notice); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := n.Publish(SubjectRiskTier, notice); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := n.Publish(TradeSubject("BTCUSDT"), TradeNotice{Symbol: "BTCUSDT"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if n.Published[SubjectRiskTier] != 2 {
		t.Fatalf("risk tier count = %d, want 2", n.Published[SubjectRiskTier])
	}
	if n.Published["engine.trades.BTCUSDT"] != 1 {
		t.Fatalf("trade count = %d, want 1", n.Published["engine.trades.BTCUSDT"])
	}
}

func TestNoticeSerialization(t *testing.T) {
	notice := LiquidationNotice{
		RequestID: 7, UserID: 100, Symbol: "BTCUSDT",
		Cause: "RISK_EXCEEDED", Status: "COMPLETED",
		TotalClosed: "1.5", FailedQty: "0", Timestamp: 1700000000000,
	}

	data, err := json.Marshal(notice)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded LiquidationNotice
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != notice {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

package entry

import (
	"math"
	"testing"

	"github.com/newplayman/short-hunter/internal/gateway"
)

func TestSelectOrderType_Sell(t *testing.T) {
	// 目标在标记价上方 → TAKE_PROFIT
	if got := SelectOrderType(gateway.SideSell, 110, 100); got != gateway.TypeTakeProfit {
		t.Errorf("target above mark: got %s, want TAKE_PROFIT", got)
	}
	// 目标在标记价下方 → STOP
	if got := SelectOrderType(gateway.SideSell, 90, 100); got != gateway.TypeStop {
		t.Errorf("target below mark: got %s, want STOP", got)
	}
	// 参考价不可用 → 维持TAKE_PROFIT默认（既有行为原样保留）
	if got := SelectOrderType(gateway.SideSell, 90, 0); got != gateway.TypeTakeProfit {
		t.Errorf("unavailable mark: got %s, want TAKE_PROFIT default", got)
	}
	if got := SelectOrderType(gateway.SideSell, 90, math.NaN()); got != gateway.TypeTakeProfit {
		t.Errorf("NaN mark: got %s, want TAKE_PROFIT default", got)
	}
}

func TestOffsetTriggerPrice_OneTickTowardTrigger(t *testing.T) {
	// SELL TAKE_PROFIT：mark上行触发，触发价下移一tick
	got := OffsetTriggerPrice(gateway.TypeTakeProfit, gateway.SideSell, 100.0, 0.1)
	if math.Abs(got-99.9) > 1e-9 {
		t.Errorf("SELL TP: got %v, want 99.9", got)
	}
	// SELL STOP：mark下行触发，触发价上移一tick
	got = OffsetTriggerPrice(gateway.TypeStop, gateway.SideSell, 100.0, 0.1)
	if math.Abs(got-100.1) > 1e-9 {
		t.Errorf("SELL STOP: got %v, want 100.1", got)
	}
	// BUY方向对称
	got = OffsetTriggerPrice(gateway.TypeTakeProfit, gateway.SideBuy, 100.0, 0.1)
	if math.Abs(got-100.1) > 1e-9 {
		t.Errorf("BUY TP: got %v, want 100.1", got)
	}
}

func TestOffsetTriggerPrice_FallbackOnFailure(t *testing.T) {
	// 偏移后非正 → 回退原目标价
	got := OffsetTriggerPrice(gateway.TypeTakeProfit, gateway.SideSell, 0.05, 0.1)
	if got != 0.05 {
		t.Errorf("non-positive offset must fall back to raw target, got %v", got)
	}
	// tick非法 → 回退
	if got := OffsetTriggerPrice(gateway.TypeStop, gateway.SideSell, 100, 0); got != 100 {
		t.Errorf("invalid tick must fall back, got %v", got)
	}
	// 非触发类订单 → 原样
	if got := OffsetTriggerPrice(gateway.TypeLimit, gateway.SideSell, 100, 0.1); got != 100 {
		t.Errorf("LIMIT must pass through, got %v", got)
	}
}

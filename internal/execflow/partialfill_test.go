package execflow

import (
	"testing"
	"time"
)

var pt0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func pat(sec int) time.Time { return pt0.Add(time.Duration(sec) * time.Second) }

func TestCheckStall_FiveSecondRule(t *testing.T) {
	tr := TrackPartialFill(PartialFillTracker{}, "ord-1", StatusPartiallyFilled, 0.5, pat(100))
	if !tr.Active || !tr.PartialStarted.Equal(pat(100)) {
		t.Fatalf("tracker not started: %+v", tr)
	}

	// t=104：elapsed 4s < 5s，不触发
	d := CheckStall(tr, pat(104), DefaultStallSeconds, false)
	if d.ForceExit {
		t.Error("must not force exit before the stall window")
	}

	// t=105：elapsed ≥ 5s，触发
	d = CheckStall(tr, pat(105), DefaultStallSeconds, false)
	if !d.ForceExit || d.Reason != ReasonExitPartialStalled {
		t.Errorf("got %+v, want force exit with %s", d, ReasonExitPartialStalled)
	}
}

func TestCheckStall_SuppressedByRunningRiskExit(t *testing.T) {
	tr := TrackPartialFill(PartialFillTracker{}, "ord-1", StatusPartiallyFilled, 0.5, pat(100))
	d := CheckStall(tr, pat(110), DefaultStallSeconds, true)
	if d.ForceExit {
		t.Error("a running risk-driven market exit suppresses the stall rule this cycle")
	}
}

func TestTrackPartialFill_QuantityGrowthResetsClock(t *testing.T) {
	tr := TrackPartialFill(PartialFillTracker{}, "ord-1", StatusPartiallyFilled, 0.5, pat(100))
	// 同单成交量增长 → 起点重置
	tr = TrackPartialFill(tr, "ord-1", StatusPartiallyFilled, 0.8, pat(103))
	if !tr.PartialStarted.Equal(pat(103)) {
		t.Errorf("started = %v, want reset to t=103", tr.PartialStarted)
	}
	if d := CheckStall(tr, pat(105), DefaultStallSeconds, false); d.ForceExit {
		t.Error("clock reset by growth must defer the stall")
	}

	// 无增长 → 起点不动
	tr = TrackPartialFill(tr, "ord-1", StatusPartiallyFilled, 0.8, pat(104))
	if !tr.PartialStarted.Equal(pat(103)) {
		t.Errorf("started moved without quantity growth: %v", tr.PartialStarted)
	}
}

func TestTrackPartialFill_DifferentOrderRestarts(t *testing.T) {
	tr := TrackPartialFill(PartialFillTracker{}, "ord-1", StatusPartiallyFilled, 0.5, pat(100))
	tr = TrackPartialFill(tr, "ord-2", StatusPartiallyFilled, 0.1, pat(104))
	if tr.OrderID != "ord-2" || !tr.PartialStarted.Equal(pat(104)) {
		t.Errorf("new order id must restart tracking: %+v", tr)
	}
}

func TestTrackPartialFill_TerminalClears(t *testing.T) {
	tr := TrackPartialFill(PartialFillTracker{}, "ord-1", StatusPartiallyFilled, 0.5, pat(100))
	for _, status := range []OrderStatus{StatusFilled, StatusCanceled, StatusExpired} {
		cleared := TrackPartialFill(tr, "ord-1", status, 1.0, pat(101))
		if cleared.Active {
			t.Errorf("terminal status %s must clear the tracker", status)
		}
	}
}

func TestCheckStall_InactiveNoop(t *testing.T) {
	if d := CheckStall(PartialFillTracker{}, pat(999), DefaultStallSeconds, false); d.ForceExit {
		t.Error("inactive tracker must never force exit")
	}
}

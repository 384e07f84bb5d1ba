package engine

import (
	"testing"
	"time"

	"github.com/newplayman/short-hunter/internal/fsm"
	"github.com/newplayman/short-hunter/internal/gateway"
	"github.com/newplayman/short-hunter/internal/trigger"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSettings() Settings {
	return Settings{
		CooldownMinutes:         30,
		MarginBufferPct:         0.01,
		WSStaleFallbackSeconds:  10,
		StaleMarkPriceSeconds:   110,
		EntryTriggerBufferPct:   trigger.DefaultBufferPct,
		ExitPartialStallSeconds: 5,
		MDDStopPct:              0.03,
		PositionMode:            gateway.ModeOneWay,
		RetryPolicy:             gateway.SingleAttempt(),
	}
}

func unlockedRuntime() Runtime {
	rt := NewRuntime(testSettings())
	rt.RecoveryLocked = false
	rt.SignalLoopPaused = false
	return rt
}

func signal(id int64, symbol string, target float64) LeadingSignal {
	return LeadingSignal{
		ChannelID:   "ch-lead",
		MessageID:   id,
		Symbol:      symbol,
		TargetPrice: target,
		Mode:        trigger.ModeConservative,
		ParseOK:     true,
		ReceivedAt:  t0,
	}
}

func TestHandleLeadingSignal_Gates(t *testing.T) {
	locked := NewRuntime(testSettings())
	if _, d := HandleLeadingSignal(locked, signal(1, "BTCUSDT", 100), nil, t0); d.Reason != SignalRecoveryLocked {
		t.Errorf("恢复锁定时 reason = %s, want RECOVERY_LOCKED", d.Reason)
	}

	paused := unlockedRuntime()
	paused.SignalLoopPaused = true
	if _, d := HandleLeadingSignal(paused, signal(1, "BTCUSDT", 100), nil, t0); d.Reason != SignalLoopPaused {
		t.Errorf("暂停时 reason = %s, want LOOP_PAUSED", d.Reason)
	}
}

func TestHandleLeadingSignal_Accept(t *testing.T) {
	rt := unlockedRuntime()
	next, d := HandleLeadingSignal(rt, signal(7, "BTCUSDT", 100), nil, t0)

	if !d.Accepted || d.Reason != SignalAccepted {
		t.Fatalf("decision = %+v, want accepted", d)
	}
	if next.SymbolState != fsm.StateMonitoring {
		t.Errorf("state = %s, want MONITORING", next.SymbolState)
	}
	if next.ActiveSymbol != "BTCUSDT" {
		t.Errorf("active = %q, want BTCUSDT", next.ActiveSymbol)
	}
	if len(next.Candidates) != 1 || next.Candidates[0].Kind != trigger.KindFirstEntry {
		t.Errorf("candidates = %+v, want 1 FIRST_ENTRY", next.Candidates)
	}
	if next.Watermarks["ch-lead"] != 7 {
		t.Errorf("watermark = %d, want 7", next.Watermarks["ch-lead"])
	}
	wantUntil := t0.Add(30 * time.Minute)
	if !next.CooldownUntil["BTCUSDT"].Equal(wantUntil) {
		t.Errorf("cooldown = %v, want %v", next.CooldownUntil["BTCUSDT"], wantUntil)
	}

	// 旧快照不被原位修改
	if len(rt.Candidates) != 0 || len(rt.Watermarks) != 0 {
		t.Errorf("原快照被修改: %+v", rt)
	}
}

func TestHandleLeadingSignal_Duplicate(t *testing.T) {
	rt := unlockedRuntime()
	rt, _ = HandleLeadingSignal(rt, signal(7, "BTCUSDT", 100), nil, t0)

	if _, d := HandleLeadingSignal(rt, signal(7, "ETHUSDT", 50), nil, t0); d.Reason != SignalDuplicate {
		t.Errorf("同message_id reason = %s, want DUPLICATE_MESSAGE", d.Reason)
	}
	if _, d := HandleLeadingSignal(rt, signal(5, "ETHUSDT", 50), nil, t0); d.Reason != SignalDuplicate {
		t.Errorf("旧message_id reason = %s, want DUPLICATE_MESSAGE", d.Reason)
	}
}

func TestHandleLeadingSignal_ParseFailureCoolsDown(t *testing.T) {
	rt := unlockedRuntime()
	bad := signal(3, "DOGEUSDT", 0)
	bad.ParseOK = false

	next, d := HandleLeadingSignal(rt, bad, nil, t0)
	if d.Reason != SignalParseFailed {
		t.Fatalf("reason = %s, want PARSE_FAILED_COOLDOWN", d.Reason)
	}
	if next.Watermarks["ch-lead"] != 3 {
		t.Errorf("坏信号也应推进水位, got %d", next.Watermarks["ch-lead"])
	}
	if _, ok := next.CooldownUntil["DOGEUSDT"]; !ok {
		t.Error("坏信号symbol应记入冷却")
	}
	if len(next.Candidates) != 0 {
		t.Errorf("坏信号不应登记候选: %+v", next.Candidates)
	}
}

func TestHandleLeadingSignal_ActiveSymbolRejected(t *testing.T) {
	rt := unlockedRuntime()
	rt, _ = HandleLeadingSignal(rt, signal(1, "BTCUSDT", 100), nil, t0)

	next, d := HandleLeadingSignal(rt, signal(2, "BTCUSDT", 99), nil, t0.Add(time.Second))
	if d.Reason != SignalSymbolActive {
		t.Errorf("reason = %s, want SYMBOL_ALREADY_ACTIVE", d.Reason)
	}
	if len(next.Candidates) != 1 {
		t.Errorf("候选数 = %d, want 1", len(next.Candidates))
	}
}

func TestHandleLeadingSignal_Cooldown(t *testing.T) {
	rt := unlockedRuntime()
	rt, _ = HandleLeadingSignal(rt, signal(1, "BTCUSDT", 100), nil, t0)
	rt = rt.removeCandidate("BTCUSDT")
	rt = rt.reselectOrIdle()

	// 冷却窗口内同symbol再来被拒
	sig := signal(2, "BTCUSDT", 98)
	if _, d := HandleLeadingSignal(rt, sig, nil, t0.Add(29*time.Minute)); d.Reason != SignalInCooldown {
		t.Errorf("冷却内 reason = %s, want IN_COOLDOWN", d.Reason)
	}

	// 冷却到期后放行
	sig.MessageID = 3
	if _, d := HandleLeadingSignal(rt, sig, nil, t0.Add(31*time.Minute)); !d.Accepted {
		t.Errorf("冷却后 reason = %s, want ACCEPTED", d.Reason)
	}
}

func TestHandleLeadingSignal_Filter(t *testing.T) {
	rt := unlockedRuntime()
	deny := func(sig LeadingSignal) (bool, string) { return false, "blacklist" }

	next, d := HandleLeadingSignal(rt, signal(1, "BTCUSDT", 100), deny, t0)
	if d.Reason != SignalFilteredOut || d.Detail != "blacklist" {
		t.Errorf("decision = %+v, want FILTERED_OUT/blacklist", d)
	}
	if len(next.Candidates) != 0 {
		t.Error("被过滤信号不应登记候选")
	}
}

func TestHandleLeadingSignal_NewerSignalTakesActiveSlot(t *testing.T) {
	rt := unlockedRuntime()
	rt, _ = HandleLeadingSignal(rt, signal(1, "BTCUSDT", 100), nil, t0)

	later := signal(2, "ETHUSDT", 50)
	later.ReceivedAt = t0.Add(time.Second)
	next, d := HandleLeadingSignal(rt, later, nil, t0.Add(time.Second))

	if !d.Accepted {
		t.Fatalf("reason = %s, want ACCEPTED", d.Reason)
	}
	if next.ActiveSymbol != "ETHUSDT" {
		t.Errorf("active = %s, want 最新信号ETHUSDT", next.ActiveSymbol)
	}
	if len(next.Candidates) != 2 {
		t.Errorf("候选数 = %d, want 2", len(next.Candidates))
	}
}

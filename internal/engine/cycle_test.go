package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/newplayman/short-hunter/internal/fsm"
	"github.com/newplayman/short-hunter/internal/gateway"
	"github.com/newplayman/short-hunter/internal/trigger"
)

var cycleRules = gateway.FilterRules{TickSize: 0.1, StepSize: 0.001, MinQty: 0.001}

func cycleDeps(calls *[]map[string]any) CycleDeps {
	return CycleDeps{
		Transport: func(p map[string]any) gateway.GatewayResponse {
			*calls = append(*calls, p)
			return gateway.GatewayResponse{OK: true, Reason: gateway.ReasonOK}
		},
		RulesFor:         func(string) (gateway.FilterRules, bool) { return cycleRules, true },
		WalletBalance:    func() (float64, error) { return 100, nil },
		AvailableBalance: func() (float64, error) { return 200, nil },
	}
}

// monitoringRuntime 已登记一个BTCUSDT首次进场候选并拿到WS标记价
func monitoringRuntime(target, mark float64) Runtime {
	rt := unlockedRuntime()
	rt, _ = HandleLeadingSignal(rt, signal(1, "BTCUSDT", target), nil, t0)
	rt = ApplyWSPrice(rt, "BTCUSDT", mark, t0)
	return rt
}

func TestRunTriggerEntryCycle_Gates(t *testing.T) {
	var calls []map[string]any
	deps := cycleDeps(&calls)

	locked := NewRuntime(testSettings())
	if _, out := RunTriggerEntryCycle(locked, deps, t0); out.Reason != CycleRecoveryLocked {
		t.Errorf("恢复锁定 reason = %s", out.Reason)
	}

	rt := monitoringRuntime(100, 100)
	rt.SubmitLocked = true
	if _, out := RunTriggerEntryCycle(rt, deps, t0); out.Reason != CycleSubmitLocked {
		t.Errorf("新单锁 reason = %s", out.Reason)
	}

	empty := unlockedRuntime()
	if _, out := RunTriggerEntryCycle(empty, deps, t0); out.Reason != CycleNoCandidates {
		t.Errorf("无候选 reason = %s", out.Reason)
	}
}

func TestRunTriggerEntryCycle_FirstEntryDispatch(t *testing.T) {
	var calls []map[string]any
	deps := cycleDeps(&calls)

	// 目标100，缓冲0.5% → 阈值99.5；mark=100满足
	rt := monitoringRuntime(100, 100)
	next, out := RunTriggerEntryCycle(rt, deps, t0)

	if out.Reason != CycleDispatched {
		t.Fatalf("reason = %s, detail = %s", out.Reason, out.Detail)
	}
	if !out.Entry.OK {
		t.Fatalf("entry outcome = %+v", out.Entry)
	}
	if next.SymbolState != fsm.StateEntryOrder {
		t.Errorf("state = %s, want ENTRY_ORDER", next.SymbolState)
	}
	if len(next.Candidates) != 0 {
		t.Errorf("胜者应被消费, candidates = %+v", next.Candidates)
	}
	if len(calls) != 1 {
		t.Fatalf("transport调用数 = %d, want 1", len(calls))
	}
	// 确定性客户端订单号
	if id, _ := calls[0]["newClientOrderId"].(string); id != ClientOrderID(trigger.KindFirstEntry, 1, "BTCUSDT") {
		t.Errorf("newClientOrderId = %v", calls[0]["newClientOrderId"])
	}
}

func TestRunTriggerEntryCycle_NotSatisfiedKeepsCandidate(t *testing.T) {
	var calls []map[string]any
	deps := cycleDeps(&calls)

	// mark=99 < 阈值99.5，不触发
	rt := monitoringRuntime(100, 99)
	next, out := RunTriggerEntryCycle(rt, deps, t0)

	if out.Reason != CycleNoWinner {
		t.Fatalf("reason = %s", out.Reason)
	}
	if len(next.Candidates) != 1 {
		t.Errorf("未触发候选应保留, got %d", len(next.Candidates))
	}
	if len(calls) != 0 {
		t.Errorf("不应有下单调用, got %d", len(calls))
	}
}

func TestRunTriggerEntryCycle_TickNormalization(t *testing.T) {
	var calls []map[string]any
	deps := cycleDeps(&calls)

	// 100.16按tick=0.1归一到100.2，阈值=100.2×0.995=99.699；mark=99.7触发
	rt := monitoringRuntime(100.16, 99.7)
	_, out := RunTriggerEntryCycle(rt, deps, t0)

	if out.Reason != CycleDispatched {
		t.Fatalf("归一后应触发, reason = %s", out.Reason)
	}
	if got := out.Dispatched.TargetPrice; math.Abs(got-100.2) > 1e-9 {
		t.Errorf("归一目标价 = %v, want 100.2", got)
	}
}

func TestRunTriggerEntryCycle_GlobalBlockedCarveOut(t *testing.T) {
	var calls []map[string]any
	deps := cycleDeps(&calls)

	rt := unlockedRuntime()
	rt.SymbolState = fsm.StatePhase1
	rt.ActiveSymbol = "BTCUSDT"
	rt.Account, _ = fsm.RecomputeAccount(rt.Account, true, false)
	rt = rt.addCandidate(trigger.Candidate{
		Symbol: "BTCUSDT", Kind: trigger.KindSecondEntry, TargetPrice: 100,
		ReceivedAtLocal: t0, MessageID: 5, EntryMode: trigger.ModeConservative,
	})
	rt = ApplyWSPrice(rt, "BTCUSDT", 100, t0)

	next, out := RunTriggerEntryCycle(rt, deps, t0)
	if out.Reason != CycleDispatched {
		t.Fatalf("窄通道应放行二次进场, reason = %s", out.Reason)
	}
	if next.SymbolState != fsm.StatePhase2 {
		t.Errorf("state = %s, want PHASE2", next.SymbolState)
	}

	// 有挂单时窄通道关闭
	blocked := rt
	blocked.Account, _ = fsm.RecomputeAccount(blocked.Account, true, true)
	if _, out := RunTriggerEntryCycle(blocked, deps, t0); out.Reason != CycleGlobalBlocked {
		t.Errorf("有挂单时 reason = %s, want GLOBAL_BLOCKED", out.Reason)
	}

	// 安全锁下窄通道同样关闭
	safety := rt
	safety.Account, _ = fsm.SetSafetyLock(safety.Account, true)
	if _, out := RunTriggerEntryCycle(safety, deps, t0); out.Reason != CycleGlobalBlocked {
		t.Errorf("安全锁时 reason = %s, want GLOBAL_BLOCKED", out.Reason)
	}
}

func TestRunTriggerEntryCycle_FirstEntryBlockedByPosition(t *testing.T) {
	var calls []map[string]any
	deps := cycleDeps(&calls)

	rt := monitoringRuntime(100, 100)
	rt.Account, _ = fsm.RecomputeAccount(rt.Account, true, false)

	if _, out := RunTriggerEntryCycle(rt, deps, t0); out.Reason != CycleGlobalBlocked {
		t.Errorf("持仓中首次进场 reason = %s, want GLOBAL_BLOCKED", out.Reason)
	}
}

func TestRunTriggerEntryCycle_SetupFailure(t *testing.T) {
	var calls []map[string]any

	deps := cycleDeps(&calls)
	deps.PreOrderSetup = func(string) error { return errors.New("leverage set failed") }
	deps.ResetOnSetupFailure = true

	rt := monitoringRuntime(100, 100)
	next, out := RunTriggerEntryCycle(rt, deps, t0)
	if out.Reason != CycleSetupFailed {
		t.Fatalf("reason = %s", out.Reason)
	}
	if next.SymbolState != fsm.StateIdle || len(next.Candidates) != 0 {
		t.Errorf("reset标志下应整体复位, state = %s", next.SymbolState)
	}

	// 不复位时仅丢弃该候选
	deps.ResetOnSetupFailure = false
	rt2 := monitoringRuntime(100, 100)
	next2, _ := RunTriggerEntryCycle(rt2, deps, t0)
	if next2.SymbolState != fsm.StateMonitoring {
		t.Errorf("丢弃模式 state = %s, want MONITORING保持", next2.SymbolState)
	}
	if len(next2.Candidates) != 0 {
		t.Errorf("失败候选应被丢弃, got %d", len(next2.Candidates))
	}
}

func TestRunTriggerEntryCycle_MarginResetReselects(t *testing.T) {
	var calls []map[string]any
	deps := cycleDeps(&calls)
	deps.Transport = func(p map[string]any) gateway.GatewayResponse {
		calls = append(calls, p)
		return gateway.GatewayResponse{OK: false, Reason: gateway.ReasonInsufficientMargin}
	}

	// 两个候选：BTC为active且触发，保证金不足复位后ETH顶上
	rt := monitoringRuntime(100, 100)
	eth := signal(2, "ETHUSDT", 50)
	eth.ReceivedAt = t0.Add(-time.Second) // 较旧，不抢active槽
	rt, _ = HandleLeadingSignal(rt, eth, nil, t0)

	next, out := RunTriggerEntryCycle(rt, deps, t0)
	if out.Entry.Reason == "" {
		t.Fatalf("outcome = %+v", out)
	}
	if next.SymbolState != fsm.StateMonitoring || next.ActiveSymbol != "ETHUSDT" {
		t.Errorf("复位后应重选ETHUSDT, state = %s active = %s", next.SymbolState, next.ActiveSymbol)
	}
}

func TestRunTriggerEntryCycle_BalanceFailureKeepsCandidate(t *testing.T) {
	var calls []map[string]any
	deps := cycleDeps(&calls)
	deps.WalletBalance = func() (float64, error) { return 0, errors.New("timeout") }

	rt := monitoringRuntime(100, 100)
	next, out := RunTriggerEntryCycle(rt, deps, t0)

	if out.Reason != CycleBalanceFailed {
		t.Fatalf("reason = %s, want BALANCE_FETCH_FAILED", out.Reason)
	}
	// 瞬时失败不消费候选：留待下轮重试
	if len(next.Candidates) != 1 || next.Candidates[0].Symbol != "BTCUSDT" {
		t.Errorf("候选应放回, candidates = %+v", next.Candidates)
	}
	if next.SymbolState != fsm.StateMonitoring || next.ActiveSymbol != "BTCUSDT" {
		t.Errorf("state = %s active = %s", next.SymbolState, next.ActiveSymbol)
	}
	if len(calls) != 0 {
		t.Errorf("不应有下单调用, got %d", len(calls))
	}

	// 余额恢复后同一候选可正常派发
	deps.WalletBalance = func() (float64, error) { return 100, nil }
	_, retry := RunTriggerEntryCycle(next, deps, t0)
	if retry.Reason != CycleDispatched {
		t.Errorf("恢复后 reason = %s, want DISPATCHED", retry.Reason)
	}
}

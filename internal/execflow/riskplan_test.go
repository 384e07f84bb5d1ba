package execflow

import (
	"testing"

	"github.com/newplayman/short-hunter/internal/fsm"
)

func TestPlanRiskAction_PriorityChain(t *testing.T) {
	cases := []struct {
		name string
		in   RiskInput
		want RiskAction
	}{
		{
			"symbol_mismatch",
			RiskInput{SignalSymbol: "ETHUSDT", ActiveSymbol: "BTCUSDT", State: fsm.StatePhase1, HasPosition: true, PnL: PnLResult{Branch: PnLNegative}},
			RiskIgnore,
		},
		{
			"monitoring_reset",
			RiskInput{SignalSymbol: "BTCUSDT", ActiveSymbol: "BTCUSDT", State: fsm.StateMonitoring},
			RiskReset,
		},
		{
			"entry_order_no_position",
			RiskInput{SignalSymbol: "BTCUSDT", ActiveSymbol: "BTCUSDT", State: fsm.StateEntryOrder, HasPosition: false},
			RiskCancelAndReset,
		},
		{
			"no_position_otherwise",
			RiskInput{SignalSymbol: "BTCUSDT", ActiveSymbol: "BTCUSDT", State: fsm.StatePhase1, HasPosition: false},
			RiskIgnore,
		},
		{
			"negative_pnl_market_exit",
			RiskInput{SignalSymbol: "BTCUSDT", ActiveSymbol: "BTCUSDT", State: fsm.StatePhase2, HasPosition: true, PnL: PnLResult{Branch: PnLNegative}},
			RiskMarketExit,
		},
		{
			"zero_pnl_market_exit",
			RiskInput{SignalSymbol: "BTCUSDT", ActiveSymbol: "BTCUSDT", State: fsm.StatePhase1, HasPosition: true, PnL: PnLResult{Branch: PnLZero}},
			RiskMarketExit,
		},
		{
			"phase2_positive_keep_breakeven",
			RiskInput{SignalSymbol: "BTCUSDT", ActiveSymbol: "BTCUSDT", State: fsm.StatePhase2, HasPosition: true, PnL: PnLResult{Branch: PnLPositive}},
			RiskKeepBreakeven,
		},
		{
			"phase1_positive_submit_breakeven",
			RiskInput{SignalSymbol: "BTCUSDT", ActiveSymbol: "BTCUSDT", State: fsm.StatePhase1, HasPosition: true, PnL: PnLResult{Branch: PnLPositive}},
			RiskSubmitBreakeven,
		},
		{
			"pnl_unavailable_ignore",
			RiskInput{SignalSymbol: "BTCUSDT", ActiveSymbol: "BTCUSDT", State: fsm.StateEntryOrder, HasPosition: true, PnL: PnLResult{Branch: PnLUnavailable}},
			RiskIgnore,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := PlanRiskAction(tc.in)
			if plan.Action != tc.want {
				t.Errorf("action = %s (%s), want %s", plan.Action, plan.Reason, tc.want)
			}
		})
	}
}

func TestPlanRiskAction_Phase1KeepsExistingTP(t *testing.T) {
	in := RiskInput{
		SignalSymbol: "BTCUSDT", ActiveSymbol: "BTCUSDT",
		State: fsm.StatePhase1, HasPosition: true,
		PnL: PnLResult{Branch: PnLPositive}, HasExistingTP: true,
	}
	plan := PlanRiskAction(in)
	if plan.Action != RiskSubmitBreakeven || !plan.KeepTP {
		t.Errorf("existing TP must be kept, got %+v", plan)
	}

	in.HasExistingTP = false
	plan = PlanRiskAction(in)
	if plan.KeepTP {
		// 新TP由触发流程布防，此处不创建也不声明保留
		t.Error("KeepTP must be false without an existing TP order")
	}
}

func TestPlanRiskAction_Phase2MDDStop(t *testing.T) {
	in := RiskInput{
		SignalSymbol: "BTCUSDT", ActiveSymbol: "BTCUSDT",
		State: fsm.StatePhase2, HasPosition: true,
		PnL: PnLResult{Branch: PnLPositive}, SecondFullFilled: true,
	}
	plan := PlanRiskAction(in)
	if !plan.KeepMDDStop {
		t.Error("fully-filled second leg must keep the MDD stop")
	}

	in.SecondFullFilled = false
	if plan := PlanRiskAction(in); plan.KeepMDDStop {
		t.Error("partially-filled second leg must not keep the MDD stop")
	}
}

func TestBufferConstantsStayDistinct(t *testing.T) {
	// 0.1%布防缓冲与触发引擎的0.5%阈值缓冲是两个独立常量
	if TPArmBufferPct != 0.001 {
		t.Errorf("TPArmBufferPct = %v, want 0.001", TPArmBufferPct)
	}
}

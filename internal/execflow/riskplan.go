package execflow

import (
	"github.com/newplayman/short-hunter/internal/fsm"
)

// TPArmBufferPct 风控流程引用的TP布防缓冲，0.1%。
// 触发引擎另有独立的0.5%阈值缓冲（trigger.DefaultBufferPct），不得合并。
const TPArmBufferPct = 0.001

// RiskAction 风控计划动作
type RiskAction string

const (
	RiskIgnore          RiskAction = "IGNORE"
	RiskReset           RiskAction = "RESET"
	RiskCancelAndReset  RiskAction = "CANCEL_ENTRY_AND_RESET"
	RiskMarketExit      RiskAction = "CANCEL_ENTRY_AND_MARKET_EXIT"
	RiskKeepBreakeven   RiskAction = "KEEP_BREAKEVEN"
	RiskSubmitBreakeven RiskAction = "SUBMIT_BREAKEVEN_STOP"
)

// RiskInput 风控判定输入
type RiskInput struct {
	SignalSymbol     string
	ActiveSymbol     string
	State            fsm.SymbolState
	HasPosition      bool
	PnL              PnLResult
	HasExistingTP    bool
	SecondFullFilled bool // 第二腿是否完全成交（决定是否保留MDD止损）
}

// RiskPlan 风控计划输出
type RiskPlan struct {
	Action      RiskAction
	KeepTP      bool // PHASE1正收益时保留已有TP单；新TP由触发流程布防，此处不创建
	KeepMDDStop bool // PHASE2且第二腿全成时保留已有MDD止损
	Reason      string
}

// PlanRiskAction 风控信号处理计划，严格按优先级链评估
func PlanRiskAction(in RiskInput) RiskPlan {
	// 1. symbol不匹配 → 忽略
	if in.SignalSymbol == "" || in.SignalSymbol != in.ActiveSymbol {
		return RiskPlan{Action: RiskIgnore, Reason: "SYMBOL_MISMATCH"}
	}

	// 2. 监控中 → 复位
	if in.State == fsm.StateMonitoring {
		return RiskPlan{Action: RiskReset, Reason: "MONITORING_RESET"}
	}

	// 3. 进场挂单且无持仓 → 撤单并复位
	if in.State == fsm.StateEntryOrder && !in.HasPosition {
		return RiskPlan{Action: RiskCancelAndReset, Reason: "ENTRY_ORDER_NO_POSITION"}
	}

	// 4. 其余无持仓情形 → 忽略
	if !in.HasPosition {
		return RiskPlan{Action: RiskIgnore, Reason: "NO_POSITION"}
	}

	// 5. 亏损或持平 → 撤进场挂单并市价离场，压倒一切
	if in.PnL.Branch == PnLNegative || in.PnL.Branch == PnLZero {
		return RiskPlan{Action: RiskMarketExit, Reason: "PNL_NON_POSITIVE"}
	}

	// 6. 正收益按阶段分流
	if in.PnL.Branch == PnLPositive {
		switch in.State {
		case fsm.StatePhase2:
			return RiskPlan{
				Action:      RiskKeepBreakeven,
				KeepMDDStop: in.SecondFullFilled,
				Reason:      "PHASE2_POSITIVE",
			}
		case fsm.StatePhase1:
			return RiskPlan{
				Action: RiskSubmitBreakeven,
				KeepTP: in.HasExistingTP,
				Reason: "PHASE1_POSITIVE",
			}
		}
	}

	return RiskPlan{Action: RiskIgnore, Reason: "PNL_UNAVAILABLE"}
}

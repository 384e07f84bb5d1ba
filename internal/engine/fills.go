package engine

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/execflow"
	"github.com/newplayman/short-hunter/internal/fsm"
	"github.com/newplayman/short-hunter/internal/gateway"
	"github.com/newplayman/short-hunter/internal/trigger"
)

// EntryFillEvent 进场单状态更新。TPTarget/SecondEntryTarget由调用方
// 按策略参数预先算好，决策表置位对应flag时才会登记候选。
type EntryFillEvent struct {
	Phase             execflow.EntryPhase
	OrderID           string
	Status            execflow.OrderStatus
	ExecutedQty       float64
	HasPosition       bool
	HasOpenOrder      bool
	TPTarget          float64
	SecondEntryTarget float64
	EntryMode         trigger.EntryMode
	MessageID         int64
	At                time.Time
}

// SyncEntryFillFlow 进场成交同步：按固定决策表推进symbol状态、
// 整体重算账户状态，并按flag登记TP/二次进场候选。
func SyncEntryFillFlow(rt Runtime, ev EntryFillEvent) (Runtime, execflow.FillSyncDecision) {
	decision := execflow.SyncFill(ev.Phase, ev.Status, rt.SymbolState, ev.HasPosition)

	next := rt
	next.Account, _ = fsm.RecomputeAccount(rt.Account, ev.HasPosition, ev.HasOpenOrder)

	if !decision.Applied {
		return next, decision
	}

	next.SymbolState = decision.NextState
	if decision.NextState == fsm.StateIdle {
		next = next.reselectOrIdle()
		log.Info().Str("reason", decision.Reason).Str("active", next.ActiveSymbol).
			Msg("进场单终止无持仓，复位")
		return next, decision
	}

	if decision.ActivateTP && ev.TPTarget > 0 {
		next = next.addCandidate(trigger.Candidate{
			Symbol:          next.ActiveSymbol,
			Kind:            trigger.KindTakeProfit,
			TargetPrice:     ev.TPTarget,
			ReceivedAtLocal: ev.At,
			MessageID:       ev.MessageID,
			EntryMode:       ev.EntryMode,
		})
	}
	if decision.StartSecond && ev.SecondEntryTarget > 0 {
		next = next.addCandidate(trigger.Candidate{
			Symbol:          next.ActiveSymbol,
			Kind:            trigger.KindSecondEntry,
			TargetPrice:     ev.SecondEntryTarget,
			ReceivedAtLocal: ev.At,
			MessageID:       ev.MessageID,
			EntryMode:       ev.EntryMode,
		})
	}
	if decision.BreakevenOnly {
		// 进入PHASE2后只走保本离场，摘掉仍挂着的TP候选
		kept := make([]trigger.Candidate, 0, len(next.Candidates))
		for _, c := range next.Candidates {
			if c.Kind != trigger.KindTakeProfit {
				kept = append(kept, c)
			}
		}
		next.Candidates = kept
	}

	log.Info().Str("phase", string(ev.Phase)).Str("status", string(ev.Status)).
		Str("state", string(next.SymbolState)).Str("reason", decision.Reason).
		Msg("进场成交同步完成")
	return next, decision
}

// ExitFillEvent 离场单状态更新
type ExitFillEvent struct {
	OrderID          string
	Status           execflow.OrderStatus
	ExecutedQty      float64
	OpenExitOrderIDs []string
	At               time.Time
}

// ExitOutcome 离场单处理记录
type ExitOutcome struct {
	OCO       execflow.OCOResult
	FlatReset bool
	LockedNow bool
}

// HandleExitOrderUpdate 离场单事件：跟踪部分成交停滞；
// 任一离场腿全部成交时互撤其余离场单，互撤失败锁定新单提交；
// 全部成交意味着持仓已平，复位IDLE。
func HandleExitOrderUpdate(rt Runtime, ev ExitFillEvent, transport gateway.Transport) (Runtime, ExitOutcome) {
	next := rt
	next.ExitTracker = execflow.TrackPartialFill(rt.ExitTracker, ev.OrderID, ev.Status, ev.ExecutedQty, ev.At)

	var outcome ExitOutcome
	if ev.Status != execflow.StatusFilled {
		return next, outcome
	}

	plan := execflow.PlanOCOCancel(ev.OrderID, ev.OpenExitOrderIDs)
	outcome.OCO = execflow.ExecuteOCOCancel(plan, next.ActiveSymbol, transport, next.Settings.RetryPolicy)
	if outcome.OCO.LockNewOrders {
		next.SubmitLocked = true
		outcome.LockedNow = true
	}

	next = next.resetToIdle()
	next.Account, _ = fsm.RecomputeAccount(next.Account, false, len(outcome.OCO.Failed) > 0)
	outcome.FlatReset = true
	log.Info().Str("order_id", ev.OrderID).Int("oco_canceled", len(outcome.OCO.Canceled)).
		Bool("submit_locked", next.SubmitLocked).Msg("离场腿全部成交，持仓已平")
	return next, outcome
}

// CheckExitStall 离场部分成交停滞检查，命中时强制市价离场
func CheckExitStall(rt Runtime, now time.Time, riskExitRunning bool, positionQty float64, rules gateway.FilterRules, transport gateway.Transport) (Runtime, execflow.StallDecision, gateway.ExecuteResult) {
	decision := execflow.CheckStall(rt.ExitTracker, now, rt.Settings.ExitPartialStallSeconds, riskExitRunning)
	if !decision.ForceExit {
		return rt, decision, gateway.ExecuteResult{}
	}

	log.Warn().Str("order_id", rt.ExitTracker.OrderID).Dur("elapsed", decision.Elapsed).
		Str("reason", decision.Reason).Msg("离场部分成交停滞，强制市价离场")
	seq, _ := strconv.ParseInt(rt.ExitTracker.OrderID, 10, 64)
	res := submitMarketExit(rt.ActiveSymbol, positionQty, ExitClientOrderID("st", seq, rt.ActiveSymbol), rules, rt.Settings, transport)

	next := rt
	if res.OK {
		next.ExitTracker = execflow.PartialFillTracker{}
	}
	return next, decision, res
}

// UnlockSubmit 人工解除OCO互撤失败导致的新单锁
func UnlockSubmit(rt Runtime) Runtime {
	next := rt
	next.SubmitLocked = false
	return next
}

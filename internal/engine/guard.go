package engine

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/fsm"
	"github.com/newplayman/short-hunter/internal/pricesource"
	"github.com/newplayman/short-hunter/internal/recovery"
)

// ApplyWSPrice 写入推送通道标记价
func ApplyWSPrice(rt Runtime, symbol string, price float64, at time.Time) Runtime {
	next := rt
	next.Prices = pricesource.ApplyWSUpdate(rt.Prices, symbol, price, at)
	return next
}

// ApplyRESTPrice 写入轮询通道标记价
func ApplyRESTPrice(rt Runtime, symbol string, price float64, at time.Time) Runtime {
	next := rt
	next.Prices = pricesource.ApplyRESTUpdate(rt.Prices, symbol, price, at)
	return next
}

// RunPriceGuard 双通道失效守护：评估并穿线安全锁。
// 返回的动作（强平/撤单复位/仅复位）由调用方执行，锁的置位与清除在此完成。
func RunPriceGuard(rt Runtime, now time.Time) (Runtime, pricesource.GuardDecision) {
	facts := pricesource.GuardFacts{
		HasPosition:  rt.Account.HasAnyPosition,
		HasOpenOrder: rt.Account.HasAnyOpenOrder,
		Monitoring:   rt.SymbolState == fsm.StateMonitoring,
	}
	decision := pricesource.EvaluateGuard(rt.Prices, now, rt.Settings.StaleMarkPrice(), facts)

	next := rt
	var reason fsm.AccountChangeReason
	next.Account, reason = fsm.SetSafetyLock(rt.Account, decision.Lock)
	if reason == fsm.ReasonSafetyLockSet {
		log.Error().Str("action", string(decision.Action)).Msg("两路价格源全部失效，安全锁置位")
	} else if reason == fsm.ReasonSafetyLockClear {
		log.Info().Msg("价格源恢复，安全锁解除")
	}
	return next, decision
}

// ResetAfterGuard 守护动作（强平/撤单）在交易所侧执行完成后，
// 运行时整体复位回IDLE。
func ResetAfterGuard(rt Runtime) Runtime {
	return rt.resetToIdle()
}

// ApplyRecoveryResult 将一次恢复运行的结果穿线进运行时。
// 解锁时恢复去重水位/冷却表并放行信号循环；未解锁保持全局锁定。
func ApplyRecoveryResult(rt Runtime, res recovery.Result) Runtime {
	next := rt
	if !res.Unlocked {
		next.RecoveryLocked = true
		next.SignalLoopPaused = true
		log.Warn().Str("waiting_on", string(res.WaitingOn)).Str("reason", res.Reason).
			Msg("恢复未完成，引擎保持锁定")
		return next
	}

	next.RecoveryLocked = false
	next.SignalLoopPaused = false
	next.Account = res.Account
	next.SymbolState = res.SymbolState
	next.ActiveSymbol = res.ActiveSymbol

	next.Watermarks = cloneInt64Map(res.Persisted.LastMessageIDs)
	next.CooldownUntil = cloneTimeMap(res.Persisted.CooldownBySymbol)
	next.ReceivedAtBySymbol = cloneTimeMap(res.Persisted.ReceivedAtBySymbol)
	next.MessageIDBySymbol = cloneInt64Map(res.Persisted.MessageIDBySymbol)

	log.Info().Str("symbol_state", string(next.SymbolState)).
		Str("active", next.ActiveSymbol).Msg("恢复完成，引擎解锁")
	return next
}

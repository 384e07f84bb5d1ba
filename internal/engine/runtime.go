package engine

import (
	"time"

	"github.com/newplayman/short-hunter/internal/execflow"
	"github.com/newplayman/short-hunter/internal/fsm"
	"github.com/newplayman/short-hunter/internal/gateway"
	"github.com/newplayman/short-hunter/internal/pricesource"
	"github.com/newplayman/short-hunter/internal/trigger"
)

// Settings 引擎运行参数，进程边缘由config载入后以值传入，核心内无全局状态
type Settings struct {
	CooldownMinutes         int
	MarginBufferPct         float64
	WSStaleFallbackSeconds  int
	StaleMarkPriceSeconds   int
	EntryTriggerBufferPct   float64
	ExitPartialStallSeconds int
	MDDStopPct              float64
	PositionMode            gateway.PositionMode
	RetryPolicy             gateway.RetryPolicy
}

// WSStaleFallback 推送通道失效切换窗口
func (s Settings) WSStaleFallback() time.Duration {
	return time.Duration(s.WSStaleFallbackSeconds) * time.Second
}

// StaleMarkPrice 双通道安全锁窗口
func (s Settings) StaleMarkPrice() time.Duration {
	return time.Duration(s.StaleMarkPriceSeconds) * time.Second
}

// Runtime 运行时快照聚合根。所有组件操作取旧快照返回新快照，
// 绝不原位修改；并发事件源必须先串行化再触达核心。
type Runtime struct {
	Settings Settings

	RecoveryLocked   bool
	SignalLoopPaused bool
	SubmitLocked     bool // OCO互撤失败后的人工锁

	Account      fsm.AccountState
	SymbolState  fsm.SymbolState
	ActiveSymbol string

	Watermarks         map[string]int64 // channel_id → 单调递增message水位
	CooldownUntil      map[string]time.Time
	ReceivedAtBySymbol map[string]time.Time
	MessageIDBySymbol  map[string]int64

	Candidates []trigger.Candidate

	Prices      pricesource.State
	ExitTracker execflow.PartialFillTracker
}

// NewRuntime 初始快照：恢复锁定、信号循环暂停，等待恢复协议放行
func NewRuntime(settings Settings) Runtime {
	return Runtime{
		Settings:           settings,
		RecoveryLocked:     true,
		SignalLoopPaused:   true,
		SymbolState:        fsm.StateIdle,
		Watermarks:         map[string]int64{},
		CooldownUntil:      map[string]time.Time{},
		ReceivedAtBySymbol: map[string]time.Time{},
		MessageIDBySymbol:  map[string]int64{},
		Prices:             pricesource.NewState(),
	}
}

func cloneInt64Map(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneTimeMap(src map[string]time.Time) map[string]time.Time {
	dst := make(map[string]time.Time, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneCandidates(src []trigger.Candidate) []trigger.Candidate {
	dst := make([]trigger.Candidate, len(src))
	copy(dst, src)
	return dst
}

// setWatermark 返回更新了channel水位的新快照
func (rt Runtime) setWatermark(channelID string, messageID int64) Runtime {
	next := rt
	next.Watermarks = cloneInt64Map(rt.Watermarks)
	next.Watermarks[channelID] = messageID
	return next
}

// setCooldown 记录symbol冷却截止时刻
func (rt Runtime) setCooldown(symbol string, until time.Time) Runtime {
	next := rt
	next.CooldownUntil = cloneTimeMap(rt.CooldownUntil)
	next.CooldownUntil[symbol] = until
	return next
}

// addCandidate 加入候选并记录symbol元数据
func (rt Runtime) addCandidate(c trigger.Candidate) Runtime {
	next := rt
	next.Candidates = append(cloneCandidates(rt.Candidates), c)
	next.ReceivedAtBySymbol = cloneTimeMap(rt.ReceivedAtBySymbol)
	next.ReceivedAtBySymbol[c.Symbol] = c.ReceivedAtLocal
	next.MessageIDBySymbol = cloneInt64Map(rt.MessageIDBySymbol)
	next.MessageIDBySymbol[c.Symbol] = c.MessageID
	return next
}

// removeCandidate 按symbol移除候选
func (rt Runtime) removeCandidate(symbol string) Runtime {
	next := rt
	kept := make([]trigger.Candidate, 0, len(rt.Candidates))
	for _, c := range rt.Candidates {
		if c.Symbol != symbol {
			kept = append(kept, c)
		}
	}
	next.Candidates = kept
	return next
}

// removeCandidateExact 按symbol+kind+message移除单个候选
func (rt Runtime) removeCandidateExact(c trigger.Candidate) Runtime {
	next := rt
	kept := make([]trigger.Candidate, 0, len(rt.Candidates))
	for _, x := range rt.Candidates {
		if x.Symbol == c.Symbol && x.Kind == c.Kind && x.MessageID == c.MessageID {
			continue
		}
		kept = append(kept, x)
	}
	next.Candidates = kept
	return next
}

// selectActiveCandidate 按(received_at_local, message_id, symbol)全序选出下一个
// 活动symbol；无候选返回空
func selectActiveCandidate(candidates []trigger.Candidate) string {
	best := ""
	var bestC trigger.Candidate
	for _, c := range candidates {
		if best == "" || candidateWins(c, bestC) {
			best = c.Symbol
			bestC = c
		}
	}
	return best
}

func candidateWins(a, b trigger.Candidate) bool {
	if !a.ReceivedAtLocal.Equal(b.ReceivedAtLocal) {
		return a.ReceivedAtLocal.After(b.ReceivedAtLocal)
	}
	if a.MessageID != b.MessageID {
		return a.MessageID > b.MessageID
	}
	return a.Symbol > b.Symbol
}

// reselectOrIdle active symbol出局后在剩余首次进场候选中重选；
// 无剩余候选则回到IDLE
func (rt Runtime) reselectOrIdle() Runtime {
	next := rt
	var firstEntries []trigger.Candidate
	for _, c := range next.Candidates {
		if c.Kind == trigger.KindFirstEntry {
			firstEntries = append(firstEntries, c)
		}
	}
	if len(firstEntries) == 0 {
		next.SymbolState = fsm.StateIdle
		next.ActiveSymbol = ""
		next.Candidates = nil
		next.ExitTracker = execflow.PartialFillTracker{}
		return next
	}
	next.ActiveSymbol = selectActiveCandidate(firstEntries)
	next.SymbolState = fsm.StateMonitoring
	next.Candidates = firstEntries
	return next
}

// resetToIdle 复位symbol状态并丢弃附着在旧阶段上的候选与跟踪器
func (rt Runtime) resetToIdle() Runtime {
	next := rt
	next.SymbolState = fsm.ApplyEvent(rt.SymbolState, fsm.EventReset).Next
	next.ActiveSymbol = ""
	next.Candidates = nil
	next.ExitTracker = execflow.PartialFillTracker{}
	return next
}

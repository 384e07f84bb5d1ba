package engine

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newplayman/short-hunter/internal/fsm"
	"github.com/newplayman/short-hunter/internal/trigger"
)

// LeadingSignal 上游解析后的做空信号。解析失败时ParseOK为false，
// Symbol可能为空。
type LeadingSignal struct {
	ChannelID   string
	MessageID   int64
	Symbol      string
	TargetPrice float64
	Mode        trigger.EntryMode
	ParseOK     bool
	ReceivedAt  time.Time
}

// SignalReason 信号处理结果代码
type SignalReason string

const (
	SignalAccepted       SignalReason = "ACCEPTED"
	SignalRecoveryLocked SignalReason = "RECOVERY_LOCKED"
	SignalLoopPaused     SignalReason = "LOOP_PAUSED"
	SignalDuplicate      SignalReason = "DUPLICATE_MESSAGE"
	SignalParseFailed    SignalReason = "PARSE_FAILED_COOLDOWN"
	SignalInvalidTarget  SignalReason = "INVALID_TARGET"
	SignalSymbolActive   SignalReason = "SYMBOL_ALREADY_ACTIVE"
	SignalInCooldown     SignalReason = "IN_COOLDOWN"
	SignalFilteredOut    SignalReason = "FILTERED_OUT"
)

// SignalDecision 单条信号的处理记录
type SignalDecision struct {
	Accepted  bool
	Reason    SignalReason
	Detail    string
	Candidate trigger.Candidate
}

// SignalFilter 注入的通用过滤，返回false时给出拒绝说明。可为nil。
type SignalFilter func(sig LeadingSignal) (bool, string)

// HandleLeadingSignal 做空信号入口。处理顺序固定：
// 恢复锁/暂停闸门 → channel水位去重 → 解析闸门（失败记冷却）→
// 活动symbol拒绝 → 冷却检查 → 通用过滤 → 登记FIRST_ENTRY候选。
// 去重水位在闸门放行后立即推进，后续任何拒绝都不回退。
func HandleLeadingSignal(rt Runtime, sig LeadingSignal, filter SignalFilter, now time.Time) (Runtime, SignalDecision) {
	if rt.RecoveryLocked {
		return rt, SignalDecision{Reason: SignalRecoveryLocked}
	}
	if rt.SignalLoopPaused {
		return rt, SignalDecision{Reason: SignalLoopPaused}
	}

	if last, ok := rt.Watermarks[sig.ChannelID]; ok && sig.MessageID <= last {
		log.Debug().Str("channel", sig.ChannelID).Int64("message_id", sig.MessageID).
			Int64("watermark", last).Msg("重复信号丢弃")
		return rt, SignalDecision{Reason: SignalDuplicate}
	}
	next := rt.setWatermark(sig.ChannelID, sig.MessageID)

	cooldown := time.Duration(rt.Settings.CooldownMinutes) * time.Minute

	if !sig.ParseOK {
		// 坏信号也占用冷却，防止同symbol的畸形消息风暴反复打进来
		if sig.Symbol != "" {
			next = next.setCooldown(sig.Symbol, now.Add(cooldown))
		}
		log.Warn().Str("channel", sig.ChannelID).Int64("message_id", sig.MessageID).
			Str("symbol", sig.Symbol).Msg("信号解析失败，记入冷却")
		return next, SignalDecision{Reason: SignalParseFailed}
	}

	if !(sig.TargetPrice > 0) || math.IsInf(sig.TargetPrice, 0) {
		next = next.setCooldown(sig.Symbol, now.Add(cooldown))
		return next, SignalDecision{Reason: SignalInvalidTarget}
	}

	if sig.Symbol == rt.ActiveSymbol && rt.ActiveSymbol != "" {
		return next, SignalDecision{Reason: SignalSymbolActive, Detail: sig.Symbol}
	}

	if until, ok := rt.CooldownUntil[sig.Symbol]; ok && now.Before(until) {
		log.Debug().Str("symbol", sig.Symbol).Time("until", until).Msg("symbol冷却中，信号拒绝")
		return next, SignalDecision{Reason: SignalInCooldown, Detail: until.Format(time.RFC3339)}
	}

	if filter != nil {
		if ok, why := filter(sig); !ok {
			return next, SignalDecision{Reason: SignalFilteredOut, Detail: why}
		}
	}

	cand := trigger.Candidate{
		Symbol:          sig.Symbol,
		Kind:            trigger.KindFirstEntry,
		TargetPrice:     sig.TargetPrice,
		ReceivedAtLocal: sig.ReceivedAt,
		MessageID:       sig.MessageID,
		EntryMode:       sig.Mode,
	}

	next = next.setCooldown(sig.Symbol, now.Add(cooldown))
	next = next.addCandidate(cand)

	if next.SymbolState == fsm.StateIdle {
		next.SymbolState = fsm.ApplyEvent(next.SymbolState, fsm.EventStartMonitoring).Next
	}
	if next.SymbolState == fsm.StateMonitoring {
		next.ActiveSymbol = selectActiveCandidate(next.Candidates)
	}

	log.Info().Str("symbol", sig.Symbol).Float64("target", sig.TargetPrice).
		Str("mode", string(sig.Mode)).Str("active", next.ActiveSymbol).
		Msg("做空信号已登记")
	return next, SignalDecision{Accepted: true, Reason: SignalAccepted, Candidate: cand}
}

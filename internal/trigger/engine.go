package trigger

import (
	"math"
	"sort"
	"time"
)

// Kind 触发类型
type Kind string

const (
	KindFirstEntry  Kind = "FIRST_ENTRY"
	KindSecondEntry Kind = "SECOND_ENTRY"
	KindTakeProfit  Kind = "TP"
	KindBreakeven   Kind = "BREAKEVEN"
)

// EntryMode 进场预算倍率模式
type EntryMode string

const (
	ModeConservative EntryMode = "CONSERVATIVE"
	ModeAggressive   EntryMode = "AGGRESSIVE"
)

// DefaultBufferPct 触发阈值缓冲，0.5%。
// 注意：风控流程另有独立的0.1% TP布防缓冲（execflow.TPArmBufferPct），
// 两者来源不同，不得合并。
const DefaultBufferPct = 0.005

// Candidate 待触发候选，信号被接受时创建
type Candidate struct {
	Symbol          string
	Kind            Kind
	TargetPrice     float64
	ReceivedAtLocal time.Time
	MessageID       int64
	EntryMode       EntryMode
}

// EvalReason 单候选评估结果代码
type EvalReason string

const (
	EvalSatisfied        EvalReason = "SATISFIED"
	EvalNotSatisfied     EvalReason = "NOT_SATISFIED"
	EvalPriceUnavailable EvalReason = "PRICE_UNAVAILABLE"
	EvalInvalidTarget    EvalReason = "INVALID_TARGET"
	EvalDroppedTieBreak  EvalReason = "DROPPED_TIE_BREAK"
)

// Evaluation 单候选评估记录
type Evaluation struct {
	Candidate Candidate
	Threshold float64
	MarkPrice float64
	Reason    EvalReason
}

// CycleResult 一次触发循环的结果。满足条件的候选中恰有一个胜出，
// 其余进入Dropped，可观测不丢失。
type CycleResult struct {
	Winner      *Evaluation
	Dropped     []Evaluation
	Evaluations []Evaluation
}

// Threshold 按触发类型计算阈值：进场类向下缓冲，TP/保本类向上缓冲
func Threshold(kind Kind, target, buffer float64) float64 {
	switch kind {
	case KindTakeProfit, KindBreakeven:
		return target * (1 + buffer)
	default:
		return target * (1 - buffer)
	}
}

// satisfied 按触发类型判断mark价是否满足阈值
func satisfied(kind Kind, mark, threshold float64) bool {
	if kind == KindTakeProfit {
		return mark <= threshold
	}
	return mark >= threshold
}

// Evaluate 评估单个候选。mark取自其symbol当前标记价，缺失或非法一律不满足。
func Evaluate(c Candidate, mark float64, buffer float64) Evaluation {
	ev := Evaluation{Candidate: c, MarkPrice: mark}

	if !(c.TargetPrice > 0) || math.IsInf(c.TargetPrice, 0) {
		ev.Reason = EvalInvalidTarget
		return ev
	}
	if !(mark > 0) || math.IsNaN(mark) || math.IsInf(mark, 0) {
		ev.Reason = EvalPriceUnavailable
		return ev
	}

	ev.Threshold = Threshold(c.Kind, c.TargetPrice, buffer)
	if satisfied(c.Kind, mark, ev.Threshold) {
		ev.Reason = EvalSatisfied
	} else {
		ev.Reason = EvalNotSatisfied
	}
	return ev
}

// wins 平局裁决全序：received_at_local新者优先，再比message_id大者，
// 最后按symbol字典序大者。任意输入集合下结果唯一且可复现。
func wins(a, b Candidate) bool {
	if !a.ReceivedAtLocal.Equal(b.ReceivedAtLocal) {
		return a.ReceivedAtLocal.After(b.ReceivedAtLocal)
	}
	if a.MessageID != b.MessageID {
		return a.MessageID > b.MessageID
	}
	return a.Symbol > b.Symbol
}

// RunCycle 评估全部待定候选并裁决唯一胜者
func RunCycle(candidates []Candidate, markOf func(symbol string) (float64, bool), buffer float64) CycleResult {
	result := CycleResult{Evaluations: make([]Evaluation, 0, len(candidates))}

	var hits []Evaluation
	for _, c := range candidates {
		mark, ok := markOf(c.Symbol)
		if !ok {
			mark = math.NaN()
		}
		ev := Evaluate(c, mark, buffer)
		result.Evaluations = append(result.Evaluations, ev)
		if ev.Reason == EvalSatisfied {
			hits = append(hits, ev)
		}
	}

	if len(hits) == 0 {
		return result
	}

	sort.Slice(hits, func(i, j int) bool {
		return wins(hits[i].Candidate, hits[j].Candidate)
	})

	winner := hits[0]
	result.Winner = &winner
	for _, ev := range hits[1:] {
		ev.Reason = EvalDroppedTieBreak
		result.Dropped = append(result.Dropped, ev)
	}
	return result
}

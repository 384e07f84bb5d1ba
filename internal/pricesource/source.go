package pricesource

import (
	"math"
	"time"
)

// SourceMode 活动价格通道
type SourceMode string

const (
	ModeWSPrimary    SourceMode = "WS_PRIMARY"
	ModeRESTFallback SourceMode = "REST_FALLBACK"
)

// PricePoint 单symbol价格及其接收时刻
type PricePoint struct {
	Price      float64
	ReceivedAt time.Time
}

// State 双通道标记价缓存。值语义：更新返回新副本，调用方负责穿线。
type State struct {
	WSLastReceivedAt   time.Time
	RESTLastReceivedAt time.Time
	WSPrices           map[string]PricePoint
	RESTPrices         map[string]PricePoint
}

// NewState 创建空缓存
func NewState() State {
	return State{
		WSPrices:   map[string]PricePoint{},
		RESTPrices: map[string]PricePoint{},
	}
}

func clonePrices(src map[string]PricePoint) map[string]PricePoint {
	dst := make(map[string]PricePoint, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// ApplyWSUpdate 写入推送通道价格，任何WS更新立即恢复WS_PRIMARY资格
func ApplyWSUpdate(s State, symbol string, price float64, at time.Time) State {
	if !(price > 0) || math.IsInf(price, 0) {
		return s
	}
	next := s
	next.WSPrices = clonePrices(s.WSPrices)
	next.WSPrices[symbol] = PricePoint{Price: price, ReceivedAt: at}
	next.WSLastReceivedAt = at
	return next
}

// ApplyRESTUpdate 写入轮询通道价格
func ApplyRESTUpdate(s State, symbol string, price float64, at time.Time) State {
	if !(price > 0) || math.IsInf(price, 0) {
		return s
	}
	next := s
	next.RESTPrices = clonePrices(s.RESTPrices)
	next.RESTPrices[symbol] = PricePoint{Price: price, ReceivedAt: at}
	next.RESTLastReceivedAt = at
	return next
}

// Mode 选择活动通道：WS从未上报或已过期（age ≥ wsStaleFallback）则切REST
func Mode(s State, now time.Time, wsStaleFallback time.Duration) SourceMode {
	if s.WSLastReceivedAt.IsZero() {
		return ModeRESTFallback
	}
	if now.Sub(s.WSLastReceivedAt) >= wsStaleFallback {
		return ModeRESTFallback
	}
	return ModeWSPrimary
}

// LookupReason 取价结果代码
type LookupReason string

const (
	LookupPrimary     LookupReason = "PRIMARY"
	LookupFallback    LookupReason = "FALLBACK"
	LookupUnavailable LookupReason = "UNAVAILABLE"
)

// GetMarkPrice 取symbol标记价：优先活动通道，缺失时回退另一通道，
// 两边都没有为终态不可用。
func GetMarkPrice(s State, symbol string, now time.Time, wsStaleFallback time.Duration) (float64, LookupReason) {
	primary, secondary := s.WSPrices, s.RESTPrices
	if Mode(s, now, wsStaleFallback) == ModeRESTFallback {
		primary, secondary = s.RESTPrices, s.WSPrices
	}

	if p, ok := primary[symbol]; ok {
		return p.Price, LookupPrimary
	}
	if p, ok := secondary[symbol]; ok {
		return p.Price, LookupFallback
	}
	return 0, LookupUnavailable
}

// GuardAction 双通道同时失效时的安全动作，按持仓>挂单/监控>空闲的优先级
type GuardAction string

const (
	ActionForceMarketExit GuardAction = "FORCE_MARKET_EXIT"
	ActionCancelAndReset  GuardAction = "CANCEL_OPEN_ORDERS_AND_RESET"
	ActionResetOnly       GuardAction = "RESET_ONLY"
	ActionNone            GuardAction = "NONE"
)

// GuardFacts 守护判定所需的账户事实
type GuardFacts struct {
	HasPosition  bool
	HasOpenOrder bool
	Monitoring   bool
}

// GuardDecision 安全守护判定
type GuardDecision struct {
	Lock   bool
	Action GuardAction
}

func sourceStale(last time.Time, now time.Time, staleAfter time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= staleAfter
}

// EvaluateGuard 两路价格源全部过期（或从未上报）时强制安全锁；
// 任意一路恢复新鲜后锁自动解除。
func EvaluateGuard(s State, now time.Time, staleAfter time.Duration, facts GuardFacts) GuardDecision {
	wsStale := sourceStale(s.WSLastReceivedAt, now, staleAfter)
	restStale := sourceStale(s.RESTLastReceivedAt, now, staleAfter)

	if !wsStale || !restStale {
		return GuardDecision{Lock: false, Action: ActionNone}
	}

	switch {
	case facts.HasPosition:
		return GuardDecision{Lock: true, Action: ActionForceMarketExit}
	case facts.HasOpenOrder || facts.Monitoring:
		return GuardDecision{Lock: true, Action: ActionCancelAndReset}
	default:
		return GuardDecision{Lock: true, Action: ActionResetOnly}
	}
}

package fsm

// SymbolState 单交易对生命周期状态
type SymbolState string

const (
	StateIdle       SymbolState = "IDLE"        // 空闲，未跟踪任何信号
	StateMonitoring SymbolState = "MONITORING"  // 已登记候选，等待触发
	StateEntryOrder SymbolState = "ENTRY_ORDER" // 首次进场单已提交
	StatePhase1     SymbolState = "PHASE1"      // 首腿已成交
	StatePhase2     SymbolState = "PHASE2"      // 第二腿已部分或全部成交
)

// SymbolEvent 状态机事件
type SymbolEvent string

const (
	EventStartMonitoring        SymbolEvent = "START_MONITORING"
	EventSubmitEntryOrder       SymbolEvent = "SUBMIT_ENTRY_ORDER"
	EventPartialFill            SymbolEvent = "PARTIAL_FILL"
	EventFirstEntryFilled       SymbolEvent = "FIRST_ENTRY_FILLED"
	EventSubmitSecondEntryOrder SymbolEvent = "SUBMIT_SECOND_ENTRY_ORDER"
	EventSecondEntryFill        SymbolEvent = "SECOND_ENTRY_PARTIAL_OR_FILLED"
	EventCancelEntryNoPosition  SymbolEvent = "CANCEL_ENTRY_NO_POSITION"
	EventReset                  SymbolEvent = "RESET"
)

// TransitionResult 状态迁移结果代码
type TransitionResult string

const (
	TransitionOK           TransitionResult = "OK"
	TransitionInvalid      TransitionResult = "INVALID_TRANSITION"
	TransitionInvalidState TransitionResult = "INVALID_STATE"
)

type stateEvent struct {
	state SymbolState
	event SymbolEvent
}

// transitions 静态迁移表，表外组合一律拒绝。RESET单独处理，任意状态可达IDLE。
var transitions = map[stateEvent]SymbolState{
	{StateIdle, EventStartMonitoring}:             StateMonitoring,
	{StateMonitoring, EventSubmitEntryOrder}:      StateEntryOrder,
	{StateEntryOrder, EventPartialFill}:           StateEntryOrder,
	{StateEntryOrder, EventFirstEntryFilled}:      StatePhase1,
	{StateEntryOrder, EventCancelEntryNoPosition}: StateIdle,
	{StatePhase1, EventSubmitSecondEntryOrder}:    StatePhase2,
	{StatePhase1, EventSecondEntryFill}:           StatePhase2,
	{StatePhase2, EventSecondEntryFill}:           StatePhase2,
}

var validStates = map[SymbolState]bool{
	StateIdle:       true,
	StateMonitoring: true,
	StateEntryOrder: true,
	StatePhase1:     true,
	StatePhase2:     true,
}

// Transition 单次迁移的返回值：下一状态、是否变化、结果代码
type Transition struct {
	Next    SymbolState
	Changed bool
	Result  TransitionResult
}

// ApplyEvent 应用事件到当前状态。非法组合返回原状态不变，迁移本身无任何副作用。
func ApplyEvent(current SymbolState, event SymbolEvent) Transition {
	if !validStates[current] {
		return Transition{Next: current, Changed: false, Result: TransitionInvalidState}
	}

	if event == EventReset {
		return Transition{Next: StateIdle, Changed: current != StateIdle, Result: TransitionOK}
	}

	next, ok := transitions[stateEvent{current, event}]
	if !ok {
		return Transition{Next: current, Changed: false, Result: TransitionInvalid}
	}

	return Transition{Next: next, Changed: next != current, Result: TransitionOK}
}

// IsActive 判断状态是否占用active_symbol槽位
func IsActive(s SymbolState) bool {
	return validStates[s] && s != StateIdle
}

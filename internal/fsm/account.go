package fsm

// AccountState 账户级锁定状态，所有衍生字段一次性整体重算
type AccountState struct {
	HasAnyPosition  bool
	HasAnyOpenOrder bool
	SafetyLocked    bool
	EntryLocked     bool // has_any_position ∨ has_any_open_order
	GlobalBlocked   bool // entry_locked ∨ safety_locked
}

// AccountChangeReason 哪个输入导致了本次重算，供日志观测
type AccountChangeReason string

const (
	ReasonPositionChanged  AccountChangeReason = "POSITION_CHANGED"
	ReasonOpenOrderChanged AccountChangeReason = "OPEN_ORDER_CHANGED"
	ReasonSafetyLockSet    AccountChangeReason = "SAFETY_LOCK_SET"
	ReasonSafetyLockClear  AccountChangeReason = "SAFETY_LOCK_CLEARED"
	ReasonNoChange         AccountChangeReason = "NO_CHANGE"
)

// RecomputeAccount 根据持仓/挂单事实整体重算账户状态，保留安全锁
func RecomputeAccount(prev AccountState, hasPosition, hasOpenOrder bool) (AccountState, AccountChangeReason) {
	next := AccountState{
		HasAnyPosition:  hasPosition,
		HasAnyOpenOrder: hasOpenOrder,
		SafetyLocked:    prev.SafetyLocked,
	}
	next.EntryLocked = next.HasAnyPosition || next.HasAnyOpenOrder
	next.GlobalBlocked = next.EntryLocked || next.SafetyLocked

	reason := ReasonNoChange
	if hasPosition != prev.HasAnyPosition {
		reason = ReasonPositionChanged
	} else if hasOpenOrder != prev.HasAnyOpenOrder {
		reason = ReasonOpenOrderChanged
	}
	return next, reason
}

// SetSafetyLock 设置/清除安全锁。仅价格源守护调用。
func SetSafetyLock(prev AccountState, locked bool) (AccountState, AccountChangeReason) {
	next := prev
	next.SafetyLocked = locked
	next.EntryLocked = next.HasAnyPosition || next.HasAnyOpenOrder
	next.GlobalBlocked = next.EntryLocked || next.SafetyLocked

	reason := ReasonNoChange
	if locked != prev.SafetyLocked {
		if locked {
			reason = ReasonSafetyLockSet
		} else {
			reason = ReasonSafetyLockClear
		}
	}
	return next, reason
}

package fsm

import "testing"

func TestApplyEvent_Table(t *testing.T) {
	cases := []struct {
		name    string
		state   SymbolState
		event   SymbolEvent
		next    SymbolState
		changed bool
		result  TransitionResult
	}{
		{"idle_start", StateIdle, EventStartMonitoring, StateMonitoring, true, TransitionOK},
		{"monitoring_submit", StateMonitoring, EventSubmitEntryOrder, StateEntryOrder, true, TransitionOK},
		{"entry_partial", StateEntryOrder, EventPartialFill, StateEntryOrder, false, TransitionOK},
		{"entry_filled", StateEntryOrder, EventFirstEntryFilled, StatePhase1, true, TransitionOK},
		{"entry_cancel", StateEntryOrder, EventCancelEntryNoPosition, StateIdle, true, TransitionOK},
		{"phase1_submit_second", StatePhase1, EventSubmitSecondEntryOrder, StatePhase2, true, TransitionOK},
		{"phase1_second_fill", StatePhase1, EventSecondEntryFill, StatePhase2, true, TransitionOK},
		{"phase2_second_fill", StatePhase2, EventSecondEntryFill, StatePhase2, false, TransitionOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := ApplyEvent(tc.state, tc.event)
			if tr.Next != tc.next || tr.Changed != tc.changed || tr.Result != tc.result {
				t.Errorf("ApplyEvent(%s,%s) = {%s %v %s}, want {%s %v %s}",
					tc.state, tc.event, tr.Next, tr.Changed, tr.Result, tc.next, tc.changed, tc.result)
			}
		})
	}
}

func TestApplyEvent_InvalidPairsKeepState(t *testing.T) {
	states := []SymbolState{StateIdle, StateMonitoring, StateEntryOrder, StatePhase1, StatePhase2}
	events := []SymbolEvent{
		EventStartMonitoring, EventSubmitEntryOrder, EventPartialFill,
		EventFirstEntryFilled, EventSubmitSecondEntryOrder, EventSecondEntryFill,
		EventCancelEntryNoPosition,
	}

	for _, s := range states {
		for _, e := range events {
			if _, ok := transitions[stateEvent{s, e}]; ok {
				continue
			}
			tr := ApplyEvent(s, e)
			if tr.Result != TransitionInvalid {
				t.Errorf("ApplyEvent(%s,%s): result = %s, want INVALID_TRANSITION", s, e, tr.Result)
			}
			if tr.Next != s || tr.Changed {
				t.Errorf("ApplyEvent(%s,%s): state must stay unchanged, got %s changed=%v", s, e, tr.Next, tr.Changed)
			}
		}
	}
}

func TestApplyEvent_ResetAlwaysIdle(t *testing.T) {
	for _, s := range []SymbolState{StateIdle, StateMonitoring, StateEntryOrder, StatePhase1, StatePhase2} {
		tr := ApplyEvent(s, EventReset)
		if tr.Next != StateIdle || tr.Result != TransitionOK {
			t.Errorf("RESET from %s: got %s/%s, want IDLE/OK", s, tr.Next, tr.Result)
		}
		if tr.Changed != (s != StateIdle) {
			t.Errorf("RESET from %s: changed = %v", s, tr.Changed)
		}
	}
}

func TestApplyEvent_UnknownState(t *testing.T) {
	tr := ApplyEvent(SymbolState("LIMBO"), EventReset)
	if tr.Result != TransitionInvalidState {
		t.Errorf("unknown state: result = %s, want INVALID_STATE", tr.Result)
	}
	if tr.Next != SymbolState("LIMBO") {
		t.Errorf("unknown state must be returned unchanged, got %s", tr.Next)
	}
}

func TestIsActive(t *testing.T) {
	if IsActive(StateIdle) {
		t.Error("IDLE must not be active")
	}
	for _, s := range []SymbolState{StateMonitoring, StateEntryOrder, StatePhase1, StatePhase2} {
		if !IsActive(s) {
			t.Errorf("%s must be active", s)
		}
	}
	if IsActive(SymbolState("LIMBO")) {
		t.Error("unknown state must not be active")
	}
}

package execflow

import (
	"testing"

	"github.com/newplayman/short-hunter/internal/fsm"
)

func TestSyncFill_Table(t *testing.T) {
	cases := []struct {
		name        string
		phase       EntryPhase
		status      OrderStatus
		state       fsm.SymbolState
		hasPosition bool
		wantState   fsm.SymbolState
		wantApplied bool
		check       func(t *testing.T, d FillSyncDecision)
	}{
		{
			name: "first_partial", phase: PhaseFirstEntry, status: StatusPartiallyFilled,
			state: fsm.StateEntryOrder, hasPosition: true,
			wantState: fsm.StateEntryOrder, wantApplied: true,
			check: func(t *testing.T, d FillSyncDecision) {
				if !d.ActivateTP || !d.KeepEntry {
					t.Errorf("want ActivateTP+KeepEntry, got %+v", d)
				}
			},
		},
		{
			name: "first_filled", phase: PhaseFirstEntry, status: StatusFilled,
			state: fsm.StateEntryOrder, hasPosition: true,
			wantState: fsm.StatePhase1, wantApplied: true,
			check: func(t *testing.T, d FillSyncDecision) {
				if !d.ActivateTP || !d.StartSecond {
					t.Errorf("want ActivateTP+StartSecond, got %+v", d)
				}
			},
		},
		{
			name: "first_canceled_no_position", phase: PhaseFirstEntry, status: StatusCanceled,
			state: fsm.StateEntryOrder, hasPosition: false,
			wantState: fsm.StateIdle, wantApplied: true,
		},
		{
			name: "first_expired_no_position", phase: PhaseFirstEntry, status: StatusExpired,
			state: fsm.StateEntryOrder, hasPosition: false,
			wantState: fsm.StateIdle, wantApplied: true,
		},
		{
			name: "first_canceled_with_position_no_rule", phase: PhaseFirstEntry, status: StatusCanceled,
			state: fsm.StateEntryOrder, hasPosition: true,
			wantState: fsm.StateEntryOrder, wantApplied: false,
		},
		{
			name: "second_partial", phase: PhaseSecondEntry, status: StatusPartiallyFilled,
			state: fsm.StatePhase1, hasPosition: true,
			wantState: fsm.StatePhase2, wantApplied: true,
			check: func(t *testing.T, d FillSyncDecision) {
				if !d.BreakevenOnly || d.SubmitMDD {
					t.Errorf("partial second: want BreakevenOnly without SubmitMDD, got %+v", d)
				}
			},
		},
		{
			name: "second_filled", phase: PhaseSecondEntry, status: StatusFilled,
			state: fsm.StatePhase2, hasPosition: true,
			wantState: fsm.StatePhase2, wantApplied: true,
			check: func(t *testing.T, d FillSyncDecision) {
				if !d.BreakevenOnly || !d.SubmitMDD {
					t.Errorf("filled second: want BreakevenOnly+SubmitMDD, got %+v", d)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := SyncFill(tc.phase, tc.status, tc.state, tc.hasPosition)
			if d.Applied != tc.wantApplied {
				t.Errorf("Applied = %v, want %v", d.Applied, tc.wantApplied)
			}
			if d.NextState != tc.wantState {
				t.Errorf("NextState = %s, want %s", d.NextState, tc.wantState)
			}
			if tc.check != nil {
				tc.check(t, d)
			}
		})
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	for _, s := range []OrderStatus{StatusFilled, StatusCanceled, StatusExpired} {
		if !s.IsTerminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range []OrderStatus{StatusNew, StatusPartiallyFilled} {
		if s.IsTerminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

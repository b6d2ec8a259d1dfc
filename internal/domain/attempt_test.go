package domain

import (
	"testing"
	"time"
)

func TestAttemptStateTerminal(t *testing.T) {
	cases := []struct {
		state AttemptState
		want  bool
	}{
		{AttemptPendingRisk, false},
		{AttemptSubmitting, false},
		{AttemptAwaitingFill, false},
		{AttemptNeutralizing, false},
		{AttemptRejected, true},
		{AttemptSuccess, true},
		{AttemptPartial, true},
		{AttemptFailed, true},
		{AttemptCanceled, true},
		{AttemptStuck, true},
	}
	for _, tc := range cases {
		if got := tc.state.Terminal(); got != tc.want {
			t.Errorf("Terminal(%s) = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestTradeAttemptDuration(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	done := start.Add(750 * time.Millisecond)

	a := TradeAttempt{StartedAt: start}
	if got := a.Duration(start.Add(time.Second)); got != time.Second {
		t.Errorf("running Duration = %v, want 1s", got)
	}

	a.CompletedAt = &done
	if got := a.Duration(start.Add(time.Hour)); got != 750*time.Millisecond {
		t.Errorf("completed Duration = %v, want 750ms", got)
	}
}

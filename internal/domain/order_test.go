package domain

import "testing"

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusClosed, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("Terminal(%s) = false, want true", s)
		}
	}
	if OrderStatusOpen.Terminal() {
		t.Error("Terminal(open) = true, want false")
	}
}

func TestOrderFillRatio(t *testing.T) {
	o := Order{Amount: 2.0, Filled: 0.5}
	if got := o.FillRatio(); got != 0.25 {
		t.Errorf("FillRatio = %v, want 0.25", got)
	}
	if got := (Order{}).FillRatio(); got != 0 {
		t.Errorf("FillRatio on zero amount = %v, want 0", got)
	}
}

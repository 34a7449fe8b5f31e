package order

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"adding items to arranging payment", StateAddingItems, StateArrangingPayment, true},
		{"arranging payment to settled", StateArrangingPayment, StatePaymentSettled, true},
		{"arranging payment to authorized", StateArrangingPayment, StatePaymentAuthorized, true},
		{"arranging payment back to adding items", StateArrangingPayment, StateAddingItems, true},
		{"authorized to settled", StatePaymentAuthorized, StatePaymentSettled, true},
		{"settled to shipped", StatePaymentSettled, StateShipped, true},
		{"settled back to arranging payment", StatePaymentSettled, StateArrangingPayment, false},
		{"settled to settled is not an edge", StatePaymentSettled, StatePaymentSettled, false},
		{"cancelled is terminal", StateCancelled, StateArrangingPayment, false},
		{"delivered is terminal", StateDelivered, StateShipped, false},
		{"cannot skip to delivered", StateArrangingPayment, StateDelivered, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransitionErrorMessage(t *testing.T) {
	err := &TransitionError{From: StatePaymentSettled, To: StateArrangingPayment}
	want := "cannot transition order from PaymentSettled to ArrangingPayment"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

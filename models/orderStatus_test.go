package models

import "testing"

func TestCanTransition_LegalSteps(t *testing.T) {
	legal := []struct {
		from, to OrderStatus
	}{
		{OrderStatusPending, OrderStatusAwaitingValidation},
		{OrderStatusPending, OrderStatusAnomaly},
		{OrderStatusPending, OrderStatusRejected},
		{OrderStatusPending, OrderStatusCancelled},
		{OrderStatusAwaitingValidation, OrderStatusCompleted},
		{OrderStatusAwaitingValidation, OrderStatusAnomaly},
		{OrderStatusAnomaly, OrderStatusValidated},
		{OrderStatusAnomaly, OrderStatusAnomalyRejected},
		{OrderStatusAnomaly, OrderStatusCancelled},
		{OrderStatusAnomalyRejected, OrderStatusAwaitingValidation},
		{OrderStatusAnomalyRejected, OrderStatusAnomaly},
		{OrderStatusAnomalyRejected, OrderStatusRejected},
		{OrderStatusValidated, OrderStatusCompleted},
	}
	for _, step := range legal {
		if err := step.from.CanTransition(step.to); err != nil {
			t.Errorf("%s -> %s should be legal: %v", step.from, step.to, err)
		}
	}
}

func TestCanTransition_IllegalSteps(t *testing.T) {
	illegal := []struct {
		from, to OrderStatus
	}{
		// An anomaly never times out into rejected; it exits through
		// anomaly_rejected when its contract dies.
		{OrderStatusAnomaly, OrderStatusRejected},
		{OrderStatusAnomaly, OrderStatusCompleted},
		{OrderStatusPending, OrderStatusCompleted},
		{OrderStatusPending, OrderStatusValidated},
		{OrderStatusAwaitingValidation, OrderStatusValidated},
		{OrderStatusValidated, OrderStatusAnomaly},
		{OrderStatusAnomalyRejected, OrderStatusCompleted},
	}
	for _, step := range illegal {
		if err := step.from.CanTransition(step.to); err == nil {
			t.Errorf("%s -> %s must be rejected", step.from, step.to)
		}
	}
}

func TestCanTransition_TerminalIsImmutable(t *testing.T) {
	all := []OrderStatus{
		OrderStatusPending, OrderStatusAwaitingValidation, OrderStatusAnomaly,
		OrderStatusAnomalyRejected, OrderStatusValidated, OrderStatusCompleted,
		OrderStatusRejected, OrderStatusCancelled,
	}
	for _, terminal := range []OrderStatus{OrderStatusCompleted, OrderStatusRejected, OrderStatusCancelled} {
		if !terminal.Terminal() {
			t.Fatalf("%s should be terminal", terminal)
		}
		for _, to := range all {
			if err := terminal.CanTransition(to); err == nil {
				t.Errorf("%s -> %s must be rejected", terminal, to)
			}
		}
	}
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	if err := OrderStatus("draft").CanTransition(OrderStatusPending); err == nil {
		t.Error("unknown source status must be rejected")
	}
	if err := OrderStatusPending.CanTransition(OrderStatus("archived")); err == nil {
		t.Error("unknown target status must be rejected")
	}
}

func TestTimeoutRejectable_ExcludesAnomaly(t *testing.T) {
	if OrderStatusAnomaly.TimeoutRejectable() {
		t.Error("anomaly must never auto-reject on timeout")
	}
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusAwaitingValidation, OrderStatusAnomalyRejected} {
		if !s.TimeoutRejectable() {
			t.Errorf("%s should be timeout-rejectable", s)
		}
	}
}

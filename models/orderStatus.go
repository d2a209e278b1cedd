package models

import "fmt"

// OrderStatus is a closed enum. Every transition goes through CanTransition;
// unknown statuses and unknown transitions are errors, never silently accepted.
type OrderStatus string

const (
	OrderStatusPending            OrderStatus = "pending"
	OrderStatusAwaitingValidation OrderStatus = "awaiting_validation"
	OrderStatusAnomaly            OrderStatus = "anomaly"
	OrderStatusAnomalyRejected    OrderStatus = "anomaly_rejected"
	OrderStatusValidated          OrderStatus = "validated"
	OrderStatusCompleted          OrderStatus = "completed"
	OrderStatusRejected           OrderStatus = "rejected"
	OrderStatusCancelled          OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAwaitingValidation, OrderStatusAnomaly,
		OrderStatusAnomalyRejected, OrderStatusValidated, OrderStatusCompleted,
		OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal statuses are immutable: no reconciliation pass or user action may
// move an order out of them.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// Matchable reports whether a reconciliation pass should run the matcher for
// an order in this status. anomaly_rejected re-enters matching like pending.
func (s OrderStatus) Matchable() bool {
	switch s {
	case OrderStatusPending, OrderStatusAwaitingValidation, OrderStatusAnomalyRejected:
		return true
	}
	return false
}

// TimeoutRejectable reports whether a persistent NO_MATCH past the grace
// period may auto-reject an order in this status. anomaly is deliberately
// excluded: an anomalous order has a live contract and is first downgraded to
// anomaly_rejected when that contract goes away.
func (s OrderStatus) TimeoutRejectable() bool {
	switch s {
	case OrderStatusPending, OrderStatusAwaitingValidation, OrderStatusAnomalyRejected:
		return true
	}
	return false
}

// transitions is the total legal-transition table, including the manual
// override path. Self-transitions are not listed; a pass that computes the
// same status performs no transition and emits nothing.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {
		OrderStatusAwaitingValidation, OrderStatusAnomaly,
		OrderStatusRejected, OrderStatusCancelled,
	},
	OrderStatusAwaitingValidation: {
		OrderStatusCompleted, OrderStatusAnomaly,
		OrderStatusRejected, OrderStatusCancelled,
	},
	OrderStatusAnomaly: {
		OrderStatusValidated, OrderStatusAnomalyRejected,
		OrderStatusCancelled,
	},
	OrderStatusAnomalyRejected: {
		OrderStatusAwaitingValidation, OrderStatusAnomaly,
		OrderStatusRejected, OrderStatusCancelled,
	},
	OrderStatusValidated: {
		OrderStatusCompleted, OrderStatusCancelled,
	},
	OrderStatusCompleted: {},
	OrderStatusRejected:  {},
	OrderStatusCancelled: {},
}

// CanTransition returns nil when from -> to is a legal lifecycle step.
func (s OrderStatus) CanTransition(to OrderStatus) error {
	if !s.Valid() {
		return fmt.Errorf("unknown order status %q", s)
	}
	if !to.Valid() {
		return fmt.Errorf("unknown order status %q", to)
	}
	if s.Terminal() {
		return fmt.Errorf("order status %q is terminal", s)
	}
	for _, allowed := range transitions[s] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("illegal order transition %q -> %q", s, to)
}

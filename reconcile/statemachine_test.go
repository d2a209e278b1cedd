package reconcile

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
)

var testNow = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

const testGrace = 72 * time.Hour

func decide(order *models.ExchangeOrder, contracts []models.CachedContract) Decision {
	claims := ReferenceClaims([]models.ExchangeOrder{*order}, contracts)
	return Decide(order, contracts, testScope(), claims, testNow, testGrace)
}

// Scenario: a compliant outstanding contract appears, then settles.
func TestDecide_ExactMatchThenSettlement(t *testing.T) {
	order := sellOrder(1, 5500, 1000)
	order.UpdatedAt = testNow.Add(-time.Hour)
	contract := sellContract(7001, "Delivery MX-1", 5500, 1000)

	decision := decide(order, []models.CachedContract{contract})
	if !decision.Changed || decision.NextStatus != models.OrderStatusAwaitingValidation {
		t.Fatalf("expected pending -> awaiting_validation, got %+v", decision)
	}
	if decision.MatchedContractId == nil || *decision.MatchedContractId != 7001 {
		t.Fatal("expected matched contract recorded")
	}

	order.Status = models.OrderStatusAwaitingValidation
	order.MatchedContractId = decision.MatchedContractId

	// Still outstanding: nothing changes.
	decision = decide(order, []models.CachedContract{contract})
	if decision.Changed {
		t.Fatalf("expected no change while contract outstanding, got %+v", decision)
	}

	contract.Status = models.ContractStatusFinished
	decision = decide(order, []models.CachedContract{contract})
	if !decision.Changed || decision.NextStatus != models.OrderStatusCompleted {
		t.Fatalf("expected awaiting_validation -> completed, got %+v", decision)
	}
}

// Scenario: contract short 100 units routes to anomaly with the delta.
func TestDecide_NearMatchRoutesToAnomaly(t *testing.T) {
	order := sellOrder(1, 5500, 1000)
	contract := sellContract(7001, "Delivery MX-1", 5500, 900)

	decision := decide(order, []models.CachedContract{contract})
	if !decision.Changed || decision.NextStatus != models.OrderStatusAnomaly {
		t.Fatalf("expected pending -> anomaly, got %+v", decision)
	}
	if decision.Delta == nil || len(decision.Delta.Missing) != 1 {
		t.Fatalf("expected missing-items delta, got %+v", decision.Delta)
	}
}

// Scenario: wrong-reference contract manually accepted, reference confirmed
// correct on re-check: the override path validates instead of re-flagging.
func TestDecide_OverridePathValidates(t *testing.T) {
	order := sellOrder(1, 5500, 1000)
	order.Status = models.OrderStatusAnomaly
	contractId := int64(7001)
	order.MatchedContractId = &contractId

	contract := sellContract(7001, "Delivery MX-1", 5500, 900)
	contract.Status = models.ContractStatusFinished

	decision := decide(order, []models.CachedContract{contract})
	if !decision.Changed || decision.NextStatus != models.OrderStatusValidated {
		t.Fatalf("expected anomaly -> validated, got %+v", decision)
	}

	order.Status = models.OrderStatusValidated
	decision = decide(order, []models.CachedContract{contract})
	if !decision.Changed || decision.NextStatus != models.OrderStatusCompleted {
		t.Fatalf("expected validated -> completed, got %+v", decision)
	}
}

func TestDecide_FinishedContractWithWrongReferenceStaysAnomaly(t *testing.T) {
	order := sellOrder(1, 5500, 1000)
	order.Status = models.OrderStatusAnomaly
	contractId := int64(7001)
	order.MatchedContractId = &contractId

	contract := sellContract(7001, "no reference here", 5500, 1000)
	contract.Status = models.ContractStatusFinished

	decision := decide(order, []models.CachedContract{contract})
	if decision.Changed {
		t.Fatalf("expected anomaly to stay without a confirmed reference, got %+v", decision)
	}
}

// Scenario: the anomalous contract is refused. The order becomes
// anomaly_rejected (never cancelled) and a later compliant contract re-enters
// matching like a fresh pending order.
func TestDecide_RefusedContractThenResubmission(t *testing.T) {
	order := sellOrder(1, 5500, 1000)
	order.Status = models.OrderStatusAnomaly
	contractId := int64(7001)
	order.MatchedContractId = &contractId

	refused := sellContract(7001, "Delivery MX-1", 5500, 900)
	refused.Status = models.ContractStatusRejected

	decision := decide(order, []models.CachedContract{refused})
	if !decision.Changed || decision.NextStatus != models.OrderStatusAnomalyRejected {
		t.Fatalf("expected anomaly -> anomaly_rejected, got %+v", decision)
	}

	order.Status = models.OrderStatusAnomalyRejected
	replacement := sellContract(7002, "Delivery MX-1 fixed", 5500, 1000)
	decision = decide(order, []models.CachedContract{refused, replacement})
	if !decision.Changed || decision.NextStatus != models.OrderStatusAwaitingValidation {
		t.Fatalf("expected anomaly_rejected -> awaiting_validation, got %+v", decision)
	}
	if *decision.MatchedContractId != 7002 {
		t.Fatalf("expected replacement contract recorded, got %d", *decision.MatchedContractId)
	}
}

func TestDecide_VanishedAnomalousContract(t *testing.T) {
	order := sellOrder(1, 5500, 1000)
	order.Status = models.OrderStatusAnomaly
	contractId := int64(7001)
	order.MatchedContractId = &contractId

	decision := decide(order, nil)
	if !decision.Changed || decision.NextStatus != models.OrderStatusAnomalyRejected {
		t.Fatalf("expected anomaly -> anomaly_rejected for vanished contract, got %+v", decision)
	}
}

func TestDecide_NoMatchGracePeriod(t *testing.T) {
	order := sellOrder(1, 5500, 1000)
	order.StatusChangedAt = testNow.Add(-time.Hour)

	decision := decide(order, nil)
	if decision.Changed {
		t.Fatalf("expected no change inside grace period, got %+v", decision)
	}

	// Routine pass bookkeeping keeps rewriting the row, so UpdatedAt is always
	// fresh. The grace clock must ignore it and run from the last transition.
	order.StatusChangedAt = testNow.Add(-testGrace - time.Hour)
	order.UpdatedAt = testNow.Add(-time.Minute)
	decision = decide(order, nil)
	if !decision.Changed || decision.NextStatus != models.OrderStatusRejected {
		t.Fatalf("expected rejection past grace period, got %+v", decision)
	}
}

// Rows written before the status clock existed fall back to creation age.
func TestDecide_GraceClockFallsBackToCreation(t *testing.T) {
	order := sellOrder(1, 5500, 1000)
	order.CreatedAt = testNow.Add(-testGrace - time.Hour)
	order.UpdatedAt = testNow.Add(-time.Minute)

	decision := decide(order, nil)
	if !decision.Changed || decision.NextStatus != models.OrderStatusRejected {
		t.Fatalf("expected rejection for ancient legacy row, got %+v", decision)
	}
}

// An anomaly never times out into rejected: only the contract dying moves it.
func TestDecide_AnomalyNeverTimesOut(t *testing.T) {
	order := sellOrder(1, 5500, 1000)
	order.Status = models.OrderStatusAnomaly
	order.StatusChangedAt = testNow.Add(-30 * 24 * time.Hour)
	contractId := int64(7001)
	order.MatchedContractId = &contractId

	contract := sellContract(7001, "Delivery MX-1", 5500, 900)
	decision := decide(order, []models.CachedContract{contract})
	if decision.Changed {
		t.Fatalf("expected ancient anomaly untouched while contract lives, got %+v", decision)
	}
}

// A recorded contract that is still open pins matching: a second compliant
// contract does not silently replace it.
func TestDecide_RecordedContractIsNotSwapped(t *testing.T) {
	order := sellOrder(1, 5500, 1000)
	order.Status = models.OrderStatusAwaitingValidation
	contractId := int64(7001)
	order.MatchedContractId = &contractId

	recorded := sellContract(7001, "Delivery MX-1", 5500, 1000)
	intruder := sellContract(7002, "Delivery MX-1 again", 5500, 1000)
	intruder.DateIssued = recorded.DateIssued.Add(time.Hour)

	decision := decide(order, []models.CachedContract{recorded, intruder})
	if decision.Changed {
		t.Fatalf("expected pinned contract to hold, got %+v", decision)
	}
	if decision.MatchedContractId != nil && *decision.MatchedContractId != 7001 {
		t.Fatalf("recorded contract must not be replaced while outstanding")
	}
}

func TestDecide_TerminalOrdersAreImmutable(t *testing.T) {
	for _, status := range []models.OrderStatus{
		models.OrderStatusCompleted, models.OrderStatusRejected, models.OrderStatusCancelled,
	} {
		order := sellOrder(1, 5500, 1000)
		order.Status = status
		order.UpdatedAt = testNow.Add(-30 * 24 * time.Hour)

		decision := decide(order, []models.CachedContract{sellContract(7001, "Delivery MX-1", 5500, 1000)})
		if decision.Changed {
			t.Fatalf("terminal status %s must never transition, got %+v", status, decision)
		}
	}
}

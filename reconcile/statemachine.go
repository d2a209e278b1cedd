package reconcile

import (
	"time"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
)

// Decision is the computed next step for one order in one pass. Changed being
// false means the pass leaves the order's status alone; diagnostics may still
// be refreshed.
type Decision struct {
	NextStatus        models.OrderStatus
	Changed           bool
	Reason            string
	MatchedContractId *int64
	Delta             *models.DeltaReport
	OrphanContracts   []int64
	AmbiguousWith     []uint
}

func unchanged(status models.OrderStatus, reason string) Decision {
	return Decision{NextStatus: status, Changed: false, Reason: reason}
}

// Decide computes the lifecycle step for one order against the scope's cached
// contracts. Pure: no storage, no clock beyond the supplied now. Any produced
// transition is legal by models.CanTransition; the caller applies it under a
// version guard and may still lose the race.
func Decide(order *models.ExchangeOrder, contracts []models.CachedContract, cfg *models.ScopeConfig, claims map[int64][]uint, now time.Time, noMatchGrace time.Duration) Decision {
	if order.Status.Terminal() {
		return unchanged(order.Status, "terminal")
	}

	prior := recordedContract(order, contracts)

	switch order.Status {
	case models.OrderStatusAnomaly:
		return decideAnomaly(order, prior)
	case models.OrderStatusValidated:
		if prior != nil && prior.Finished() {
			return Decision{
				NextStatus:        models.OrderStatusCompleted,
				Changed:           true,
				Reason:            "validated contract settled",
				MatchedContractId: order.MatchedContractId,
			}
		}
		return unchanged(order.Status, "awaiting settlement")
	}

	// pending, awaiting_validation, anomaly_rejected: run the matcher.
	// A recorded contract that is still open pins the evaluation to that one
	// contract; it is never silently swapped for a different candidate.
	candidates := contracts
	if prior != nil && !prior.Unmatched() {
		candidates = []models.CachedContract{*prior}
	}

	result := MatchOrder(order, candidates, cfg, claims)

	switch result.Class {
	case MatchExact:
		contractId := result.Contract.ContractId
		if order.Status == models.OrderStatusAwaitingValidation && result.Contract.Finished() {
			return Decision{
				NextStatus:        models.OrderStatusCompleted,
				Changed:           true,
				Reason:            "matched contract settled",
				MatchedContractId: &contractId,
				OrphanContracts:   result.OrphanContracts,
			}
		}
		if order.Status == models.OrderStatusAwaitingValidation {
			// Still waiting on the counterparty; nothing to change.
			return unchanged(order.Status, "awaiting settlement")
		}
		return Decision{
			NextStatus:        models.OrderStatusAwaitingValidation,
			Changed:           true,
			Reason:            "exact match recorded",
			MatchedContractId: &contractId,
			OrphanContracts:   result.OrphanContracts,
		}
	case MatchNear, MatchWrongReference:
		contractId := result.Contract.ContractId
		return Decision{
			NextStatus:        models.OrderStatusAnomaly,
			Changed:           true,
			Reason:            result.Class.String(),
			MatchedContractId: &contractId,
			Delta:             result.Delta,
		}
	}

	// NO_MATCH.
	if len(result.AmbiguousWith) > 0 {
		// Ambiguity is surfaced as a diagnostic only; no auto-transition and
		// the grace clock keeps running from the last real state change.
		return Decision{
			NextStatus:    order.Status,
			Changed:       false,
			Reason:        "ambiguous reference",
			AmbiguousWith: result.AmbiguousWith,
		}
	}
	if order.Status.TimeoutRejectable() && order.StatusAge(now) > noMatchGrace {
		return Decision{
			NextStatus: models.OrderStatusRejected,
			Changed:    true,
			Reason:     "no matching contract within grace period",
		}
	}
	return unchanged(order.Status, "no match")
}

// decideAnomaly handles the two exits from anomaly. The recorded contract
// settling while the reference checks out is the manual override path; the
// contract dying yields anomaly_rejected so the member can post a compliant
// replacement against the same order.
func decideAnomaly(order *models.ExchangeOrder, prior *models.CachedContract) Decision {
	if prior == nil || prior.Unmatched() {
		return Decision{
			NextStatus:        models.OrderStatusAnomalyRejected,
			Changed:           true,
			Reason:            "anomalous contract withdrawn",
			MatchedContractId: order.MatchedContractId,
		}
	}
	refOk := titleHasToken(prior.Title, order.Reference())
	if prior.Finished() && refOk {
		return Decision{
			NextStatus:        models.OrderStatusValidated,
			Changed:           true,
			Reason:            "anomalous contract accepted manually",
			MatchedContractId: order.MatchedContractId,
		}
	}

	// Recompute the mismatch on every re-check so an unresolved anomaly can be
	// re-notified once the cool-down elapses, and immediately when the delta
	// changed shape.
	decision := unchanged(order.Status, "anomaly unresolved")
	missing, surplus, itemsEqual := compareItems(order.Items, prior.IncludedQuantities())
	if !itemsEqual || prior.PriceInt() != order.Total || !refOk {
		decision.Delta = &models.DeltaReport{
			ContractId:        prior.ContractId,
			Missing:           missing,
			Surplus:           surplus,
			PriceDiff:         prior.PriceInt() - order.Total,
			ReferenceMismatch: !refOk,
		}
	}
	return decision
}

// recordedContract finds the order's recorded contract in the scope's cache,
// or nil when the order has none or the contract vanished from the registry.
func recordedContract(order *models.ExchangeOrder, contracts []models.CachedContract) *models.CachedContract {
	if order.MatchedContractId == nil {
		return nil
	}
	for i := range contracts {
		if contracts[i].ContractId == *order.MatchedContractId {
			return &contracts[i]
		}
	}
	return nil
}

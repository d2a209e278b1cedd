package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
)

// UpdateDiagnostics folds a pass decision into the order's diagnostics blob.
// A new delta replaces any prior delta for the same contract; a delta against
// a different contract replaces the whole report. Override observations are
// appended, never rewritten.
func UpdateDiagnostics(order *models.ExchangeOrder, decision Decision, now time.Time) {
	diag := order.Diagnostics()

	if decision.MatchedContractId != nil {
		diag.MatchedContractId = *decision.MatchedContractId
	}
	if decision.Delta != nil {
		diag.LastDelta = decision.Delta
	}
	if len(decision.OrphanContracts) > 0 {
		diag.OrphanContracts = decision.OrphanContracts
	}
	diag.AmbiguousWith = decision.AmbiguousWith

	if decision.Changed {
		switch decision.NextStatus {
		case models.OrderStatusValidated:
			diag.Overrides = append(diag.Overrides, models.OverrideRecord{
				ContractId: diag.MatchedContractId,
				Action:     "manual_accept",
				ObservedAt: now,
			})
			diag.LastDelta = nil
		case models.OrderStatusAwaitingValidation, models.OrderStatusCompleted:
			diag.LastDelta = nil
		}
	}
	diag.Note = decision.Reason

	order.SetDiagnostics(diag)
}

// DeltaFingerprint is a stable digest of a delta report, used to detect that a
// pass recomputed the exact same mismatch as the one already notified.
func DeltaFingerprint(delta *models.DeltaReport) string {
	if delta == nil {
		return ""
	}
	b, _ := json.Marshal(delta)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ShouldEmitAnomaly decides whether a recomputed anomaly warrants a fresh
// notification. An unchanged delta inside the cool-down window is suppressed
// so each pass does not spam the member; any change in the delta, or the
// cool-down elapsing, emits again. Emitting records the new fingerprint.
func ShouldEmitAnomaly(scratch ScratchStore, orderId uint, delta *models.DeltaReport, now time.Time, cooldown time.Duration) bool {
	fingerprint := DeltaFingerprint(delta)
	prev, emittedAt, ok := scratch.AnomalyFingerprint(orderId)
	if ok && prev == fingerprint && now.Sub(emittedAt) < cooldown {
		return false
	}
	scratch.SetAnomalyFingerprint(orderId, fingerprint, now, cooldown*2)
	return true
}

// ShouldRemind decides whether an order stuck waiting deserves a reminder.
// At most one reminder per cool-down window, independent from anomaly
// notifications.
func ShouldRemind(scratch ScratchStore, order *models.ExchangeOrder, now time.Time, after, cooldown time.Duration) bool {
	switch order.Status {
	case models.OrderStatusPending, models.OrderStatusAwaitingValidation:
	default:
		return false
	}
	if now.Sub(order.CreatedAt) < after {
		return false
	}
	if last, ok := scratch.LastReminderAt(order.ID); ok && now.Sub(last) < cooldown {
		return false
	}
	scratch.SetLastReminderAt(order.ID, now, cooldown*2)
	return true
}

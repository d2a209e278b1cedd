package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/exchange_backend/config"
	"bitbucket.org/mmdatafocus/exchange_backend/models"
	"bitbucket.org/mmdatafocus/exchange_backend/notify"
)

const outageAlertCooldown = time.Hour

// PassLocker serializes per-scope work across engine instances. The redis
// implementation backs production; tests use the no-op locker.
type PassLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool)
}

type redisPassLocker struct{}

func NewRedisPassLocker() PassLocker {
	return &redisPassLocker{}
}

func (l *redisPassLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool) {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, true
	}
	lock, err := locker.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if !errors.Is(err, redislock.ErrNotObtained) {
			config.GetLogger().WithField("key", key).WithError(err).Warn("scope lock error")
		}
		return nil, false
	}
	return func() { _ = lock.Release(context.Background()) }, true
}

type noopLocker struct{}

func NewNoopLocker() PassLocker { return noopLocker{} }

func (noopLocker) TryLock(context.Context, string, time.Duration) (func(), bool) {
	return func() {}, true
}

// Orchestrator drives reconciliation passes. All collaborators are injected;
// it owns no global state beyond what ScratchStore holds.
type Orchestrator struct {
	store    OrderStore
	gateway  ContractGateway
	scratch  ScratchStore
	emitter  notify.Emitter
	locker   PassLocker
	settings config.EngineSettings
	logger   *logrus.Logger
	now      func() time.Time
}

func NewOrchestrator(store OrderStore, gateway ContractGateway, scratch ScratchStore, emitter notify.Emitter, locker PassLocker, settings config.EngineSettings, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		gateway:  gateway,
		scratch:  scratch,
		emitter:  emitter,
		locker:   locker,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the orchestrator's clock. Test hook.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// passStatuses selects which orders each cadence looks at. The fast pass
// handles fresh submissions and anomalies; the slow pass only watches
// already-matched contracts for settlement, including the anomaly override
// re-check.
func passStatuses(pass string) map[models.OrderStatus]bool {
	if pass == models.ReconcilePassSlow {
		return map[models.OrderStatus]bool{
			models.OrderStatusAwaitingValidation: true,
			models.OrderStatusValidated:          true,
			models.OrderStatusAnomaly:            true,
		}
	}
	return map[models.OrderStatus]bool{
		models.OrderStatusPending:         true,
		models.OrderStatusAnomaly:         true,
		models.OrderStatusAnomalyRejected: true,
	}
}

type scopeResult struct {
	ordersSeen  int
	transitions int
	errorCount  int
	failed      bool
}

// RunFastPass reconciles fresh and anomalous orders across all active scopes.
func (o *Orchestrator) RunFastPass(ctx context.Context, triggeredBy string, forceRefresh bool) (*models.ReconcileRun, error) {
	return o.runPass(ctx, models.ReconcilePassFast, triggeredBy, forceRefresh)
}

// RunSlowPass checks matched outstanding contracts for settlement.
func (o *Orchestrator) RunSlowPass(ctx context.Context, triggeredBy string, forceRefresh bool) (*models.ReconcileRun, error) {
	return o.runPass(ctx, models.ReconcilePassSlow, triggeredBy, forceRefresh)
}

func (o *Orchestrator) runPass(ctx context.Context, pass, triggeredBy string, forceRefresh bool) (*models.ReconcileRun, error) {
	started := o.now()
	run := &models.ReconcileRun{
		Pass:         pass,
		Status:       models.ReconcileRunStatusRunning,
		TriggeredBy:  triggeredBy,
		ForceRefresh: forceRefresh,
		StartedAt:    &started,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	scopes, err := o.store.ActiveScopes(ctx)
	if err != nil {
		o.finishRun(ctx, run, models.ReconcileRunStatusFailed, started)
		return run, err
	}
	run.ScopesTotal = len(scopes)

	workers := o.settings.ScopeWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range scopes {
		scope := scopes[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			res := o.processScope(ctx, run, &scope, pass, forceRefresh)
			mu.Lock()
			run.OrdersSeen += res.ordersSeen
			run.Transitions += res.transitions
			run.ErrorCount += res.errorCount
			if res.failed {
				run.ScopesFailed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := models.ReconcileRunStatusSuccess
	switch {
	case run.ScopesFailed > 0 && run.ScopesFailed == run.ScopesTotal:
		status = models.ReconcileRunStatusFailed
	case run.ScopesFailed > 0 || run.ErrorCount > 0:
		status = models.ReconcileRunStatusPartial
	}
	o.finishRun(ctx, run, status, started)
	return run, nil
}

func (o *Orchestrator) finishRun(ctx context.Context, run *models.ReconcileRun, status string, started time.Time) {
	finished := o.now()
	run.Status = status
	run.FinishedAt = &finished
	run.DurationMs = finished.Sub(started).Milliseconds()
	run.StatsJSON, _ = json.Marshal(map[string]interface{}{
		"scopes_total":  run.ScopesTotal,
		"scopes_failed": run.ScopesFailed,
		"orders_seen":   run.OrdersSeen,
		"transitions":   run.Transitions,
	})
	if err := o.store.FinishRun(ctx, run); err != nil {
		o.logger.WithField("runId", run.ID).WithError(err).Error("failed to finalize run record")
	}
}

// processScope runs one scope through one pass: a single gateway fetch reused
// across every order in the scope, then one decision per order committed
// under its version guard.
func (o *Orchestrator) processScope(ctx context.Context, run *models.ReconcileRun, scope *models.ScopeConfig, pass string, forceRefresh bool) scopeResult {
	log := o.logger.WithFields(logrus.Fields{
		"runId":   run.ID,
		"pass":    pass,
		"scopeId": scope.ScopeId,
	})

	now := o.now()
	if until, ok := o.scratch.ScopeBackoffUntil(scope.ScopeId); ok && now.Before(until) {
		log.WithField("until", until).Info("scope in rate-limit backoff, skipping")
		return scopeResult{}
	}

	release, ok := o.locker.TryLock(ctx, "reconcile:lock:"+pass+":"+scope.ScopeId, 2*time.Minute)
	if !ok {
		log.Info("scope locked by another pass, skipping")
		return scopeResult{}
	}
	defer release()

	orders, err := o.store.ActiveOrders(ctx, scope.ScopeId)
	if err != nil {
		o.recordError(ctx, run, scope.ScopeId, 0, "order_load_failed", err.Error(), true)
		return scopeResult{errorCount: 1, failed: true}
	}

	wanted := passStatuses(pass)
	passOrders := orders[:0:0]
	for _, order := range orders {
		if wanted[order.Status] {
			passOrders = append(passOrders, order)
		}
	}
	if len(passOrders) == 0 {
		return scopeResult{}
	}

	contracts, unsyncedItems, err := o.fetchScopeContracts(ctx, run, scope, forceRefresh, log)
	if err != nil {
		return scopeResult{errorCount: 1, failed: true}
	}

	// Claims come from every matchable active order, not just this pass's
	// subset: a contract carrying two orders' tokens is ambiguous even when
	// one of them is in a status the other cadence handles.
	var matchable []models.ExchangeOrder
	for _, order := range orders {
		if order.Status.Matchable() {
			matchable = append(matchable, order)
		}
	}
	claims := ReferenceClaims(matchable, contracts)

	res := scopeResult{ordersSeen: len(passOrders), errorCount: len(unsyncedItems)}
	for i := range passOrders {
		if blockedByUnsyncedItems(&passOrders[i], contracts, unsyncedItems, scope) {
			log.WithField("orderId", passOrders[i].ID).Info("candidate contract items unavailable, deferring order")
			continue
		}
		transitioned, err := o.reconcileOrder(ctx, run, scope, &passOrders[i], contracts, claims)
		if err != nil {
			res.errorCount++
			continue
		}
		if transitioned {
			res.transitions++
		}
	}
	return res
}

// reconcileOrder computes and commits one order's decision. A lost version
// race is not an error; the pass simply discards its result for that order.
func (o *Orchestrator) reconcileOrder(ctx context.Context, run *models.ReconcileRun, scope *models.ScopeConfig, order *models.ExchangeOrder, contracts []models.CachedContract, claims map[int64][]uint) (bool, error) {
	now := o.now()
	previous := order.Status

	decision := Decide(order, contracts, scope, claims, now, o.settings.NoMatchGrace)
	UpdateDiagnostics(order, decision, now)

	if err := o.store.ApplyDecision(ctx, order, decision, now); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			o.logger.WithFields(logrus.Fields{
				"runId":   run.ID,
				"orderId": order.ID,
			}).Info("order modified concurrently, discarding pass result")
			return false, nil
		}
		o.recordError(ctx, run, scope.ScopeId, order.ID, "apply_failed", err.Error(), true)
		return false, err
	}

	if decision.Changed {
		o.emitTransition(ctx, scope, order, previous, decision, now)
		return true, nil
	}

	// Unchanged anomaly: a recomputed delta may still be worth re-notifying
	// once the suppression window has passed or the mismatch changed shape.
	if order.Status == models.OrderStatusAnomaly && decision.Delta != nil {
		if ShouldEmitAnomaly(o.scratch, order.ID, decision.Delta, now, o.settings.AnomalyCooldown) {
			o.emitTransition(ctx, scope, order, previous, decision, now)
		}
	}

	if ShouldRemind(o.scratch, order, now, o.settings.ReminderAfter, o.settings.ReminderCooldown) {
		if err := o.emitter.EmitReminder(ctx, scope, order); err != nil {
			o.logger.WithField("orderId", order.ID).WithError(err).Warn("reminder emit failed")
		}
	}
	return false, nil
}

// fetchScopeContracts performs the scope's single gateway fetch for this
// pass and returns the contract set every order decision will reuse. A
// not-modified response serves the local cache, unless that cache is empty,
// in which case the signal is not trusted and a forced refresh runs instead.
func (o *Orchestrator) fetchScopeContracts(ctx context.Context, run *models.ReconcileRun, scope *models.ScopeConfig, forceRefresh bool, log *logrus.Entry) ([]models.CachedContract, map[int64]bool, error) {
	result, err := o.fetchWithRetry(ctx, scope.ScopeId, scope.ContractCacheTok, forceRefresh)
	if err != nil {
		return nil, nil, o.handleFetchFailure(ctx, run, scope, err, log)
	}

	if result.NotModified {
		cached, err := o.store.ContractsForScope(ctx, scope.ScopeId)
		if err != nil {
			o.recordError(ctx, run, scope.ScopeId, 0, "cache_load_failed", err.Error(), true)
			return nil, nil, err
		}
		if len(cached) > 0 {
			// A cached contract may still be unsynced from an earlier failed
			// item fetch; retry those before deciding anything against them.
			unsynced := o.hydrateContractItems(ctx, run, scope, cached, log)
			o.scratch.ResetScopeFailures(scope.ScopeId)
			return cached, unsynced, nil
		}

		log.Warn("registry said not modified but local cache is empty, forcing refresh")
		result, err = o.fetchWithRetry(ctx, scope.ScopeId, "", true)
		if err != nil {
			return nil, nil, o.handleFetchFailure(ctx, run, scope, err, log)
		}
		if result.NotModified {
			// The gateway must not answer not-modified to a forced refresh.
			o.recordError(ctx, run, scope.ScopeId, 0, "stale_empty_cache", ErrStaleEmptyCache.Error(), true)
			return nil, nil, ErrStaleEmptyCache
		}
	}

	unsynced := o.hydrateContractItems(ctx, run, scope, result.Contracts, log)

	now := o.now()
	if err := o.store.ReplaceScopeContracts(ctx, scope.ScopeId, result.Contracts, result.CacheToken, now); err != nil {
		o.recordError(ctx, run, scope.ScopeId, 0, "cache_store_failed", err.Error(), true)
		return nil, nil, err
	}
	scope.ContractCacheTok = result.CacheToken
	o.scratch.ResetScopeFailures(scope.ScopeId)

	stored, err := o.store.ContractsForScope(ctx, scope.ScopeId)
	if err != nil {
		o.recordError(ctx, run, scope.ScopeId, 0, "cache_load_failed", err.Error(), true)
		return nil, nil, err
	}
	return stored, unsynced, nil
}

// hydrateContractItems pulls line items for the contracts matching can ever
// consider. Dead contracts are skipped; their items no longer matter. A failed
// item fetch leaves the contract unsynced and is reported in the returned set
// so orders it could satisfy sit out this pass instead of being judged against
// an empty multiset.
func (o *Orchestrator) hydrateContractItems(ctx context.Context, run *models.ReconcileRun, scope *models.ScopeConfig, contracts []models.CachedContract, log *logrus.Entry) map[int64]bool {
	unsynced := make(map[int64]bool)
	for i := range contracts {
		contract := &contracts[i]
		if contract.Kind != models.ContractKindItemExchange || contract.Unmatched() || contract.ItemsSynced {
			continue
		}
		items, err := o.gateway.FetchContractItems(ctx, contract.ContractId)
		if err != nil {
			unsynced[contract.ContractId] = true
			o.recordError(ctx, run, scope.ScopeId, 0, "contract_items_unavailable", err.Error(), true)
			log.WithField("contractId", contract.ContractId).WithError(err).Warn("contract items fetch failed")
			continue
		}
		contract.Items = items
		contract.ItemsSynced = true
	}
	return unsynced
}

// blockedByUnsyncedItems reports whether any contract this order could be
// judged against is missing its line items this pass.
func blockedByUnsyncedItems(order *models.ExchangeOrder, contracts []models.CachedContract, unsynced map[int64]bool, cfg *models.ScopeConfig) bool {
	if len(unsynced) == 0 {
		return false
	}
	if order.MatchedContractId != nil && unsynced[*order.MatchedContractId] {
		return true
	}
	for i := range contracts {
		if unsynced[contracts[i].ContractId] && structureMatches(&contracts[i], order, cfg) {
			return true
		}
	}
	return false
}

// fetchWithRetry retries transient gateway failures within the pass's small
// budget. Rate limits and authorization failures are never retried here.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, scopeId, cacheToken string, forceRefresh bool) (FetchResult, error) {
	var lastErr error
	attempts := o.settings.GatewayRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := o.gateway.FetchContracts(ctx, scopeId, cacheToken, forceRefresh)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if _, limited := IsRateLimited(err); limited || errors.Is(err, ErrScopeAuthorizationMissing) {
			return FetchResult{}, err
		}
	}
	return FetchResult{}, lastErr
}

func (o *Orchestrator) handleFetchFailure(ctx context.Context, run *models.ReconcileRun, scope *models.ScopeConfig, err error, log *logrus.Entry) error {
	now := o.now()

	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		until := now.Add(rateLimited.RetryAfter)
		o.scratch.SetScopeBackoff(scope.ScopeId, until)
		o.recordError(ctx, run, scope.ScopeId, 0, "rate_limited", err.Error(), true)
		log.WithField("until", until).Warn("registry rate limit, backing off")
		return err
	}

	if errors.Is(err, ErrScopeAuthorizationMissing) {
		o.recordError(ctx, run, scope.ScopeId, 0, "scope_authorization_missing", err.Error(), false)
		_ = o.emitter.EmitOperatorAlert(ctx, scope.ScopeId, "scope_authorization_missing",
			"Registry rejected the scope's credentials. Reconciliation for this scope is halted until an operator re-authorizes it.")
		return err
	}

	o.recordError(ctx, run, scope.ScopeId, 0, "external_data_unavailable", err.Error(), true)
	failures := o.scratch.IncrScopeFailures(scope.ScopeId)
	log.WithField("consecutiveFailures", failures).WithError(err).Warn("registry fetch failed")

	// A sustained outage never silently freezes orders: after enough
	// consecutive failures, operators get one alert per cool-down window.
	if failures >= o.settings.OutageAlertAfter {
		if at, ok := o.scratch.OutageAlertedAt(scope.ScopeId); !ok || now.Sub(at) >= outageAlertCooldown {
			o.scratch.SetOutageAlertedAt(scope.ScopeId, now, outageAlertCooldown*2)
			_ = o.emitter.EmitOperatorAlert(ctx, scope.ScopeId, "registry_outage",
				"Contract registry has failed repeatedly for this scope; orders are untouched and will retry next pass.")
		}
	}
	return err
}

func (o *Orchestrator) recordError(ctx context.Context, run *models.ReconcileRun, scopeId string, orderId uint, code, message string, retryable bool) {
	recErr := &models.ReconcileError{
		RunId:     run.ID,
		ScopeId:   scopeId,
		OrderId:   orderId,
		ErrorCode: code,
		Message:   message,
		Retryable: retryable,
	}
	if err := o.store.RecordError(ctx, recErr); err != nil {
		o.logger.WithField("runId", run.ID).WithError(err).Error("failed to record run error")
	}
}

func (o *Orchestrator) emitTransition(ctx context.Context, scope *models.ScopeConfig, order *models.ExchangeOrder, previous models.OrderStatus, decision Decision, now time.Time) {
	// A transition into anomaly seeds the suppression fingerprint so the next
	// pass recomputing the same delta stays quiet.
	if order.Status == models.OrderStatusAnomaly && decision.Delta != nil {
		o.scratch.SetAnomalyFingerprint(order.ID, DeltaFingerprint(decision.Delta), now, o.settings.AnomalyCooldown*2)
	}
	event := notify.TransitionEvent{
		ScopeId:        order.ScopeId,
		OrderId:        order.ID,
		OrderReference: order.Reference(),
		RecipientId:    order.OwnerId,
		PreviousStatus: previous,
		NewStatus:      order.Status,
		Reason:         decision.Reason,
		Diagnostics:    order.DiagnosticsJSON,
		OccurredAt:     now,
	}
	if err := o.emitter.EmitTransition(ctx, scope, event); err != nil {
		o.logger.WithField("orderId", order.ID).WithError(err).Warn("transition emit failed")
	}
}

package reconcile

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/exchange_backend/config"
	"bitbucket.org/mmdatafocus/exchange_backend/models"
	"bitbucket.org/mmdatafocus/exchange_backend/notify"
)

// NOTE: These tests are intentionally DB-free. The fakes reproduce the two
// storage behaviors the orchestrator depends on: the per-order version guard
// and the per-scope contract cache.

type fakeStore struct {
	mu        sync.Mutex
	scopes    []models.ScopeConfig
	orders    map[uint]*models.ExchangeOrder
	contracts map[string][]models.CachedContract
	runSeq    uint
	errs      []*models.ReconcileError
	replaces  int
}

func newFakeStore(scopes ...models.ScopeConfig) *fakeStore {
	return &fakeStore{
		scopes:    scopes,
		orders:    map[uint]*models.ExchangeOrder{},
		contracts: map[string][]models.CachedContract{},
	}
}

func (s *fakeStore) addOrder(order *models.ExchangeOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
}

func (s *fakeStore) order(id uint) models.ExchangeOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *fakeStore) ActiveScopes(context.Context) ([]models.ScopeConfig, error) {
	return s.scopes, nil
}

func (s *fakeStore) ScopeConfig(_ context.Context, scopeId string) (*models.ScopeConfig, error) {
	for i := range s.scopes {
		if s.scopes[i].ScopeId == scopeId {
			return &s.scopes[i], nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ActiveOrders(_ context.Context, scopeId string) ([]models.ExchangeOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExchangeOrder
	for _, order := range s.orders {
		if order.ScopeId == scopeId && !order.Status.Terminal() {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (s *fakeStore) ContractsForScope(_ context.Context, scopeId string) ([]models.CachedContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contracts[scopeId], nil
}

func (s *fakeStore) ReplaceScopeContracts(_ context.Context, scopeId string, contracts []models.CachedContract, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[scopeId] = contracts
	s.replaces++
	return nil
}

func (s *fakeStore) ApplyDecision(_ context.Context, order *models.ExchangeOrder, decision Decision, now time.Time) error {
	if decision.Changed {
		if err := order.Status.CanTransition(decision.NextStatus); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.orders[order.ID]
	if stored == nil || stored.Version != order.Version {
		return ErrConcurrentModification
	}
	stored.Version++
	stored.AttemptCount++
	stored.LastCheckedAt = &now
	stored.DiagnosticsJSON = order.DiagnosticsJSON
	// Mirrors autoUpdateTime: every write refreshes UpdatedAt, only a real
	// transition moves StatusChangedAt.
	stored.UpdatedAt = now
	if decision.Changed {
		stored.Status = decision.NextStatus
		stored.StatusChangedAt = now
	}
	if decision.MatchedContractId != nil {
		stored.MatchedContractId = decision.MatchedContractId
	}
	order.Version = stored.Version
	order.Status = stored.Status
	order.StatusChangedAt = stored.StatusChangedAt
	order.MatchedContractId = stored.MatchedContractId
	return nil
}

func (s *fakeStore) CreateRun(_ context.Context, run *models.ReconcileRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runSeq++
	run.ID = s.runSeq
	return nil
}

func (s *fakeStore) FinishRun(context.Context, *models.ReconcileRun) error { return nil }

func (s *fakeStore) RecordError(_ context.Context, recErr *models.ReconcileError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, recErr)
	return nil
}

type fakeGateway struct {
	mu       sync.Mutex
	fetches  []bool // forceRefresh flag per call
	respond  func(forceRefresh bool) (FetchResult, error)
	items    map[int64][]models.CachedContractItem
	itemsErr error
}

func (g *fakeGateway) FetchContracts(_ context.Context, _ string, _ string, forceRefresh bool) (FetchResult, error) {
	g.mu.Lock()
	g.fetches = append(g.fetches, forceRefresh)
	g.mu.Unlock()
	return g.respond(forceRefresh)
}

func (g *fakeGateway) FetchContractItems(_ context.Context, contractId int64) ([]models.CachedContractItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.itemsErr != nil {
		return nil, g.itemsErr
	}
	return g.items[contractId], nil
}

func (g *fakeGateway) failItems(err error) {
	g.mu.Lock()
	g.itemsErr = err
	g.mu.Unlock()
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.fetches)
}

type fakeEmitter struct {
	mu          sync.Mutex
	transitions []notify.TransitionEvent
	reminders   int
	alerts      []string
}

func (e *fakeEmitter) EmitTransition(_ context.Context, _ *models.ScopeConfig, event notify.TransitionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitions = append(e.transitions, event)
	return nil
}

func (e *fakeEmitter) EmitReminder(context.Context, *models.ScopeConfig, *models.ExchangeOrder) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reminders++
	return nil
}

func (e *fakeEmitter) EmitOperatorAlert(_ context.Context, _ string, code string, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerts = append(e.alerts, code)
	return nil
}

func testSettings() config.EngineSettings {
	return config.EngineSettings{
		AnomalyCooldown:  5 * time.Minute,
		ReminderCooldown: 24 * time.Hour,
		ReminderAfter:    24 * time.Hour,
		NoMatchGrace:     72 * time.Hour,
		OutageAlertAfter: 2,
		ScopeWorkers:     1,
		GatewayRetries:   0,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestOrchestrator(store OrderStore, gateway ContractGateway, emitter notify.Emitter) *Orchestrator {
	o := NewOrchestrator(store, gateway, NewMemoryScratch(), emitter, NewNoopLocker(), testSettings(), quietLogger())
	o.SetClock(func() time.Time { return testNow })
	return o
}

func freshContracts(g *fakeGateway, contracts ...models.CachedContract) {
	stripped := make([]models.CachedContract, len(contracts))
	items := map[int64][]models.CachedContractItem{}
	for i, c := range contracts {
		items[c.ContractId] = c.Items
		c.Items = nil
		stripped[i] = c
	}
	g.items = items
	g.respond = func(bool) (FetchResult, error) {
		return FetchResult{Contracts: append([]models.CachedContract(nil), stripped...), CacheToken: "tok-1"}, nil
	}
}

func TestRunFastPass_OneFetchPerScopeRegardlessOfOrders(t *testing.T) {
	store := newFakeStore(*testScope())
	for i := uint(1); i <= 5; i++ {
		// Distinct quantities so only MX-3 can plausibly match the one contract.
		order := sellOrder(i, 5500, int64(i)*1000)
		order.CreatedAt = testNow.Add(-time.Hour)
		order.UpdatedAt = testNow.Add(-time.Hour)
		store.addOrder(order)
	}

	gateway := &fakeGateway{}
	freshContracts(gateway, sellContract(7001, "Delivery MX-3", 5500, 3000))

	orchestrator := newTestOrchestrator(store, gateway, &fakeEmitter{})
	run, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false)
	if err != nil {
		t.Fatal(err)
	}
	if gateway.fetchCount() != 1 {
		t.Fatalf("expected exactly one fetch for 5 orders, got %d", gateway.fetchCount())
	}
	if run.OrdersSeen != 5 {
		t.Fatalf("expected 5 orders seen, got %d", run.OrdersSeen)
	}
	if run.Transitions != 1 {
		t.Fatalf("expected only MX-3 to transition, got %d", run.Transitions)
	}
	if store.order(3).Status != models.OrderStatusAwaitingValidation {
		t.Fatalf("expected order 3 awaiting validation, got %s", store.order(3).Status)
	}
}

func TestRunFastPass_SecondPassIsIdempotent(t *testing.T) {
	store := newFakeStore(*testScope())
	order := sellOrder(1, 5500, 1000)
	order.CreatedAt = testNow.Add(-time.Hour)
	order.UpdatedAt = testNow.Add(-time.Hour)
	store.addOrder(order)

	gateway := &fakeGateway{}
	freshContracts(gateway, sellContract(7001, "Delivery MX-1", 5500, 1000))
	emitter := &fakeEmitter{}

	orchestrator := newTestOrchestrator(store, gateway, emitter)

	first, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false)
	if err != nil {
		t.Fatal(err)
	}
	if first.Transitions != 1 || len(emitter.transitions) != 1 {
		t.Fatalf("expected one transition on first pass, got %d/%d", first.Transitions, len(emitter.transitions))
	}

	// Same external contract set, run again: nothing further happens.
	// The fast pass no longer sees the order; the slow pass sees it unchanged.
	second, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false)
	if err != nil {
		t.Fatal(err)
	}
	slow, err := orchestrator.RunSlowPass(context.Background(), models.ReconcileTriggeredSchedule, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.Transitions != 0 || slow.Transitions != 0 {
		t.Fatalf("expected no further transitions, got fast=%d slow=%d", second.Transitions, slow.Transitions)
	}
	if len(emitter.transitions) != 1 {
		t.Fatalf("expected no further events, got %d", len(emitter.transitions))
	}
}

// Not-modified with an empty local cache must not be trusted: the engine
// forces a full refresh before concluding NO_MATCH.
func TestRunFastPass_NotModifiedWithEmptyCacheForcesRefresh(t *testing.T) {
	store := newFakeStore(*testScope())
	order := sellOrder(1, 5500, 1000)
	order.CreatedAt = testNow.Add(-time.Hour)
	order.UpdatedAt = testNow.Add(-time.Hour)
	store.addOrder(order)

	contract := sellContract(7001, "Delivery MX-1", 5500, 1000)
	gateway := &fakeGateway{items: map[int64][]models.CachedContractItem{7001: contract.Items}}
	gateway.respond = func(forceRefresh bool) (FetchResult, error) {
		if !forceRefresh {
			return FetchResult{CacheToken: "tok-1", NotModified: true}, nil
		}
		stripped := contract
		stripped.Items = nil
		return FetchResult{Contracts: []models.CachedContract{stripped}, CacheToken: "tok-2"}, nil
	}

	orchestrator := newTestOrchestrator(store, gateway, &fakeEmitter{})
	run, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false)
	if err != nil {
		t.Fatal(err)
	}

	gateway.mu.Lock()
	fetches := append([]bool(nil), gateway.fetches...)
	gateway.mu.Unlock()
	if len(fetches) != 2 || fetches[0] || !fetches[1] {
		t.Fatalf("expected a plain fetch then a forced refresh, got %v", fetches)
	}
	if run.Transitions != 1 {
		t.Fatalf("expected the refreshed contract to match, got %d transitions", run.Transitions)
	}
	if store.order(1).Status != models.OrderStatusAwaitingValidation {
		t.Fatalf("expected awaiting_validation, got %s", store.order(1).Status)
	}
}

// Two passes race on one order; the version guard commits exactly one result.
func TestReconcileOrder_VersionRaceCommitsExactlyOnce(t *testing.T) {
	store := newFakeStore(*testScope())
	order := sellOrder(1, 5500, 1000)
	order.Status = models.OrderStatusAwaitingValidation
	contractId := int64(7001)
	order.MatchedContractId = &contractId
	store.addOrder(order)

	finished := sellContract(7001, "Delivery MX-1", 5500, 1000)
	finished.Status = models.ContractStatusFinished
	short := sellContract(7001, "Delivery MX-1", 5500, 900)

	emitter := &fakeEmitter{}
	orchestrator := newTestOrchestrator(store, &fakeGateway{}, emitter)

	run := &models.ReconcileRun{ID: 1}
	staleRead := store.order(1)
	freshRead := store.order(1)

	// Pass one commits completed from the settled contract.
	transitioned, err := orchestrator.reconcileOrder(context.Background(), run, testScope(), &freshRead,
		[]models.CachedContract{finished}, nil)
	if err != nil || !transitioned {
		t.Fatalf("expected winning pass to commit, got transitioned=%v err=%v", transitioned, err)
	}

	// Pass two computed anomaly from a stale read; it must be discarded
	// without error.
	transitioned, err = orchestrator.reconcileOrder(context.Background(), run, testScope(), &staleRead,
		[]models.CachedContract{short}, nil)
	if err != nil {
		t.Fatalf("losing a version race is not an error, got %v", err)
	}
	if transitioned {
		t.Fatal("stale pass must not commit")
	}

	final := store.order(1)
	if final.Status != models.OrderStatusCompleted {
		t.Fatalf("expected completed to win, got %s", final.Status)
	}
	if len(emitter.transitions) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(emitter.transitions))
	}
}

func TestRunFastPass_RateLimitSetsScopeBackoff(t *testing.T) {
	store := newFakeStore(*testScope())
	order := sellOrder(1, 5500, 1000)
	order.CreatedAt = testNow.Add(-time.Hour)
	order.UpdatedAt = testNow.Add(-time.Hour)
	store.addOrder(order)

	gateway := &fakeGateway{}
	gateway.respond = func(bool) (FetchResult, error) {
		return FetchResult{}, &RateLimitedError{RetryAfter: 10 * time.Minute}
	}

	orchestrator := newTestOrchestrator(store, gateway, &fakeEmitter{})
	run, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.ReconcileRunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	if store.order(1).Status != models.OrderStatusPending {
		t.Fatal("rate limit must leave orders untouched")
	}

	// Next pass honors the backoff without touching the gateway again.
	if _, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false); err != nil {
		t.Fatal(err)
	}
	if gateway.fetchCount() != 1 {
		t.Fatalf("expected backoff to suppress further fetches, got %d", gateway.fetchCount())
	}
}

func TestRunFastPass_AuthFailureIsolatedPerScope(t *testing.T) {
	badScope := *testScope()
	badScope.ScopeId = "corp-bad"
	store := newFakeStore(badScope, *testScope())

	okOrder := sellOrder(1, 5500, 1000)
	okOrder.CreatedAt = testNow.Add(-time.Hour)
	okOrder.UpdatedAt = testNow.Add(-time.Hour)
	store.addOrder(okOrder)

	badOrder := sellOrder(2, 5500, 1000)
	badOrder.ScopeId = "corp-bad"
	badOrder.CreatedAt = testNow.Add(-time.Hour)
	badOrder.UpdatedAt = testNow.Add(-time.Hour)
	store.addOrder(badOrder)

	contract := sellContract(7001, "Delivery MX-1", 5500, 1000)
	routed := &scopeRoutedGateway{
		byScope: map[string]func() (FetchResult, error){
			"corp-bad": func() (FetchResult, error) { return FetchResult{}, ErrScopeAuthorizationMissing },
			"corp-1": func() (FetchResult, error) {
				stripped := contract
				stripped.Items = nil
				return FetchResult{Contracts: []models.CachedContract{stripped}, CacheToken: "tok"}, nil
			},
		},
		items: map[int64][]models.CachedContractItem{7001: contract.Items},
	}

	emitter := &fakeEmitter{}
	orchestrator := newTestOrchestrator(store, routed, emitter)
	run, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false)
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != models.ReconcileRunStatusPartial {
		t.Fatalf("expected partial run, got %s", run.Status)
	}
	if store.order(1).Status != models.OrderStatusAwaitingValidation {
		t.Fatalf("healthy scope must keep processing, got %s", store.order(1).Status)
	}
	if store.order(2).Status != models.OrderStatusPending {
		t.Fatal("failed scope's orders must be untouched")
	}
	if len(emitter.alerts) != 1 || emitter.alerts[0] != "scope_authorization_missing" {
		t.Fatalf("expected operator alert, got %v", emitter.alerts)
	}
}

// Routine pass bookkeeping rewrites the order row every cadence, which keeps
// refreshing updated_at. The grace clock must run from the last transition,
// not from the last write, or NO_MATCH could never time out.
func TestRunFastPass_GraceClockSurvivesPassBookkeeping(t *testing.T) {
	store := newFakeStore(*testScope())
	order := sellOrder(1, 5500, 1000)
	order.CreatedAt = testNow.Add(-100 * time.Hour)
	order.StatusChangedAt = testNow.Add(-71 * time.Hour)
	store.addOrder(order)

	gateway := &fakeGateway{}
	gateway.respond = func(bool) (FetchResult, error) {
		return FetchResult{CacheToken: "tok-1"}, nil
	}
	orchestrator := newTestOrchestrator(store, gateway, &fakeEmitter{})
	current := testNow
	orchestrator.SetClock(func() time.Time { return current })

	// Two uneventful passes inside the grace period rewrite the row.
	for i := 0; i < 2; i++ {
		if _, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false); err != nil {
			t.Fatal(err)
		}
	}
	got := store.order(1)
	if got.Status != models.OrderStatusPending {
		t.Fatalf("expected pending inside grace period, got %s", got.Status)
	}
	if !got.UpdatedAt.Equal(current) {
		t.Fatal("expected bookkeeping to refresh updated_at")
	}

	// Crossing the grace boundary rejects despite the fresh updated_at.
	current = testNow.Add(2 * time.Hour)
	run, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false)
	if err != nil {
		t.Fatal(err)
	}
	if run.Transitions != 1 || store.order(1).Status != models.OrderStatusRejected {
		t.Fatalf("expected rejection past grace period, got transitions=%d status=%s",
			run.Transitions, store.order(1).Status)
	}
}

// A transient item-fetch failure must not classify an exact match as an
// anomaly. The order sits out the pass and is judged once the items arrive.
func TestRunFastPass_ItemFetchFailureDefersOrder(t *testing.T) {
	store := newFakeStore(*testScope())
	order := sellOrder(1, 5500, 1000)
	order.CreatedAt = testNow.Add(-time.Hour)
	order.StatusChangedAt = testNow.Add(-time.Hour)
	store.addOrder(order)

	gateway := &fakeGateway{}
	freshContracts(gateway, sellContract(7001, "Delivery MX-1", 5500, 1000))
	gateway.failItems(errors.New("registry 502"))

	emitter := &fakeEmitter{}
	orchestrator := newTestOrchestrator(store, gateway, emitter)
	run, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.ReconcileRunStatusPartial {
		t.Fatalf("expected partial run, got %s", run.Status)
	}
	got := store.order(1)
	if got.Status != models.OrderStatusPending || got.AttemptCount != 0 {
		t.Fatalf("expected order untouched, got status=%s attempts=%d", got.Status, got.AttemptCount)
	}
	if len(emitter.transitions) != 0 {
		t.Fatalf("expected no events, got %d", len(emitter.transitions))
	}
	found := false
	store.mu.Lock()
	for _, recErr := range store.errs {
		if recErr.ErrorCode == "contract_items_unavailable" && recErr.Retryable {
			found = true
		}
	}
	store.mu.Unlock()
	if !found {
		t.Fatal("expected a retryable contract_items_unavailable error")
	}

	// Items available on the next pass: the exact match goes through.
	gateway.failItems(nil)
	if _, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false); err != nil {
		t.Fatal(err)
	}
	if store.order(1).Status != models.OrderStatusAwaitingValidation {
		t.Fatalf("expected awaiting_validation after recovery, got %s", store.order(1).Status)
	}
}

// An unresolved anomaly keeps its delta fresh on every re-check: an identical
// mismatch inside the cool-down stays quiet, and is notified again once the
// cool-down elapses.
func TestRunFastPass_AnomalyReNotifiedAfterCooldown(t *testing.T) {
	store := newFakeStore(*testScope())
	order := sellOrder(1, 5500, 1000)
	order.CreatedAt = testNow.Add(-time.Hour)
	order.StatusChangedAt = testNow.Add(-time.Hour)
	store.addOrder(order)

	gateway := &fakeGateway{}
	freshContracts(gateway, sellContract(7001, "Delivery MX-1", 5500, 900))
	emitter := &fakeEmitter{}
	orchestrator := newTestOrchestrator(store, gateway, emitter)
	current := testNow
	orchestrator.SetClock(func() time.Time { return current })

	pass := func() {
		t.Helper()
		if _, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false); err != nil {
			t.Fatal(err)
		}
	}

	pass()
	if store.order(1).Status != models.OrderStatusAnomaly || len(emitter.transitions) != 1 {
		t.Fatalf("expected one anomaly event, got status=%s events=%d",
			store.order(1).Status, len(emitter.transitions))
	}

	current = testNow.Add(time.Minute)
	pass()
	if len(emitter.transitions) != 1 {
		t.Fatalf("expected suppression inside cool-down, got %d events", len(emitter.transitions))
	}

	current = testNow.Add(10 * time.Minute)
	pass()
	if len(emitter.transitions) != 2 {
		t.Fatalf("expected re-notification after cool-down, got %d events", len(emitter.transitions))
	}
	last := emitter.transitions[1]
	if last.NewStatus != models.OrderStatusAnomaly || len(last.Diagnostics) == 0 {
		t.Fatalf("expected anomaly re-notification with diagnostics, got %+v", last)
	}
}

// A contract carrying two orders' tokens is ambiguous even when the second
// order is in a status the other cadence handles.
func TestRunFastPass_AmbiguityCountsOrdersOutsideThePass(t *testing.T) {
	store := newFakeStore(*testScope())
	pending := sellOrder(1, 5500, 1000)
	pending.CreatedAt = testNow.Add(-time.Hour)
	pending.StatusChangedAt = testNow.Add(-time.Hour)
	store.addOrder(pending)

	waiting := sellOrder(2, 5500, 1000)
	waiting.Status = models.OrderStatusAwaitingValidation
	waiting.CreatedAt = testNow.Add(-time.Hour)
	waiting.StatusChangedAt = testNow.Add(-time.Hour)
	store.addOrder(waiting)

	gateway := &fakeGateway{}
	freshContracts(gateway, sellContract(7001, "Delivery MX-1 and MX-2", 5500, 1000))

	orchestrator := newTestOrchestrator(store, gateway, &fakeEmitter{})
	run, err := orchestrator.RunFastPass(context.Background(), models.ReconcileTriggeredSchedule, false)
	if err != nil {
		t.Fatal(err)
	}
	if run.Transitions != 0 {
		t.Fatalf("expected no transition on ambiguous contract, got %d", run.Transitions)
	}
	got := store.order(1)
	if got.Status != models.OrderStatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	diag := got.Diagnostics()
	if len(diag.AmbiguousWith) != 1 || diag.AmbiguousWith[0] != 2 {
		t.Fatalf("expected ambiguity with order 2, got %v", diag.AmbiguousWith)
	}
}

type scopeRoutedGateway struct {
	byScope map[string]func() (FetchResult, error)
	items   map[int64][]models.CachedContractItem
}

func (g *scopeRoutedGateway) FetchContracts(_ context.Context, scopeId string, _ string, _ bool) (FetchResult, error) {
	return g.byScope[scopeId]()
}

func (g *scopeRoutedGateway) FetchContractItems(_ context.Context, contractId int64) ([]models.CachedContractItem, error) {
	return g.items[contractId], nil
}

package reconcile

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/exchange_backend/config"
)

// ScratchStore holds the engine's short-lived pass-to-pass state: anomaly
// notification fingerprints, reminder timestamps, rate-limit backoff windows
// and consecutive-failure counters. Losing it is harmless; the engine only
// becomes chattier for one cycle.
type ScratchStore interface {
	AnomalyFingerprint(orderId uint) (fingerprint string, emittedAt time.Time, ok bool)
	SetAnomalyFingerprint(orderId uint, fingerprint string, emittedAt time.Time, ttl time.Duration)

	LastReminderAt(orderId uint) (time.Time, bool)
	SetLastReminderAt(orderId uint, at time.Time, ttl time.Duration)

	ScopeBackoffUntil(scopeId string) (time.Time, bool)
	SetScopeBackoff(scopeId string, until time.Time)

	ScopeFailureCount(scopeId string) int
	IncrScopeFailures(scopeId string) int
	ResetScopeFailures(scopeId string)

	OutageAlertedAt(scopeId string) (time.Time, bool)
	SetOutageAlertedAt(scopeId string, at time.Time, ttl time.Duration)
}

type fingerprintEntry struct {
	Fingerprint string    `json:"fingerprint"`
	EmittedAt   time.Time `json:"emitted_at"`
}

// redisScratch keeps scratch state in redis so it survives restarts and is
// shared when more than one instance runs passes.
type redisScratch struct{}

func NewRedisScratch() ScratchStore {
	return &redisScratch{}
}

func fingerprintKey(orderId uint) string { return fmt.Sprintf("reconcile:anomaly_fp:%d", orderId) }
func reminderKey(orderId uint) string    { return fmt.Sprintf("reconcile:reminder:%d", orderId) }
func backoffKey(scopeId string) string   { return "reconcile:backoff:" + scopeId }
func failuresKey(scopeId string) string  { return "reconcile:failures:" + scopeId }
func outageKey(scopeId string) string    { return "reconcile:outage_alert:" + scopeId }

func (r *redisScratch) AnomalyFingerprint(orderId uint) (string, time.Time, bool) {
	var entry fingerprintEntry
	found, err := config.GetRedisObject(fingerprintKey(orderId), &entry)
	if err != nil || !found {
		return "", time.Time{}, false
	}
	return entry.Fingerprint, entry.EmittedAt, true
}

func (r *redisScratch) SetAnomalyFingerprint(orderId uint, fingerprint string, emittedAt time.Time, ttl time.Duration) {
	_ = config.SetRedisObject(fingerprintKey(orderId), fingerprintEntry{Fingerprint: fingerprint, EmittedAt: emittedAt}, ttl)
}

func (r *redisScratch) LastReminderAt(orderId uint) (time.Time, bool) {
	val, found, err := config.GetRedisValue(reminderKey(orderId))
	if err != nil || !found {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

func (r *redisScratch) SetLastReminderAt(orderId uint, at time.Time, ttl time.Duration) {
	_ = config.SetRedisValue(reminderKey(orderId), at.Format(time.RFC3339Nano), ttl)
}

func (r *redisScratch) ScopeBackoffUntil(scopeId string) (time.Time, bool) {
	val, found, err := config.GetRedisValue(backoffKey(scopeId))
	if err != nil || !found {
		return time.Time{}, false
	}
	until, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false
	}
	return until, true
}

func (r *redisScratch) SetScopeBackoff(scopeId string, until time.Time) {
	ttl := time.Until(until)
	if ttl <= 0 {
		return
	}
	_ = config.SetRedisValue(backoffKey(scopeId), until.Format(time.RFC3339Nano), ttl)
}

func (r *redisScratch) ScopeFailureCount(scopeId string) int {
	val, found, err := config.GetRedisValue(failuresKey(scopeId))
	if err != nil || !found {
		return 0
	}
	n, _ := strconv.Atoi(val)
	return n
}

func (r *redisScratch) IncrScopeFailures(scopeId string) int {
	rdb := config.GetRedisDB()
	if rdb == nil {
		return 0
	}
	n, err := rdb.Incr(config.GetRedisContext(), failuresKey(scopeId)).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

func (r *redisScratch) ResetScopeFailures(scopeId string) {
	_ = config.RemoveRedisKey(failuresKey(scopeId))
}

func (r *redisScratch) OutageAlertedAt(scopeId string) (time.Time, bool) {
	val, found, err := config.GetRedisValue(outageKey(scopeId))
	if err != nil || !found {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

func (r *redisScratch) SetOutageAlertedAt(scopeId string, at time.Time, ttl time.Duration) {
	_ = config.SetRedisValue(outageKey(scopeId), at.Format(time.RFC3339Nano), ttl)
}

// memoryScratch is the single-process fallback, also used by tests. TTLs are
// ignored; entries live for the life of the process.
type memoryScratch struct {
	mu           sync.Mutex
	fingerprints map[uint]fingerprintEntry
	reminders    map[uint]time.Time
	backoffs     map[string]time.Time
	failures     map[string]int
	outages      map[string]time.Time
}

func NewMemoryScratch() ScratchStore {
	return &memoryScratch{
		fingerprints: make(map[uint]fingerprintEntry),
		reminders:    make(map[uint]time.Time),
		backoffs:     make(map[string]time.Time),
		failures:     make(map[string]int),
		outages:      make(map[string]time.Time),
	}
}

func (m *memoryScratch) AnomalyFingerprint(orderId uint) (string, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.fingerprints[orderId]
	return entry.Fingerprint, entry.EmittedAt, ok
}

func (m *memoryScratch) SetAnomalyFingerprint(orderId uint, fingerprint string, emittedAt time.Time, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fingerprints[orderId] = fingerprintEntry{Fingerprint: fingerprint, EmittedAt: emittedAt}
}

func (m *memoryScratch) LastReminderAt(orderId uint) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.reminders[orderId]
	return at, ok
}

func (m *memoryScratch) SetLastReminderAt(orderId uint, at time.Time, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders[orderId] = at
}

func (m *memoryScratch) ScopeBackoffUntil(scopeId string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.backoffs[scopeId]
	return until, ok
}

func (m *memoryScratch) SetScopeBackoff(scopeId string, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backoffs[scopeId] = until
}

func (m *memoryScratch) ScopeFailureCount(scopeId string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[scopeId]
}

func (m *memoryScratch) IncrScopeFailures(scopeId string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[scopeId]++
	return m.failures[scopeId]
}

func (m *memoryScratch) ResetScopeFailures(scopeId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, scopeId)
}

func (m *memoryScratch) OutageAlertedAt(scopeId string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.outages[scopeId]
	return at, ok
}

func (m *memoryScratch) SetOutageAlertedAt(scopeId string, at time.Time, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outages[scopeId] = at
}

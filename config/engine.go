package config

import (
	"time"

	"bitbucket.org/mmdatafocus/exchange_backend/utils"
)

// EngineSettings collects the reconciliation engine knobs. Everything is
// env-sourced so deployments can tune cadence and cool-downs without a rebuild.
//
// Env:
// - RECONCILE_FAST_INTERVAL          (default 5m)  pending/anomalous order pass
// - RECONCILE_SLOW_INTERVAL          (default 30m) matched-contract completion pass
// - ANOMALY_COOLDOWN                 (default 5m)  anomaly notification suppression window
// - REMINDER_COOLDOWN                (default 24h) stuck-order reminder window
// - REMINDER_AFTER                   (default 24h) order age before reminders start
// - NO_MATCH_GRACE_PERIOD            (default 72h) NO_MATCH age before auto-reject
// - OUTAGE_ALERT_AFTER_FAILURES      (default 5)   consecutive fetch failures before operator alert
// - SCOPE_WORKERS                    (default 4)   per-pass scope fan-out
// - GATEWAY_TIMEOUT                  (default 30s)
// - GATEWAY_RETRY_BUDGET             (default 2)   retries per fetch inside one pass
// - GATEWAY_RATE_LIMIT_PER_MIN       (default 60)  global budget across scopes
type EngineSettings struct {
	FastInterval      time.Duration
	SlowInterval      time.Duration
	AnomalyCooldown   time.Duration
	ReminderCooldown  time.Duration
	ReminderAfter     time.Duration
	NoMatchGrace      time.Duration
	OutageAlertAfter  int
	ScopeWorkers      int
	GatewayTimeout    time.Duration
	GatewayRetries    int
	RateLimitPerMin   int
}

func LoadEngineSettings() EngineSettings {
	return EngineSettings{
		FastInterval:     utils.DurationFromEnv("RECONCILE_FAST_INTERVAL", 5*time.Minute),
		SlowInterval:     utils.DurationFromEnv("RECONCILE_SLOW_INTERVAL", 30*time.Minute),
		AnomalyCooldown:  utils.DurationFromEnv("ANOMALY_COOLDOWN", 5*time.Minute),
		ReminderCooldown: utils.DurationFromEnv("REMINDER_COOLDOWN", 24*time.Hour),
		ReminderAfter:    utils.DurationFromEnv("REMINDER_AFTER", 24*time.Hour),
		NoMatchGrace:     utils.DurationFromEnv("NO_MATCH_GRACE_PERIOD", 72*time.Hour),
		OutageAlertAfter: utils.IntFromEnv("OUTAGE_ALERT_AFTER_FAILURES", 5),
		ScopeWorkers:     utils.IntFromEnv("SCOPE_WORKERS", 4),
		GatewayTimeout:   utils.DurationFromEnv("GATEWAY_TIMEOUT", 30*time.Second),
		GatewayRetries:   utils.IntFromEnv("GATEWAY_RETRY_BUDGET", 2),
		RateLimitPerMin:  utils.IntFromEnv("GATEWAY_RATE_LIMIT_PER_MIN", 60),
	}
}

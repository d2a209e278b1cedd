package models

import "time"

const (
	ReconcileRunStatusQueued  = "queued"
	ReconcileRunStatusRunning = "running"
	ReconcileRunStatusSuccess = "success"
	ReconcileRunStatusFailed  = "failed"
	ReconcileRunStatusPartial = "partial"
)

const (
	ReconcileTriggeredSchedule = "schedule"
	ReconcileTriggeredManual   = "manual"
	ReconcileTriggeredRetry    = "retry"
)

const (
	ReconcilePassFast = "fast"
	ReconcilePassSlow = "slow"
)

// ReconcileRun records one orchestrator pass for operator visibility:
// what was fetched, what moved, and which scopes failed.
type ReconcileRun struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	Pass         string     `gorm:"size:8;not null;index" json:"pass"`
	Status       string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy  string     `gorm:"size:20" json:"triggered_by"`
	ForceRefresh bool       `json:"force_refresh"`
	ScopesTotal  int        `json:"scopes_total"`
	ScopesFailed int        `json:"scopes_failed"`
	OrdersSeen   int        `json:"orders_seen"`
	Transitions  int        `json:"transitions"`
	ErrorCount   int        `json:"error_count"`
	StatsJSON    []byte     `gorm:"type:json" json:"stats"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	DurationMs   int64      `json:"duration_ms"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReconcileError is a per-entity failure inside a run. Retryable errors are
// transient (gateway outages, rate limits); non-retryable ones need an
// operator (missing scope authorization, bad configuration).
type ReconcileError struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	RunId     uint      `gorm:"index;not null" json:"run_id"`
	ScopeId   string    `gorm:"index;size:64" json:"scope_id"`
	OrderId   uint      `gorm:"index" json:"order_id"`
	ErrorCode string    `gorm:"size:64" json:"error_code"`
	Message   string    `gorm:"type:text" json:"message"`
	Retryable bool      `gorm:"default:false" json:"retryable"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

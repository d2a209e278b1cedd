package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderDirectionSell = "sell"
	OrderDirectionBuy  = "buy"
)

// OrderReferencePrefix is the token members must embed in a contract title so
// reconciliation can tie the contract back to the order.
const OrderReferencePrefix = "MX"

// ExchangeOrder is a member's declared intent to sell goods to (or buy goods
// from) the scope's counterparty, settled through an external contract the
// engine observes but does not control.
type ExchangeOrder struct {
	ID      uint   `gorm:"primary_key" json:"id"`
	ScopeId string `gorm:"size:64;not null;uniqueIndex:uniq_order_reference,priority:1" json:"scope_id"`
	OwnerId int64  `gorm:"index;not null" json:"owner_id"`

	Direction string      `gorm:"size:8;not null" json:"direction"`
	Status    OrderStatus `gorm:"size:32;not null;index" json:"status"`

	// OrderReference is unique within its scope and never reused.
	OrderReference string `gorm:"size:32;not null;uniqueIndex:uniq_order_reference,priority:2" json:"order_reference"`

	// Total is ceil(sum of item unit_price*quantity), stored and compared as an integer.
	// Immutable after creation; re-pricing requires a new order.
	Total int64 `gorm:"not null" json:"total"`

	MatchedContractId *int64     `gorm:"index" json:"matched_contract_id"`
	DiagnosticsJSON   []byte     `gorm:"type:json" json:"diagnostics"`
	AttemptCount      int        `json:"attempt_count"`
	LastCheckedAt     *time.Time `json:"last_checked_at"`
	Version           int64      `gorm:"not null;default:0" json:"version"`

	// StatusChangedAt moves only on real status transitions. UpdatedAt cannot
	// serve as a state-age clock: pass bookkeeping rewrites the row every
	// cadence and autoUpdateTime stamps it each time.
	StatusChangedAt time.Time `json:"status_changed_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderId" json:"items"`
}

type OrderItem struct {
	ID        uint            `gorm:"primary_key" json:"id"`
	OrderId   uint            `gorm:"index;not null" json:"order_id"`
	ItemType  int64           `gorm:"not null" json:"item_type"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,2)" json:"unit_price"`
}

// Reference returns the order's matching token. Legacy rows created before
// reference assignment fall back to a derived identifier with the same shape.
func (o *ExchangeOrder) Reference() string {
	if o.OrderReference != "" {
		return o.OrderReference
	}
	return fmt.Sprintf("%s-%d", OrderReferencePrefix, o.ID)
}

// StatusAge is how long the order has sat in its current status. Rows created
// before StatusChangedAt existed age from creation.
func (o *ExchangeOrder) StatusAge(now time.Time) time.Duration {
	if !o.StatusChangedAt.IsZero() {
		return now.Sub(o.StatusChangedAt)
	}
	return now.Sub(o.CreatedAt)
}

// CeilTotal computes the integer total of a set of order items, rounded up.
func CeilTotal(items []OrderItem) int64 {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity)))
	}
	return sum.Ceil().IntPart()
}

// OrderDiagnostics is the structured free-form notes blob on an order: the
// last delta report, the matched contract, ambiguity flags and the override
// history. It replaces ad hoc status strings so the UI and operators see the
// specific mismatch, never a generic failure.
type OrderDiagnostics struct {
	MatchedContractId int64            `json:"matched_contract_id,omitempty"`
	LastDelta         *DeltaReport     `json:"last_delta,omitempty"`
	AmbiguousWith     []uint           `json:"ambiguous_with,omitempty"`
	OrphanContracts   []int64          `json:"orphan_contracts,omitempty"`
	Overrides         []OverrideRecord `json:"overrides,omitempty"`
	Note              string           `json:"note,omitempty"`
}

// DeltaReport describes how a near-match contract differs from the order.
type DeltaReport struct {
	ContractId        int64       `json:"contract_id"`
	Missing           []ItemDelta `json:"missing,omitempty"`
	Surplus           []ItemDelta `json:"surplus,omitempty"`
	PriceDiff         int64       `json:"price_diff,omitempty"`
	ReferenceMismatch bool        `json:"reference_mismatch,omitempty"`
}

type ItemDelta struct {
	ItemType int64 `json:"item_type"`
	Quantity int64 `json:"quantity"`
}

// OverrideRecord captures an out-of-band human decision the engine observed
// on a later pass (e.g. an anomalous contract manually accepted).
type OverrideRecord struct {
	ContractId int64     `json:"contract_id"`
	Action     string    `json:"action"`
	ObservedAt time.Time `json:"observed_at"`
}

func (o *ExchangeOrder) Diagnostics() OrderDiagnostics {
	var d OrderDiagnostics
	if len(o.DiagnosticsJSON) > 0 {
		_ = json.Unmarshal(o.DiagnosticsJSON, &d)
	}
	return d
}

func (o *ExchangeOrder) SetDiagnostics(d OrderDiagnostics) {
	b, _ := json.Marshal(d)
	o.DiagnosticsJSON = b
}

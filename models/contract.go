package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractKindItemExchange is the only contract kind eligible for matching.
const ContractKindItemExchange = "item_exchange"

const (
	ContractStatusOutstanding = "outstanding"
	ContractStatusInProgress  = "in_progress"
	ContractStatusFinished    = "finished"
	ContractStatusRejected    = "rejected"
	ContractStatusCancelled   = "cancelled"
	ContractStatusExpired     = "expired"
	ContractStatusDeleted     = "deleted"
)

// CachedContract is a read-only projection of a registry contract, refreshed
// by the orchestrator once per scope per pass. The engine never mutates the
// contract itself; real-world contracts are immutable once posted.
type CachedContract struct {
	ID         uint            `gorm:"primary_key" json:"id"`
	ContractId int64           `gorm:"uniqueIndex:uniq_scope_contract,priority:2;not null" json:"contract_id"`
	ScopeId    string          `gorm:"size:64;not null;uniqueIndex:uniq_scope_contract,priority:1" json:"scope_id"`
	Kind       string          `gorm:"size:32;not null" json:"kind"`
	Status     string          `gorm:"size:32;not null;index" json:"status"`
	IssuerId   int64           `gorm:"index" json:"issuer_id"`
	AcceptorId int64           `json:"acceptor_id"`
	LocationId int64           `json:"location_id"`
	Title      string          `gorm:"size:255" json:"title"`
	Price      decimal.Decimal `gorm:"type:decimal(20,2)" json:"price"`
	DateIssued time.Time       `json:"date_issued"`
	LastSynced time.Time       `json:"last_synced"`

	// ItemsSynced marks that the line items were fetched for this snapshot. A
	// contract left unsynced by a failed item fetch must not be judged against
	// an order; it would present an empty multiset.
	ItemsSynced bool `gorm:"not null;default:false" json:"items_synced"`

	Items []CachedContractItem `gorm:"foreignKey:ContractRef" json:"items"`
}

type CachedContractItem struct {
	ID          uint  `gorm:"primary_key" json:"id"`
	ContractRef uint  `gorm:"index;not null" json:"contract_ref"`
	ItemType    int64 `gorm:"not null" json:"item_type"`
	Quantity    int64 `gorm:"not null" json:"quantity"`
	// Included items are what the issuer hands over; requested items are the
	// other direction and never count toward the order's multiset.
	IsIncluded bool `json:"is_included"`
}

// PriceInt is the contract price rounded up, for integer comparison against
// order totals.
func (c *CachedContract) PriceInt() int64 {
	return c.Price.Ceil().IntPart()
}

// Unmatched reports whether the contract can no longer satisfy any order.
func (c *CachedContract) Unmatched() bool {
	switch c.Status {
	case ContractStatusRejected, ContractStatusCancelled, ContractStatusExpired, ContractStatusDeleted:
		return true
	}
	return false
}

// Open reports whether the contract is still awaiting the counterparty.
func (c *CachedContract) Open() bool {
	return c.Status == ContractStatusOutstanding || c.Status == ContractStatusInProgress
}

func (c *CachedContract) Finished() bool {
	return c.Status == ContractStatusFinished
}

// IncludedQuantities folds the contract's included line items into an
// item_type -> quantity multiset.
func (c *CachedContract) IncludedQuantities() map[int64]int64 {
	out := make(map[int64]int64, len(c.Items))
	for _, item := range c.Items {
		if !item.IsIncluded {
			continue
		}
		out[item.ItemType] += item.Quantity
	}
	return out
}

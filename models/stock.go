package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockSnapshot is the per-scope availability an order is validated against
// at creation time, together with the reference market price pair the
// price-bound policy consumes. Refreshed out of band; the engine only reads it.
type StockSnapshot struct {
	ID       uint   `gorm:"primary_key" json:"id"`
	ScopeId  string `gorm:"size:64;not null;uniqueIndex:uniq_scope_item,priority:1" json:"scope_id"`
	ItemType int64  `gorm:"not null;uniqueIndex:uniq_scope_item,priority:2" json:"item_type"`
	Quantity int64  `gorm:"not null" json:"quantity"`

	ReferenceBuyPrice  decimal.Decimal `gorm:"type:decimal(20,2)" json:"reference_buy_price"`
	ReferenceSellPrice decimal.Decimal `gorm:"type:decimal(20,2)" json:"reference_sell_price"`

	LastStockSync *time.Time `json:"last_stock_sync"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

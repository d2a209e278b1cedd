package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PriceBaseBuy  = "buy"
	PriceBaseSell = "sell"
)

const (
	NotifyBackendInApp   = "inapp"
	NotifyBackendWebhook = "webhook"
	NotifyBackendPubSub  = "pubsub"
)

// ScopeConfig is the per-scope exchange configuration: where contracts must
// be settled, who the counterparty is, how unit prices derive from the
// reference market, and how transition events are delivered.
type ScopeConfig struct {
	ID        uint   `gorm:"primary_key" json:"id"`
	ScopeId   string `gorm:"size:64;not null;uniqueIndex" json:"scope_id"`
	IsActive  bool   `gorm:"default:true" json:"is_active"`
	ScopeKind string `gorm:"size:16;not null" json:"scope_kind"` // individual | organization

	// CounterpartyId is the entity contracts must be assigned to (sell) or
	// issued by (buy).
	CounterpartyId int64 `gorm:"not null" json:"counterparty_id"`

	SettlementLocationId   int64  `gorm:"not null" json:"settlement_location_id"`
	SettlementLocationName string `gorm:"size:255" json:"settlement_location_name"`

	// Pricing policy. Sell orders (member sells to the counterparty) price
	// each unit from SellMarkupBase plus SellMarkupPercent; buy orders use
	// the Buy pair. EnforcePriceBounds clamps the result inside the
	// snapshot's buy/sell spread.
	SellMarkupBase     string          `gorm:"size:8;default:buy" json:"sell_markup_base"`
	SellMarkupPercent  decimal.Decimal `gorm:"type:decimal(8,4)" json:"sell_markup_percent"`
	BuyMarkupBase      string          `gorm:"size:8;default:sell" json:"buy_markup_base"`
	BuyMarkupPercent   decimal.Decimal `gorm:"type:decimal(8,4)" json:"buy_markup_percent"`
	EnforcePriceBounds bool            `gorm:"default:false" json:"enforce_price_bounds"`

	NotifyBackends string `gorm:"size:64;default:inapp" json:"notify_backends"` // csv of backend names
	WebhookURL     string `gorm:"size:500" json:"webhook_url"`

	LastContractSync *time.Time `json:"last_contract_sync"`
	ContractCacheTok string     `gorm:"size:128" json:"contract_cache_tok"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	ScopeKindIndividual   = "individual"
	ScopeKindOrganization = "organization"
)

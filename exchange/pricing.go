package exchange

import (
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
)

var one = decimal.NewFromInt(1)
var hundred = decimal.NewFromInt(100)

// ApplyMarkupWithBounds returns the reference price after markup, optionally
// clamped inside the market buy/sell spread:
// a negative markup on the sell base never drops below the buy price, and a
// positive markup on the buy base never rises above the sell price.
func ApplyMarkupWithBounds(refBuy, refSell decimal.Decimal, base string, percent decimal.Decimal, enforceBounds bool) decimal.Decimal {
	basePrice := refBuy
	if base == models.PriceBaseSell {
		basePrice = refSell
	}
	price := basePrice.Mul(one.Add(percent.Div(hundred)))

	if enforceBounds {
		if base == models.PriceBaseSell && percent.IsNegative() && refBuy.IsPositive() && price.LessThan(refBuy) {
			price = refBuy
		}
		if base == models.PriceBaseBuy && percent.IsPositive() && refSell.IsPositive() && price.GreaterThan(refSell) {
			price = refSell
		}
	}
	return price
}

// UnitPriceFor computes the per-unit price for one stock item in the given
// order direction. Prices are always computed server-side from the scope's
// snapshot; submitted prices are never trusted.
func UnitPriceFor(cfg *models.ScopeConfig, stock *models.StockSnapshot, direction string) decimal.Decimal {
	if direction == models.OrderDirectionBuy {
		return ApplyMarkupWithBounds(
			stock.ReferenceBuyPrice, stock.ReferenceSellPrice,
			cfg.BuyMarkupBase, cfg.BuyMarkupPercent, cfg.EnforcePriceBounds)
	}
	return ApplyMarkupWithBounds(
		stock.ReferenceBuyPrice, stock.ReferenceSellPrice,
		cfg.SellMarkupBase, cfg.SellMarkupPercent, cfg.EnforcePriceBounds)
}

package exchange

import (
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/exchange_backend/models"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestApplyMarkupWithBounds_SellBaseMarkup(t *testing.T) {
	// Sell reference 6.00 marked up 10% -> 6.60.
	price := ApplyMarkupWithBounds(d("5.00"), d("6.00"), models.PriceBaseSell, d("10"), true)
	if !price.Equal(d("6.60")) {
		t.Fatalf("expected 6.60, got %s", price)
	}
}

func TestApplyMarkupWithBounds_BuyBaseMarkup(t *testing.T) {
	// Buy reference 5.00 marked up 5% -> 5.25.
	price := ApplyMarkupWithBounds(d("5.00"), d("6.00"), models.PriceBaseBuy, d("5"), true)
	if !price.Equal(d("5.25")) {
		t.Fatalf("expected 5.25, got %s", price)
	}
}

func TestApplyMarkupWithBounds_SellDiscountClampedAtBuy(t *testing.T) {
	// A 30% discount off the sell base would land at 4.20, below the 5.00 buy
	// reference; the clamp holds it at the buy price.
	price := ApplyMarkupWithBounds(d("5.00"), d("6.00"), models.PriceBaseSell, d("-30"), true)
	if !price.Equal(d("5.00")) {
		t.Fatalf("expected clamp at 5.00, got %s", price)
	}

	// Without bounds the discount passes through.
	price = ApplyMarkupWithBounds(d("5.00"), d("6.00"), models.PriceBaseSell, d("-30"), false)
	if !price.Equal(d("4.20")) {
		t.Fatalf("expected 4.20 unclamped, got %s", price)
	}
}

func TestApplyMarkupWithBounds_BuyMarkupClampedAtSell(t *testing.T) {
	// A 40% markup on the buy base would land at 7.00, above the 6.00 sell
	// reference; the clamp holds it at the sell price.
	price := ApplyMarkupWithBounds(d("5.00"), d("6.00"), models.PriceBaseBuy, d("40"), true)
	if !price.Equal(d("6.00")) {
		t.Fatalf("expected clamp at 6.00, got %s", price)
	}
}

func TestApplyMarkupWithBounds_ZeroReferenceSkipsClamp(t *testing.T) {
	// Missing market data (zero reference) must not clamp to zero.
	price := ApplyMarkupWithBounds(d("0"), d("6.00"), models.PriceBaseSell, d("-10"), true)
	if !price.Equal(d("5.40")) {
		t.Fatalf("expected 5.40, got %s", price)
	}
}

func TestUnitPriceFor_DirectionSelectsMarkupPair(t *testing.T) {
	cfg := &models.ScopeConfig{
		SellMarkupBase:     models.PriceBaseBuy,
		SellMarkupPercent:  d("10"),
		BuyMarkupBase:      models.PriceBaseSell,
		BuyMarkupPercent:   d("-10"),
		EnforcePriceBounds: false,
	}
	stock := &models.StockSnapshot{
		ReferenceBuyPrice:  d("5.00"),
		ReferenceSellPrice: d("6.00"),
	}

	sell := UnitPriceFor(cfg, stock, models.OrderDirectionSell)
	if !sell.Equal(d("5.50")) {
		t.Fatalf("expected sell unit price 5.50, got %s", sell)
	}
	buy := UnitPriceFor(cfg, stock, models.OrderDirectionBuy)
	if !buy.Equal(d("5.40")) {
		t.Fatalf("expected buy unit price 5.40, got %s", buy)
	}
}

func TestCeilTotal_RoundsUpOnce(t *testing.T) {
	// Rounding happens once on the summed total, never per line:
	// per-line ceiling would give ceil(1.1) + ceil(1.2) = 4.
	items := []models.OrderItem{
		{ItemType: 34, Quantity: 1, UnitPrice: d("1.1")},
		{ItemType: 35, Quantity: 1, UnitPrice: d("1.2")},
	}
	if got := models.CeilTotal(items); got != 3 {
		t.Fatalf("expected ceil(1.1 + 1.2) = 3, got %d", got)
	}
}

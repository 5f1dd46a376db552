package catalog

import (
	"time"

	"github.com/MauroilFuriano/dashboard/internal/models"
)

// AnnualThresholdCents is the fallback boundary between monthly and annual
// recurring prices, for products that don't pin an explicit plan.
const AnnualThresholdCents = 10000

// Product is one recognized Stripe product. Plan may be left empty, in which
// case the plan is resolved from the paid amount.
type Product struct {
	ID   string
	Name string
	Plan models.PlanType
}

// Catalog is the allow-list of products this service reconciles. Checkout
// events for anything else are ignored entirely: unrelated purchases share
// the same Stripe account.
type Catalog struct {
	products map[string]Product
}

func New(products ...Product) *Catalog {
	c := &Catalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Default returns the built-in product allow-list.
func Default() *Catalog {
	return New(
		Product{ID: "prod_TuoDbBPoQ0Lrvn", Name: "Crypto Analyzer Pro - Standard"},
		Product{ID: "prod_TuoBNeViu26GBm", Name: "Crypto Analyzer Pro - Early Bird"},
		Product{ID: "prod_TwNAWdsxQTRD4a", Name: "Test Crypto Analyzer"},
		Product{ID: "prod_TwhMvbUdxnOGre", Name: "Checkout Flow Probe"},
	)
}

// FromIDs builds a catalog from a plain ID list, e.g. an env override.
func FromIDs(ids []string) *Catalog {
	products := make([]Product, 0, len(ids))
	for _, id := range ids {
		products = append(products, Product{ID: id})
	}
	return New(products...)
}

func (c *Catalog) Allowed(productID string) bool {
	_, ok := c.products[productID]
	return ok
}

// ResolvePlan maps a purchase to its plan. No subscription reference means a
// one-time purchase with no expiry. Products with an explicit plan win;
// otherwise the amount decides (above the threshold → annual).
func (c *Catalog) ResolvePlan(productID string, amountCents int64, hasSubscription bool) models.PlanType {
	if !hasSubscription {
		return models.PlanLifetime
	}
	if p, ok := c.products[productID]; ok && p.Plan != "" {
		return p.Plan
	}
	if amountCents > AnnualThresholdCents {
		return models.PlanAnnual
	}
	return models.PlanMonthly
}

// ExpiryFor computes the first expiry timestamp for a fresh activation.
// Lifetime plans track no expiry at all.
func ExpiryFor(plan models.PlanType, now time.Time) *time.Time {
	if plan == models.PlanLifetime {
		return nil
	}
	t := now.Add(plan.Duration())
	return &t
}

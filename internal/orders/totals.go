package orders

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Pricing computes order totals. Tax is applied to the item subtotal and
// rounded half away from zero to whole minor units.
type Pricing struct {
	TaxRate decimal.Decimal
}

func NewPricing(taxRate string) (Pricing, error) {
	if taxRate == "" {
		return Pricing{TaxRate: decimal.Zero}, nil
	}
	r, err := decimal.NewFromString(taxRate)
	if err != nil {
		return Pricing{}, fmt.Errorf("parse tax rate %q: %w", taxRate, err)
	}
	if r.IsNegative() {
		return Pricing{}, fmt.Errorf("tax rate %s is negative", r)
	}
	return Pricing{TaxRate: r}, nil
}

// Apply fills each line subtotal and returns the order totals. The discount
// is clamped so the grand total never goes below zero.
func (p Pricing) Apply(items []LineItem, shippingCents, discountCents int64) Totals {
	var sub int64
	for i := range items {
		items[i].SubtotalCents = items[i].UnitPriceCents * int64(items[i].Qty)
		sub += items[i].SubtotalCents
	}
	tax := decimal.NewFromInt(sub).Mul(p.TaxRate).Round(0).IntPart()
	if discountCents < 0 {
		discountCents = 0
	}
	if ceiling := sub + tax + shippingCents; discountCents > ceiling {
		discountCents = ceiling
	}
	return Totals{
		SubtotalCents: sub,
		TaxCents:      tax,
		ShippingCents: shippingCents,
		DiscountCents: discountCents,
		GrandCents:    sub + tax + shippingCents - discountCents,
	}
}

// Consistent reports whether the grand total matches its components.
func (t Totals) Consistent() bool {
	return t.GrandCents == t.SubtotalCents+t.TaxCents+t.ShippingCents-t.DiscountCents
}

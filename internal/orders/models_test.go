package orders

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingApply(t *testing.T) {
	p, err := NewPricing("0.14")
	require.NoError(t, err)

	items := []LineItem{
		{ProductID: "p1", Qty: 2, UnitPriceCents: 1050},
		{ProductID: "p2", Qty: 1, UnitPriceCents: 399},
	}
	tot := p.Apply(items, 500, 200)

	assert.Equal(t, int64(2100), items[0].SubtotalCents)
	assert.Equal(t, int64(2499), tot.SubtotalCents)
	assert.Equal(t, int64(350), tot.TaxCents) // 349.86 rounds to 350
	assert.Equal(t, int64(2499+350+500-200), tot.GrandCents)
	assert.True(t, tot.Consistent())
}

func TestPricingApply_ClampsDiscount(t *testing.T) {
	p, err := NewPricing("")
	require.NoError(t, err)

	tot := p.Apply([]LineItem{{ProductID: "p1", Qty: 1, UnitPriceCents: 100}}, 0, 1000)
	assert.Equal(t, int64(100), tot.DiscountCents)
	assert.Equal(t, int64(0), tot.GrandCents)
	assert.True(t, tot.Consistent())

	tot = p.Apply([]LineItem{{ProductID: "p1", Qty: 1, UnitPriceCents: 100}}, 0, -5)
	assert.Equal(t, int64(0), tot.DiscountCents)
	assert.Equal(t, int64(100), tot.GrandCents)
}

func TestNewPricing_Rejects(t *testing.T) {
	_, err := NewPricing("abc")
	assert.Error(t, err)
	_, err = NewPricing("-0.1")
	assert.Error(t, err)
}

func TestNumberGenerator_SortableAndUnique(t *testing.T) {
	g := NewNumberGenerator("")
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, g.Next(t0))
	}
	got = append(got, g.Next(t0.Add(time.Second)))

	assert.Equal(t, "ORD-20260102030405-000001", got[0])
	assert.Equal(t, "ORD-20260102030406-000001", got[3])
	assert.True(t, sort.StringsAreSorted(got))

	seen := map[string]bool{}
	for _, n := range got {
		assert.False(t, seen[n])
		seen[n] = true
	}
}

func TestNumberGenerator_ClockStepBack(t *testing.T) {
	g := NewNumberGenerator("a")
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := g.Next(t0)
	second := g.Next(t0.Add(-2 * time.Second))
	third := g.Next(t0.Add(time.Second))

	assert.Equal(t, "ORD-20260102030405-a000001", first)
	assert.Equal(t, "ORD-20260102030405-a000002", second)
	assert.Equal(t, "ORD-20260102030406-a000001", third)
}

func TestOrderPartiesAndClone(t *testing.T) {
	paid := time.Now()
	o := &Order{
		CustomerID: "c1",
		VendorIDs:  []string{"v1", "v2", "v1"},
		Items: []LineItem{
			{ProductID: "p1", Qty: 2},
			{ProductID: "p1", Qty: 1},
			{ProductID: "p2", Qty: 4},
		},
		Payment: Payment{PaidAt: &paid},
	}
	assert.Equal(t, []string{"c1", "v1", "v2"}, o.Parties())
	assert.Equal(t, map[string]int{"p1": 3, "p2": 4}, o.ReservedQuantities())

	c := o.Clone()
	c.Items[0].Qty = 99
	c.VendorIDs[0] = "vx"
	*c.Payment.PaidAt = paid.Add(time.Hour)
	assert.Equal(t, 2, o.Items[0].Qty)
	assert.Equal(t, "v1", o.VendorIDs[0])
	assert.Equal(t, paid, *o.Payment.PaidAt)
}

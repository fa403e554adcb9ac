package lifecycle

import (
	"sync"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/inventory"
)

// credits remembers stock already returned to the ledger for an order whose
// cancel is not known to have been written. The next update of the order
// settles it: a cancelled record keeps the credit, any other status takes
// the stock back, and a repeated cancel does not release it twice.
type credits struct {
	mu      sync.Mutex
	byOrder map[string][]inventory.Item
}

func newCredits() *credits { return &credits{byOrder: map[string][]inventory.Item{}} }

func (c *credits) get(orderID string) []inventory.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]inventory.Item(nil), c.byOrder[orderID]...)
}

func (c *credits) add(orderID string, items []inventory.Item) {
	if len(items) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := append([]inventory.Item(nil), c.byOrder[orderID]...)
	for _, it := range items {
		found := false
		for i := range merged {
			if merged[i].ProductID == it.ProductID {
				merged[i].Qty += it.Qty
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, it)
		}
	}
	c.byOrder[orderID] = merged
}

func (c *credits) clear(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byOrder, orderID)
}

// subtract returns what of want is not already covered by have.
func subtract(want, have []inventory.Item) []inventory.Item {
	left := map[string]int{}
	for _, it := range have {
		left[it.ProductID] += it.Qty
	}
	var out []inventory.Item
	for _, it := range want {
		covered := min(left[it.ProductID], it.Qty)
		left[it.ProductID] -= covered
		if it.Qty > covered {
			out = append(out, inventory.Item{ProductID: it.ProductID, Qty: it.Qty - covered})
		}
	}
	return out
}

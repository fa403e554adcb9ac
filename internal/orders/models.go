package orders

import (
	"slices"
	"time"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

type ShippingStatus string

const (
	ShippingPending        ShippingStatus = "pending"
	ShippingLabelCreated   ShippingStatus = "label_created"
	ShippingInTransit      ShippingStatus = "in_transit"
	ShippingOutForDelivery ShippingStatus = "out_for_delivery"
	ShippingDelivered      ShippingStatus = "delivered"
	ShippingReturned       ShippingStatus = "returned"
)

func (s ShippingStatus) IsValid() bool {
	switch s {
	case ShippingPending, ShippingLabelCreated, ShippingInTransit, ShippingOutForDelivery, ShippingDelivered, ShippingReturned:
		return true
	}
	return false
}

// Amounts are integer minor units (piasters/cents).

type LineItem struct {
	ProductID      string `json:"product_id"`
	VendorID       string `json:"vendor_id"`
	Name           string `json:"name,omitempty"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	TaxCents      int64 `json:"tax_cents"`
	ShippingCents int64 `json:"shipping_cents"`
	DiscountCents int64 `json:"discount_cents"`
	GrandCents    int64 `json:"grand_total_cents"`
}

type Address struct {
	FullName    string `json:"full_name" validate:"required"`
	Phone       string `json:"phone,omitempty"`
	Street      string `json:"street" validate:"required"`
	City        string `json:"city" validate:"required"`
	Governorate string `json:"governorate,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	Country     string `json:"country" validate:"required"`
}

type Payment struct {
	Method            string        `json:"method"`
	Status            PaymentStatus `json:"status"`
	TransactionID     string        `json:"transaction_id,omitempty"`
	AmountCents       int64         `json:"amount_cents"`
	PaidAt            *time.Time    `json:"paid_at,omitempty"`
	RefundedAt        *time.Time    `json:"refunded_at,omitempty"`
	RefundAmountCents int64         `json:"refund_amount_cents,omitempty"`
}

type Shipping struct {
	Method            string         `json:"method"`
	Carrier           string         `json:"carrier,omitempty"`
	TrackingID        string         `json:"tracking_id,omitempty"`
	Status            ShippingStatus `json:"status"`
	EstimatedDelivery *time.Time     `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time     `json:"actual_delivery,omitempty"`
}

type HistoryEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	ActorID   string    `json:"actor_id"`
	Note      string    `json:"note,omitempty"`
}

type Note struct {
	ActorID   string    `json:"actor_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Order is the canonical record. Revision increases by one on every
// durable write and orders mirror updates.
type Order struct {
	ID             string         `json:"id"`
	Number         string         `json:"order_number"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CustomerID     string         `json:"customer_id"`
	VendorIDs      []string       `json:"vendor_ids"`
	Items          []LineItem     `json:"items"`
	Totals         Totals         `json:"totals"`
	Address        Address        `json:"address"`
	Payment        Payment        `json:"payment"`
	Shipping       Shipping       `json:"shipping"`
	Status         Status         `json:"status"`
	History        []HistoryEntry `json:"status_history"`
	Notes          []Note         `json:"notes,omitempty"`
	Revision       int64          `json:"revision"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CancelledAt    *time.Time     `json:"cancelled_at,omitempty"`
}

// Parties returns the customer followed by every vendor, without duplicates.
func (o *Order) Parties() []string {
	out := make([]string, 0, 1+len(o.VendorIDs))
	out = append(out, o.CustomerID)
	for _, v := range o.VendorIDs {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func (o *Order) HasVendor(vendorID string) bool {
	return slices.Contains(o.VendorIDs, vendorID)
}

// ReservedQuantities sums item quantities per product.
func (o *Order) ReservedQuantities() map[string]int {
	out := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		out[it.ProductID] += it.Qty
	}
	return out
}

// Open puts a freshly built order into pending with its first history entry.
func (o *Order) Open(at time.Time, actorID string) {
	o.Status = StatusPending
	o.CreatedAt = at
	o.UpdatedAt = at
	o.History = nil
	o.appendHistory(StatusPending, at, actorID, "order placed")
}

func (o *Order) appendHistory(status Status, at time.Time, actorID, note string) {
	o.History = append(o.History, HistoryEntry{Status: status, Timestamp: at, ActorID: actorID, Note: note})
}

// Transition validates and applies a status change, stamping the
// lifecycle timestamps. It does not touch stock.
func (o *Order) Transition(to Status, at time.Time, actorID, note string) error {
	if err := ValidateTransition(o.Status, to); err != nil {
		return err
	}
	o.Status = to
	o.UpdatedAt = at
	switch to {
	case StatusDelivered:
		o.CompletedAt = &at
	case StatusCancelled:
		o.CancelledAt = &at
	}
	o.appendHistory(to, at, actorID, note)
	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.VendorIDs = slices.Clone(o.VendorIDs)
	c.Items = slices.Clone(o.Items)
	c.History = slices.Clone(o.History)
	c.Notes = slices.Clone(o.Notes)
	c.Payment.PaidAt = cloneTime(o.Payment.PaidAt)
	c.Payment.RefundedAt = cloneTime(o.Payment.RefundedAt)
	c.Shipping.EstimatedDelivery = cloneTime(o.Shipping.EstimatedDelivery)
	c.Shipping.ActualDelivery = cloneTime(o.Shipping.ActualDelivery)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

package notify

import (
	"fmt"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
)

func data(o *orders.Order) map[string]string {
	return map[string]string{
		"order_id":     o.ID,
		"order_number": o.Number,
		"status":       string(o.Status),
	}
}

func each(recipients []string, build func(string) Notification) []Notification {
	out := make([]Notification, 0, len(recipients))
	for _, r := range recipients {
		if r == "" {
			continue
		}
		out = append(out, build(r))
	}
	return out
}

// OrderCreated goes to the customer and to every vendor once.
func OrderCreated(o *orders.Order) []Notification {
	return each(o.Parties(), func(r string) Notification {
		n := Notification{
			RecipientID: r,
			Category:    CategoryOrderCreated,
			Data:        data(o),
		}
		if r == o.CustomerID {
			n.Title = "Order placed"
			n.Body = fmt.Sprintf("Your order %s has been placed.", o.Number)
		} else {
			n.Title = "New order"
			n.Body = fmt.Sprintf("You have a new order %s.", o.Number)
		}
		return n
	})
}

var statusText = map[orders.Status][2]string{
	orders.StatusConfirmed:  {"Order confirmed", "Your order %s has been confirmed."},
	orders.StatusProcessing: {"Order in preparation", "Your order %s is being prepared."},
	orders.StatusShipped:    {"Order shipped", "Your order %s is on its way."},
	orders.StatusDelivered:  {"Order delivered", "Your order %s has been delivered."},
	orders.StatusCancelled:  {"Order cancelled", "Order %s has been cancelled."},
	orders.StatusRefunded:   {"Order refunded", "Order %s has been refunded."},
}

// StatusChanged goes to the customer; cancellations and refunds also go to
// the vendors.
func StatusChanged(o *orders.Order) []Notification {
	recipients := []string{o.CustomerID}
	if o.Status == orders.StatusCancelled || o.Status == orders.StatusRefunded {
		recipients = o.Parties()
	}
	cat := CategoryStatusChanged
	switch o.Status {
	case orders.StatusCancelled:
		cat = CategoryOrderCancelled
	case orders.StatusDelivered:
		cat = CategoryOrderDelivered
	}
	text, ok := statusText[o.Status]
	if !ok {
		text = [2]string{"Order updated", "Order %s was updated."}
	}
	return each(recipients, func(r string) Notification {
		n := Notification{
			RecipientID: r,
			Category:    cat,
			Title:       text[0],
			Body:        fmt.Sprintf(text[1], o.Number),
			Data:        data(o),
		}
		if o.Status == orders.StatusShipped && o.Shipping.TrackingID != "" {
			n.Data["tracking_id"] = o.Shipping.TrackingID
			n.Data["carrier"] = o.Shipping.Carrier
		}
		return n
	})
}

// PaymentChanged goes to the customer. Refunds also go to the vendors.
func PaymentChanged(o *orders.Order) []Notification {
	recipients := []string{o.CustomerID}
	if o.Payment.Status == orders.PaymentRefunded {
		recipients = o.Parties()
	}
	title := map[orders.PaymentStatus]string{
		orders.PaymentCompleted: "Payment received",
		orders.PaymentFailed:    "Payment failed",
		orders.PaymentRefunded:  "Payment refunded",
		orders.PaymentPending:   "Payment pending",
	}[o.Payment.Status]
	return each(recipients, func(r string) Notification {
		d := data(o)
		d["payment_status"] = string(o.Payment.Status)
		if o.Payment.Status == orders.PaymentRefunded {
			d["refund_amount_cents"] = fmt.Sprint(o.Payment.RefundAmountCents)
		}
		return Notification{
			RecipientID: r,
			Category:    CategoryPaymentUpdated,
			Title:       title,
			Body:        fmt.Sprintf("%s for order %s.", title, o.Number),
			Data:        d,
		}
	})
}

func ShippingChanged(o *orders.Order) []Notification {
	return each([]string{o.CustomerID}, func(r string) Notification {
		d := data(o)
		d["shipping_status"] = string(o.Shipping.Status)
		if o.Shipping.TrackingID != "" {
			d["tracking_id"] = o.Shipping.TrackingID
		}
		return Notification{
			RecipientID: r,
			Category:    CategoryShippingUpdated,
			Title:       "Shipping update",
			Body:        fmt.Sprintf("Order %s: %s.", o.Number, o.Shipping.Status),
			Data:        d,
		}
	})
}

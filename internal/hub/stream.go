package hub

import "context"

// Stream adapts a subscription to a channel. C is closed after Close, or
// when the hub shuts down.
type Stream struct {
	C   <-chan Update
	sub *Subscription
}

func (st *Stream) Close() { st.sub.Close() }
func (st *Stream) Done() <-chan struct{} { return st.sub.Done() }
func (st *Stream) Subscription() *Subscription { return st.sub }

func (h *Hub) SubscribeOrder(ctx context.Context, orderID string) (*Stream, error) {
	return h.stream(ctx, KindOrder, orderID)
}

func (h *Hub) SubscribeCustomerOrders(ctx context.Context, customerID string) (*Stream, error) {
	return h.stream(ctx, KindCustomer, customerID)
}

func (h *Hub) SubscribeVendorOrders(ctx context.Context, vendorID string) (*Stream, error) {
	return h.stream(ctx, KindVendor, vendorID)
}

// stream sends every update on an unbuffered channel. A reader that stops
// reading only stalls its own subscription.
func (h *Hub) stream(ctx context.Context, kind Kind, key string) (*Stream, error) {
	ch := make(chan Update)
	handler := func(ctx context.Context, u Update) error {
		select {
		case ch <- u:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	sub, err := h.subscribe(ctx, kind, key, handler, func() { close(ch) })
	if err != nil {
		return nil, err
	}
	return &Stream{C: ch, sub: sub}, nil
}

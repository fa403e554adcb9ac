package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/hub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const heartbeatEvery = 15 * time.Second

func (h *OrdersHandler) streamOrder(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, h.Hub.SubscribeOrder)
}

func (h *OrdersHandler) streamCustomer(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, h.Hub.SubscribeCustomerOrders)
}

func (h *OrdersHandler) streamVendor(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, h.Hub.SubscribeVendorOrders)
}

// stream writes server-sent events: one "snapshot" event first, then an
// "update" event per change, with comment heartbeats in between.
func (h *OrdersHandler) stream(w http.ResponseWriter, r *http.Request, subscribe func(context.Context, string) (*hub.Stream, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "internal", Message: "streaming unsupported"})
		return
	}
	key := chi.URLParam(r, "id")
	st, err := subscribe(r.Context(), key)
	if err != nil {
		h.fail(w, r, "subscribe", err)
		return
	}
	defer st.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case u, ok := <-st.C:
			if !ok {
				return
			}
			if err := writeEvent(w, u); err != nil {
				h.logger().Debug("stream write failed", zap.String("key", key), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, u hub.Update) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	name := "update"
	if u.Snapshot {
		name = "snapshot"
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
	return err
}

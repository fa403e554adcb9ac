package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/hub"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/lifecycle"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// The authenticating gateway in front of this service sets these headers;
// they are trusted as-is.
const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
	headerIdemKey   = "Idempotency-Key"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type OrdersHandler struct {
	Manager *lifecycle.Manager
	Hub     *hub.Hub
	Logger  *zap.Logger
	Timeout time.Duration // per JSON request; streams are not bounded
}

type statusReq struct {
	Status orders.Status `json:"status"`
	Note   string        `json:"note"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

type noteReq struct {
	Text string `json:"text"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/orders/{id}/status", h.updateStatus)
		r.Post("/orders/{id}/cancel", h.cancelOrder)
		r.Post("/orders/{id}/payment", h.updatePayment)
		r.Post("/orders/{id}/shipping", h.updateShipping)
		r.Post("/orders/{id}/notes", h.addNote)
		r.Get("/products/{id}/stock", h.stock)
		r.Post("/admin/mirror/rebuild", h.rebuildMirror)
	})
	r.Get("/orders/{id}/stream", h.streamOrder)
	r.Get("/customers/{id}/orders/stream", h.streamCustomer)
	r.Get("/vendors/{id}/orders/stream", h.streamVendor)
}

func (h *OrdersHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid_json", err.Error())
		return false
	}
	return true
}

func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(headerActorID)
	if id == "" {
		badRequest(w, "missing_actor", headerActorID+" header is required")
		return "", false
	}
	return id, true
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var in lifecycle.CreateOrderInput
	if !decode(w, r, &in) {
		return
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get(headerIdemKey)
	}
	if in.CustomerID == "" {
		in.CustomerID = actorID
	}

	o, err := h.Manager.CreateOrder(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Manager.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		CustomerID: q.Get("customer_id"),
		VendorID:   q.Get("vendor_id"),
		Status:     orders.Status(q.Get("status")),
		Limit:      defaultListLimit,
	}
	if f.Status != "" && !f.Status.IsValid() {
		badRequest(w, "validation_failed", "unknown status "+string(f.Status))
		return
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				badRequest(w, "validation_failed", name+" must be RFC3339")
				return
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "validation_failed", "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxListLimit)
	}

	list, err := h.Manager.ListOrders(r.Context(), f)
	if err != nil {
		h.fail(w, r, "list orders", err)
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req statusReq
	if !decode(w, r, &req) {
		return
	}
	o, err := h.Manager.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, actorID, req.Note)
	if err != nil {
		h.fail(w, r, "update status", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req cancelReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	o, err := h.Manager.CancelOrder(r.Context(), chi.URLParam(r, "id"), actorID, req.Reason)
	if err != nil {
		h.fail(w, r, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updatePayment(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	var req lifecycle.PaymentUpdate
	if !decode(w, r, &req) {
		return
	}
	o, err := h.Manager.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, "update payment", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateShipping(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	var req lifecycle.ShippingUpdate
	if !decode(w, r, &req) {
		return
	}
	o, err := h.Manager.UpdateShippingStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, "update shipping", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) addNote(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req noteReq
	if !decode(w, r, &req) {
		return
	}
	o, err := h.Manager.AddNote(r.Context(), chi.URLParam(r, "id"), actorID, req.Text)
	if err != nil {
		h.fail(w, r, "add note", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) stock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.Manager.StockLevel(r.Context(), id)
	if err != nil {
		h.fail(w, r, "stock level", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": id, "available": n})
}

func (h *OrdersHandler) rebuildMirror(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	// the rebuild outlives the request timeout
	ctx := context.WithoutCancel(r.Context())
	n, err := h.Manager.RebuildMirror(ctx, store.Filter{})
	if err != nil {
		h.fail(w, r, "rebuild mirror", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rebuilt": n})
}

func (h *OrdersHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger().Warn(op+" failed",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("actor_id", r.Header.Get(headerActorID)),
		zap.String("actor_role", r.Header.Get(headerActorRole)),
		zap.Error(err))
	writeError(w, err)
}

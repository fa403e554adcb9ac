package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/lifecycle"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
)

type errorResp struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`

	ProductID string `json:"product_id,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
	Shortfall int    `json:"shortfall,omitempty"`

	From orders.Status `json:"from,omitempty"`
	To   orders.Status `json:"to,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, code, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Error: code, Message: msg})
}

// writeError maps a domain error to its status code and a machine-readable
// body naming the rule that failed.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResp{Message: err.Error()}
	code := http.StatusInternalServerError

	var (
		ve *lifecycle.ValidationError
		se *orders.InsufficientStockError
		te *orders.InvalidTransitionError
	)
	switch {
	case errors.As(err, &ve):
		code, resp.Error, resp.Fields = http.StatusBadRequest, "validation_failed", ve.Fields
	case errors.Is(err, orders.ErrValidation), errors.Is(err, orders.ErrInvalidQuantity):
		code, resp.Error = http.StatusBadRequest, "validation_failed"
	case errors.As(err, &se):
		code, resp.Error = http.StatusUnprocessableEntity, "insufficient_stock"
		resp.ProductID, resp.Requested, resp.Shortfall = se.ProductID, se.Requested, se.Shortfall()
		resp.Available = &se.Available
	case errors.As(err, &te):
		code, resp.Error, resp.From, resp.To = http.StatusConflict, "invalid_transition", te.From, te.To
	case errors.Is(err, orders.ErrOrderTerminal):
		code, resp.Error = http.StatusConflict, "order_terminal"
	case errors.Is(err, orders.ErrRevisionConflict):
		code, resp.Error = http.StatusConflict, "revision_conflict"
	case errors.Is(err, orders.ErrDuplicateIdempotencyKey):
		code, resp.Error = http.StatusConflict, "duplicate_idempotency_key"
	case errors.Is(err, orders.ErrNotFound):
		code, resp.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, orders.ErrStoreUnavailable):
		code, resp.Error = http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		// the write may still land; clients re-read before retrying
		code, resp.Error = http.StatusGatewayTimeout, "timeout"
	default:
		resp.Error, resp.Message = "internal", "internal error"
	}
	writeJSON(w, code, resp)
}

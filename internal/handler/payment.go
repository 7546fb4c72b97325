package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/payrecon/internal/domain/order"
)

// readBody reads a bounded request body. It reports false after writing a
// 400 response when the body is missing or unreadable.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if len(b) == 0 || jx.DecodeBytes(b).Next() == jx.Null {
		writeError(w, http.StatusBadRequest, "No JSON data provided")
		return nil, false
	}
	return b, true
}

// CreatePayment creates a pending order and returns its transfer instruction.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	b, ok := readBody(w, r)
	if !ok {
		return
	}
	req, err := decodeCreateOrder(b)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	o, err := h.orders.CreateOrder(ctx, req)
	if err != nil {
		if errors.Is(err, order.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "amount must be a positive number")
			return
		}
		zctx.From(ctx).Error("Create order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}
	zctx.From(ctx).Info("Order created",
		zap.String("order_code", o.Code),
		zap.Stringer("amount", o.Amount),
	)

	pi := h.orders.PaymentInstruction(o)
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("order_code", func(e *jx.Encoder) { e.Str(o.Code) })
		e.Field("amount", func(e *jx.Encoder) { encodeAmount(e, o.Amount) })
		e.Field("message", func(e *jx.Encoder) { e.Str("Order created, waiting for bank transfer") })
		e.Field("payment_url", func(e *jx.Encoder) { e.Str(h.paymentURL(pi)) })
		e.Field("qr_data", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("account", func(e *jx.Encoder) { e.Str(pi.AccountNumber) })
				e.Field("bank", func(e *jx.Encoder) { e.Str(pi.BankName) })
				e.Field("amount", func(e *jx.Encoder) { encodeAmount(e, pi.Amount) })
				e.Field("content", func(e *jx.Encoder) { e.Str(pi.Content) })
			})
		})
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}

// GetOrder returns the current state of an order, for status polling.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	o, err := h.orders.GetOrder(ctx, r.PathValue("code"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		zctx.From(ctx).Error("Get order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, e.Bytes())
}

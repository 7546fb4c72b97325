package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/payrecon/internal/domain/order"
	"github.com/xenking/payrecon/internal/domain/reconcile"
)

// Webhook receives a transfer notification from the gateway. Every
// classifiable notification is acknowledged with 200 so the gateway stops
// retrying; the body tells whether an order was settled.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	b, ok := readBody(w, r)
	if !ok {
		return
	}
	n, err := decodeNotification(b)
	if err != nil {
		zctx.From(ctx).Warn("Malformed notification", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid notification: "+err.Error())
		return
	}
	zctx.From(ctx).Info("Notification received",
		zap.Int64("id", n.ID),
		zap.String("gateway", n.Gateway),
		zap.String("reference", n.ReferenceCode),
	)
	h.reconcile(w, r, n)
}

// SimulatePayment settles an order as if the gateway had reported a full
// transfer for it. Only mounted in test deployments.
func (h *Handler) SimulatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	b, ok := readBody(w, r)
	if !ok {
		return
	}
	code, err := decodeOrderCode(b)
	if err != nil || code == "" {
		writeError(w, http.StatusBadRequest, "order_code is required")
		return
	}
	o, err := h.orders.GetOrder(ctx, code)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		zctx.From(ctx).Error("Get order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	pi := h.orders.PaymentInstruction(o)
	now := h.now()
	h.reconcile(w, r, reconcile.Notification{
		ID:              now.Unix(),
		Gateway:         pi.BankName,
		TransactionDate: now,
		AccountNumber:   pi.AccountNumber,
		Content:         pi.Content + " ck mua hang",
		TransferType:    reconcile.TransferIn,
		TransferAmount:  pi.Amount,
		ReferenceCode:   "FT" + strconv.FormatInt(now.Unix(), 10),
	})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request, n reconcile.Notification) {
	ctx := r.Context()
	res, err := h.engine.Handle(ctx, n)
	if err != nil {
		if errors.Is(err, reconcile.ErrInvalidNotification) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		zctx.From(ctx).Error("Reconcile notification", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process notification")
		return
	}

	success, msg := outcomeReply(res.Outcome)
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(success) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		if res.OrderCode != "" {
			e.Field("order_code", func(e *jx.Encoder) { e.Str(res.OrderCode) })
		}
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}

func outcomeReply(o reconcile.Outcome) (bool, string) {
	switch o {
	case reconcile.OutcomeMatched:
		return true, "Payment updated successfully"
	case reconcile.OutcomeAlreadyPaid:
		return true, "Order already paid"
	case reconcile.OutcomeInsufficientAmount:
		return false, "Insufficient amount"
	default:
		return false, "Order not found"
	}
}

// Package handler exposes order creation, status polling and the gateway
// webhook over HTTP.
package handler

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/payrecon/internal/domain/order"
	"github.com/xenking/payrecon/internal/domain/reconcile"
)

// Route paths.
const (
	PathCreatePayment    = "/api/payment/create"
	PathWebhook          = "/api/sepay/webhook"
	PathOrder            = "/api/order/{code}"
	PathSimulatePayment  = "/api/test/simulate-payment"
	defaultQRTemplate    = "compact"
	maxRequestBodyBytes  = 1 << 20
	transactionDateShape = "2006-01-02 15:04:05"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// QRBaseURL is the image endpoint payment QR links are built on,
	// e.g. https://qr.sepay.vn/img. Empty disables payment_url.
	QRBaseURL  string
	QRTemplate string
	// EnableSimulator mounts the simulate-payment test endpoint.
	EnableSimulator bool
}

// Handler serves the HTTP API, delegating to the order service and the
// reconciliation engine.
type Handler struct {
	orders *order.Service
	engine *reconcile.Engine
	cfg    HandlerConfig
	now    func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig, orders *order.Service, engine *reconcile.Engine) *Handler {
	if cfg.QRTemplate == "" {
		cfg.QRTemplate = defaultQRTemplate
	}
	return &Handler{
		orders: orders,
		engine: engine,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Home)
	mux.HandleFunc("POST "+PathCreatePayment, h.CreatePayment)
	mux.HandleFunc("POST "+PathWebhook, h.Webhook)
	mux.HandleFunc("GET "+PathOrder, h.GetOrder)
	if h.cfg.EnableSimulator {
		mux.HandleFunc("POST "+PathSimulatePayment, h.SimulatePayment)
	}
}

// Home reports that the service is up.
func (h *Handler) Home(w http.ResponseWriter, _ *http.Request) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str("online") })
		e.Field("message", func(e *jx.Encoder) { e.Str("Payment reconciliation API is running") })
		e.Field("timestamp", func(e *jx.Encoder) { e.Str(h.now().Format(time.RFC3339)) })
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}

// paymentURL builds the QR image link for an instruction. The link format
// belongs to the gateway, so it is only assembled here at the edge.
func (h *Handler) paymentURL(pi order.PaymentInstruction) string {
	if h.cfg.QRBaseURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("acc", pi.AccountNumber)
	q.Set("bank", pi.BankName)
	q.Set("amount", pi.Amount.String())
	q.Set("des", pi.Content)
	q.Set("template", h.cfg.QRTemplate)
	return h.cfg.QRBaseURL + "?" + q.Encode()
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(w, status, e.Bytes())
}

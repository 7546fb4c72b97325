// Package reconcile matches gateway transfer notifications to pending orders
// and settles them.
package reconcile

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/payrecon/internal/domain/order"
)

// MissingReference is recorded as the transaction reference when the
// gateway sends none.
const MissingReference = "N/A"

// ErrInvalidNotification is returned for payloads that cannot be classified.
var ErrInvalidNotification = errors.New("invalid notification")

// Outcome classifies how a notification was applied. Every outcome is a
// successful handling: the webhook must be acknowledged in all cases.
type Outcome string

const (
	// OutcomeMatched means the order moved from pending to paid.
	OutcomeMatched Outcome = "matched"
	// OutcomeAlreadyPaid means the order was paid before; nothing changed.
	OutcomeAlreadyPaid Outcome = "already_paid"
	// OutcomeInsufficientAmount means the transfer was below the order amount.
	OutcomeInsufficientAmount Outcome = "insufficient_amount"
	// OutcomeNoMatch means no stored order code occurs in the description.
	OutcomeNoMatch Outcome = "no_match"
)

// Result is the outcome of handling one notification.
type Result struct {
	Outcome Outcome
	// OrderCode is empty for OutcomeNoMatch.
	OrderCode string
	// Order is the order state after handling, nil for OutcomeNoMatch.
	Order *order.Order
}

// Engine reconciles notifications against an order.Store.
type Engine struct {
	store order.Store
	now   func() time.Time

	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithTracerProvider sets the tracer provider; the global one is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *engineOptions) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider; the global one is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *engineOptions) { o.meterProvider = mp }
}

const instrumentationName = "github.com/xenking/payrecon/internal/domain/reconcile"

// NewEngine creates an Engine over store.
func NewEngine(store order.Store, opts ...Option) (*Engine, error) {
	o := engineOptions{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	outcomes, err := o.meterProvider.Meter(instrumentationName).Int64Counter(
		"reconcile.notifications",
		metric.WithDescription("Gateway notifications handled, by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create outcome counter")
	}

	return &Engine{
		store:    store,
		now:      time.Now,
		tracer:   o.tracerProvider.Tracer(instrumentationName),
		outcomes: outcomes,
	}, nil
}

// Handle matches n to an order and applies the pending -> paid transition
// when the transferred amount covers the order. Redelivery of the same
// notification yields OutcomeAlreadyPaid and changes nothing.
func (e *Engine) Handle(ctx context.Context, n Notification) (_ Result, rerr error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.Handle",
		trace.WithAttributes(
			attribute.String("notification.reference", n.ReferenceCode),
			attribute.String("notification.transfer_type", n.TransferType),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	res, err := e.handle(ctx, n)
	if err != nil {
		return Result{}, err
	}

	span.SetAttributes(
		attribute.String("reconcile.outcome", string(res.Outcome)),
		attribute.String("order.code", res.OrderCode),
	)
	e.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	e.log(ctx, n, res)
	return res, nil
}

func (e *Engine) handle(ctx context.Context, n Notification) (Result, error) {
	if n.TransferAmount.IsNegative() {
		return Result{}, errors.Wrapf(ErrInvalidNotification, "negative transfer amount %s", n.TransferAmount)
	}
	if n.TransferType == TransferOut {
		return Result{Outcome: OutcomeNoMatch}, nil
	}

	candidates, err := e.store.FindCandidates(ctx, n.haystack())
	if err != nil {
		return Result{}, errors.Wrap(err, "find candidates")
	}
	best := longestMatch(candidates)
	if best == nil {
		return Result{Outcome: OutcomeNoMatch}, nil
	}

	res := Result{OrderCode: best.Code, Order: best}
	if best.IsPaid() {
		res.Outcome = OutcomeAlreadyPaid
		return res, nil
	}
	if n.TransferAmount.LessThan(best.Amount) {
		res.Outcome = OutcomeInsufficientAmount
		return res, nil
	}

	ref := n.ReferenceCode
	if ref == "" {
		ref = MissingReference
	}
	updated, err := e.store.MarkPaid(ctx, best.Code, e.now(), ref)
	if err != nil {
		return Result{}, errors.Wrapf(err, "mark order %s paid", best.Code)
	}

	// Re-read so the result reflects whichever transition actually won.
	current, err := e.store.Get(ctx, best.Code)
	if err != nil {
		return Result{}, errors.Wrapf(err, "get order %s", best.Code)
	}
	res.Order = current
	if updated {
		res.Outcome = OutcomeMatched
	} else {
		res.Outcome = OutcomeAlreadyPaid
	}
	return res, nil
}

// longestMatch picks the candidate with the longest code, so a short code
// that happens to sit inside a longer one never wins. Ties keep the first.
func longestMatch(candidates []order.Order) *order.Order {
	var best *order.Order
	for i := range candidates {
		if best == nil || len(candidates[i].Code) > len(best.Code) {
			best = &candidates[i]
		}
	}
	return best
}

func (e *Engine) log(ctx context.Context, n Notification, res Result) {
	lg := zctx.From(ctx).With(
		zap.String("outcome", string(res.Outcome)),
		zap.String("reference", n.ReferenceCode),
		zap.Stringer("transfer_amount", n.TransferAmount),
	)
	switch res.Outcome {
	case OutcomeMatched:
		lg.Info("Order paid", zap.String("order_code", res.OrderCode))
	case OutcomeAlreadyPaid:
		lg.Info("Order already paid", zap.String("order_code", res.OrderCode))
	case OutcomeInsufficientAmount:
		lg.Warn("Insufficient transfer amount",
			zap.String("order_code", res.OrderCode),
			zap.Stringer("order_amount", res.Order.Amount),
		)
	case OutcomeNoMatch:
		// Transfer text is typed by the customer and may carry personal data.
		lg.Warn("No order matches transfer")
		lg.Debug("Unmatched transfer content", zap.String("content", n.haystack()))
	}
}

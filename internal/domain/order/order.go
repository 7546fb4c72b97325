package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Status is the payment state of an order.
type Status string

const (
	// StatusPending means the order is waiting for a bank transfer.
	StatusPending Status = "pending"
	// StatusPaid is terminal: a sufficient transfer was reconciled.
	StatusPaid Status = "paid"
)

// PaymentMethodBankTransfer is the only payment method orders are created with.
const PaymentMethodBankTransfer = "bank_transfer"

// Defaults applied when the merchant omits optional fields.
const (
	DefaultCustomerName = "Khách lẻ"
	DefaultKingdom      = "Default Kingdom"
)

var (
	// ErrInvalidAmount is returned when an order amount is missing, not
	// positive, fractional or too large.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNotFound is returned when no order exists for the given code.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateOrderCode is returned by a Store when the code is already taken.
	ErrDuplicateOrderCode = errors.New("duplicate order code")
)

// maxAmountDigits bounds amounts, in the smallest currency unit, to 18
// integer digits.
const maxAmountDigits = 18

var maxAmount = decimal.New(1, maxAmountDigits)

// IsWholeAmount reports whether v is an integer with at most 18 digits.
// Amounts are counted in the smallest currency unit, so fractions never occur.
func IsWholeAmount(v decimal.Decimal) bool {
	// Bound the exponent before Truncate: rescaling a tiny exponent is costly.
	if exp := v.Exponent(); exp < -maxAmountDigits || exp > maxAmountDigits {
		return false
	}
	if !v.Equal(v.Truncate(0)) {
		return false
	}
	return v.Abs().LessThan(maxAmount)
}

// Order is a payment order awaiting (or settled by) a bank transfer.
type Order struct {
	Code         string
	CustomerName string
	Kingdom      string
	// Details holds merchant line items as raw JSON values, in the order given.
	Details       []jx.Raw
	Amount        decimal.Decimal
	Status        Status
	PaymentMethod string
	CreatedAt     time.Time

	// PaidAt and TransactionRef are set only by the pending -> paid transition.
	PaidAt         *time.Time
	TransactionRef string
}

// IsPaid reports whether the order reached the terminal paid state.
func (o *Order) IsPaid() bool {
	return o.Status == StatusPaid
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (o *Order) Clone() *Order {
	c := *o
	if o.Details != nil {
		c.Details = make([]jx.Raw, len(o.Details))
		for i, d := range o.Details {
			c.Details[i] = append(jx.Raw(nil), d...)
		}
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// Store owns order records keyed by order code. Implementations must make
// every method atomic with respect to the others.
type Store interface {
	// Create inserts a new order, failing with ErrDuplicateOrderCode if the
	// code is already present.
	Create(ctx context.Context, o *Order) error
	// Get returns a copy of the order or ErrNotFound.
	Get(ctx context.Context, code string) (*Order, error)
	// FindCandidates returns every order whose code is a substring of text,
	// in the store's iteration order.
	FindCandidates(ctx context.Context, text string) ([]Order, error)
	// MarkPaid moves a pending order to paid. It reports false without error
	// when the order was already paid, and ErrNotFound for unknown codes.
	MarkPaid(ctx context.Context, code string, paidAt time.Time, transactionRef string) (bool, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// CreateOrderRequest holds the input for creating an order.
type CreateOrderRequest struct {
	CustomerName string
	Kingdom      string
	Details      []jx.Raw
	Amount       decimal.Decimal
	// CreatedAt defaults to the current time when zero.
	CreatedAt time.Time
}

// PaymentInstruction tells the customer where to send the transfer and what
// to write in its description.
type PaymentInstruction struct {
	AccountNumber string
	BankName      string
	Amount        decimal.Decimal
	Content       string
}

// ServiceConfig holds the receiving bank account orders are paid into.
type ServiceConfig struct {
	BankAccount string
	BankName    string
}

// Service encapsulates order creation and lookup.
type Service struct {
	store Store
	codes *CodeGenerator
	cfg   ServiceConfig
	now   func() time.Time
}

// NewService creates an order Service.
func NewService(store Store, codes *CodeGenerator, cfg ServiceConfig) *Service {
	return &Service{
		store: store,
		codes: codes,
		cfg:   cfg,
		now:   time.Now,
	}
}

// CreateOrder validates the request, assigns a fresh order code and stores
// the order as pending. A code collision in the store is retried with the
// generator's next code until a free one is found or ctx is done; an
// existing order is never overwritten.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if !req.Amount.IsPositive() || !IsWholeAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}

	now := s.now()
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	details := req.Details
	if details == nil {
		details = []jx.Raw{}
	}

	o := &Order{
		CustomerName:  req.CustomerName,
		Kingdom:       req.Kingdom,
		Details:       details,
		Amount:        req.Amount,
		Status:        StatusPending,
		PaymentMethod: PaymentMethodBankTransfer,
		CreatedAt:     createdAt,
	}
	if o.CustomerName == "" {
		o.CustomerName = DefaultCustomerName
	}
	if o.Kingdom == "" {
		o.Kingdom = DefaultKingdom
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "create order")
		}
		o.Code = s.codes.Next(now)
		err := s.store.Create(ctx, o)
		if err == nil {
			return o.Clone(), nil
		}
		if !errors.Is(err, ErrDuplicateOrderCode) {
			return nil, errors.Wrap(err, "create order")
		}
	}
}

// GetOrder returns the order for code, or ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, code string) (*Order, error) {
	o, err := s.store.Get(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// PaymentInstruction builds the transfer instruction for o. The order code
// is the transfer description the reconciliation engine later matches on.
func (s *Service) PaymentInstruction(o *Order) PaymentInstruction {
	return PaymentInstruction{
		AccountNumber: s.cfg.BankAccount,
		BankName:      s.cfg.BankName,
		Amount:        o.Amount,
		Content:       o.Code,
	}
}

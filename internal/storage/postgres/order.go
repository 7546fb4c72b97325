package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/payrecon/internal/domain/order"
)

const uniqueViolation = "23505"

const (
	orderColumns = `order_code, customer_name, kingdom, order_details, amount,
	status, payment_method, created_at, paid_at, transaction_ref`

	createOrderSQL = `INSERT INTO orders (order_code, customer_name, kingdom,
	order_details, amount, status, payment_method, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_code = $1`

	// Full scan: the text is matched against every stored code.
	findCandidatesSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE strpos($1, order_code) > 0 ORDER BY seq`

	markPaidSQL = `UPDATE orders SET status = 'paid', paid_at = $2, transaction_ref = $3
	WHERE order_code = $1 AND status = 'pending'`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE order_code = $1)`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts o. The primary key makes the uniqueness check atomic.
func (s *OrderStore) Create(ctx context.Context, o *order.Order) error {
	_, err := s.pool.Exec(ctx, createOrderSQL,
		o.Code, o.CustomerName, o.Kingdom, encodeDetails(o.Details), o.Amount,
		string(o.Status), o.PaymentMethod, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return order.ErrDuplicateOrderCode
		}
		return errors.Wrapf(err, "insert order %q", o.Code)
	}
	return nil
}

// Get returns the order stored under code.
func (s *OrderStore) Get(ctx context.Context, code string) (*order.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, getOrderSQL, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "select order %q", code)
	}
	return o, nil
}

// FindCandidates returns orders whose code occurs in text, in insertion order.
func (s *OrderStore) FindCandidates(ctx context.Context, text string) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, findCandidatesSQL, text)
	if err != nil {
		return nil, errors.Wrap(err, "query candidates")
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan candidate")
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate candidates")
	}
	return out, nil
}

// MarkPaid applies the pending -> paid transition in a single conditional
// UPDATE, so concurrent deliveries cannot both win.
func (s *OrderStore) MarkPaid(ctx context.Context, code string, paidAt time.Time, transactionRef string) (bool, error) {
	tag, err := s.pool.Exec(ctx, markPaidSQL, code, paidAt, transactionRef)
	if err != nil {
		return false, errors.Wrapf(err, "update order %q", code)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, orderExistsSQL, code).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "check order %q", code)
	}
	if !exists {
		return false, order.ErrNotFound
	}
	return false, nil
}

// Ping checks database connectivity.
func (s *OrderStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o       order.Order
		status  string
		details []byte
	)
	if err := row.Scan(
		&o.Code, &o.CustomerName, &o.Kingdom, &details, &o.Amount,
		&status, &o.PaymentMethod, &o.CreatedAt, &o.PaidAt, &o.TransactionRef,
	); err != nil {
		return nil, err
	}
	o.Status = order.Status(status)

	d, err := decodeDetails(details)
	if err != nil {
		return nil, errors.Wrapf(err, "decode details of %q", o.Code)
	}
	o.Details = d
	return &o, nil
}

// encodeDetails renders line items as a JSON array for the JSONB column.
func encodeDetails(details []jx.Raw) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, d := range details {
		e.Raw(d)
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeDetails(b []byte) ([]jx.Raw, error) {
	out := []jx.Raw{}
	if len(b) == 0 {
		return out, nil
	}
	err := jx.DecodeBytes(b).Arr(func(d *jx.Decoder) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		out = append(out, append(jx.Raw(nil), raw...))
		return nil
	})
	return out, err
}

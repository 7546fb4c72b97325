//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/payrecon/internal/domain/order"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "payrecon",
				"POSTGRES_PASSWORD": "payrecon",
				"POSTGRES_DB":       "payrecon",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://payrecon:payrecon@%s:%s/payrecon?sslmode=disable", host, port.Port())
	pool, err := NewPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Schema must be re-runnable on every start.
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func testOrder(code string, amount int64) *order.Order {
	return &order.Order{
		Code:          code,
		CustomerName:  "Khách lẻ",
		Kingdom:       "Default Kingdom",
		Details:       []jx.Raw{jx.Raw(`{"name":"sword","qty":2}`), jx.Raw(`"note"`)},
		Amount:        decimal.NewFromInt(amount),
		Status:        order.StatusPending,
		PaymentMethod: order.PaymentMethodBankTransfer,
		CreatedAt:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestOrderStore(t *testing.T) {
	pool := newTestPool(t)
	s := NewOrderStore(pool)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	t.Run("CreateAndGet", func(t *testing.T) {
		in := testOrder("DH1700000000", 50000)
		require.NoError(t, s.Create(ctx, in))

		got, err := s.Get(ctx, "DH1700000000")
		require.NoError(t, err)
		assert.Equal(t, in.Code, got.Code)
		assert.Equal(t, in.CustomerName, got.CustomerName)
		assert.True(t, in.Amount.Equal(got.Amount))
		assert.Equal(t, order.StatusPending, got.Status)
		assert.True(t, in.CreatedAt.Equal(got.CreatedAt))
		assert.Nil(t, got.PaidAt)
		require.Len(t, got.Details, 2)
		assert.JSONEq(t, `{"name":"sword","qty":2}`, string(got.Details[0]))
		assert.JSONEq(t, `"note"`, string(got.Details[1]))
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := s.Create(ctx, testOrder("DH1700000000", 1))
		require.ErrorIs(t, err, order.ErrDuplicateOrderCode)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.Get(ctx, "DH0000000000")
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("FindCandidates", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, testOrder("DH1", 10)))
		require.NoError(t, s.Create(ctx, testOrder("DH12", 10)))

		got, err := s.FindCandidates(ctx, "ck DH12 mua hang")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "DH1", got[0].Code)
		assert.Equal(t, "DH12", got[1].Code)

		got, err = s.FindCandidates(ctx, "nothing here")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("MarkPaid", func(t *testing.T) {
		paidAt := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
		updated, err := s.MarkPaid(ctx, "DH1700000000", paidAt, "FT1")
		require.NoError(t, err)
		assert.True(t, updated)

		updated, err = s.MarkPaid(ctx, "DH1700000000", paidAt.Add(time.Hour), "FT2")
		require.NoError(t, err)
		assert.False(t, updated)

		got, err := s.Get(ctx, "DH1700000000")
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, got.Status)
		require.NotNil(t, got.PaidAt)
		assert.True(t, paidAt.Equal(*got.PaidAt))
		assert.Equal(t, "FT1", got.TransactionRef)

		_, err = s.MarkPaid(ctx, "DH9", paidAt, "FT3")
		require.ErrorIs(t, err, order.ErrNotFound)
	})
}

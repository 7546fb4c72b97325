package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/payrecon/internal/domain/order"
)

func newPending(code string, amount int64) *order.Order {
	return &order.Order{
		Code:          code,
		CustomerName:  "Alice",
		Kingdom:       "North",
		Details:       []jx.Raw{jx.Raw(`{"sku":"a"}`)},
		Amount:        decimal.NewFromInt(amount),
		Status:        order.StatusPending,
		PaymentMethod: order.PaymentMethodBankTransfer,
		CreatedAt:     time.Unix(1700000000, 0),
	}
}

func TestCreate_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()

	require.NoError(t, s.Create(ctx, newPending("DH1", 100)))
	err := s.Create(ctx, newPending("DH1", 200))
	require.ErrorIs(t, err, order.ErrDuplicateOrderCode)

	got, err := s.Get(ctx, "DH1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(got.Amount), "existing order must not be overwritten")
}

func TestGet_NotFound(t *testing.T) {
	_, err := NewOrderStore().Get(context.Background(), "DH404")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestGet_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	in := newPending("DH1", 100)
	require.NoError(t, s.Create(ctx, in))

	in.Status = order.StatusPaid
	got, err := s.Get(ctx, "DH1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)

	got.Details[0][2] = 'X'
	again, err := s.Get(ctx, "DH1")
	require.NoError(t, err)
	assert.Equal(t, `{"sku":"a"}`, string(again.Details[0]))
}

func TestFindCandidates(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	for _, code := range []string{"DH12", "DH1", "DH7"} {
		require.NoError(t, s.Create(ctx, newPending(code, 1)))
	}

	got, err := s.FindCandidates(ctx, "transfer DH12 thanks")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "DH12", got[0].Code)
	assert.Equal(t, "DH1", got[1].Code)

	got, err = s.FindCandidates(ctx, "unrelated")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.FindCandidates(ctx, "dh7 lowercase")
	require.NoError(t, err)
	assert.Empty(t, got, "matching is case-sensitive")
}

func TestMarkPaid(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	require.NoError(t, s.Create(ctx, newPending("DH1", 100)))

	paidAt := time.Unix(1700000100, 0)
	updated, err := s.MarkPaid(ctx, "DH1", paidAt, "FT1")
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = s.MarkPaid(ctx, "DH1", paidAt.Add(time.Hour), "FT2")
	require.NoError(t, err)
	assert.False(t, updated)

	got, err := s.Get(ctx, "DH1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.True(t, paidAt.Equal(*got.PaidAt))
	assert.Equal(t, "FT1", got.TransactionRef)

	_, err = s.MarkPaid(ctx, "DH2", paidAt, "FT3")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestMarkPaid_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	require.NoError(t, s.Create(ctx, newPending("DH1", 100)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkPaid(ctx, "DH1", time.Now(), fmt.Sprintf("FT%d", i))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return svc, store
}

func TestAdjust_NeverNegative(t *testing.T) {
	svc, store := newMemoryService(t)
	ctx := context.Background()

	_, err := svc.AddCoins(ctx, "u1", 100, "admin.grant", nil)
	require.NoError(t, err)

	e, err := svc.DeductCoins(ctx, "u1", 40, "shop.purchase", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 60, e.Balance)

	_, err = svc.DeductCoins(ctx, "u1", 61, "shop.purchase", nil)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	bal, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 60, bal)
	assert.Len(t, store.Ledger("u1"), 2)

	_, err = svc.AddCoins(ctx, "u1", 0, "noop", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.AddCoins(ctx, "u1", 5, "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeduct_ConcurrentDoesNotOverdraw(t *testing.T) {
	svc, _ := newMemoryService(t)
	ctx := context.Background()
	_, err := svc.AddCoins(ctx, "u1", 10, "admin.grant", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.DeductCoins(ctx, "u1", 1, "tip", nil); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, ok)
}

func TestMarket_Lifecycle(t *testing.T) {
	svc, _ := newMemoryService(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "carol"} {
		_, err := svc.AddCoins(ctx, u, 100, "admin.grant", nil)
		require.NoError(t, err)
	}

	m, err := svc.CreateMarket(ctx, CreateMarketInput{Title: "Will it ship?", Options: []string{"yes", "no"}, CreatedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, MarketOpen, m.Status)

	_, err = svc.PlaceStake(ctx, m.ID, "alice", "yes", 30)
	require.NoError(t, err)
	_, err = svc.PlaceStake(ctx, m.ID, "bob", "yes", 20)
	require.NoError(t, err)
	_, err = svc.PlaceStake(ctx, m.ID, "carol", "no", 51)
	require.NoError(t, err)

	_, err = svc.PlaceStake(ctx, m.ID, "carol", "maybe", 1)
	assert.ErrorIs(t, err, ErrUnknownOption)
	_, err = svc.PlaceStake(ctx, m.ID, "bob", "no", 81)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	settled, p, err := svc.Settle(ctx, m.ID, "yes")
	require.NoError(t, err)
	assert.Equal(t, MarketSettled, settled.Status)
	assert.EqualValues(t, 101, settled.Pot)
	// 101*30/50 = 60 (60.6), 101*20/50 = 40 (40.4): one coin of dust.
	assert.EqualValues(t, 1, settled.Dust)
	assert.EqualValues(t, 1, p.Dust)

	bal := func(u string) int64 {
		b, err := svc.Balance(ctx, u)
		require.NoError(t, err)
		return b
	}
	assert.EqualValues(t, 70+60, bal("alice"))
	assert.EqualValues(t, 80+40, bal("bob"))
	assert.EqualValues(t, 49, bal("carol"))

	_, _, err = svc.Settle(ctx, m.ID, "no")
	assert.ErrorIs(t, err, ErrMarketClosed)
	_, err = svc.PlaceStake(ctx, m.ID, "alice", "yes", 1)
	assert.ErrorIs(t, err, ErrMarketClosed)
}

func TestMarket_RefundWhenNoWinners(t *testing.T) {
	svc, _ := newMemoryService(t)
	ctx := context.Background()
	_, err := svc.AddCoins(ctx, "alice", 10, "admin.grant", nil)
	require.NoError(t, err)

	m, err := svc.CreateMarket(ctx, CreateMarketInput{Title: "Color", Options: []string{"red", "blue", "green"}, CreatedBy: "admin"})
	require.NoError(t, err)
	_, err = svc.PlaceStake(ctx, m.ID, "alice", "red", 10)
	require.NoError(t, err)

	_, p, err := svc.Settle(ctx, m.ID, "green")
	require.NoError(t, err)
	assert.True(t, p.Refunded)

	b, err := svc.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 10, b)
}

func TestCreateMarket_Validation(t *testing.T) {
	svc, _ := newMemoryService(t)
	ctx := context.Background()

	bad := []CreateMarketInput{
		{Title: "", Options: []string{"a", "b"}, CreatedBy: "admin"},
		{Title: "x", Options: []string{"a"}, CreatedBy: "admin"},
		{Title: "x", Options: []string{"a", "a"}, CreatedBy: "admin"},
		{Title: "x", Options: []string{"a", " "}, CreatedBy: "admin"},
		{Title: "x", Options: []string{"a", "b"}},
	}
	for _, in := range bad {
		_, err := svc.CreateMarket(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput, "%+v", in)
	}

	_, err := svc.GetMarket(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

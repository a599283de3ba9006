package wallet_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/lock"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/ledger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/store/memory"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

type fakeCache struct {
	mu          sync.Mutex
	values      map[string]string
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (c *fakeCache) CacheWalletBalance(_ context.Context, key, balance string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = balance
	return nil
}

func (c *fakeCache) GetCachedWalletBalance(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *fakeCache) InvalidateWalletBalance(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	c.invalidated = append(c.invalidated, key)
	return nil
}

type fixture struct {
	store  *memory.Store
	svc    *wallet.Service
	writer *ledger.Writer
	cache  *fakeCache
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New("test")
	store := memory.New()
	f := &fixture{store: store, cache: newFakeCache(), now: time.Now().UTC()}

	f.svc = wallet.NewService(store.Wallets(), store.Ledger(), lock.NewKeyedMutex(), f.cache,
		config.WalletConfig{ReservationTTL: time.Minute}, nil, log)
	f.svc.SetClock(func() time.Time { return f.now })
	f.writer = ledger.NewWriter(store.Ledger(), f.svc, nil, log)
	return f
}

func (f *fixture) userWallet(t *testing.T, owner string, deposit int64) wallet.Ref {
	t.Helper()
	ctx := context.Background()
	w, err := f.svc.CreateWallet(ctx, &wallet.CreateWalletRequest{Kind: wallet.KindUser, OwnerID: owner})
	require.NoError(t, err)
	if deposit > 0 {
		_, err = f.writer.Deposit(ctx, w.Ref(), &ledger.DepositRequest{Amount: decimal.NewFromInt(deposit)}, "admin")
		require.NoError(t, err)
	}
	return w.Ref()
}

func TestServiceCreateWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.CreateWallet(ctx, &wallet.CreateWalletRequest{Kind: wallet.KindUser, OwnerID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", user.ID)
	assert.Equal(t, wallet.StatusActive, user.Status)
	assert.True(t, user.Balance.IsZero())

	custom, err := f.svc.CreateWallet(ctx, &wallet.CreateWalletRequest{Kind: wallet.KindCustom, Name: "  Operator  "})
	require.NoError(t, err)
	assert.NotEmpty(t, custom.ID)
	assert.Equal(t, "Operator", custom.Name)

	_, err = f.svc.CreateWallet(ctx, &wallet.CreateWalletRequest{Kind: wallet.KindUser, OwnerID: "agent-1"})
	assert.True(t, errors.Is(err, wallet.ErrWalletExists))

	_, err = f.svc.CreateWallet(ctx, &wallet.CreateWalletRequest{Kind: "shared", Name: "x"})
	assert.ErrorContains(t, err, "validation failed")
}

func TestServiceReserveDebitChecksAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.userWallet(t, "agent-1", 50)

	first, err := f.svc.Reserve(ctx, ref, wallet.Debit, decimal.NewFromInt(30))
	require.NoError(t, err)

	// the first hold leaves 20 available
	_, err = f.svc.Reserve(ctx, ref, wallet.Debit, decimal.NewFromInt(30))
	assert.True(t, errors.Is(err, wallet.ErrInsufficientFunds))

	w, err := f.svc.GetWallet(ctx, ref)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(50)))
	assert.True(t, w.Available().Equal(decimal.NewFromInt(20)))

	require.NoError(t, f.svc.Release(ctx, first))
	_, err = f.svc.Reserve(ctx, ref, wallet.Debit, decimal.NewFromInt(30))
	assert.NoError(t, err)

	_, err = f.svc.Reserve(ctx, ref, wallet.Debit, decimal.Zero)
	assert.True(t, errors.Is(err, wallet.ErrInvalidAmount))
}

func TestServiceReserveAllowsNegativeBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.svc.CreateWallet(ctx, &wallet.CreateWalletRequest{Kind: wallet.KindCustom, Name: "Credit line", AllowNegativeBalance: true})
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, w.Ref(), wallet.Debit, decimal.NewFromInt(100))
	assert.NoError(t, err)
}

func TestServiceReserveCreditRespectsMaxFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, err := f.svc.CreateWallet(ctx, &wallet.CreateWalletRequest{
		Kind:    wallet.KindCustom,
		Name:    "Capped",
		MaxFill: decimal.NewNullDecimal(decimal.NewFromInt(100)),
	})
	require.NoError(t, err)

	_, err = f.writer.Deposit(ctx, w.Ref(), &ledger.DepositRequest{Amount: decimal.NewFromInt(80)}, "admin")
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, w.Ref(), wallet.Credit, decimal.NewFromInt(20))
	require.NoError(t, err)

	// pending credits count against the cap
	_, err = f.svc.Reserve(ctx, w.Ref(), wallet.Credit, decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, wallet.ErrLimitExceeded))
}

type fixedSpending decimal.Decimal

func (s fixedSpending) SpentSince(context.Context, wallet.Ref, time.Time) (decimal.Decimal, error) {
	return decimal.Decimal(s), nil
}

func TestServiceReserveDailySpendingLimit(t *testing.T) {
	log := logger.New("test")
	store := memory.New()
	svc := wallet.NewService(store.Wallets(), fixedSpending(decimal.NewFromInt(70)), lock.NewKeyedMutex(), nil,
		config.WalletConfig{}, nil, log)
	ctx := context.Background()

	w, err := svc.CreateWallet(ctx, &wallet.CreateWalletRequest{
		Kind:                 wallet.KindUser,
		OwnerID:              "agent-2",
		AllowNegativeBalance: true,
		DailySpendingLimit:   decimal.NewNullDecimal(decimal.NewFromInt(100)),
	})
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, w.Ref(), wallet.Debit, decimal.NewFromInt(30))
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, w.Ref(), wallet.Debit, decimal.RequireFromString("0.01"))
	assert.True(t, errors.Is(err, wallet.ErrLimitExceeded))
}

func TestServiceReserveRejectsInactiveWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.userWallet(t, "agent-3", 10)

	_, err := f.svc.UpdateStatus(ctx, ref, &wallet.UpdateStatusRequest{Status: wallet.StatusSuspended})
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, ref, wallet.Debit, decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, wallet.ErrWalletInactive))

	_, err = f.svc.UpdateStatus(ctx, ref, &wallet.UpdateStatusRequest{Status: "frozen"})
	assert.ErrorContains(t, err, "validation failed")

	require.NoError(t, f.svc.DeleteWallet(ctx, ref))
	_, err = f.svc.Reserve(ctx, ref, wallet.Credit, decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, wallet.ErrWalletInactive))
}

func TestServiceCommitAfterExpiryFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.userWallet(t, "agent-4", 10)

	res, err := f.svc.Reserve(ctx, ref, wallet.Debit, decimal.NewFromInt(5))
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Minute)
	applied := false
	err = f.svc.Commit(ctx, res, func(*wallet.Wallet) error {
		applied = true
		return nil
	})
	assert.True(t, errors.Is(err, wallet.ErrReservationNotFound))
	assert.False(t, applied)
}

func TestServiceCommitRefusesDebitBeyondBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.userWallet(t, "agent-5", 50)

	res, err := f.svc.Reserve(ctx, ref, wallet.Debit, decimal.NewFromInt(30))
	require.NoError(t, err)

	// a write that bypassed the reservation leaves 10 behind
	require.NoError(t, f.store.Ledger().AppendTransaction(ctx, &ledger.Transaction{
		ID:            "tx-side",
		Wallet:        ref,
		Type:          ledger.TypeAdjustment,
		AmountType:    wallet.Debit,
		Amount:        decimal.NewFromInt(40),
		BalanceBefore: decimal.NewFromInt(50),
		BalanceAfter:  decimal.NewFromInt(10),
		Status:        ledger.StatusCompleted,
		CreatedAt:     f.now,
	}))

	applied := false
	err = f.svc.Commit(ctx, res, func(*wallet.Wallet) error {
		applied = true
		return nil
	})
	assert.True(t, errors.Is(err, wallet.ErrInsufficientFunds))
	assert.False(t, applied)

	w, err := f.svc.GetWallet(ctx, ref)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(10)))
	require.NoError(t, f.svc.Release(ctx, res))
}

func TestServiceSweepStaleReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.userWallet(t, "agent-5", 10)
	b := f.userWallet(t, "agent-6", 10)

	_, err := f.svc.Reserve(ctx, a, wallet.Debit, decimal.NewFromInt(5))
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, b, wallet.Debit, decimal.NewFromInt(5))
	require.NoError(t, err)

	n, err := f.svc.SweepStaleReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.now = f.now.Add(time.Hour)
	n, err = f.svc.SweepStaleReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	w, err := f.svc.GetWallet(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, w.Reservations)
	assert.True(t, w.Available().Equal(decimal.NewFromInt(10)))
}

func TestServiceGetBalanceUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := f.userWallet(t, "agent-8", 25)

	first, err := f.svc.GetBalance(ctx, ref)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.True(t, first.Balance.Equal(decimal.NewFromInt(25)))

	second, err := f.svc.GetBalance(ctx, ref)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.True(t, second.Balance.Equal(decimal.NewFromInt(25)))

	// a ledger write drops the cached value
	_, err = f.writer.Deposit(ctx, ref, &ledger.DepositRequest{Amount: decimal.NewFromInt(5)}, "admin")
	require.NoError(t, err)
	assert.Contains(t, f.cache.invalidated, ref.String())

	third, err := f.svc.GetBalance(ctx, ref)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.True(t, third.Balance.Equal(decimal.NewFromInt(30)))
}

func TestServiceListWalletsByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.userWallet(t, "agent-9", 0)

	wallets, err := f.svc.ListWalletsByOwner(ctx, "agent-9")
	require.NoError(t, err)
	assert.Len(t, wallets, 1)

	_, err = f.svc.ListWalletsByOwner(ctx, "")
	assert.Error(t, err)
}

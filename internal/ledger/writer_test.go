package ledger_test

import (
	"context"
	"errors"
	"testing"

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

var (
	payer    = wallet.UserRef("agent-1")
	operator = wallet.CustomRef("C")
	capped   = wallet.CustomRef("capped")
)

func newWriter(t *testing.T) (*ledger.Writer, *wallet.Service) {
	t.Helper()
	log := logger.New("test")
	store := memory.New()
	wallets := wallet.NewService(store.Wallets(), store.Ledger(), lock.NewKeyedMutex(), nil, config.WalletConfig{}, nil, log)
	writer := ledger.NewWriter(store.Ledger(), wallets, nil, log)

	ctx := context.Background()
	for _, req := range []*wallet.CreateWalletRequest{
		{Kind: wallet.KindUser, OwnerID: "agent-1"},
		{Kind: wallet.KindCustom, ID: "C", Name: "Operator"},
		{Kind: wallet.KindCustom, ID: "capped", Name: "Capped", MaxFill: decimal.NewNullDecimal(decimal.NewFromInt(10))},
	} {
		_, err := wallets.CreateWallet(ctx, req)
		require.NoError(t, err)
	}
	_, err := writer.Deposit(ctx, payer, &ledger.DepositRequest{Amount: decimal.NewFromInt(100)}, "admin")
	require.NoError(t, err)
	return writer, wallets
}

func balanceOf(t *testing.T, wallets *wallet.Service, ref wallet.Ref) decimal.Decimal {
	t.Helper()
	w, err := wallets.GetWallet(context.Background(), ref)
	require.NoError(t, err)
	return w.Balance
}

func assertReconciled(t *testing.T, writer *ledger.Writer, refs ...wallet.Ref) {
	t.Helper()
	for _, ref := range refs {
		result, err := writer.Reconcile(context.Background(), ref)
		require.NoError(t, err)
		assert.True(t, result.Consistent, "%s: balance %s ledger %s", ref, result.Balance, result.LedgerSum)
	}
}

func TestApplyDistributionWritesAllEntries(t *testing.T) {
	writer, wallets := newWriter(t)
	ctx := context.Background()

	ids, err := writer.ApplyDistribution(ctx, "ba-1", "agent-1", []ledger.Entry{
		{Wallet: payer, AmountType: wallet.Debit, Amount: decimal.NewFromInt(30), Type: ledger.TypePayment},
		{Wallet: operator, AmountType: wallet.Credit, Amount: decimal.NewFromInt(20), Type: ledger.TypeDistribution},
		{Wallet: payer, AmountType: wallet.Credit, Amount: decimal.NewFromInt(10), Type: ledger.TypeDistribution},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	assert.True(t, balanceOf(t, wallets, payer).Equal(decimal.NewFromInt(80)))
	assert.True(t, balanceOf(t, wallets, operator).Equal(decimal.NewFromInt(20)))

	txns, err := writer.ListTransactionsByActivation(ctx, "ba-1")
	require.NoError(t, err)
	require.Len(t, txns, 3)
	for _, txn := range txns {
		assert.Equal(t, ledger.StatusCompleted, txn.Status)
		assert.Equal(t, "ba-1", txn.BillingActivationID)
		assert.True(t, txn.BalanceAfter.Sub(txn.BalanceBefore).Equal(txn.Signed()))
	}
	assertReconciled(t, writer, payer, operator)

	_, err = writer.ApplyDistribution(ctx, "ba-2", "agent-1", nil)
	assert.True(t, errors.Is(err, ledger.ErrEmptyDistribution))
}

func TestApplyDistributionIsAllOrNothing(t *testing.T) {
	writer, wallets := newWriter(t)
	ctx := context.Background()

	// the cap on the last wallet fails the whole distribution before any write
	_, err := writer.ApplyDistribution(ctx, "ba-1", "agent-1", []ledger.Entry{
		{Wallet: payer, AmountType: wallet.Debit, Amount: decimal.NewFromInt(30), Type: ledger.TypePayment},
		{Wallet: operator, AmountType: wallet.Credit, Amount: decimal.NewFromInt(10), Type: ledger.TypeDistribution},
		{Wallet: capped, AmountType: wallet.Credit, Amount: decimal.NewFromInt(20), Type: ledger.TypeDistribution},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, wallet.ErrLimitExceeded))

	txns, err := writer.ListTransactionsByActivation(ctx, "ba-1")
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.True(t, balanceOf(t, wallets, payer).Equal(decimal.NewFromInt(100)))

	w, err := wallets.GetWallet(ctx, payer)
	require.NoError(t, err)
	assert.Empty(t, w.Reservations)

	_, err = writer.ApplyDistribution(ctx, "ba-2", "agent-1", []ledger.Entry{
		{Wallet: payer, AmountType: wallet.Debit, Amount: decimal.NewFromInt(500), Type: ledger.TypePayment},
	})
	assert.True(t, errors.Is(err, wallet.ErrInsufficientFunds))
}

func TestReverseActivationRestoresBalances(t *testing.T) {
	writer, wallets := newWriter(t)
	ctx := context.Background()

	_, err := writer.ApplyDistribution(ctx, "ba-1", "agent-1", []ledger.Entry{
		{Wallet: payer, AmountType: wallet.Debit, Amount: decimal.NewFromInt(30), Type: ledger.TypePayment},
		{Wallet: operator, AmountType: wallet.Credit, Amount: decimal.NewFromInt(30), Type: ledger.TypeDistribution},
	})
	require.NoError(t, err)

	reversed, err := writer.ReverseActivation(ctx, "ba-1", "ba-rev", "cancelled", "admin")
	require.NoError(t, err)
	assert.Len(t, reversed, 2)

	assert.True(t, balanceOf(t, wallets, payer).Equal(decimal.NewFromInt(100)))
	assert.True(t, balanceOf(t, wallets, operator).IsZero())

	originals, err := writer.ListTransactionsByActivation(ctx, "ba-1")
	require.NoError(t, err)
	for _, txn := range originals {
		assert.Equal(t, ledger.StatusReversed, txn.Status)
	}

	linked, err := writer.ListTransactionsByActivation(ctx, "ba-rev")
	require.NoError(t, err)
	require.Len(t, linked, 2)
	for _, txn := range linked {
		assert.Equal(t, ledger.TypeReversal, txn.Type)
		assert.NotEmpty(t, txn.RelatedTransactionID)
	}

	// a second pass finds nothing left to reverse
	reversed, err = writer.ReverseActivation(ctx, "ba-1", "ba-rev", "cancelled", "admin")
	require.NoError(t, err)
	assert.Empty(t, reversed)
	assertReconciled(t, writer, payer, operator)
}

func TestReverseRefusesNegativeBalance(t *testing.T) {
	writer, wallets := newWriter(t)
	ctx := context.Background()

	_, err := writer.ApplyDistribution(ctx, "ba-1", "agent-1", []ledger.Entry{
		{Wallet: payer, AmountType: wallet.Debit, Amount: decimal.NewFromInt(50), Type: ledger.TypePayment},
		{Wallet: operator, AmountType: wallet.Credit, Amount: decimal.NewFromInt(50), Type: ledger.TypeDistribution},
	})
	require.NoError(t, err)

	// the operator spends the credit elsewhere
	_, err = writer.ApplyDistribution(ctx, "ba-2", "admin", []ledger.Entry{
		{Wallet: operator, AmountType: wallet.Debit, Amount: decimal.NewFromInt(40), Type: ledger.TypeAdjustment},
	})
	require.NoError(t, err)

	reversed, err := writer.ReverseActivation(ctx, "ba-1", "", "late cancel", "admin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, wallet.ErrInsufficientFunds))
	// the payer's refund still goes through
	assert.Len(t, reversed, 1)
	assert.True(t, balanceOf(t, wallets, payer).Equal(decimal.NewFromInt(100)))
	assert.True(t, balanceOf(t, wallets, operator).Equal(decimal.NewFromInt(10)))
	assertReconciled(t, writer, payer, operator)
}

func TestReverseRespectsReservedDebits(t *testing.T) {
	writer, wallets := newWriter(t)
	ctx := context.Background()

	txns, err := writer.ListTransactions(ctx, payer, 0, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	deposit := txns[0]

	// an activation holds 60 of the 100 deposited
	res, err := wallets.Reserve(ctx, payer, wallet.Debit, decimal.NewFromInt(60))
	require.NoError(t, err)

	_, err = writer.Reverse(ctx, deposit.ID, "chargeback", "admin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, wallet.ErrInsufficientFunds))
	assert.ErrorContains(t, err, "60.00 reserved")
	assert.True(t, balanceOf(t, wallets, payer).Equal(decimal.NewFromInt(100)))

	// releasing the hold makes the reversal possible again
	require.NoError(t, wallets.Release(ctx, res))
	_, err = writer.Reverse(ctx, deposit.ID, "chargeback", "admin")
	require.NoError(t, err)
	assert.True(t, balanceOf(t, wallets, payer).IsZero())
	assertReconciled(t, writer, payer)
}

func TestReverseSingleTransaction(t *testing.T) {
	writer, wallets := newWriter(t)
	ctx := context.Background()

	dep, err := writer.Deposit(ctx, operator, &ledger.DepositRequest{Amount: decimal.NewFromInt(5), Description: "top up"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "top up", dep.Description)

	rev, err := writer.Reverse(ctx, dep.ID, "mistake", "admin")
	require.NoError(t, err)
	assert.Equal(t, wallet.Debit, rev.AmountType)
	assert.Contains(t, rev.Description, "mistake")
	assert.True(t, balanceOf(t, wallets, operator).IsZero())

	_, err = writer.Reverse(ctx, dep.ID, "", "admin")
	assert.True(t, errors.Is(err, ledger.ErrNotReversible))
	_, err = writer.Reverse(ctx, rev.ID, "", "admin")
	assert.True(t, errors.Is(err, ledger.ErrNotReversible))
	_, err = writer.Reverse(ctx, "missing", "", "admin")
	assert.True(t, errors.Is(err, ledger.ErrTransactionNotFound))

	_, err = writer.Deposit(ctx, operator, &ledger.DepositRequest{Amount: decimal.NewFromInt(-1)}, "admin")
	assert.ErrorContains(t, err, "validation failed")

	history, err := writer.ListHistory(ctx, operator, 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

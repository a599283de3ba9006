package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/metrics"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

// Wallets is the part of the wallet store the writer drives.
type Wallets interface {
	Reserve(ctx context.Context, ref wallet.Ref, amountType wallet.AmountType, amount decimal.Decimal) (*wallet.Reservation, error)
	Commit(ctx context.Context, res *wallet.Reservation, apply func(w *wallet.Wallet) error) error
	Release(ctx context.Context, res *wallet.Reservation) error
	Locked(ctx context.Context, ref wallet.Ref, fn func(w *wallet.Wallet) error) error
	Invalidate(ctx context.Context, ref wallet.Ref)
	GetWallet(ctx context.Context, ref wallet.Ref) (*wallet.Wallet, error)
}

type Writer struct {
	repo    Repository
	wallets Wallets
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time
}

func NewWriter(repo Repository, wallets Wallets, m *metrics.Metrics, log *logger.Logger) *Writer {
	return &Writer{
		repo:    repo,
		wallets: wallets,
		metrics: m,
		logger:  log,
		now:     time.Now,
	}
}

// ApplyDistribution writes every entry for an activation or none of them.
// Funds and limits are reserved up front; a failure while writing reverses
// what was already written, newest first.
func (w *Writer) ApplyDistribution(ctx context.Context, activationID, createdBy string, entries []Entry) ([]string, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyDistribution
	}

	reservations := make([]*wallet.Reservation, 0, len(entries))
	releaseFrom := func(i int) {
		for _, res := range reservations[i:] {
			if err := w.wallets.Release(ctx, res); err != nil {
				w.logger.Warnf("Failed to release reservation %s on %s: %v", res.Token, res.Wallet, err)
			}
		}
	}

	for _, e := range entries {
		res, err := w.wallets.Reserve(ctx, e.Wallet, e.AmountType, e.Amount)
		if err != nil {
			releaseFrom(0)
			return nil, fmt.Errorf("reserve %s %s on %s: %w", e.AmountType, e.Amount.StringFixed(2), e.Wallet, err)
		}
		reservations = append(reservations, res)
	}

	written := make([]string, 0, len(entries))
	for i, e := range entries {
		t, err := w.commitEntry(ctx, reservations[i], activationID, createdBy, e)
		if err != nil {
			releaseFrom(i)
			if rbErr := w.unwind(ctx, written, createdBy); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return nil, fmt.Errorf("write %s on %s: %w", e.Type, e.Wallet, err)
		}
		written = append(written, t.ID)
	}

	w.logger.Infof("Applied %d ledger entries for activation %s", len(written), activationID)
	return written, nil
}

func (w *Writer) commitEntry(ctx context.Context, res *wallet.Reservation, activationID, createdBy string, e Entry) (*Transaction, error) {
	var t *Transaction
	err := w.wallets.Commit(ctx, res, func(wl *wallet.Wallet) error {
		t = w.newTransaction(wl, e.Type, e.AmountType, e.Amount)
		t.BillingActivationID = activationID
		t.Description = e.Description
		t.CreatedBy = createdBy
		return w.repo.AppendTransaction(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	w.metrics.LedgerEntry(string(t.Type), string(t.AmountType))
	return t, nil
}

func (w *Writer) unwind(ctx context.Context, ids []string, createdBy string) error {
	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		if _, err := w.Reverse(ctx, ids[i], "distribution aborted", createdBy); err != nil {
			errs = append(errs, fmt.Errorf("reverse %s: %w", ids[i], err))
		}
	}
	return errors.Join(errs...)
}

func (w *Writer) newTransaction(wl *wallet.Wallet, txType TxType, amountType wallet.AmountType, amount decimal.Decimal) *Transaction {
	after := wl.Balance.Add(amount)
	if amountType == wallet.Debit {
		after = wl.Balance.Sub(amount)
	}
	now := w.now().UTC()
	return &Transaction{
		ID:            uuid.NewString(),
		Type:          txType,
		AmountType:    amountType,
		Amount:        amount,
		Status:        StatusCompleted,
		Wallet:        wl.Ref(),
		BalanceBefore: wl.Balance,
		BalanceAfter:  after,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Reverse writes the opposite entry for a completed transaction and marks
// both reversed. A reversal that would take a wallet below zero is refused
// unless the wallet allows a negative balance.
func (w *Writer) Reverse(ctx context.Context, txID, reason, createdBy string) (*Transaction, error) {
	return w.reverse(ctx, txID, reason, createdBy, "")
}

func (w *Writer) reverse(ctx context.Context, txID, reason, createdBy, linkTo string) (*Transaction, error) {
	original, err := w.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if original.Status != StatusCompleted || original.Type == TypeReversal || original.IsDeleted {
		return nil, fmt.Errorf("%w: %s is %s %s", ErrNotReversible, txID, original.Status, original.Type)
	}

	var rev *Transaction
	err = w.wallets.Locked(ctx, original.Wallet, func(wl *wallet.Wallet) error {
		amountType := original.AmountType.Opposite()
		rev = w.newTransaction(wl, TypeReversal, amountType, original.Amount)
		// Reserved debits are spoken for, so only the available balance can be reversed.
		if amountType == wallet.Debit && !wl.AllowNegativeBalance && wl.Available().LessThan(original.Amount) {
			return fmt.Errorf("%w: reversing %s needs %s but %s has %s available (%s reserved)",
				wallet.ErrInsufficientFunds, txID, original.Amount.StringFixed(2), wl.Ref(),
				wl.Available().StringFixed(2), wl.ReservedDebits().StringFixed(2))
		}

		rev.Status = StatusReversed
		rev.RelatedTransactionID = original.ID
		rev.BillingActivationID = original.BillingActivationID
		if linkTo != "" {
			rev.BillingActivationID = linkTo
		}
		rev.CreatedBy = createdBy
		rev.Description = fmt.Sprintf("Reversal of %s", original.ID)
		if reason != "" {
			rev.Description += ": " + reason
		}
		return w.repo.AppendReversal(ctx, rev, original.ID)
	})
	if err != nil {
		return nil, err
	}

	w.wallets.Invalidate(ctx, original.Wallet)
	w.metrics.LedgerReversal()
	w.logger.Infof("Transaction %s reversed by %s on %s", original.ID, rev.ID, rev.Wallet)
	return rev, nil
}

// ReverseActivation reverses every completed entry of an activation, newest
// first. Reversal rows are linked to linkTo when it is set. Entries that
// cannot be reversed are reported but do not stop the others.
func (w *Writer) ReverseActivation(ctx context.Context, activationID, linkTo, reason, createdBy string) ([]string, error) {
	txns, err := w.repo.ListTransactionsByActivation(ctx, activationID)
	if err != nil {
		return nil, err
	}

	var (
		reversed []string
		errs     []error
	)
	for i := len(txns) - 1; i >= 0; i-- {
		t := txns[i]
		if t.Status != StatusCompleted || t.Type == TypeReversal {
			continue
		}
		rev, err := w.reverse(ctx, t.ID, reason, createdBy, linkTo)
		if err != nil {
			errs = append(errs, fmt.Errorf("reverse %s: %w", t.ID, err))
			continue
		}
		reversed = append(reversed, rev.ID)
	}

	if len(errs) > 0 {
		w.logger.Errorf("Activation %s: %d of %d entries could not be reversed", activationID, len(errs), len(errs)+len(reversed))
	}
	return reversed, errors.Join(errs...)
}

// Deposit tops a wallet up. Max-fill applies as for any credit.
func (w *Writer) Deposit(ctx context.Context, ref wallet.Ref, req *DepositRequest, createdBy string) (*Transaction, error) {
	if err := wallet.ValidateAmount(req.Amount); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	res, err := w.wallets.Reserve(ctx, ref, wallet.Credit, req.Amount)
	if err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = "Deposit"
	}
	t, err := w.commitEntry(ctx, res, "", createdBy, Entry{
		Wallet:      ref,
		AmountType:  wallet.Credit,
		Amount:      req.Amount,
		Type:        TypeDeposit,
		Description: description,
	})
	if err != nil {
		if relErr := w.wallets.Release(ctx, res); relErr != nil {
			w.logger.Warnf("Failed to release reservation %s: %v", res.Token, relErr)
		}
		return nil, err
	}

	w.logger.Infof("Deposit %s to %s (txn %s)", req.Amount.StringFixed(2), ref, t.ID)
	return t, nil
}

// Reconcile compares the stored balance with the sum of completed entries.
func (w *Writer) Reconcile(ctx context.Context, ref wallet.Ref) (*ReconcileResult, error) {
	var result *ReconcileResult
	err := w.wallets.Locked(ctx, ref, func(wl *wallet.Wallet) error {
		sum, err := w.repo.SumSigned(ctx, ref)
		if err != nil {
			return err
		}
		result = &ReconcileResult{
			Wallet:     ref.String(),
			Balance:    wl.Balance,
			LedgerSum:  sum,
			Consistent: wl.Balance.Equal(sum),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Consistent {
		w.logger.Errorf("Balance drift on %s: balance %s, ledger %s", ref, result.Balance, result.LedgerSum)
	}
	return result, nil
}

func (w *Writer) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return w.repo.GetTransaction(ctx, id)
}

func (w *Writer) ListTransactionsByActivation(ctx context.Context, activationID string) ([]Transaction, error) {
	return w.repo.ListTransactionsByActivation(ctx, activationID)
}

func (w *Writer) ListTransactions(ctx context.Context, ref wallet.Ref, limit, offset int) ([]Transaction, error) {
	return w.repo.ListTransactionsByWallet(ctx, ref, clampLimit(limit), offset)
}

func (w *Writer) ListHistory(ctx context.Context, ref wallet.Ref, limit, offset int) ([]WalletHistory, error) {
	return w.repo.ListWalletHistory(ctx, ref, clampLimit(limit), offset)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

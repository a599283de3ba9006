package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/ledger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

type WalletRepository struct{ s *Store }

func cloneWallet(w *wallet.Wallet) *wallet.Wallet {
	c := *w
	c.Reservations = append([]wallet.Reservation(nil), w.Reservations...)
	c.DeletedAt = copyTime(w.DeletedAt)
	return &c
}

func (r *WalletRepository) CreateWallet(_ context.Context, w *wallet.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ref := w.Ref()
	if _, exists := r.s.wallets[ref]; exists {
		return fmt.Errorf("%w: %s", wallet.ErrWalletExists, ref)
	}
	now := r.s.timestamp()
	w.CreatedAt, w.UpdatedAt = now, now
	r.s.wallets[ref] = cloneWallet(w)
	return nil
}

func (r *WalletRepository) GetWallet(_ context.Context, ref wallet.Ref) (*wallet.Wallet, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	w, ok := r.s.wallets[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, ref)
	}
	return cloneWallet(w), nil
}

func (r *WalletRepository) ListWalletsByOwner(_ context.Context, ownerID string) ([]wallet.Wallet, error) {
	return r.list(func(w *wallet.Wallet) bool { return w.OwnerID == ownerID && !w.IsDeleted }), nil
}

func (r *WalletRepository) ListWalletsWithReservations(_ context.Context) ([]wallet.Wallet, error) {
	return r.list(func(w *wallet.Wallet) bool { return len(w.Reservations) > 0 }), nil
}

func (r *WalletRepository) list(match func(w *wallet.Wallet) bool) []wallet.Wallet {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []wallet.Wallet
	for _, w := range r.s.wallets {
		if match(w) {
			out = append(out, *cloneWallet(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *WalletRepository) SaveReservations(_ context.Context, ref wallet.Ref, reservations []wallet.Reservation) error {
	return r.update(ref, false, func(w *wallet.Wallet) {
		w.Reservations = append([]wallet.Reservation(nil), reservations...)
	})
}

func (r *WalletRepository) UpdateWalletStatus(_ context.Context, ref wallet.Ref, status wallet.Status) error {
	return r.update(ref, true, func(w *wallet.Wallet) {
		w.Status = status
		w.UpdatedAt = r.s.timestamp()
	})
}

func (r *WalletRepository) SoftDeleteWallet(_ context.Context, ref wallet.Ref) error {
	return r.update(ref, true, func(w *wallet.Wallet) {
		now := r.s.timestamp()
		w.IsDeleted = true
		w.DeletedAt = &now
		w.Status = wallet.StatusDisabled
		w.UpdatedAt = now
	})
}

func (r *WalletRepository) update(ref wallet.Ref, liveOnly bool, fn func(w *wallet.Wallet)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[ref]
	if !ok || (liveOnly && w.IsDeleted) {
		return fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, ref)
	}
	fn(w)
	return nil
}

type LedgerRepository struct{ s *Store }

func cloneTransaction(t *ledger.Transaction) ledger.Transaction {
	c := *t
	c.DeletedAt = copyTime(t.DeletedAt)
	return c
}

// moveBalance is the compare-and-set the Postgres store does on the wallet
// row. Callers hold the store lock.
func (s *Store) moveBalance(t *ledger.Transaction) error {
	w, ok := s.wallets[t.Wallet]
	if !ok || !w.Balance.Equal(t.BalanceBefore) {
		return fmt.Errorf("%w: %s", ledger.ErrBalanceMismatch, t.Wallet)
	}
	w.Balance = t.BalanceAfter
	w.UpdatedAt = s.timestamp()
	return nil
}

func (s *Store) appendTransaction(t *ledger.Transaction) {
	c := cloneTransaction(t)
	s.transactions = append(s.transactions, &c)
	s.txIndex[c.ID] = &c
	s.walletLog = append(s.walletLog, c.History(uuid.NewString()))
}

func (r *LedgerRepository) AppendTransaction(_ context.Context, t *ledger.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.moveBalance(t); err != nil {
		return err
	}
	r.s.appendTransaction(t)
	return nil
}

func (r *LedgerRepository) AppendReversal(_ context.Context, rev *ledger.Transaction, originalID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	original, ok := r.s.txIndex[originalID]
	if !ok || original.Status != ledger.StatusCompleted || original.Type == ledger.TypeReversal || original.IsDeleted {
		return fmt.Errorf("%w: %s", ledger.ErrNotReversible, originalID)
	}
	if err := r.s.moveBalance(rev); err != nil {
		return err
	}
	original.Status = ledger.StatusReversed
	original.UpdatedAt = r.s.timestamp()
	r.s.appendTransaction(rev)
	return nil
}

func (r *LedgerRepository) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.txIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrTransactionNotFound, id)
	}
	c := cloneTransaction(t)
	return &c, nil
}

func (r *LedgerRepository) ListTransactionsByActivation(_ context.Context, activationID string) ([]ledger.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []ledger.Transaction
	for _, t := range r.s.transactions {
		if t.BillingActivationID == activationID && !t.IsDeleted {
			out = append(out, cloneTransaction(t))
		}
	}
	return out, nil
}

func (r *LedgerRepository) ListTransactionsByWallet(_ context.Context, ref wallet.Ref, limit, offset int) ([]ledger.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []ledger.Transaction
	for i := len(r.s.transactions) - 1; i >= 0; i-- {
		t := r.s.transactions[i]
		if t.Wallet == ref && !t.IsDeleted {
			out = append(out, cloneTransaction(t))
		}
	}
	return page(out, limit, offset), nil
}

func (r *LedgerRepository) ListWalletHistory(_ context.Context, ref wallet.Ref, limit, offset int) ([]ledger.WalletHistory, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []ledger.WalletHistory
	for i := len(r.s.walletLog) - 1; i >= 0; i-- {
		if h := r.s.walletLog[i]; h.Wallet == ref {
			out = append(out, h)
		}
	}
	return page(out, limit, offset), nil
}

func (r *LedgerRepository) SumSigned(_ context.Context, ref wallet.Ref) (decimal.Decimal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sum := decimal.Zero
	for _, t := range r.s.transactions {
		if t.Wallet == ref && t.Status == ledger.StatusCompleted && !t.IsDeleted {
			sum = sum.Add(t.Signed())
		}
	}
	return sum, nil
}

func (r *LedgerRepository) SpentSince(_ context.Context, ref wallet.Ref, since time.Time) (decimal.Decimal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sum := decimal.Zero
	for _, t := range r.s.transactions {
		if t.Wallet == ref && t.AmountType == wallet.Debit && t.Status == ledger.StatusCompleted &&
			!t.IsDeleted && !t.CreatedAt.Before(since) {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

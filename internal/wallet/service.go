package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/metrics"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletExists        = errors.New("wallet already exists")
	ErrWalletInactive      = errors.New("wallet is not active")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrLimitExceeded       = errors.New("wallet limit exceeded")
	ErrReservationNotFound = errors.New("reservation not found or expired")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
)

// Locker serializes work per key. redis.Locker and lock.KeyedMutex both
// satisfy it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// SpendingTracker reports completed debits since a point in time.
type SpendingTracker interface {
	SpentSince(ctx context.Context, ref Ref, since time.Time) (decimal.Decimal, error)
}

// BalanceCache holds display balances. It is never consulted for
// reservation decisions.
type BalanceCache interface {
	CacheWalletBalance(ctx context.Context, walletKey, balance string, ttl time.Duration) error
	GetCachedWalletBalance(ctx context.Context, walletKey string) (string, error)
	InvalidateWalletBalance(ctx context.Context, walletKey string) error
}

func LockKey(ref Ref) string {
	return "wallet:" + ref.String()
}

type Service struct {
	repo           Repository
	spending       SpendingTracker
	locker         Locker
	cache          BalanceCache
	reservationTTL time.Duration
	cacheTTL       time.Duration
	metrics        *metrics.Metrics
	logger         *logger.Logger
	now            func() time.Time
}

func NewService(repo Repository, spending SpendingTracker, locker Locker, cache BalanceCache, cfg config.WalletConfig, m *metrics.Metrics, log *logger.Logger) *Service {
	ttl := cfg.ReservationTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	cacheTTL := cfg.BalanceCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Service{
		repo:           repo,
		spending:       spending,
		locker:         locker,
		cache:          cache,
		reservationTTL: ttl,
		cacheTTL:       cacheTTL,
		metrics:        m,
		logger:         log,
		now:            time.Now,
	}
}

// SetClock replaces the time source. Tests use it to expire reservations.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateWallet creates a custom or user wallet with a zero balance.
func (s *Service) CreateWallet(ctx context.Context, req *CreateWalletRequest) (*Wallet, error) {
	if err := ValidateCreateWalletRequest(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	w := &Wallet{
		ID:                   req.ID,
		Kind:                 req.Kind,
		OwnerID:              req.OwnerID,
		Name:                 req.Name,
		Balance:              decimal.Zero,
		MaxFill:              req.MaxFill,
		DailySpendingLimit:   req.DailySpendingLimit,
		AllowNegativeBalance: req.AllowNegativeBalance,
		Status:               StatusActive,
	}
	if w.Kind == KindUser {
		w.ID = req.OwnerID
	} else if w.ID == "" {
		w.ID = uuid.NewString()
	}

	if err := s.repo.CreateWallet(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Infof("Wallet created: %s", w.Ref())
	return w, nil
}

// GetWallet returns the authoritative wallet row.
func (s *Service) GetWallet(ctx context.Context, ref Ref) (*Wallet, error) {
	return s.repo.GetWallet(ctx, ref)
}

func (s *Service) ListWalletsByOwner(ctx context.Context, ownerID string) ([]Wallet, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	return s.repo.ListWalletsByOwner(ctx, ownerID)
}

// GetBalance is a display read and may be answered from the cache.
func (s *Service) GetBalance(ctx context.Context, ref Ref) (*BalanceResponse, error) {
	if s.cache != nil {
		cached, err := s.cache.GetCachedWalletBalance(ctx, ref.String())
		if err == nil && cached != "" {
			if balance, err := decimal.NewFromString(cached); err == nil {
				return &BalanceResponse{Wallet: ref.String(), Balance: balance, Cached: true}, nil
			}
		}
	}

	w, err := s.repo.GetWallet(ctx, ref)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheWalletBalance(ctx, ref.String(), w.Balance.StringFixed(4), s.cacheTTL); err != nil {
			s.logger.Warnf("Failed to cache balance: %v", err)
		}
	}

	return &BalanceResponse{Wallet: ref.String(), Balance: w.Balance, Available: w.Available()}, nil
}

func (s *Service) UpdateStatus(ctx context.Context, ref Ref, req *UpdateStatusRequest) (*Wallet, error) {
	if !req.Status.Valid() {
		return nil, fmt.Errorf("validation failed: invalid status %q", req.Status)
	}
	if err := s.repo.UpdateWalletStatus(ctx, ref, req.Status); err != nil {
		return nil, err
	}
	s.logger.Infof("Wallet %s status set to %s", ref, req.Status)
	return s.repo.GetWallet(ctx, ref)
}

func (s *Service) DeleteWallet(ctx context.Context, ref Ref) error {
	if err := s.repo.SoftDeleteWallet(ctx, ref); err != nil {
		return err
	}
	s.invalidate(ctx, ref)
	s.logger.Infof("Wallet %s soft-deleted", ref)
	return nil
}

// Reserve holds amount on the wallet after checking funds and limits
// against the lock-guarded authoritative row.
func (s *Service) Reserve(ctx context.Context, ref Ref, amountType AmountType, amount decimal.Decimal) (*Reservation, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var res *Reservation
	err := s.Locked(ctx, ref, func(w *Wallet) error {
		now := s.now()
		w.dropExpired(now)

		if w.IsDeleted || w.Status != StatusActive {
			return fmt.Errorf("%w: %s is %s", ErrWalletInactive, ref, w.Status)
		}

		switch amountType {
		case Debit:
			if !w.AllowNegativeBalance && w.Available().LessThan(amount) {
				return fmt.Errorf("%w: %s has %s available, needs %s",
					ErrInsufficientFunds, ref, w.Available().StringFixed(2), amount.StringFixed(2))
			}
			if w.DailySpendingLimit.Valid {
				spent, err := s.spentToday(ctx, ref, now)
				if err != nil {
					return err
				}
				if spent.Add(w.ReservedDebits()).Add(amount).GreaterThan(w.DailySpendingLimit.Decimal) {
					return fmt.Errorf("%w: daily spending limit %s on %s",
						ErrLimitExceeded, w.DailySpendingLimit.Decimal.StringFixed(2), ref)
				}
			}
		case Credit:
			if w.MaxFill.Valid && w.Balance.Add(w.ReservedCredits()).Add(amount).GreaterThan(w.MaxFill.Decimal) {
				return fmt.Errorf("%w: max fill %s on %s",
					ErrLimitExceeded, w.MaxFill.Decimal.StringFixed(2), ref)
			}
		default:
			return fmt.Errorf("invalid amount type %q", amountType)
		}

		res = &Reservation{
			Token:      uuid.NewString(),
			Wallet:     ref,
			AmountType: amountType,
			Amount:     amount,
			ExpiresAt:  now.Add(s.reservationTTL),
			CreatedAt:  now,
		}
		w.Reservations = append(w.Reservations, *res)
		return s.repo.SaveReservations(ctx, ref, w.Reservations)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Commit runs apply against the authoritative wallet while holding the
// wallet lock, then clears the reservation. apply must persist any balance
// change itself.
func (s *Service) Commit(ctx context.Context, res *Reservation, apply func(w *Wallet) error) error {
	return s.Locked(ctx, res.Wallet, func(w *Wallet) error {
		idx := w.reservationIndex(res.Token)
		if idx < 0 || !w.Reservations[idx].ExpiresAt.After(s.now()) {
			return fmt.Errorf("%w: %s on %s", ErrReservationNotFound, res.Token, res.Wallet)
		}
		// The balance may have dropped since Reserve, e.g. through a reversal.
		r := w.Reservations[idx]
		if r.AmountType == Debit && !w.AllowNegativeBalance && w.Balance.LessThan(r.Amount) {
			return fmt.Errorf("%w: committing %s on %s would leave it negative (balance %s)",
				ErrInsufficientFunds, r.Amount, res.Wallet, w.Balance)
		}

		if err := apply(w); err != nil {
			return err
		}

		// the balance moved, so drop the token from a fresh read
		fresh, err := s.repo.GetWallet(ctx, res.Wallet)
		if err != nil {
			return err
		}
		if i := fresh.reservationIndex(res.Token); i >= 0 {
			fresh.Reservations = append(fresh.Reservations[:i], fresh.Reservations[i+1:]...)
			if err := s.repo.SaveReservations(ctx, res.Wallet, fresh.Reservations); err != nil {
				s.logger.Warnf("Committed %s but failed to clear reservation: %v", res.Token, err)
			}
		}
		s.invalidate(ctx, res.Wallet)
		return nil
	})
}

// Release drops a reservation. Releasing an unknown token is not an error.
func (s *Service) Release(ctx context.Context, res *Reservation) error {
	return s.Locked(ctx, res.Wallet, func(w *Wallet) error {
		idx := w.reservationIndex(res.Token)
		if idx < 0 {
			return nil
		}
		w.Reservations = append(w.Reservations[:idx], w.Reservations[idx+1:]...)
		return s.repo.SaveReservations(ctx, res.Wallet, w.Reservations)
	})
}

// Locked loads the wallet under its lock and runs fn. It is the only way
// ledger code mutates a balance.
func (s *Service) Locked(ctx context.Context, ref Ref, fn func(w *Wallet) error) error {
	unlock, err := s.locker.Lock(ctx, LockKey(ref))
	if err != nil {
		return err
	}
	defer unlock()

	w, err := s.repo.GetWallet(ctx, ref)
	if err != nil {
		return err
	}
	return fn(w)
}

// Invalidate drops the cached display balance after a ledger write.
func (s *Service) Invalidate(ctx context.Context, ref Ref) {
	s.invalidate(ctx, ref)
}

func (s *Service) invalidate(ctx context.Context, ref Ref) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateWalletBalance(ctx, ref.String()); err != nil {
		s.logger.Warnf("Failed to invalidate balance cache for %s: %v", ref, err)
	}
}

// SweepStaleReservations clears reservations past their deadline and
// returns how many were dropped.
func (s *Service) SweepStaleReservations(ctx context.Context) (int, error) {
	wallets, err := s.repo.ListWalletsWithReservations(ctx)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, candidate := range wallets {
		ref := candidate.Ref()
		err := s.Locked(ctx, ref, func(w *Wallet) error {
			n := w.dropExpired(s.now())
			if n == 0 {
				return nil
			}
			swept += n
			return s.repo.SaveReservations(ctx, ref, w.Reservations)
		})
		if err != nil {
			s.logger.Warnf("Failed to sweep reservations on %s: %v", ref, err)
		}
	}

	if swept > 0 {
		s.metrics.ReservationsSwept(swept)
		s.logger.Infof("Released %d stale reservations", swept)
	}
	return swept, nil
}

func (s *Service) spentToday(ctx context.Context, ref Ref, now time.Time) (decimal.Decimal, error) {
	if s.spending == nil {
		return decimal.Zero, nil
	}
	y, m, d := now.UTC().Date()
	spent, err := s.spending.SpentSince(ctx, ref, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read daily spending: %w", err)
	}
	return spent, nil
}

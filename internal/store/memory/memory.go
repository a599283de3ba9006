// Package memory keeps every repository in process memory. It backs tests
// and STORAGE_DRIVER=memory. All repositories share one lock so ledger
// writes and balance moves stay atomic, as they are inside a Postgres
// transaction.
package memory

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/activation"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/billing"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/cashback"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/history"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/ledger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/subscriber"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	wallets map[wallet.Ref]*wallet.Wallet

	transactions []*ledger.Transaction
	txIndex      map[string]*ledger.Transaction
	walletLog    []ledger.WalletHistory

	profiles map[string]*billing.Profile

	cashbackGroups   map[string]*cashback.Group
	profileAmounts   map[string]cashback.ProfileAmount
	userCashbacks    map[string]cashback.UserCashback
	subAgentCashback []subAgentEntry

	serviceProfiles map[string]*subscriber.ServiceProfile
	groups          map[string]*subscriber.Group
	zones           map[string]*subscriber.Zone
	nas             map[string]*subscriber.NAS
	subscribers     map[string]*subscriber.Subscriber

	activations []*activation.Activation
	attempts    []*activation.Attempt

	history []history.Entry
}

type subAgentEntry struct {
	cashback.SubAgentCashback
	seq int
}

func New() *Store {
	return &Store{
		now:             time.Now,
		wallets:         make(map[wallet.Ref]*wallet.Wallet),
		txIndex:         make(map[string]*ledger.Transaction),
		profiles:        make(map[string]*billing.Profile),
		cashbackGroups:  make(map[string]*cashback.Group),
		profileAmounts:  make(map[string]cashback.ProfileAmount),
		userCashbacks:   make(map[string]cashback.UserCashback),
		serviceProfiles: make(map[string]*subscriber.ServiceProfile),
		groups:          make(map[string]*subscriber.Group),
		zones:           make(map[string]*subscriber.Zone),
		nas:             make(map[string]*subscriber.NAS),
		subscribers:     make(map[string]*subscriber.Subscriber),
	}
}

// SetClock replaces the time source used for row timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func (s *Store) Wallets() *WalletRepository { return &WalletRepository{s} }
func (s *Store) Ledger() *LedgerRepository { return &LedgerRepository{s} }
func (s *Store) Billing() *BillingRepository { return &BillingRepository{s} }
func (s *Store) Cashback() *CashbackRepository { return &CashbackRepository{s} }
func (s *Store) Subscribers() *SubscriberRepository { return &SubscriberRepository{s} }
func (s *Store) Activations() *ActivationRepository { return &ActivationRepository{s} }
func (s *Store) History() *HistoryRepository { return &HistoryRepository{s} }

var (
	_ wallet.Repository     = (*WalletRepository)(nil)
	_ ledger.Repository     = (*LedgerRepository)(nil)
	_ billing.Repository    = (*BillingRepository)(nil)
	_ cashback.Repository   = (*CashbackRepository)(nil)
	_ subscriber.Repository = (*SubscriberRepository)(nil)
	_ activation.Repository = (*ActivationRepository)(nil)
	_ history.Repository    = (*HistoryRepository)(nil)
)

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

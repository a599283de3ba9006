package wallet

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindCustom Kind = "custom"
	KindUser   Kind = "user"
)

func (k Kind) Valid() bool {
	return k == KindCustom || k == KindUser
}

// Ref addresses a wallet. User wallets share the id of their owner.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func CustomRef(id string) Ref { return Ref{Kind: KindCustom, ID: id} }
func UserRef(id string) Ref   { return Ref{Kind: KindUser, ID: id} }

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.ID
}

func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// ParseRef accepts the "kind:id" form produced by String.
func ParseRef(s string) (Ref, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" || !Kind(kind).Valid() {
		return Ref{}, fmt.Errorf("invalid wallet reference %q", s)
	}
	return Ref{Kind: Kind(kind), ID: id}, nil
}

type Status string

const (
	StatusActive    Status = "active"
	StatusDisabled  Status = "disabled"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDisabled, StatusSuspended:
		return true
	}
	return false
}

type AmountType string

const (
	Debit  AmountType = "debit"
	Credit AmountType = "credit"
)

// Opposite is used when building reversals.
func (a AmountType) Opposite() AmountType {
	if a == Debit {
		return Credit
	}
	return Debit
}

// Reservation is advisory state kept on the wallet row. It holds funds (or
// max-fill headroom) between reserve and commit/release.
type Reservation struct {
	Token      string          `json:"token"`
	Wallet     Ref             `json:"wallet"`
	AmountType AmountType      `json:"amount_type"`
	Amount     decimal.Decimal `json:"amount"`
	ExpiresAt  time.Time       `json:"expires_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Wallet struct {
	ID                   string              `json:"id"`
	Kind                 Kind                `json:"kind"`
	OwnerID              string              `json:"owner_id,omitempty"`
	Name                 string              `json:"name"`
	Balance              decimal.Decimal     `json:"balance"`
	MaxFill              decimal.NullDecimal `json:"max_fill"`
	DailySpendingLimit   decimal.NullDecimal `json:"daily_spending_limit"`
	AllowNegativeBalance bool                `json:"allow_negative_balance"`
	Status               Status              `json:"status"`
	Reservations         []Reservation       `json:"reservations,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	IsDeleted            bool                `json:"is_deleted"`
	DeletedAt            *time.Time          `json:"deleted_at,omitempty"`
}

func (w *Wallet) Ref() Ref {
	return Ref{Kind: w.Kind, ID: w.ID}
}

func (w *Wallet) reserved(t AmountType) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range w.Reservations {
		if r.AmountType == t {
			sum = sum.Add(r.Amount)
		}
	}
	return sum
}

func (w *Wallet) ReservedDebits() decimal.Decimal  { return w.reserved(Debit) }
func (w *Wallet) ReservedCredits() decimal.Decimal { return w.reserved(Credit) }

// Available is the balance not held by pending debit reservations.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.ReservedDebits())
}

func (w *Wallet) reservationIndex(token string) int {
	for i, r := range w.Reservations {
		if r.Token == token {
			return i
		}
	}
	return -1
}

// dropExpired removes reservations whose deadline passed and returns how many.
func (w *Wallet) dropExpired(now time.Time) int {
	kept := w.Reservations[:0]
	for _, r := range w.Reservations {
		if r.ExpiresAt.After(now) {
			kept = append(kept, r)
		}
	}
	n := len(w.Reservations) - len(kept)
	w.Reservations = kept
	return n
}

const (
	EventTypeCreated       = "wallet.created"
	EventTypeStatusChanged = "wallet.status_changed"
	EventTypeDeleted       = "wallet.deleted"

	TopicWalletEvents = "wallet.events"
)

type CreateWalletRequest struct {
	Kind                 Kind                `json:"kind"`
	ID                   string              `json:"id,omitempty"`
	OwnerID              string              `json:"owner_id,omitempty"`
	Name                 string              `json:"name"`
	MaxFill              decimal.NullDecimal `json:"max_fill"`
	DailySpendingLimit   decimal.NullDecimal `json:"daily_spending_limit"`
	AllowNegativeBalance bool                `json:"allow_negative_balance"`
}

type UpdateStatusRequest struct {
	Status Status `json:"status"`
}

type WalletResponse struct {
	Wallet *Wallet `json:"wallet"`
}

type WalletsResponse struct {
	Wallets []Wallet `json:"wallets"`
	Total   int      `json:"total"`
}

type BalanceResponse struct {
	Wallet    string          `json:"wallet"`
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available,omitempty"`
	Cached    bool            `json:"cached"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Kafka event payloads
type WalletEvent struct {
	Wallet    string    `json:"wallet"`
	EventType string    `json:"event_type"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

type TxType string

const (
	TypePayment      TxType = "payment"
	TypeDistribution TxType = "distribution"
	TypeAddon        TxType = "addon"
	TypeCashback     TxType = "cashback"
	TypeDeposit      TxType = "deposit"
	TypeAdjustment   TxType = "adjustment"
	TypeReversal     TxType = "reversal"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
	StatusReversed  Status = "reversed"
	StatusFailed    Status = "failed"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotReversible       = errors.New("transaction cannot be reversed")
	ErrBalanceMismatch     = errors.New("wallet balance changed outside the ledger")
	ErrEmptyDistribution   = errors.New("distribution has no entries")
)

// Transaction is one immutable balance change. Only status and the
// soft-delete markers change after insert.
type Transaction struct {
	ID                   string            `json:"id"`
	Type                 TxType            `json:"type"`
	AmountType           wallet.AmountType `json:"amount_type"`
	Amount               decimal.Decimal   `json:"amount"`
	Status               Status            `json:"status"`
	Wallet               wallet.Ref        `json:"wallet"`
	BalanceBefore        decimal.Decimal   `json:"balance_before"`
	BalanceAfter         decimal.Decimal   `json:"balance_after"`
	RelatedTransactionID string            `json:"related_transaction_id,omitempty"`
	BillingActivationID  string            `json:"billing_activation_id,omitempty"`
	Description          string            `json:"description"`
	CreatedBy            string            `json:"created_by,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	IsDeleted            bool              `json:"is_deleted"`
	DeletedAt            *time.Time        `json:"deleted_at,omitempty"`
}

// Signed is the amount with its sign applied: credits positive.
func (t *Transaction) Signed() decimal.Decimal {
	if t.AmountType == wallet.Debit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// History mirrors the transaction for wallet-level reporting.
func (t *Transaction) History(id string) WalletHistory {
	return WalletHistory{
		ID:            id,
		TransactionID: t.ID,
		Wallet:        t.Wallet,
		Type:          t.Type,
		AmountType:    t.AmountType,
		Amount:        t.Amount,
		BalanceBefore: t.BalanceBefore,
		BalanceAfter:  t.BalanceAfter,
		Description:   t.Description,
		CreatedAt:     t.CreatedAt,
	}
}

type WalletHistory struct {
	ID            string            `json:"id"`
	TransactionID string            `json:"transaction_id"`
	Wallet        wallet.Ref        `json:"wallet"`
	Type          TxType            `json:"type"`
	AmountType    wallet.AmountType `json:"amount_type"`
	Amount        decimal.Decimal   `json:"amount"`
	BalanceBefore decimal.Decimal   `json:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after"`
	Description   string            `json:"description"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Entry is one line of a distribution to be written.
type Entry struct {
	Wallet      wallet.Ref        `json:"wallet"`
	AmountType  wallet.AmountType `json:"amount_type"`
	Amount      decimal.Decimal   `json:"amount"`
	Type        TxType            `json:"type"`
	Description string            `json:"description"`
}

type DepositRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type ReverseRequest struct {
	Reason string `json:"reason"`
}

type ReconcileResult struct {
	Wallet     string          `json:"wallet"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Consistent bool            `json:"consistent"`
}

type TransactionResponse struct {
	Transaction *Transaction `json:"transaction"`
}

type TransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
}

type HistoryResponse struct {
	History []WalletHistory `json:"history"`
	Total   int             `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	EventTypeAppended = "ledger.transaction_appended"
	EventTypeReversed = "ledger.transaction_reversed"

	TopicLedgerTransactions = "ledger.transactions"
)

// TransactionEvent is the outbox payload for every ledger write.
type TransactionEvent struct {
	TransactionID        string          `json:"transaction_id"`
	Type                 TxType          `json:"type"`
	AmountType           string          `json:"amount_type"`
	Amount               decimal.Decimal `json:"amount"`
	Wallet               string          `json:"wallet"`
	BalanceBefore        decimal.Decimal `json:"balance_before"`
	BalanceAfter         decimal.Decimal `json:"balance_after"`
	RelatedTransactionID string          `json:"related_transaction_id,omitempty"`
	BillingActivationID  string          `json:"billing_activation_id,omitempty"`
	Timestamp            time.Time       `json:"timestamp"`
}

func NewTransactionEvent(t *Transaction) TransactionEvent {
	return TransactionEvent{
		TransactionID:        t.ID,
		Type:                 t.Type,
		AmountType:           string(t.AmountType),
		Amount:               t.Amount,
		Wallet:               t.Wallet.String(),
		BalanceBefore:        t.BalanceBefore,
		BalanceAfter:         t.BalanceAfter,
		RelatedTransactionID: t.RelatedTransactionID,
		BillingActivationID:  t.BillingActivationID,
		Timestamp:            t.CreatedAt,
	}
}

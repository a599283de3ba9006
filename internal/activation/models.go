package activation

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/radius"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

type Status string

const (
	StatusCreated          Status = "created"
	StatusDistributing     Status = "distributing"
	StatusAwaitingExternal Status = "awaiting_external"
	StatusRetrying         Status = "retrying"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusRolledBack       Status = "rolled_back"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRolledBack
}

type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "pending"
	AttemptProcessing AttemptStatus = "processing"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptFailed     AttemptStatus = "failed"
	AttemptCancelled  AttemptStatus = "cancelled"
	AttemptRolledBack AttemptStatus = "rolled_back"
)

type Type string

const (
	TypeRenew         Type = "renew"
	TypeChangeProfile Type = "change_profile"
	TypeNewActivation Type = "new_activation"
	TypeReactivation  Type = "reactivation"
	TypeSuspension    Type = "suspension"
	TypeExtension     Type = "extension"
	TypeDowngrade     Type = "downgrade"
	TypeUpgrade       Type = "upgrade"
)

func (t Type) Valid() bool {
	switch t {
	case TypeRenew, TypeChangeProfile, TypeNewActivation, TypeReactivation,
		TypeSuspension, TypeExtension, TypeDowngrade, TypeUpgrade:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentUserWallet   PaymentMethod = "user_wallet"
	PaymentCustomWallet PaymentMethod = "custom_wallet"
	PaymentCash         PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentUserWallet || m == PaymentCustomWallet || m == PaymentCash
}

var (
	ErrActivationNotFound = errors.New("activation not found")
	ErrBusy               = errors.New("activation busy, retry later")
	ErrInvalidTransition  = errors.New("invalid activation state transition")
	ErrNotBillable        = errors.New("activation type is not billable")
	ErrProfileOutOfScope  = errors.New("billing profile is not available to this subscriber")
	ErrAlreadyReversed    = errors.New("activation already reversed")
)

// Activation is the aggregate for one business event. Attempts against the
// external system hang off it and are never rewritten once finalized.
type Activation struct {
	ID                      string          `json:"id"`
	SubscriberID            string          `json:"subscriber_id"`
	BillingProfileID        string          `json:"billing_profile_id"`
	ActedBy                 string          `json:"acted_by"`
	OnBehalfOf              string          `json:"on_behalf_of,omitempty"`
	PaymentMethod           PaymentMethod   `json:"payment_method"`
	PayerWallet             wallet.Ref      `json:"payer_wallet"`
	Source                  string          `json:"source,omitempty"`
	Type                    Type            `json:"type"`
	Amount                  decimal.Decimal `json:"amount"`
	CashbackAmount          decimal.Decimal `json:"cashback_amount"`
	ApplyCashback           bool            `json:"apply_cashback"`
	PreviousExpiry          *time.Time      `json:"previous_expiry,omitempty"`
	NewExpiry               *time.Time      `json:"new_expiry,omitempty"`
	PreviousProfileID       string          `json:"previous_profile_id,omitempty"`
	NewProfileID            string          `json:"new_profile_id,omitempty"`
	Status                  Status          `json:"status"`
	FailureReason           string          `json:"failure_reason,omitempty"`
	RetryCount              int             `json:"retry_count"`
	NextRetryAt             *time.Time      `json:"next_retry_at,omitempty"`
	SettlementTransactionID string          `json:"settlement_transaction_id,omitempty"`
	ReversalOfID            string          `json:"reversal_of_id,omitempty"`
	IdempotencyKey          string          `json:"idempotency_key,omitempty"`
	Distribution            json.RawMessage `json:"distribution,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
	CompletedAt             *time.Time      `json:"completed_at,omitempty"`
	IsDeleted               bool            `json:"is_deleted"`
	DeletedAt               *time.Time      `json:"deleted_at,omitempty"`
}

// Attempt is one execution against the subscriber-management system.
type Attempt struct {
	ID                       string              `json:"id"`
	BillingActivationID      string              `json:"billing_activation_id"`
	PreviousServiceProfileID string              `json:"previous_service_profile_id,omitempty"`
	NewServiceProfileID      string              `json:"new_service_profile_id"`
	PreviousBillingProfileID string              `json:"previous_billing_profile_id,omitempty"`
	NewBillingProfileID      string              `json:"new_billing_profile_id"`
	PreviousExpiry           *time.Time          `json:"previous_expiry,omitempty"`
	NewExpiry                *time.Time          `json:"new_expiry,omitempty"`
	PreviousBalance          decimal.NullDecimal `json:"previous_balance"`
	NewBalance               decimal.NullDecimal `json:"new_balance"`
	Type                     Type                `json:"type"`
	Status                   AttemptStatus       `json:"status"`
	APIStatusCode            int                 `json:"api_status_code,omitempty"`
	APIMessage               string              `json:"api_message,omitempty"`
	APIRawResponse           string              `json:"api_raw_response,omitempty"`
	RetryCount               int                 `json:"retry_count"`
	LastRetryAt              *time.Time          `json:"last_retry_at,omitempty"`
	ProcessingStartedAt      *time.Time          `json:"processing_started_at,omitempty"`
	CompletedAt              *time.Time          `json:"completed_at,omitempty"`
	CreatedAt                time.Time           `json:"created_at"`
}

func (a *Attempt) recordResult(res *radius.Result) {
	if res == nil {
		return
	}
	a.APIStatusCode = res.StatusCode
	a.APIMessage = res.Message
	a.APIRawResponse = res.RawResponse
}

type ActivateRequest struct {
	SubscriberID     string        `json:"subscriber_id"`
	BillingProfileID string        `json:"billing_profile_id"`
	OnBehalfOf       string        `json:"on_behalf_of,omitempty"`
	ApplyCashback    bool          `json:"apply_cashback"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	PayerWalletID    string        `json:"payer_wallet_id,omitempty"`
	Source           string        `json:"source,omitempty"`
	Type             Type          `json:"type,omitempty"`
	IdempotencyKey   string        `json:"idempotency_key,omitempty"`
	ActedBy          string        `json:"-"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

// OutcomeRequest is an externally reported result of a profile change.
type OutcomeRequest struct {
	StatusCode  int    `json:"status_code"`
	Message     string `json:"message"`
	RawResponse string `json:"raw_response,omitempty"`
}

type ActivationResponse struct {
	Activation *Activation `json:"activation"`
}

type StatusResponse struct {
	Activation *Activation `json:"activation"`
	Attempts   []Attempt   `json:"attempts"`
}

type ErrorResponse struct {
	Error        string `json:"error"`
	ActivationID string `json:"activation_id,omitempty"`
	Status       Status `json:"status,omitempty"`
	RetryCount   int    `json:"retry_count,omitempty"`
}

const (
	EventTypeStatusChanged = "activation.status_changed"

	TopicActivationEvents    = "activation.events"
	TopicActivationRequested = "activation.requested"
)

// StatusEvent is published through the outbox on every status change.
type StatusEvent struct {
	ActivationID  string    `json:"activation_id"`
	SubscriberID  string    `json:"subscriber_id"`
	Status        Status    `json:"status"`
	Type          Type      `json:"type"`
	Amount        string    `json:"amount"`
	RetryCount    int       `json:"retry_count"`
	FailureReason string    `json:"failure_reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// RequestedEvent is the Kafka intake message. EventID doubles as the
// idempotency key when none is given.
type RequestedEvent struct {
	EventID          string        `json:"event_id"`
	SubscriberID     string        `json:"subscriber_id"`
	BillingProfileID string        `json:"billing_profile_id"`
	ActedBy          string        `json:"acted_by"`
	OnBehalfOf       string        `json:"on_behalf_of,omitempty"`
	ApplyCashback    bool          `json:"apply_cashback"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	PayerWalletID    string        `json:"payer_wallet_id,omitempty"`
	Source           string        `json:"source,omitempty"`
	Type             Type          `json:"type,omitempty"`
	IdempotencyKey   string        `json:"idempotency_key,omitempty"`
}

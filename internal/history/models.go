package history

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Entry is a point-in-time snapshot of an activation. Names are copied as
// strings so reports survive later edits or deletes of profiles.
type Entry struct {
	ID                  string          `json:"id"`
	BillingActivationID string          `json:"billing_activation_id"`
	RadiusActivationID  string          `json:"radius_activation_id,omitempty"`
	Event               string          `json:"event"`
	FromStatus          string          `json:"from_status,omitempty"`
	ToStatus            string          `json:"to_status"`
	SubscriberID        string          `json:"subscriber_id"`
	SubscriberUsername  string          `json:"subscriber_username"`
	ActedBy             string          `json:"acted_by"`
	OnBehalfOf          string          `json:"on_behalf_of,omitempty"`
	BillingProfileID    string          `json:"billing_profile_id"`
	BillingProfileName  string          `json:"billing_profile_name"`
	ServiceProfileName  string          `json:"service_profile_name"`
	ActivationType      string          `json:"activation_type"`
	Amount              decimal.Decimal `json:"amount"`
	CashbackAmount      decimal.Decimal `json:"cashback_amount"`
	PreviousExpiry      *time.Time      `json:"previous_expiry,omitempty"`
	NewExpiry           *time.Time      `json:"new_expiry,omitempty"`
	RetryCount          int             `json:"retry_count"`
	Reason              string          `json:"reason,omitempty"`
	Distribution        json.RawMessage `json:"distribution,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// StatusSummary aggregates activations that reached a status.
type StatusSummary struct {
	Status   string          `json:"status"`
	Count    int64           `json:"count"`
	Amount   decimal.Decimal `json:"amount"`
	Cashback decimal.Decimal `json:"cashback"`
}

type SummaryResponse struct {
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	Statuses []StatusSummary `json:"statuses"`
}

type EntriesResponse struct {
	History []Entry `json:"history"`
	Total   int     `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

package cashback

import (
	"time"

	"github.com/shopspring/decimal"
)

type Group struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// ProfileAmount is the cashback a group's members get for a profile.
type ProfileAmount struct {
	GroupID          string          `json:"cashback_group_id"`
	BillingProfileID string          `json:"billing_profile_id"`
	Amount           decimal.Decimal `json:"amount"`
}

type UserCashback struct {
	SubscriberID     string          `json:"subscriber_id"`
	BillingProfileID string          `json:"billing_profile_id"`
	Amount           decimal.Decimal `json:"amount"`
}

// SubAgentCashback is set by a supervisor for one of its sub-agents.
type SubAgentCashback struct {
	SupervisorID     string          `json:"supervisor_id"`
	SubAgentID       string          `json:"sub_agent_id"`
	BillingProfileID string          `json:"billing_profile_id"`
	Amount           decimal.Decimal `json:"amount"`
}

type CreateGroupRequest struct {
	Name string `json:"name"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

package subscriber

import (
	"errors"
	"time"
)

var (
	ErrSubscriberNotFound     = errors.New("subscriber not found")
	ErrServiceProfileNotFound = errors.New("service profile not found")
)

// Subscriber is a RADIUS user synced from the subscriber-management system.
// BillingProfileID and CashbackGroupID are local assignments and survive a
// sync that does not carry them.
type Subscriber struct {
	ID               string     `json:"id"`
	ExternalID       string     `json:"external_id"`
	Username         string     `json:"username"`
	ProfileID        string     `json:"profile_id,omitempty"`
	BillingProfileID string     `json:"billing_profile_id,omitempty"`
	GroupID          string     `json:"group_id,omitempty"`
	ZoneID           string     `json:"zone_id,omitempty"`
	CashbackGroupID  string     `json:"cashback_group_id,omitempty"`
	Expiration       *time.Time `json:"expiration,omitempty"`
	Enabled          bool       `json:"enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	IsDeleted        bool       `json:"is_deleted"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// Ref is how the remote system addresses the subscriber.
func (s *Subscriber) Ref() string {
	if s.ExternalID != "" {
		return s.ExternalID
	}
	return s.ID
}

// Expired reports whether service has lapsed at now. A subscriber with no
// expiration has never been activated.
func (s *Subscriber) Expired(now time.Time) bool {
	return s.Expiration == nil || !s.Expiration.After(now)
}

type ServiceProfile struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Download   string    `json:"download,omitempty"`
	Upload     string    `json:"upload,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	IsDeleted  bool      `json:"is_deleted"`
}

func (p *ServiceProfile) Ref() string {
	if p.ExternalID != "" {
		return p.ExternalID
	}
	return p.ID
}

type Group struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Zone struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type NAS struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	IPAddress  string    `json:"ip_address"`
	Type       string    `json:"type"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type AssignRequest struct {
	BillingProfileID *string `json:"billing_profile_id,omitempty"`
	CashbackGroupID  *string `json:"cashback_group_id,omitempty"`
}

type SubscriberResponse struct {
	Subscriber *Subscriber `json:"subscriber"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

type Direction string

const (
	DirectionIn        Direction = "in"
	DirectionOut       Direction = "out"
	DirectionRemaining Direction = "remaining"
)

type ShareType string

const (
	ShareFixed      ShareType = "fixed"
	SharePercentage ShareType = "percentage"
)

var (
	ErrProfileNotFound     = errors.New("billing profile not found")
	ErrProfileInactive     = errors.New("billing profile is not active")
	ErrProfileReferenced   = errors.New("billing profile is referenced by a completed activation")
	ErrInvalidDistribution = errors.New("invalid wallet distribution")
)

// DistributionRule sends a share of the price to one wallet. UsePayerWallet
// stands for the payer's refund wallet, known only at activation time.
type DistributionRule struct {
	ID             string          `json:"id"`
	Wallet         wallet.Ref      `json:"wallet"`
	UsePayerWallet bool            `json:"use_payer_wallet"`
	ShareType      ShareType       `json:"share_type"`
	Share          decimal.Decimal `json:"share"`
	Direction      Direction       `json:"direction"`
	DisplayOrder   int             `json:"display_order"`
}

type Addon struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Wallet       wallet.Ref      `json:"wallet"`
	DisplayOrder int             `json:"display_order"`
}

type Profile struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	ServiceProfileID string             `json:"service_profile_id"`
	GroupID          string             `json:"group_id,omitempty"`
	Price            decimal.Decimal    `json:"price"`
	DurationDays     int                `json:"duration_days"`
	IsActive         bool               `json:"is_active"`
	Rules            []DistributionRule `json:"rules"`
	Addons           []Addon            `json:"addons"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	IsDeleted        bool               `json:"is_deleted"`
	DeletedAt        *time.Time         `json:"deleted_at,omitempty"`
}

// Total is what a payer is charged: the price plus every addon.
func (p *Profile) Total() decimal.Decimal {
	total := p.Price
	for _, a := range p.Addons {
		total = total.Add(a.Price)
	}
	return total
}

// Billable reports whether activations may use the profile.
func (p *Profile) Billable() bool {
	return p.IsActive && !p.IsDeleted
}

type SaveProfileRequest struct {
	ID               string             `json:"id,omitempty"`
	Name             string             `json:"name"`
	ServiceProfileID string             `json:"service_profile_id"`
	GroupID          string             `json:"group_id,omitempty"`
	Price            decimal.Decimal    `json:"price"`
	DurationDays     int                `json:"duration_days"`
	IsActive         *bool              `json:"is_active,omitempty"`
	Rules            []DistributionRule `json:"rules"`
	Addons           []Addon            `json:"addons"`
}

type ProfileResponse struct {
	Profile *Profile `json:"profile"`
}

type ProfilesResponse struct {
	Profiles []Profile `json:"profiles"`
	Total    int       `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

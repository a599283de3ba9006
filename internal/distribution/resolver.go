package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/billing"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/cashback"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/ledger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

var ErrNoPayerWallet = errors.New("distribution needs a payer wallet")

type EntryKind string

const (
	KindPayment  EntryKind = "payment"
	KindShare    EntryKind = "share"
	KindAddon    EntryKind = "addon"
	KindCashback EntryKind = "cashback"
)

type CashbackSource string

const (
	SourceSubAgent CashbackSource = "sub_agent"
	SourceUser     CashbackSource = "user"
	SourceGroup    CashbackSource = "group"
)

// Entry is one signed line of a plan. Negative amounts are debits.
type Entry struct {
	Wallet    wallet.Ref        `json:"wallet"`
	Amount    decimal.Decimal   `json:"amount"`
	Direction billing.Direction `json:"direction"`
	Kind      EntryKind         `json:"kind"`
	Label     string            `json:"label"`
}

type Cashback struct {
	Source CashbackSource  `json:"source"`
	Wallet wallet.Ref      `json:"wallet"`
	Amount decimal.Decimal `json:"amount"`
}

type Plan struct {
	ProfileID   string          `json:"billing_profile_id"`
	ProfileName string          `json:"billing_profile_name"`
	Price       decimal.Decimal `json:"price"`
	Total       decimal.Decimal `json:"total"`
	Entries     []Entry         `json:"entries"`
	Cashback    *Cashback       `json:"cashback,omitempty"`
}

// Payer describes who pays. A zero Wallet means cash collected outside the
// ledger; RefundWallet receives rules that target the payer.
type Payer struct {
	Wallet       wallet.Ref
	RefundWallet wallet.Ref
}

type CashbackContext struct {
	SubscriberID    string
	CashbackGroupID string
	ActedBy         string
	OnBehalfOf      string
}

type Request struct {
	Profile       *billing.Profile
	Payer         Payer
	ApplyCashback bool
	Cashback      CashbackContext
}

// CashbackLookup is satisfied by cashback.Repository.
type CashbackLookup interface {
	FindSubAgentCashback(ctx context.Context, supervisorID, subAgentID, billingProfileID string) (*cashback.SubAgentCashback, error)
	FindUserCashback(ctx context.Context, subscriberID, billingProfileID string) (*cashback.UserCashback, error)
	FindProfileAmount(ctx context.Context, groupID, billingProfileID string) (*cashback.ProfileAmount, error)
}

type Resolver struct {
	cashback CashbackLookup
}

func NewResolver(lookup CashbackLookup) *Resolver {
	return &Resolver{cashback: lookup}
}

// Resolve turns a profile into ordered ledger lines: in (payer first), out,
// addons, remaining, then cashback.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Plan, error) {
	p := req.Profile
	shares, err := billing.ResolveShares(p)
	if err != nil {
		return nil, err
	}

	refund := req.Payer.RefundWallet
	if refund.IsZero() {
		refund = req.Payer.Wallet
	}
	target := func(rule billing.DistributionRule) (wallet.Ref, error) {
		if !rule.UsePayerWallet {
			return rule.Wallet, nil
		}
		if refund.IsZero() {
			return wallet.Ref{}, fmt.Errorf("%w: rule %s targets the payer", ErrNoPayerWallet, rule.ID)
		}
		return refund, nil
	}

	plan := &Plan{
		ProfileID:   p.ID,
		ProfileName: p.Name,
		Price:       p.Price,
		Total:       p.Total(),
	}
	add := func(e Entry) {
		if !e.Amount.IsZero() {
			plan.Entries = append(plan.Entries, e)
		}
	}

	if !req.Payer.Wallet.IsZero() {
		add(Entry{
			Wallet:    req.Payer.Wallet,
			Amount:    plan.Total.Sub(shares.InTotal).Neg(),
			Direction: billing.DirectionIn,
			Kind:      KindPayment,
			Label:     "Payment for " + p.Name,
		})
	}
	for _, in := range shares.In {
		add(Entry{
			Wallet:    in.Rule.Wallet,
			Amount:    in.Amount.Neg(),
			Direction: billing.DirectionIn,
			Kind:      KindPayment,
			Label:     "Contribution to " + p.Name,
		})
	}
	for _, out := range shares.Out {
		ref, err := target(out.Rule)
		if err != nil {
			return nil, err
		}
		add(Entry{
			Wallet:    ref,
			Amount:    out.Amount,
			Direction: billing.DirectionOut,
			Kind:      KindShare,
			Label:     "Share of " + p.Name,
		})
	}
	for _, a := range billing.SortedAddons(p.Addons) {
		add(Entry{
			Wallet:    a.Wallet,
			Amount:    a.Price,
			Direction: billing.DirectionOut,
			Kind:      KindAddon,
			Label:     "Addon " + a.Name,
		})
	}
	if shares.Remaining != nil {
		ref, err := target(shares.Remaining.Rule)
		if err != nil {
			return nil, err
		}
		add(Entry{
			Wallet:    ref,
			Amount:    shares.Remaining.Amount,
			Direction: billing.DirectionRemaining,
			Kind:      KindShare,
			Label:     "Remainder of " + p.Name,
		})
	}

	if req.ApplyCashback {
		cb, err := r.resolveCashback(ctx, p.ID, req.Cashback)
		if err != nil {
			return nil, err
		}
		if cb != nil && cb.Amount.IsPositive() {
			plan.Cashback = cb
			plan.Entries = append(plan.Entries, Entry{
				Wallet:    cb.Wallet,
				Amount:    cb.Amount,
				Direction: billing.DirectionOut,
				Kind:      KindCashback,
				Label:     fmt.Sprintf("Cashback (%s) for %s", cb.Source, p.Name),
			})
		}
	}

	if err := plan.Verify(); err != nil {
		return nil, err
	}
	return plan, nil
}

// resolveCashback applies the first configured source: sub-agent, then
// subscriber, then the subscriber's cashback group.
func (r *Resolver) resolveCashback(ctx context.Context, profileID string, c CashbackContext) (*Cashback, error) {
	if r.cashback == nil {
		return nil, nil
	}

	subAgent, supervisor := c.ActedBy, ""
	if c.OnBehalfOf != "" {
		subAgent, supervisor = c.OnBehalfOf, c.ActedBy
	}
	if subAgent != "" {
		sc, err := r.cashback.FindSubAgentCashback(ctx, supervisor, subAgent, profileID)
		if err != nil {
			return nil, err
		}
		if sc != nil && sc.Amount.IsPositive() {
			return &Cashback{Source: SourceSubAgent, Wallet: wallet.UserRef(subAgent), Amount: sc.Amount}, nil
		}
	}

	if c.SubscriberID != "" {
		uc, err := r.cashback.FindUserCashback(ctx, c.SubscriberID, profileID)
		if err != nil {
			return nil, err
		}
		if uc != nil && uc.Amount.IsPositive() {
			return &Cashback{Source: SourceUser, Wallet: wallet.UserRef(c.SubscriberID), Amount: uc.Amount}, nil
		}
	}

	if c.CashbackGroupID != "" && c.SubscriberID != "" {
		pa, err := r.cashback.FindProfileAmount(ctx, c.CashbackGroupID, profileID)
		if err != nil {
			return nil, err
		}
		if pa != nil && pa.Amount.IsPositive() {
			return &Cashback{Source: SourceGroup, Wallet: wallet.UserRef(c.SubscriberID), Amount: pa.Amount}, nil
		}
	}
	return nil, nil
}

// Verify re-checks the plan sums: shares credit exactly the price and
// addons exactly their prices.
func (p *Plan) Verify() error {
	shares, addons := decimal.Zero, decimal.Zero
	for _, e := range p.Entries {
		switch e.Kind {
		case KindShare:
			shares = shares.Add(e.Amount)
		case KindAddon:
			addons = addons.Add(e.Amount)
		}
	}
	if !shares.Equal(p.Price) {
		return fmt.Errorf("%w: shares credit %s, price is %s", billing.ErrInvalidDistribution, shares.StringFixed(2), p.Price.StringFixed(2))
	}
	if !addons.Equal(p.Total.Sub(p.Price)) {
		return fmt.Errorf("%w: addons credit %s, expected %s", billing.ErrInvalidDistribution, addons.StringFixed(2), p.Total.Sub(p.Price).StringFixed(2))
	}
	return nil
}

// Debits is what the plan takes from wallets.
func (p *Plan) Debits() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range p.Entries {
		if e.Amount.IsNegative() {
			sum = sum.Add(e.Amount.Neg())
		}
	}
	return sum
}

func (p *Plan) CashbackAmount() decimal.Decimal {
	if p.Cashback == nil {
		return decimal.Zero
	}
	return p.Cashback.Amount
}

// LedgerEntries converts the plan for the ledger writer.
func (p *Plan) LedgerEntries() []ledger.Entry {
	entries := make([]ledger.Entry, 0, len(p.Entries))
	for _, e := range p.Entries {
		le := ledger.Entry{
			Wallet:      e.Wallet,
			AmountType:  wallet.Credit,
			Amount:      e.Amount.Abs(),
			Description: e.Label,
		}
		if e.Amount.IsNegative() {
			le.AmountType = wallet.Debit
		}
		switch e.Kind {
		case KindPayment:
			le.Type = ledger.TypePayment
		case KindAddon:
			le.Type = ledger.TypeAddon
		case KindCashback:
			le.Type = ledger.TypeCashback
		default:
			le.Type = ledger.TypeDistribution
		}
		entries = append(entries, le)
	}
	return entries
}

// Document is the plan as captured in audit snapshots.
func (p *Plan) Document() json.RawMessage {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return raw
}

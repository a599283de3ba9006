package billing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ResolvedRule is a rule with its share turned into money.
type ResolvedRule struct {
	Rule   DistributionRule `json:"rule"`
	Amount decimal.Decimal  `json:"amount"`
}

// Shares is the money view of a profile's distribution. Out plus Remaining
// always sums to the price; In is what named wallets pay toward the total.
type Shares struct {
	In        []ResolvedRule
	Out       []ResolvedRule
	Remaining *ResolvedRule
	InTotal   decimal.Decimal
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidDistribution, fmt.Sprintf(format, args...))
}

func cents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// SortedRules returns the rules by display order, keeping input order on ties.
func SortedRules(rules []DistributionRule) []DistributionRule {
	sorted := make([]DistributionRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DisplayOrder < sorted[j].DisplayOrder
	})
	return sorted
}

// SortedAddons returns the addons by display order.
func SortedAddons(addons []Addon) []Addon {
	sorted := make([]Addon, len(addons))
	copy(sorted, addons)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DisplayOrder < sorted[j].DisplayOrder
	})
	return sorted
}

func shareAmount(price decimal.Decimal, r DistributionRule) decimal.Decimal {
	if r.ShareType == SharePercentage {
		return price.Mul(r.Share).Div(hundred).Round(2)
	}
	return r.Share
}

// ResolveShares checks that the distribution reconciles to the price to the
// cent and returns the amounts. Percentage rounding residue goes to the last
// percentage out rule when no remaining rule exists.
func ResolveShares(p *Profile) (*Shares, error) {
	if p.Price.IsNegative() || !cents(p.Price) {
		return nil, invalid("price must be a non-negative amount in cents")
	}

	s := &Shares{InTotal: decimal.Zero}
	var (
		outSum     = decimal.Zero
		exactOut   = decimal.Zero
		lastPctOut = -1
	)

	for _, r := range SortedRules(p.Rules) {
		if err := validateRule(r); err != nil {
			return nil, err
		}
		amount := shareAmount(p.Price, r)

		switch r.Direction {
		case DirectionIn:
			s.In = append(s.In, ResolvedRule{Rule: r, Amount: amount})
			s.InTotal = s.InTotal.Add(amount)
		case DirectionOut:
			if r.ShareType == SharePercentage {
				lastPctOut = len(s.Out)
				exactOut = exactOut.Add(p.Price.Mul(r.Share).Div(hundred))
			} else {
				exactOut = exactOut.Add(r.Share)
			}
			s.Out = append(s.Out, ResolvedRule{Rule: r, Amount: amount})
			outSum = outSum.Add(amount)
		case DirectionRemaining:
			if s.Remaining != nil {
				return nil, invalid("at most one remaining rule is allowed")
			}
			s.Remaining = &ResolvedRule{Rule: r}
		}
	}

	if s.Remaining != nil {
		rest := p.Price.Sub(outSum)
		if rest.IsNegative() {
			return nil, invalid("out shares %s exceed price %s", outSum.StringFixed(2), p.Price.StringFixed(2))
		}
		s.Remaining.Amount = rest
	} else {
		if !exactOut.Equal(p.Price) {
			return nil, invalid("out shares total %s, price is %s", exactOut.StringFixed(4), p.Price.StringFixed(2))
		}
		if residue := p.Price.Sub(outSum); !residue.IsZero() {
			if lastPctOut < 0 {
				return nil, invalid("out shares total %s, price is %s", outSum.StringFixed(2), p.Price.StringFixed(2))
			}
			s.Out[lastPctOut].Amount = s.Out[lastPctOut].Amount.Add(residue)
		}
	}

	for _, a := range p.Addons {
		if err := validateAddon(a); err != nil {
			return nil, err
		}
	}

	if s.InTotal.GreaterThan(p.Total()) {
		return nil, invalid("in shares %s exceed total charge %s", s.InTotal.StringFixed(2), p.Total().StringFixed(2))
	}
	return s, nil
}

func validateRule(r DistributionRule) error {
	switch r.Direction {
	case DirectionIn, DirectionOut, DirectionRemaining:
	default:
		return invalid("unknown direction %q", r.Direction)
	}

	if r.UsePayerWallet {
		if r.Direction == DirectionIn {
			return invalid("in rules must name a wallet")
		}
		if !r.Wallet.IsZero() {
			return invalid("a rule names either a wallet or the payer wallet, not both")
		}
	} else if !r.Wallet.Kind.Valid() || r.Wallet.ID == "" {
		return invalid("rule wallet reference is required")
	}

	if r.Direction == DirectionRemaining {
		return nil
	}

	switch r.ShareType {
	case ShareFixed:
		if !cents(r.Share) {
			return invalid("fixed shares are whole cents")
		}
	case SharePercentage:
		if r.Share.GreaterThan(hundred) {
			return invalid("percentage share above 100")
		}
	default:
		return invalid("unknown share type %q", r.ShareType)
	}
	if !r.Share.IsPositive() {
		return invalid("share must be greater than zero")
	}
	return nil
}

func validateAddon(a Addon) error {
	if strings.TrimSpace(a.Name) == "" {
		return invalid("addon name is required")
	}
	if !a.Price.IsPositive() || !cents(a.Price) {
		return invalid("addon %q price must be a positive amount in cents", a.Name)
	}
	if !a.Wallet.Kind.Valid() || a.Wallet.ID == "" {
		return invalid("addon %q needs a wallet", a.Name)
	}
	return nil
}

// ValidateSaveProfileRequest checks the plan fields and the distribution.
func ValidateSaveProfileRequest(req *SaveProfileRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.ServiceProfileID == "" {
		return fmt.Errorf("service_profile_id is required")
	}
	if req.DurationDays <= 0 {
		return fmt.Errorf("duration_days must be greater than zero")
	}

	_, err := ResolveShares(&Profile{Price: req.Price, Rules: req.Rules, Addons: req.Addons})
	return err
}

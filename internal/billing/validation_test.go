package billing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func outRule(id string, shareType ShareType, share string, order int) DistributionRule {
	return DistributionRule{
		ID:           id,
		Wallet:       wallet.CustomRef(id),
		ShareType:    shareType,
		Share:        dec(share),
		Direction:    DirectionOut,
		DisplayOrder: order,
	}
}

func TestResolveShares(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{
			name:    "fixed shares equal the price",
			profile: Profile{Price: dec("50"), Rules: []DistributionRule{outRule("a", ShareFixed, "20", 1), outRule("b", ShareFixed, "30", 2)}},
		},
		{
			name:    "percentages equal the price",
			profile: Profile{Price: dec("80"), Rules: []DistributionRule{outRule("a", SharePercentage, "25", 1), outRule("b", SharePercentage, "75", 2)}},
		},
		{
			name: "remaining absorbs the rest",
			profile: Profile{Price: dec("50"), Rules: []DistributionRule{
				outRule("a", ShareFixed, "20", 1),
				{ID: "r", Wallet: wallet.CustomRef("r"), Direction: DirectionRemaining},
			}},
		},
		{
			name:    "free profile without rules",
			profile: Profile{Price: decimal.Zero},
		},
		{
			name:    "shares below the price",
			profile: Profile{Price: dec("50"), Rules: []DistributionRule{outRule("a", ShareFixed, "20", 1)}},
			wantErr: true,
		},
		{
			name: "shares above the price with remaining",
			profile: Profile{Price: dec("10"), Rules: []DistributionRule{
				outRule("a", ShareFixed, "20", 1),
				{ID: "r", Wallet: wallet.CustomRef("r"), Direction: DirectionRemaining},
			}},
			wantErr: true,
		},
		{
			name: "two remaining rules",
			profile: Profile{Price: dec("10"), Rules: []DistributionRule{
				{ID: "r1", Wallet: wallet.CustomRef("r1"), Direction: DirectionRemaining},
				{ID: "r2", Wallet: wallet.CustomRef("r2"), Direction: DirectionRemaining},
			}},
			wantErr: true,
		},
		{
			name:    "fractional cents",
			profile: Profile{Price: dec("10.005"), Rules: []DistributionRule{outRule("a", SharePercentage, "100", 1)}},
			wantErr: true,
		},
		{
			name: "payer wallet on an in rule",
			profile: Profile{Price: dec("10"), Rules: []DistributionRule{
				outRule("a", ShareFixed, "10", 1),
				{ID: "in", UsePayerWallet: true, ShareType: ShareFixed, Share: dec("5"), Direction: DirectionIn},
			}},
			wantErr: true,
		},
		{
			name: "addon without wallet",
			profile: Profile{Price: dec("10"), Rules: []DistributionRule{outRule("a", ShareFixed, "10", 1)},
				Addons: []Addon{{Name: "IPTV", Price: dec("3")}}},
			wantErr: true,
		},
		{
			name: "in shares above the total",
			profile: Profile{Price: dec("10"), Rules: []DistributionRule{
				outRule("a", ShareFixed, "10", 1),
				{ID: "in", Wallet: wallet.CustomRef("s"), ShareType: ShareFixed, Share: dec("11"), Direction: DirectionIn},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveShares(&tt.profile)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidDistribution), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestResolveSharesRemainingAmount(t *testing.T) {
	shares, err := ResolveShares(&Profile{Price: dec("99.99"), Rules: []DistributionRule{
		{ID: "r", Wallet: wallet.CustomRef("r"), Direction: DirectionRemaining, DisplayOrder: 0},
		outRule("a", SharePercentage, "10", 1),
	}})
	require.NoError(t, err)
	require.Len(t, shares.Out, 1)
	assert.True(t, shares.Out[0].Amount.Equal(dec("10")))
	require.NotNil(t, shares.Remaining)
	assert.True(t, shares.Remaining.Amount.Equal(dec("89.99")))
}

func TestProfileTotal(t *testing.T) {
	p := &Profile{Price: dec("25"), Addons: []Addon{{Price: dec("2.5")}, {Price: dec("1")}}}
	assert.True(t, p.Total().Equal(dec("28.5")))
}

func TestValidateSaveProfileRequest(t *testing.T) {
	valid := func() *SaveProfileRequest {
		return &SaveProfileRequest{
			Name:             "  Fiber 50 ",
			ServiceProfileID: "sp-1",
			Price:            dec("30"),
			DurationDays:     30,
			Rules:            []DistributionRule{outRule("a", ShareFixed, "30", 1)},
		}
	}

	req := valid()
	require.NoError(t, ValidateSaveProfileRequest(req))
	assert.Equal(t, "Fiber 50", req.Name)

	req = valid()
	req.DurationDays = 0
	assert.Error(t, ValidateSaveProfileRequest(req))

	req = valid()
	req.ServiceProfileID = ""
	assert.Error(t, ValidateSaveProfileRequest(req))

	req = valid()
	req.Price = dec("31")
	assert.True(t, errors.Is(ValidateSaveProfileRequest(req), ErrInvalidDistribution))
}

package wallet

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateCreateWalletRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateWalletRequest
		wantErr bool
	}{
		{
			name:    "valid user wallet",
			req:     CreateWalletRequest{Kind: KindUser, OwnerID: "agent-1"},
			wantErr: false,
		},
		{
			name:    "valid custom wallet",
			req:     CreateWalletRequest{Kind: KindCustom, Name: "Operator"},
			wantErr: false,
		},
		{
			name:    "custom wallet with explicit id",
			req:     CreateWalletRequest{Kind: KindCustom, ID: "ops.main", Name: "Operator"},
			wantErr: false,
		},
		{
			name:    "unknown kind",
			req:     CreateWalletRequest{Kind: "shared", Name: "x"},
			wantErr: true,
		},
		{
			name:    "user wallet without owner",
			req:     CreateWalletRequest{Kind: KindUser},
			wantErr: true,
		},
		{
			name:    "user wallet id differs from owner",
			req:     CreateWalletRequest{Kind: KindUser, ID: "other", OwnerID: "agent-1"},
			wantErr: true,
		},
		{
			name:    "custom wallet with blank name",
			req:     CreateWalletRequest{Kind: KindCustom, Name: "   "},
			wantErr: true,
		},
		{
			name:    "id with spaces",
			req:     CreateWalletRequest{Kind: KindCustom, ID: "ops main", Name: "Operator"},
			wantErr: true,
		},
		{
			name:    "zero max fill",
			req:     CreateWalletRequest{Kind: KindCustom, Name: "Operator", MaxFill: decimal.NewNullDecimal(decimal.Zero)},
			wantErr: true,
		},
		{
			name: "negative daily limit",
			req: CreateWalletRequest{
				Kind:               KindUser,
				OwnerID:            "agent-1",
				DailySpendingLimit: decimal.NewNullDecimal(decimal.NewFromInt(-5)),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCreateWalletRequest(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCreateWalletRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"whole amount", "100", false},
		{"four decimals", "0.0001", false},
		{"zero", "0", true},
		{"negative", "-10", true},
		{"five decimals", "1.00001", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tt.amount))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAmount(%s) error = %v, wantErr %v", tt.amount, err, tt.wantErr)
			}
		})
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    Ref
		wantErr bool
	}{
		{"user:agent-1", UserRef("agent-1"), false},
		{"custom:C", CustomRef("C"), false},
		{"custom:", Ref{}, true},
		{"agent-1", Ref{}, true},
		{"bank:1", Ref{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRef(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRef(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRef(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if !tt.wantErr && got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

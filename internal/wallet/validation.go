package wallet

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var idRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidateCreateWalletRequest validates wallet creation request
func ValidateCreateWalletRequest(req *CreateWalletRequest) error {
	req.Name = strings.TrimSpace(req.Name)

	if !req.Kind.Valid() {
		return fmt.Errorf("kind must be custom or user")
	}

	if req.Kind == KindUser {
		if req.OwnerID == "" {
			return fmt.Errorf("owner_id is required for user wallets")
		}
		if req.ID != "" && req.ID != req.OwnerID {
			return fmt.Errorf("user wallet id must equal owner_id")
		}
	} else if req.Name == "" {
		return fmt.Errorf("name is required for custom wallets")
	}

	if req.ID != "" && !idRegex.MatchString(req.ID) {
		return fmt.Errorf("invalid wallet id")
	}
	if req.OwnerID != "" && !idRegex.MatchString(req.OwnerID) {
		return fmt.Errorf("invalid owner_id")
	}

	if err := validateLimit("max_fill", req.MaxFill); err != nil {
		return err
	}
	return validateLimit("daily_spending_limit", req.DailySpendingLimit)
}

func validateLimit(field string, v decimal.NullDecimal) error {
	if v.Valid && !v.Decimal.IsPositive() {
		return fmt.Errorf("%s must be greater than zero", field)
	}
	return nil
}

// ValidateAmount validates a monetary amount: positive, at most 4 decimals.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(4)) {
		return fmt.Errorf("amount has more than 4 decimal places")
	}
	return nil
}

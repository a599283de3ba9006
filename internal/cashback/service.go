package cashback

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

type Service struct {
	repo   Repository
	logger *logger.Logger
}

func NewService(repo Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, logger: log}
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() || !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("amount must be a non-negative value in cents")
	}
	return nil
}

func (s *Service) CreateGroup(ctx context.Context, req *CreateGroupRequest) (*Group, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("validation failed: name is required")
	}
	g := &Group{ID: uuid.NewString(), Name: name}
	if err := s.repo.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	s.logger.Infof("Cashback group created: %s (%s)", g.ID, g.Name)
	return g, nil
}

func (s *Service) SetProfileAmount(ctx context.Context, pa *ProfileAmount) error {
	if pa.GroupID == "" || pa.BillingProfileID == "" {
		return fmt.Errorf("validation failed: cashback_group_id and billing_profile_id are required")
	}
	if err := validateAmount(pa.Amount); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return s.repo.SetProfileAmount(ctx, pa)
}

func (s *Service) SetUserCashback(ctx context.Context, uc *UserCashback) error {
	if uc.SubscriberID == "" || uc.BillingProfileID == "" {
		return fmt.Errorf("validation failed: subscriber_id and billing_profile_id are required")
	}
	if err := validateAmount(uc.Amount); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return s.repo.SetUserCashback(ctx, uc)
}

func (s *Service) SetSubAgentCashback(ctx context.Context, sc *SubAgentCashback) error {
	if sc.SupervisorID == "" || sc.SubAgentID == "" || sc.BillingProfileID == "" {
		return fmt.Errorf("validation failed: supervisor_id, sub_agent_id and billing_profile_id are required")
	}
	if sc.SupervisorID == sc.SubAgentID {
		return fmt.Errorf("validation failed: a supervisor cannot be its own sub-agent")
	}
	if err := validateAmount(sc.Amount); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return s.repo.SetSubAgentCashback(ctx, sc)
}

package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

// ReferenceChecker reports whether a completed activation used a profile.
type ReferenceChecker interface {
	HasCompletedActivation(ctx context.Context, billingProfileID string) (bool, error)
}

type Service struct {
	repo   Repository
	refs   ReferenceChecker
	logger *logger.Logger
}

func NewService(repo Repository, refs ReferenceChecker, log *logger.Logger) *Service {
	return &Service{repo: repo, refs: refs, logger: log}
}

// SaveProfile creates a profile, or updates it when the request carries an
// id. Pricing of a profile that settled an activation is frozen.
func (s *Service) SaveProfile(ctx context.Context, req *SaveProfileRequest) (*Profile, error) {
	if err := ValidateSaveProfileRequest(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	p := &Profile{
		ID:               req.ID,
		Name:             req.Name,
		ServiceProfileID: req.ServiceProfileID,
		GroupID:          req.GroupID,
		Price:            req.Price,
		DurationDays:     req.DurationDays,
		IsActive:         true,
		Rules:            req.Rules,
		Addons:           req.Addons,
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
		if err := s.repo.CreateProfile(ctx, p); err != nil {
			return nil, err
		}
		s.logger.Infof("Billing profile created: %s (%s)", p.ID, p.Name)
		return p, nil
	}

	current, err := s.repo.GetProfile(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if current.IsDeleted {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, p.ID)
	}
	if req.IsActive == nil {
		p.IsActive = current.IsActive
	}

	if pricingChanged(current, p) && s.refs != nil {
		referenced, err := s.refs.HasCompletedActivation(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check profile references: %w", err)
		}
		if referenced {
			return nil, fmt.Errorf("%w: %s", ErrProfileReferenced, p.ID)
		}
	}

	if err := s.repo.UpdateProfile(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Infof("Billing profile updated: %s (%s)", p.ID, p.Name)
	return p, nil
}

func pricingChanged(a, b *Profile) bool {
	if !a.Price.Equal(b.Price) || a.ServiceProfileID != b.ServiceProfileID ||
		a.DurationDays != b.DurationDays || len(a.Rules) != len(b.Rules) || len(a.Addons) != len(b.Addons) {
		return true
	}

	ar, br := SortedRules(a.Rules), SortedRules(b.Rules)
	for i := range ar {
		x, y := ar[i], br[i]
		if x.Wallet != y.Wallet || x.UsePayerWallet != y.UsePayerWallet || x.ShareType != y.ShareType ||
			!x.Share.Equal(y.Share) || x.Direction != y.Direction || x.DisplayOrder != y.DisplayOrder {
			return true
		}
	}

	aa, ba := SortedAddons(a.Addons), SortedAddons(b.Addons)
	for i := range aa {
		x, y := aa[i], ba[i]
		if x.Name != y.Name || !x.Price.Equal(y.Price) || x.Wallet != y.Wallet || x.DisplayOrder != y.DisplayOrder {
			return true
		}
	}
	return false
}

func (s *Service) GetProfile(ctx context.Context, id string) (*Profile, error) {
	return s.repo.GetProfile(ctx, id)
}

func (s *Service) ListProfiles(ctx context.Context) ([]Profile, error) {
	return s.repo.ListProfiles(ctx)
}

// DeleteProfile soft-deletes; profiles are never physically removed.
func (s *Service) DeleteProfile(ctx context.Context, id string) error {
	if err := s.repo.SoftDeleteProfile(ctx, id); err != nil {
		return err
	}
	s.logger.Infof("Billing profile soft-deleted: %s", id)
	return nil
}

package activation

import (
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/billing"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/subscriber"
)

// inferType classifies a request when the caller did not name a type.
// current is the subscriber's present billing profile, nil if unknown.
func inferType(sub *subscriber.Subscriber, current, next *billing.Profile, now time.Time) Type {
	if sub.ProfileID == "" || sub.Expiration == nil {
		return TypeNewActivation
	}
	if sub.ProfileID == next.ServiceProfileID && (current == nil || current.ID == next.ID) {
		if sub.Expired(now) {
			return TypeReactivation
		}
		return TypeRenew
	}
	if current != nil {
		switch next.Price.Cmp(current.Price) {
		case 1:
			return TypeUpgrade
		case -1:
			return TypeDowngrade
		}
	}
	return TypeChangeProfile
}

// newExpiry extends from the current expiry for renewals and extensions
// that have not lapsed; everything else starts now.
func newExpiry(t Type, current *time.Time, durationDays int, now time.Time) time.Time {
	base := now
	if (t == TypeRenew || t == TypeExtension) && current != nil && current.After(now) {
		base = *current
	}
	return base.AddDate(0, 0, durationDays).UTC()
}

// backoff is the delay before retry number n (1-based).
func backoff(cfg config.ActivationConfig, n int) time.Duration {
	delay := cfg.BaseDelay
	if cfg.Backoff == config.BackoffExponential {
		for i := 1; i < n && delay < cfg.MaxDelay; i++ {
			delay *= 2
		}
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

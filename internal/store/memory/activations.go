package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/activation"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/history"
)

type ActivationRepository struct{ s *Store }

func cloneActivation(a *activation.Activation) *activation.Activation {
	c := *a
	c.PreviousExpiry = copyTime(a.PreviousExpiry)
	c.NewExpiry = copyTime(a.NewExpiry)
	c.NextRetryAt = copyTime(a.NextRetryAt)
	c.CompletedAt = copyTime(a.CompletedAt)
	c.DeletedAt = copyTime(a.DeletedAt)
	c.Distribution = copyRaw(a.Distribution)
	return &c
}

func cloneAttempt(at *activation.Attempt) *activation.Attempt {
	c := *at
	c.PreviousExpiry = copyTime(at.PreviousExpiry)
	c.NewExpiry = copyTime(at.NewExpiry)
	c.LastRetryAt = copyTime(at.LastRetryAt)
	c.ProcessingStartedAt = copyTime(at.ProcessingStartedAt)
	c.CompletedAt = copyTime(at.CompletedAt)
	return &c
}

func (r *ActivationRepository) find(id string) *activation.Activation {
	for _, a := range r.s.activations {
		if a.ID == id && !a.IsDeleted {
			return a
		}
	}
	return nil
}

// CreateActivation enforces what the Postgres unique indexes enforce: one
// idempotency key, and one open activation per subscriber.
func (r *ActivationRepository) CreateActivation(_ context.Context, a *activation.Activation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.activations {
		if a.IdempotencyKey != "" && existing.IdempotencyKey == a.IdempotencyKey {
			return fmt.Errorf("%w: %s", activation.ErrDuplicateRequest, a.IdempotencyKey)
		}
		if !a.Status.Terminal() && existing.SubscriberID == a.SubscriberID && !existing.Status.Terminal() && !existing.IsDeleted {
			return fmt.Errorf("%w: subscriber %s has an open activation", activation.ErrBusy, a.SubscriberID)
		}
	}
	r.s.activations = append(r.s.activations, cloneActivation(a))
	return nil
}

// UpdateActivation is a compare-and-set on the stored status.
func (r *ActivationRepository) UpdateActivation(_ context.Context, a *activation.Activation, from activation.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i, existing := range r.s.activations {
		if existing.ID != a.ID || existing.IsDeleted {
			continue
		}
		if existing.Status != from {
			return fmt.Errorf("%w: activation %s is %s, expected %s", activation.ErrInvalidTransition, a.ID, existing.Status, from)
		}
		r.s.activations[i] = cloneActivation(a)
		return nil
	}
	return fmt.Errorf("%w: %s", activation.ErrActivationNotFound, a.ID)
}

func (r *ActivationRepository) GetActivation(_ context.Context, id string) (*activation.Activation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if a := r.find(id); a != nil {
		return cloneActivation(a), nil
	}
	return nil, fmt.Errorf("%w: %s", activation.ErrActivationNotFound, id)
}

func (r *ActivationRepository) FindByIdempotencyKey(_ context.Context, key string) (*activation.Activation, error) {
	return r.first(func(a *activation.Activation) bool { return a.IdempotencyKey == key }, key)
}

func (r *ActivationRepository) FindReversalOf(_ context.Context, id string) (*activation.Activation, error) {
	return r.first(func(a *activation.Activation) bool { return a.ReversalOfID == id }, "reversal of "+id)
}

func (r *ActivationRepository) first(match func(a *activation.Activation) bool, what string) (*activation.Activation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.activations {
		if !a.IsDeleted && match(a) {
			return cloneActivation(a), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", activation.ErrActivationNotFound, what)
}

func (r *ActivationRepository) HasOpenActivation(_ context.Context, subscriberID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.activations {
		if a.SubscriberID == subscriberID && !a.Status.Terminal() && !a.IsDeleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *ActivationRepository) ListByStatus(_ context.Context, status activation.Status, limit int) ([]activation.Activation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []activation.Activation
	for _, a := range r.s.activations {
		if a.Status == status && !a.IsDeleted {
			out = append(out, *cloneActivation(a))
		}
	}
	due := func(a *activation.Activation) time.Time {
		if a.NextRetryAt != nil {
			return *a.NextRetryAt
		}
		return a.UpdatedAt
	}
	sort.SliceStable(out, func(i, j int) bool { return due(&out[i]).Before(due(&out[j])) })
	return page(out, limit, 0), nil
}

// HasCompletedActivation ignores reversal activations.
func (r *ActivationRepository) HasCompletedActivation(_ context.Context, billingProfileID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.activations {
		if a.BillingProfileID == billingProfileID && a.Status == activation.StatusCompleted &&
			a.ReversalOfID == "" && !a.IsDeleted {
			return true, nil
		}
	}
	return false, nil
}

func openAttempt(s activation.AttemptStatus) bool {
	return s == activation.AttemptPending || s == activation.AttemptProcessing
}

// CreateAttempt allows one pending or processing attempt per activation.
func (r *ActivationRepository) CreateAttempt(_ context.Context, at *activation.Attempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if openAttempt(at.Status) {
		for _, existing := range r.s.attempts {
			if existing.BillingActivationID == at.BillingActivationID && openAttempt(existing.Status) {
				return fmt.Errorf("%w: attempt %s is still %s", activation.ErrBusy, existing.ID, existing.Status)
			}
		}
	}
	r.s.attempts = append(r.s.attempts, cloneAttempt(at))
	return nil
}

func (r *ActivationRepository) StartAttempt(_ context.Context, at *activation.Attempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.attempts {
		if existing.ID != at.ID {
			continue
		}
		if existing.Status != activation.AttemptPending {
			return fmt.Errorf("%w: attempt %s is no longer pending", activation.ErrBusy, at.ID)
		}
		existing.Status = activation.AttemptProcessing
		existing.ProcessingStartedAt = copyTime(at.ProcessingStartedAt)
		return nil
	}
	return fmt.Errorf("attempt %s not found", at.ID)
}

// UpdateAttempt writes the finalizing fields only.
func (r *ActivationRepository) UpdateAttempt(_ context.Context, at *activation.Attempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.attempts {
		if existing.ID != at.ID {
			continue
		}
		existing.Status = at.Status
		existing.APIStatusCode = at.APIStatusCode
		existing.APIMessage = at.APIMessage
		existing.APIRawResponse = at.APIRawResponse
		existing.NewBalance = at.NewBalance
		existing.CompletedAt = copyTime(at.CompletedAt)
		return nil
	}
	return fmt.Errorf("attempt %s not found", at.ID)
}

func (r *ActivationRepository) ListAttempts(_ context.Context, activationID string) ([]activation.Attempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []activation.Attempt
	for _, at := range r.s.attempts {
		if at.BillingActivationID == activationID {
			out = append(out, *cloneAttempt(at))
		}
	}
	return out, nil
}

func (r *ActivationRepository) ListProcessingAttempts(_ context.Context, startedBefore time.Time) ([]activation.Attempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []activation.Attempt
	for _, at := range r.s.attempts {
		if at.Status == activation.AttemptProcessing && at.ProcessingStartedAt != nil && at.ProcessingStartedAt.Before(startedBefore) {
			out = append(out, *cloneAttempt(at))
		}
	}
	return out, nil
}

type HistoryRepository struct{ s *Store }

func cloneEntry(e *history.Entry) history.Entry {
	c := *e
	c.PreviousExpiry = copyTime(e.PreviousExpiry)
	c.NewExpiry = copyTime(e.NewExpiry)
	c.Distribution = copyRaw(e.Distribution)
	return c
}

func (r *HistoryRepository) Insert(_ context.Context, e *history.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.history = append(r.s.history, cloneEntry(e))
	return nil
}

func (r *HistoryRepository) ListByActivation(_ context.Context, activationID string) ([]history.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []history.Entry
	for i := range r.s.history {
		if r.s.history[i].BillingActivationID == activationID {
			out = append(out, cloneEntry(&r.s.history[i]))
		}
	}
	return out, nil
}

func (r *HistoryRepository) ListBySubscriber(_ context.Context, subscriberID string, limit, offset int) ([]history.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []history.Entry
	for i := len(r.s.history) - 1; i >= 0; i-- {
		if r.s.history[i].SubscriberID == subscriberID {
			out = append(out, cloneEntry(&r.s.history[i]))
		}
	}
	return page(out, limit, offset), nil
}

// Summary counts activations by the terminal status they reached in
// [from, to).
func (r *HistoryRepository) Summary(_ context.Context, from, to time.Time) ([]history.StatusSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	type bucket struct {
		ids      map[string]struct{}
		amount   decimal.Decimal
		cashback decimal.Decimal
	}
	buckets := make(map[string]*bucket)
	for _, e := range r.s.history {
		switch e.ToStatus {
		case "completed", "failed", "rolled_back":
		default:
			continue
		}
		if e.FromStatus == e.ToStatus || e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		b, ok := buckets[e.ToStatus]
		if !ok {
			b = &bucket{ids: make(map[string]struct{})}
			buckets[e.ToStatus] = b
		}
		b.ids[e.BillingActivationID] = struct{}{}
		b.amount = b.amount.Add(e.Amount)
		b.cashback = b.cashback.Add(e.CashbackAmount)
	}

	out := make([]history.StatusSummary, 0, len(buckets))
	for status, b := range buckets {
		out = append(out, history.StatusSummary{
			Status:   status,
			Count:    int64(len(b.ids)),
			Amount:   b.amount,
			Cashback: b.cashback,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

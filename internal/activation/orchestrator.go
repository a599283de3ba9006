package activation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/billing"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/metrics"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/distribution"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/history"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/ledger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/radius"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/subscriber"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

// ErrValidation wraps malformed requests.
var ErrValidation = errors.New("validation failed")

const (
	systemActor   = "system"
	recoveryBatch = 500
)

type Subscribers interface {
	GetSubscriber(ctx context.Context, id string) (*subscriber.Subscriber, error)
	GetServiceProfile(ctx context.Context, id string) (*subscriber.ServiceProfile, error)
	UpdateSubscriberService(ctx context.Context, id, serviceProfileID, billingProfileID string, expiration time.Time) error
}

type Profiles interface {
	GetProfile(ctx context.Context, id string) (*billing.Profile, error)
}

type Resolver interface {
	Resolve(ctx context.Context, req distribution.Request) (*distribution.Plan, error)
}

// Ledger is satisfied by ledger.Writer.
type Ledger interface {
	ApplyDistribution(ctx context.Context, activationID, createdBy string, entries []ledger.Entry) ([]string, error)
	ReverseActivation(ctx context.Context, activationID, linkTo, reason, createdBy string) ([]string, error)
}

type Wallets interface {
	GetWallet(ctx context.Context, ref wallet.Ref) (*wallet.Wallet, error)
}

// External is the subscriber-management system. radius.Client satisfies it.
type External interface {
	ChangeSubscriberProfile(ctx context.Context, subscriberRef, profileRef string, expiry time.Time) (*radius.Result, error)
}

type Recorder interface {
	Record(ctx context.Context, e *history.Entry) error
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Repo        Repository
	Subscribers Subscribers
	Profiles    Profiles
	Resolver    Resolver
	Ledger      Ledger
	Wallets     Wallets
	External    External
	Queue       Queue
	Locker      wallet.Locker
	History     Recorder
}

// Orchestrator drives activations through their lifecycle:
// created -> distributing -> awaiting_external <-> retrying -> terminal.
type Orchestrator struct {
	Deps
	cfg      config.ActivationConfig
	metrics  *metrics.Metrics
	logger   *logger.Logger
	inflight *inflight
	now      func() time.Time
}

func NewOrchestrator(deps Deps, cfg config.ActivationConfig, m *metrics.Metrics, log *logger.Logger) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Orchestrator{
		Deps:     deps,
		cfg:      cfg,
		metrics:  m,
		logger:   log,
		inflight: newInflight(),
		now:      time.Now,
	}
}

func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// snapshot carries the display names copied into history rows.
type snapshot struct {
	username           string
	subscriberRef      string
	profileName        string
	serviceProfileName string
	serviceProfileRef  string
	previousBilling    string
}

func subscriberLockKey(id string) string {
	return "subscriber:" + id
}

// activationLockKey is held by whoever talks to the external system for an
// activation, and by whoever compensates it.
func activationLockKey(id string) string {
	return "activation:" + id
}

// Activate validates, distributes and hands the activation to the workers.
// When distribution fails the activation is returned with the error.
func (o *Orchestrator) Activate(ctx context.Context, req *ActivateRequest) (*Activation, error) {
	if err := validateActivateRequest(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := o.Repo.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrActivationNotFound) {
			return nil, err
		}
	}

	unlock, err := o.Locker.Lock(ctx, subscriberLockKey(req.SubscriberID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	open, err := o.Repo.HasOpenActivation(ctx, req.SubscriberID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, fmt.Errorf("%w: subscriber %s has an activation in progress", ErrBusy, req.SubscriberID)
	}

	a, sc, plan, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := o.Repo.CreateActivation(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateRequest) {
			return o.Repo.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		return nil, err
	}
	o.metrics.ActivationTransition(string(StatusCreated))
	o.record(ctx, a, sc, nil, "created", "", "")

	if err := o.transition(ctx, a, sc, nil, StatusDistributing, "distribution_started", ""); err != nil {
		return a, err
	}

	previous := o.balance(ctx, a.PayerWallet)
	entries := plan.LedgerEntries()
	if len(entries) > 0 {
		txIDs, err := o.Ledger.ApplyDistribution(ctx, a.ID, a.ActedBy, entries)
		if err != nil {
			a.FailureReason = err.Error()
			if terr := o.transition(ctx, a, sc, nil, StatusFailed, "distribution_failed", err.Error()); terr != nil {
				o.logger.Errorf("Failed to mark activation %s failed: %v", a.ID, terr)
			}
			return a, err
		}
		a.SettlementTransactionID = txIDs[0]
	}

	now := o.now().UTC()
	at := &Attempt{
		ID:                       uuid.New().String(),
		BillingActivationID:      a.ID,
		PreviousServiceProfileID: a.PreviousProfileID,
		NewServiceProfileID:      a.NewProfileID,
		PreviousBillingProfileID: sc.previousBilling,
		NewBillingProfileID:      a.BillingProfileID,
		PreviousExpiry:           a.PreviousExpiry,
		NewExpiry:                a.NewExpiry,
		PreviousBalance:          previous,
		NewBalance:               o.balance(ctx, a.PayerWallet),
		Type:                     a.Type,
		Status:                   AttemptPending,
		CreatedAt:                now,
	}
	if err := o.Repo.CreateAttempt(ctx, at); err != nil {
		o.logger.Errorf("Failed to record attempt for activation %s: %v", a.ID, err)
		return a, o.fail(ctx, a, sc, nil, fmt.Sprintf("failed to record attempt: %v", err))
	}

	if err := o.transition(ctx, a, sc, at, StatusAwaitingExternal, "attempt_started", ""); err != nil {
		return a, err
	}
	if err := o.Queue.Push(ctx, a.ID, now); err != nil {
		// Recovery re-enqueues attempts left pending.
		o.logger.Errorf("Failed to enqueue activation %s: %v", a.ID, err)
	}

	o.logger.WithFields(map[string]interface{}{
		"activation_id": a.ID,
		"subscriber_id": a.SubscriberID,
		"type":          a.Type,
		"amount":        a.Amount.String(),
	}).Info("Activation accepted")
	return a, nil
}

func validateActivateRequest(req *ActivateRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is required", ErrValidation)
	}
	req.SubscriberID = strings.TrimSpace(req.SubscriberID)
	req.BillingProfileID = strings.TrimSpace(req.BillingProfileID)
	if req.SubscriberID == "" {
		return fmt.Errorf("%w: subscriber_id is required", ErrValidation)
	}
	if req.BillingProfileID == "" {
		return fmt.Errorf("%w: billing_profile_id is required", ErrValidation)
	}
	if req.ActedBy == "" {
		return fmt.Errorf("%w: acting user is required", ErrValidation)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = PaymentUserWallet
	}
	if !req.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment_method %q", ErrValidation, req.PaymentMethod)
	}
	if req.PaymentMethod == PaymentCustomWallet && req.PayerWalletID == "" {
		return fmt.Errorf("%w: payer_wallet_id is required for custom_wallet payments", ErrValidation)
	}
	if req.Type != "" && !req.Type.Valid() {
		return fmt.Errorf("%w: unknown activation type %q", ErrValidation, req.Type)
	}
	if req.Type == TypeSuspension {
		return ErrNotBillable
	}
	return nil
}

// prepare loads everything the activation depends on and builds the
// distribution plan. Nothing is written.
func (o *Orchestrator) prepare(ctx context.Context, req *ActivateRequest) (*Activation, *snapshot, *distribution.Plan, error) {
	sub, err := o.Subscribers.GetSubscriber(ctx, req.SubscriberID)
	if err != nil {
		return nil, nil, nil, err
	}

	profile, err := o.Profiles.GetProfile(ctx, req.BillingProfileID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !profile.Billable() {
		return nil, nil, nil, fmt.Errorf("%w: %s", billing.ErrProfileInactive, profile.ID)
	}
	if profile.GroupID != "" && profile.GroupID != sub.GroupID {
		return nil, nil, nil, ErrProfileOutOfScope
	}

	svc, err := o.Subscribers.GetServiceProfile(ctx, profile.ServiceProfileID)
	if err != nil {
		return nil, nil, nil, err
	}

	var current *billing.Profile
	if sub.BillingProfileID != "" {
		if p, err := o.Profiles.GetProfile(ctx, sub.BillingProfileID); err == nil {
			current = p
		}
	}

	now := o.now().UTC()
	t := req.Type
	if t == "" {
		t = inferType(sub, current, profile, now)
	}
	expiry := newExpiry(t, sub.Expiration, profile.DurationDays, now)

	payer, err := o.payer(ctx, req)
	if err != nil {
		return nil, nil, nil, err
	}

	plan, err := o.Resolver.Resolve(ctx, distribution.Request{
		Profile:       profile,
		Payer:         payer,
		ApplyCashback: req.ApplyCashback,
		Cashback: distribution.CashbackContext{
			SubscriberID:    sub.ID,
			CashbackGroupID: sub.CashbackGroupID,
			ActedBy:         req.ActedBy,
			OnBehalfOf:      req.OnBehalfOf,
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}

	a := &Activation{
		ID:                uuid.New().String(),
		SubscriberID:      sub.ID,
		BillingProfileID:  profile.ID,
		ActedBy:           req.ActedBy,
		OnBehalfOf:        req.OnBehalfOf,
		PaymentMethod:     req.PaymentMethod,
		PayerWallet:       payer.Wallet,
		Source:            req.Source,
		Type:              t,
		Amount:            plan.Total,
		CashbackAmount:    plan.CashbackAmount(),
		ApplyCashback:     req.ApplyCashback,
		PreviousExpiry:    sub.Expiration,
		NewExpiry:         &expiry,
		PreviousProfileID: sub.ProfileID,
		NewProfileID:      svc.ID,
		Status:            StatusCreated,
		IdempotencyKey:    req.IdempotencyKey,
		Distribution:      plan.Document(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	sc := &snapshot{
		username:           sub.Username,
		subscriberRef:      sub.Ref(),
		profileName:        profile.Name,
		serviceProfileName: svc.Name,
		serviceProfileRef:  svc.Ref(),
		previousBilling:    sub.BillingProfileID,
	}
	return a, sc, plan, nil
}

// payer resolves the paying wallet and checks that it can be charged.
func (o *Orchestrator) payer(ctx context.Context, req *ActivateRequest) (distribution.Payer, error) {
	actor := req.ActedBy
	if req.OnBehalfOf != "" {
		actor = req.OnBehalfOf
	}

	var ref wallet.Ref
	switch req.PaymentMethod {
	case PaymentCash:
		return distribution.Payer{RefundWallet: wallet.UserRef(actor)}, nil
	case PaymentCustomWallet:
		ref = wallet.CustomRef(req.PayerWalletID)
	default:
		ref = wallet.UserRef(actor)
	}

	w, err := o.Wallets.GetWallet(ctx, ref)
	if err != nil {
		return distribution.Payer{}, err
	}
	if w.IsDeleted {
		return distribution.Payer{}, fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, ref)
	}
	if w.Status != wallet.StatusActive {
		return distribution.Payer{}, fmt.Errorf("%w: %s", wallet.ErrWalletInactive, ref)
	}
	return distribution.Payer{Wallet: ref, RefundWallet: ref}, nil
}

func (o *Orchestrator) balance(ctx context.Context, ref wallet.Ref) decimal.NullDecimal {
	if ref.IsZero() {
		return decimal.NullDecimal{}
	}
	w, err := o.Wallets.GetWallet(ctx, ref)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(w.Balance)
}

// Process runs one external call for an activation popped from the queue.
// Terminal activations are ignored so stale queue entries are harmless.
func (o *Orchestrator) Process(ctx context.Context, id string) error {
	if !o.inflight.acquire(id) {
		return fmt.Errorf("%w: activation %s is being processed", ErrBusy, id)
	}
	defer o.inflight.release(id)

	// held across the call
	unlock, err := o.Locker.Lock(ctx, activationLockKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	a, err := o.Repo.GetActivation(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != StatusAwaitingExternal && a.Status != StatusRetrying {
		return nil
	}

	now := o.now().UTC()
	if a.Status == StatusRetrying && a.NextRetryAt != nil && a.NextRetryAt.After(now) {
		return o.Queue.Push(ctx, a.ID, *a.NextRetryAt)
	}

	sc := o.describe(ctx, a)
	at, err := o.currentAttempt(ctx, a, sc)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ExternalTimeout)
	start := time.Now()
	o.metrics.CallStarted()
	res, callErr := o.External.ChangeSubscriberProfile(callCtx, sc.subscriberRef, sc.serviceProfileRef, *a.NewExpiry)
	o.metrics.CallFinished()
	cancel()
	o.metrics.ObserveExternalCall(callOutcome(res, callErr), time.Since(start))

	if ctx.Err() != nil {
		// Shutting down. The attempt stays processing and recovery treats
		// it as a timeout.
		return ctx.Err()
	}
	return o.applyOutcome(ctx, a, at, sc, res, callErr)
}

func callOutcome(res *radius.Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res.Success():
		return "success"
	case radius.Retryable(res, nil):
		return "retryable"
	default:
		return "rejected"
	}
}

// currentAttempt returns the open attempt marked processing, opening a new
// one when the activation is coming back from retrying. Callers hold the
// activation lock and make the call right after.
func (o *Orchestrator) currentAttempt(ctx context.Context, a *Activation, sc *snapshot) (*Attempt, error) {
	attempts, err := o.Repo.ListAttempts(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	now := o.now().UTC()
	for i := len(attempts) - 1; i >= 0; i-- {
		at := &attempts[i]
		switch at.Status {
		case AttemptProcessing:
			// left behind by a worker that stopped mid-call
			return at, nil
		case AttemptPending:
			at.Status = AttemptProcessing
			at.ProcessingStartedAt = &now
			if err := o.Repo.StartAttempt(ctx, at); err != nil {
				return nil, err
			}
			return at, nil
		}
	}

	at := &Attempt{
		ID:                  uuid.New().String(),
		BillingActivationID: a.ID,
		NewServiceProfileID: a.NewProfileID,
		NewBillingProfileID: a.BillingProfileID,
		PreviousExpiry:      a.PreviousExpiry,
		NewExpiry:           a.NewExpiry,
		Type:                a.Type,
		Status:              AttemptProcessing,
		RetryCount:          a.RetryCount,
		ProcessingStartedAt: &now,
		CreatedAt:           now,
	}
	if n := len(attempts); n > 0 {
		last := attempts[n-1]
		at.PreviousServiceProfileID = last.PreviousServiceProfileID
		at.PreviousBillingProfileID = last.PreviousBillingProfileID
		at.PreviousBalance = last.PreviousBalance
		at.NewBalance = last.NewBalance
	} else {
		at.PreviousServiceProfileID = a.PreviousProfileID
	}
	if a.RetryCount > 0 {
		at.LastRetryAt = &now
	}
	if err := o.Repo.CreateAttempt(ctx, at); err != nil {
		return nil, err
	}

	if a.Status == StatusRetrying {
		a.NextRetryAt = nil
		if err := o.transition(ctx, a, sc, at, StatusAwaitingExternal, "retry_started", ""); err != nil {
			return nil, err
		}
	}
	return at, nil
}

// applyOutcome finalizes the attempt and moves the activation on: success
// completes it, transient failures retry until the bound, anything else
// fails it and reverses the ledger.
func (o *Orchestrator) applyOutcome(ctx context.Context, a *Activation, at *Attempt, sc *snapshot, res *radius.Result, callErr error) error {
	current, err := o.Repo.GetActivation(ctx, a.ID)
	if err != nil {
		return err
	}
	if current.Status != a.Status {
		o.logger.Errorf("Activation %s moved to %s before its outcome (%s) was applied",
			a.ID, current.Status, callOutcome(res, callErr))
		return fmt.Errorf("%w: activation %s is %s, expected %s", ErrInvalidTransition, a.ID, current.Status, a.Status)
	}

	now := o.now().UTC()
	at.recordResult(res)
	at.CompletedAt = &now

	if callErr == nil && res != nil && res.Success() {
		at.Status = AttemptCompleted
		if err := o.Repo.UpdateAttempt(ctx, at); err != nil {
			return err
		}
		if err := o.Subscribers.UpdateSubscriberService(ctx, a.SubscriberID, a.NewProfileID, a.BillingProfileID, *a.NewExpiry); err != nil {
			// The external system is authoritative; the next sync corrects it.
			o.logger.Warnf("Failed to update local subscriber %s: %v", a.SubscriberID, err)
		}
		a.CompletedAt = &now
		a.NextRetryAt = nil
		a.FailureReason = ""
		return o.transition(ctx, a, sc, at, StatusCompleted, "completed", res.Message)
	}

	reason := failureReason(res, callErr)
	at.Status = AttemptFailed
	if callErr != nil {
		at.APIMessage = callErr.Error()
	}
	if err := o.Repo.UpdateAttempt(ctx, at); err != nil {
		return err
	}

	if !radius.Retryable(res, callErr) {
		return o.fail(ctx, a, sc, at, "rejected by subscriber management: "+reason)
	}

	a.RetryCount++
	if a.RetryCount >= o.cfg.MaxRetries {
		return o.fail(ctx, a, sc, at, fmt.Sprintf("retries exhausted after %d attempts: %s", a.RetryCount, reason))
	}

	due := now.Add(backoff(o.cfg, a.RetryCount))
	a.NextRetryAt = &due
	a.FailureReason = reason
	if err := o.transition(ctx, a, sc, at, StatusRetrying, "retry_scheduled", reason); err != nil {
		return err
	}
	o.metrics.RetryScheduled()
	return o.Queue.Push(ctx, a.ID, due)
}

func failureReason(res *radius.Result, err error) string {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "timed out"
		}
		return err.Error()
	}
	if res == nil {
		return "no response"
	}
	return fmt.Sprintf("status %d: %s", res.StatusCode, res.Message)
}

// fail reverses the distribution and marks the activation failed. A partial
// reversal is recorded in the failure reason; the activation still fails
// because the external call cannot be retried.
func (o *Orchestrator) fail(ctx context.Context, a *Activation, sc *snapshot, at *Attempt, reason string) error {
	if _, err := o.Ledger.ReverseActivation(ctx, a.ID, "", reason, systemActor); err != nil {
		o.logger.Errorf("Reversal incomplete for activation %s: %v", a.ID, err)
		reason = fmt.Sprintf("%s; reversal incomplete: %v", reason, err)
	}
	a.FailureReason = reason
	a.NextRetryAt = nil
	now := o.now().UTC()
	a.CompletedAt = &now
	return o.transition(ctx, a, sc, at, StatusFailed, "failed", reason)
}

// Cancel stops an activation waiting on the external system and refunds it.
func (o *Orchestrator) Cancel(ctx context.Context, id, reason, actedBy string) (*Activation, error) {
	return o.compensate(ctx, id, reason, actedBy, AttemptCancelled, "cancelled", func(s Status) bool {
		return s == StatusAwaitingExternal || s == StatusRetrying
	})
}

// Rollback compensates any non-terminal activation, including ones left in
// created or distributing by a crash.
func (o *Orchestrator) Rollback(ctx context.Context, id, reason, actedBy string) (*Activation, error) {
	return o.compensate(ctx, id, reason, actedBy, AttemptRolledBack, "rolled_back", func(s Status) bool {
		return !s.Terminal()
	})
}

func (o *Orchestrator) compensate(ctx context.Context, id, reason, actedBy string, attemptStatus AttemptStatus, event string, allowed func(Status) bool) (*Activation, error) {
	if !o.inflight.acquire(id) {
		return nil, fmt.Errorf("%w: external call in flight for %s", ErrBusy, id)
	}
	defer o.inflight.release(id)

	// Another instance may be mid-call; its attempt is processing.
	if err := o.refuseInFlight(ctx, id); err != nil {
		return nil, err
	}
	release, err := o.Locker.Lock(ctx, activationLockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := o.Repo.GetActivation(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := o.Locker.Lock(ctx, subscriberLockKey(a.SubscriberID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Reload under the lock; Activate may have moved it on.
	if a, err = o.Repo.GetActivation(ctx, id); err != nil {
		return nil, err
	}
	if !allowed(a.Status) {
		return a, fmt.Errorf("%w: activation is %s", ErrInvalidTransition, a.Status)
	}
	if reason == "" {
		reason = event + " by " + actedBy
	}

	if _, err := o.Ledger.ReverseActivation(ctx, a.ID, "", reason, actedBy); err != nil {
		// Nothing moves; the operator can retry once funds allow.
		return a, err
	}

	now := o.now().UTC()
	attempts, err := o.Repo.ListAttempts(ctx, a.ID)
	if err != nil {
		return a, err
	}
	var last *Attempt
	for i := range attempts {
		at := &attempts[i]
		if at.Status != AttemptProcessing && at.Status != AttemptPending {
			continue
		}
		at.Status = attemptStatus
		at.CompletedAt = &now
		if err := o.Repo.UpdateAttempt(ctx, at); err != nil {
			return a, err
		}
		last = at
	}

	a.FailureReason = reason
	a.NextRetryAt = nil
	a.CompletedAt = &now
	if err := o.transition(ctx, a, o.describe(ctx, a), last, StatusRolledBack, event, reason); err != nil {
		return a, err
	}
	o.logger.Infof("Activation %s %s by %s", a.ID, event, actedBy)
	return a, nil
}

// refuseInFlight fails with ErrBusy while an attempt's external call started
// recently enough to still be running. Older ones belong to recovery.
func (o *Orchestrator) refuseInFlight(ctx context.Context, id string) error {
	attempts, err := o.Repo.ListAttempts(ctx, id)
	if err != nil {
		return err
	}
	cutoff := o.staleBefore(o.now().UTC())
	for _, at := range attempts {
		if at.Status == AttemptProcessing && at.ProcessingStartedAt != nil && at.ProcessingStartedAt.After(cutoff) {
			return fmt.Errorf("%w: external call in flight for %s since %s", ErrBusy, id, at.ProcessingStartedAt.Format(time.RFC3339))
		}
	}
	return nil
}

// Reverse undoes a completed activation. The reversal is its own activation
// linked through ReversalOfID; the original stays completed. Calling it
// again resumes a partial reversal.
func (o *Orchestrator) Reverse(ctx context.Context, id, reason, actedBy string) (*Activation, error) {
	a, err := o.Repo.GetActivation(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := o.Locker.Lock(ctx, subscriberLockKey(a.SubscriberID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if a.Status != StatusCompleted {
		return a, fmt.Errorf("%w: only completed activations can be reversed, status is %s", ErrInvalidTransition, a.Status)
	}
	if reason == "" {
		reason = "reversal of " + a.ID
	}

	sc := o.describe(ctx, a)
	now := o.now().UTC()

	rev, err := o.Repo.FindReversalOf(ctx, a.ID)
	resumed := err == nil
	switch {
	case resumed:
	case errors.Is(err, ErrActivationNotFound):
		rev = &Activation{
			ID:                uuid.New().String(),
			SubscriberID:      a.SubscriberID,
			BillingProfileID:  a.BillingProfileID,
			ActedBy:           actedBy,
			PaymentMethod:     a.PaymentMethod,
			PayerWallet:       a.PayerWallet,
			Source:            "reversal",
			Type:              a.Type,
			Amount:            a.Amount,
			CashbackAmount:    a.CashbackAmount,
			PreviousExpiry:    a.NewExpiry,
			NewExpiry:         a.PreviousExpiry,
			PreviousProfileID: a.NewProfileID,
			NewProfileID:      a.PreviousProfileID,
			Status:            StatusRolledBack,
			FailureReason:     reason,
			ReversalOfID:      a.ID,
			Distribution:      a.Distribution,
			CreatedAt:         now,
			UpdatedAt:         now,
			CompletedAt:       &now,
		}
		if err := o.Repo.CreateActivation(ctx, rev); err != nil {
			return nil, err
		}
		o.metrics.ActivationTransition(string(StatusRolledBack))
		o.record(ctx, rev, sc, nil, "reversal", "", reason)
	default:
		return nil, err
	}

	reversed, revErr := o.Ledger.ReverseActivation(ctx, a.ID, rev.ID, reason, actedBy)
	if resumed && revErr == nil && len(reversed) == 0 {
		return rev, ErrAlreadyReversed
	}
	if revErr != nil {
		rev.FailureReason = fmt.Sprintf("%s; reversal incomplete: %v", reason, revErr)
		rev.UpdatedAt = now
		if err := o.Repo.UpdateActivation(ctx, rev, rev.Status); err != nil {
			o.logger.Errorf("Failed to record partial reversal %s: %v", rev.ID, err)
		}
		return rev, revErr
	}

	o.record(ctx, a, sc, nil, "reversed", a.Status, reason)
	o.logger.Infof("Activation %s reversed by %s (%d transactions)", a.ID, actedBy, len(reversed))
	return rev, nil
}

// ReplayOutcome applies an externally reported result as if the pending
// call had returned it. Replaying onto a completed activation is a no-op.
func (o *Orchestrator) ReplayOutcome(ctx context.Context, id string, req *OutcomeRequest) (*Activation, error) {
	if req == nil || req.StatusCode < 100 || req.StatusCode > 599 {
		return nil, fmt.Errorf("%w: status_code must be a valid HTTP status", ErrValidation)
	}
	if !o.inflight.acquire(id) {
		return nil, fmt.Errorf("%w: external call in flight for %s", ErrBusy, id)
	}
	defer o.inflight.release(id)

	unlock, err := o.Locker.Lock(ctx, activationLockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := o.Repo.GetActivation(ctx, id)
	if err != nil {
		return nil, err
	}
	switch a.Status {
	case StatusCompleted:
		return a, nil
	case StatusAwaitingExternal, StatusRetrying:
	default:
		return a, fmt.Errorf("%w: cannot apply an outcome to an activation in status %s", ErrInvalidTransition, a.Status)
	}

	sc := o.describe(ctx, a)
	at, err := o.currentAttempt(ctx, a, sc)
	if err != nil {
		return a, err
	}
	res := &radius.Result{StatusCode: req.StatusCode, Message: req.Message, RawResponse: req.RawResponse}
	if err := o.applyOutcome(ctx, a, at, sc, res, nil); err != nil {
		return a, err
	}
	return a, nil
}

// Recover re-enqueues retrying activations and ones whose attempt was
// never picked up, and times out attempts left processing by a crashed
// worker. Only attempts whose call started can time out. It returns how
// many activations it touched.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	retrying, err := o.Repo.ListByStatus(ctx, StatusRetrying, recoveryBatch)
	if err != nil {
		return 0, err
	}
	now := o.now().UTC()
	n := 0
	for _, a := range retrying {
		due := now
		if a.NextRetryAt != nil {
			due = *a.NextRetryAt
		}
		if err := o.Queue.Push(ctx, a.ID, due); err != nil {
			return n, err
		}
		n++
	}

	staleBefore := o.staleBefore(now)
	waiting, err := o.Repo.ListByStatus(ctx, StatusAwaitingExternal, recoveryBatch)
	if err != nil {
		return n, err
	}
	for _, a := range waiting {
		queued, err := o.queuedBefore(ctx, a.ID, staleBefore)
		if err != nil {
			return n, err
		}
		if !queued {
			continue
		}
		if err := o.Queue.Push(ctx, a.ID, now); err != nil {
			return n, err
		}
		n++
	}

	stale, err := o.Repo.ListProcessingAttempts(ctx, staleBefore)
	if err != nil {
		return n, err
	}
	for i := range stale {
		at := &stale[i]
		if err := o.timeOut(ctx, at); err != nil {
			o.logger.Errorf("Failed to recover attempt %s: %v", at.ID, err)
			continue
		}
		n++
	}

	if n > 0 {
		o.logger.Infof("Recovered %d activations", n)
	}
	return n, nil
}

func (o *Orchestrator) staleBefore(now time.Time) time.Time {
	return now.Add(-2*o.cfg.ExternalTimeout - o.cfg.PollInterval)
}

// queuedBefore reports whether the activation's latest attempt is still
// pending and was created before cutoff.
func (o *Orchestrator) queuedBefore(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	attempts, err := o.Repo.ListAttempts(ctx, id)
	if err != nil {
		return false, err
	}
	if len(attempts) == 0 {
		return false, nil
	}
	last := attempts[len(attempts)-1]
	return last.Status == AttemptPending && last.CreatedAt.Before(cutoff), nil
}

func (o *Orchestrator) timeOut(ctx context.Context, at *Attempt) error {
	id := at.BillingActivationID
	if !o.inflight.acquire(id) {
		return nil
	}
	defer o.inflight.release(id)

	unlock, err := o.Locker.Lock(ctx, activationLockKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	a, err := o.Repo.GetActivation(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != StatusAwaitingExternal {
		return nil
	}
	// the listing may be stale; only a still-processing attempt times out
	attempts, err := o.Repo.ListAttempts(ctx, id)
	if err != nil {
		return err
	}
	for i := range attempts {
		if attempts[i].ID == at.ID && attempts[i].Status == AttemptProcessing {
			return o.applyOutcome(ctx, a, &attempts[i], o.describe(ctx, a), nil, context.DeadlineExceeded)
		}
	}
	return nil
}

func (o *Orchestrator) Get(ctx context.Context, id string) (*StatusResponse, error) {
	a, err := o.Repo.GetActivation(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := o.Repo.ListAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	if attempts == nil {
		attempts = []Attempt{}
	}
	return &StatusResponse{Activation: a, Attempts: attempts}, nil
}

// HasCompletedActivation lets billing refuse to edit profiles in use.
func (o *Orchestrator) HasCompletedActivation(ctx context.Context, profileID string) (bool, error) {
	return o.Repo.HasCompletedActivation(ctx, profileID)
}

// describe rebuilds the history snapshot of a stored activation. Missing
// rows fall back to ids.
func (o *Orchestrator) describe(ctx context.Context, a *Activation) *snapshot {
	sc := &snapshot{subscriberRef: a.SubscriberID, serviceProfileRef: a.NewProfileID}
	if sub, err := o.Subscribers.GetSubscriber(ctx, a.SubscriberID); err == nil {
		sc.username = sub.Username
		sc.subscriberRef = sub.Ref()
	}
	if p, err := o.Profiles.GetProfile(ctx, a.BillingProfileID); err == nil {
		sc.profileName = p.Name
	}
	if svc, err := o.Subscribers.GetServiceProfile(ctx, a.NewProfileID); err == nil {
		sc.serviceProfileName = svc.Name
		sc.serviceProfileRef = svc.Ref()
	}
	return sc
}

func (o *Orchestrator) transition(ctx context.Context, a *Activation, sc *snapshot, at *Attempt, to Status, event, reason string) error {
	from := a.Status
	a.Status = to
	a.UpdatedAt = o.now().UTC()
	if err := o.Repo.UpdateActivation(ctx, a, from); err != nil {
		a.Status = from
		return err
	}
	o.metrics.ActivationTransition(string(to))
	o.record(ctx, a, sc, at, event, from, reason)
	return nil
}

// record writes a history snapshot. History is best effort.
func (o *Orchestrator) record(ctx context.Context, a *Activation, sc *snapshot, at *Attempt, event string, from Status, reason string) {
	e := &history.Entry{
		BillingActivationID: a.ID,
		Event:               event,
		FromStatus:          string(from),
		ToStatus:            string(a.Status),
		SubscriberID:        a.SubscriberID,
		SubscriberUsername:  sc.username,
		ActedBy:             a.ActedBy,
		OnBehalfOf:          a.OnBehalfOf,
		BillingProfileID:    a.BillingProfileID,
		BillingProfileName:  sc.profileName,
		ServiceProfileName:  sc.serviceProfileName,
		ActivationType:      string(a.Type),
		Amount:              a.Amount,
		CashbackAmount:      a.CashbackAmount,
		PreviousExpiry:      a.PreviousExpiry,
		NewExpiry:           a.NewExpiry,
		RetryCount:          a.RetryCount,
		Reason:              reason,
		Distribution:        a.Distribution,
	}
	if at != nil {
		e.RadiusActivationID = at.ID
	}
	if err := o.History.Record(ctx, e); err != nil {
		o.logger.Errorf("Failed to record history for activation %s: %v", a.ID, err)
	}
}

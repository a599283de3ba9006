package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/activation"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/cashback"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/history"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/subscriber"
)

func TestActivationUniqueness(t *testing.T) {
	repo := New().Activations()
	ctx := context.Background()

	require.NoError(t, repo.CreateActivation(ctx, &activation.Activation{
		ID: "ba-1", SubscriberID: "sub-1", Status: activation.StatusCreated, IdempotencyKey: "k-1",
	}))

	err := repo.CreateActivation(ctx, &activation.Activation{
		ID: "ba-2", SubscriberID: "sub-2", Status: activation.StatusCreated, IdempotencyKey: "k-1",
	})
	assert.True(t, errors.Is(err, activation.ErrDuplicateRequest))

	err = repo.CreateActivation(ctx, &activation.Activation{ID: "ba-3", SubscriberID: "sub-1", Status: activation.StatusCreated})
	assert.True(t, errors.Is(err, activation.ErrBusy))

	open, err := repo.HasOpenActivation(ctx, "sub-1")
	require.NoError(t, err)
	assert.True(t, open)

	a, err := repo.GetActivation(ctx, "ba-1")
	require.NoError(t, err)
	a.Status = activation.StatusCompleted
	require.NoError(t, repo.UpdateActivation(ctx, a, activation.StatusCreated))

	open, err = repo.HasOpenActivation(ctx, "sub-1")
	require.NoError(t, err)
	assert.False(t, open)
	require.NoError(t, repo.CreateActivation(ctx, &activation.Activation{ID: "ba-3", SubscriberID: "sub-1", Status: activation.StatusCreated}))

	found, err := repo.FindByIdempotencyKey(ctx, "k-1")
	require.NoError(t, err)
	assert.Equal(t, "ba-1", found.ID)

	_, err = repo.GetActivation(ctx, "nope")
	assert.True(t, errors.Is(err, activation.ErrActivationNotFound))
}

func TestActivationReturnsCopies(t *testing.T) {
	repo := New().Activations()
	ctx := context.Background()

	next := time.Now().Add(time.Minute)
	require.NoError(t, repo.CreateActivation(ctx, &activation.Activation{
		ID: "ba-1", SubscriberID: "sub-1", Status: activation.StatusRetrying, NextRetryAt: &next,
	}))

	a, err := repo.GetActivation(ctx, "ba-1")
	require.NoError(t, err)
	a.Status = activation.StatusFailed
	*a.NextRetryAt = time.Time{}

	again, err := repo.GetActivation(ctx, "ba-1")
	require.NoError(t, err)
	assert.Equal(t, activation.StatusRetrying, again.Status)
	assert.True(t, again.NextRetryAt.Equal(next))
}

func TestListByStatusOrdersByDue(t *testing.T) {
	repo := New().Activations()
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"late", "early", "middle"} {
		due := now.Add([]time.Duration{3 * time.Minute, time.Minute, 2 * time.Minute}[i])
		require.NoError(t, repo.CreateActivation(ctx, &activation.Activation{
			ID: id, SubscriberID: "sub-" + id, Status: activation.StatusRetrying, NextRetryAt: &due,
		}))
	}

	list, err := repo.ListByStatus(ctx, activation.StatusRetrying, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].ID)
	assert.Equal(t, "middle", list[1].ID)
}

func TestHasCompletedActivationIgnoresReversals(t *testing.T) {
	repo := New().Activations()
	ctx := context.Background()

	require.NoError(t, repo.CreateActivation(ctx, &activation.Activation{
		ID: "ba-rev", SubscriberID: "sub-1", BillingProfileID: "bp-1", Status: activation.StatusCompleted, ReversalOfID: "ba-0",
	}))
	used, err := repo.HasCompletedActivation(ctx, "bp-1")
	require.NoError(t, err)
	assert.False(t, used)

	rev, err := repo.FindReversalOf(ctx, "ba-0")
	require.NoError(t, err)
	assert.Equal(t, "ba-rev", rev.ID)

	require.NoError(t, repo.CreateActivation(ctx, &activation.Activation{
		ID: "ba-1", SubscriberID: "sub-1", BillingProfileID: "bp-1", Status: activation.StatusCompleted,
	}))
	used, err = repo.HasCompletedActivation(ctx, "bp-1")
	require.NoError(t, err)
	assert.True(t, used)
}

func TestSingleProcessingAttempt(t *testing.T) {
	repo := New().Activations()
	ctx := context.Background()
	started := time.Now().Add(-10 * time.Minute)

	require.NoError(t, repo.CreateAttempt(ctx, &activation.Attempt{
		ID: "at-1", BillingActivationID: "ba-1", Status: activation.AttemptProcessing, ProcessingStartedAt: &started,
	}))
	err := repo.CreateAttempt(ctx, &activation.Attempt{ID: "at-2", BillingActivationID: "ba-1", Status: activation.AttemptProcessing})
	assert.True(t, errors.Is(err, activation.ErrBusy))

	stale, err := repo.ListProcessingAttempts(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)

	require.NoError(t, repo.UpdateAttempt(ctx, &activation.Attempt{ID: "at-1", Status: activation.AttemptFailed, APIStatusCode: 504}))
	require.NoError(t, repo.CreateAttempt(ctx, &activation.Attempt{ID: "at-2", BillingActivationID: "ba-1", Status: activation.AttemptProcessing}))

	attempts, err := repo.ListAttempts(ctx, "ba-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, activation.AttemptFailed, attempts[0].Status)
	assert.Equal(t, 504, attempts[0].APIStatusCode)
}

func TestUpdateActivationComparesStatus(t *testing.T) {
	repo := New().Activations()
	ctx := context.Background()

	require.NoError(t, repo.CreateActivation(ctx, &activation.Activation{
		ID: "ba-1", SubscriberID: "sub-1", Status: activation.StatusAwaitingExternal,
	}))

	// a canceller moves it first
	cancelled, err := repo.GetActivation(ctx, "ba-1")
	require.NoError(t, err)
	cancelled.Status = activation.StatusRolledBack
	require.NoError(t, repo.UpdateActivation(ctx, cancelled, activation.StatusAwaitingExternal))

	// the worker still holds the awaiting_external copy
	stale, err := repo.GetActivation(ctx, "ba-1")
	require.NoError(t, err)
	stale.Status = activation.StatusCompleted
	err = repo.UpdateActivation(ctx, stale, activation.StatusAwaitingExternal)
	assert.True(t, errors.Is(err, activation.ErrInvalidTransition))

	a, err := repo.GetActivation(ctx, "ba-1")
	require.NoError(t, err)
	assert.Equal(t, activation.StatusRolledBack, a.Status)

	missing := &activation.Activation{ID: "nope", Status: activation.StatusCompleted}
	err = repo.UpdateActivation(ctx, missing, activation.StatusAwaitingExternal)
	assert.True(t, errors.Is(err, activation.ErrActivationNotFound))
}

func TestStartAttemptOnlyFromPending(t *testing.T) {
	repo := New().Activations()
	ctx := context.Background()

	require.NoError(t, repo.CreateAttempt(ctx, &activation.Attempt{
		ID: "at-1", BillingActivationID: "ba-1", Status: activation.AttemptPending,
	}))
	err := repo.CreateAttempt(ctx, &activation.Attempt{ID: "at-2", BillingActivationID: "ba-1", Status: activation.AttemptPending})
	assert.True(t, errors.Is(err, activation.ErrBusy))

	// queued but not called yet, so recovery has nothing to time out
	stale, err := repo.ListProcessingAttempts(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	started := time.Now()
	require.NoError(t, repo.StartAttempt(ctx, &activation.Attempt{ID: "at-1", ProcessingStartedAt: &started}))
	err = repo.StartAttempt(ctx, &activation.Attempt{ID: "at-1", ProcessingStartedAt: &started})
	assert.True(t, errors.Is(err, activation.ErrBusy))

	stale, err = repo.ListProcessingAttempts(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, activation.AttemptProcessing, stale[0].Status)
	require.NotNil(t, stale[0].ProcessingStartedAt)
	assert.True(t, stale[0].ProcessingStartedAt.Equal(started))
}

func TestCashbackLookups(t *testing.T) {
	repo := New().Cashback()
	ctx := context.Background()

	require.NoError(t, repo.SetSubAgentCashback(ctx, &cashback.SubAgentCashback{SupervisorID: "boss-1", SubAgentID: "sub-1", BillingProfileID: "bp-1", Amount: decimal.NewFromInt(2)}))
	require.NoError(t, repo.SetSubAgentCashback(ctx, &cashback.SubAgentCashback{SupervisorID: "boss-2", SubAgentID: "sub-1", BillingProfileID: "bp-1", Amount: decimal.NewFromInt(4)}))

	sc, err := repo.FindSubAgentCashback(ctx, "boss-1", "sub-1", "bp-1")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.True(t, sc.Amount.Equal(decimal.NewFromInt(2)))

	// no supervisor picks the latest entry
	sc, err = repo.FindSubAgentCashback(ctx, "", "sub-1", "bp-1")
	require.NoError(t, err)
	assert.Equal(t, "boss-2", sc.SupervisorID)

	sc, err = repo.FindSubAgentCashback(ctx, "", "sub-1", "bp-2")
	require.NoError(t, err)
	assert.Nil(t, sc)

	err = repo.SetProfileAmount(ctx, &cashback.ProfileAmount{GroupID: "gold", BillingProfileID: "bp-1", Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)

	require.NoError(t, repo.CreateGroup(ctx, &cashback.Group{ID: "gold", Name: "Gold"}))
	require.NoError(t, repo.SetProfileAmount(ctx, &cashback.ProfileAmount{GroupID: "gold", BillingProfileID: "bp-1", Amount: decimal.NewFromInt(1)}))
	pa, err := repo.FindProfileAmount(ctx, "gold", "bp-1")
	require.NoError(t, err)
	require.NotNil(t, pa)

	uc, err := repo.FindUserCashback(ctx, "sub-9", "bp-1")
	require.NoError(t, err)
	assert.Nil(t, uc)
}

func TestUpsertSubscriberKeepsLocalAssignments(t *testing.T) {
	store := New()
	repo := store.Subscribers()
	ctx := context.Background()

	created, err := repo.UpsertSubscriber(ctx, &subscriber.Subscriber{ExternalID: "ext-1", Username: "alice", Enabled: true})
	require.NoError(t, err)
	assert.True(t, created)

	bp, group := "bp-1", "gold"
	require.NoError(t, repo.AssignSubscriber(ctx, "ext-1", &subscriber.AssignRequest{BillingProfileID: &bp, CashbackGroupID: &group}))

	created, err = repo.UpsertSubscriber(ctx, &subscriber.Subscriber{ExternalID: "ext-1", Username: "alice2"})
	require.NoError(t, err)
	assert.False(t, created)

	sub, err := repo.GetSubscriber(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "alice2", sub.Username)
	assert.Equal(t, "bp-1", sub.BillingProfileID)
	assert.Equal(t, "gold", sub.CashbackGroupID)

	_, err = repo.GetSubscriber(ctx, "missing")
	assert.True(t, errors.Is(err, subscriber.ErrSubscriberNotFound))
}

func TestHistorySummaryCountsTerminalTransitions(t *testing.T) {
	store := New()
	repo := store.History()
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []history.Entry{
		{BillingActivationID: "ba-1", SubscriberID: "sub-1", FromStatus: "created", ToStatus: "distributing", Amount: decimal.NewFromInt(10), CreatedAt: now},
		{BillingActivationID: "ba-1", SubscriberID: "sub-1", FromStatus: "awaiting_external", ToStatus: "completed", Amount: decimal.NewFromInt(10), CashbackAmount: decimal.NewFromInt(1), CreatedAt: now},
		{BillingActivationID: "ba-2", SubscriberID: "sub-2", FromStatus: "retrying", ToStatus: "failed", Amount: decimal.NewFromInt(20), CreatedAt: now},
		{BillingActivationID: "ba-3", SubscriberID: "sub-1", FromStatus: "awaiting_external", ToStatus: "completed", Amount: decimal.NewFromInt(5), CreatedAt: now.Add(-48 * time.Hour)},
	}
	for i := range entries {
		require.NoError(t, repo.Insert(ctx, &entries[i]))
	}

	summary, err := repo.Summary(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "completed", summary[0].Status)
	assert.Equal(t, int64(1), summary[0].Count)
	assert.True(t, summary[0].Cashback.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "failed", summary[1].Status)

	bySub, err := repo.ListBySubscriber(ctx, "sub-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, bySub, 3)
	assert.Equal(t, "ba-3", bySub[0].BillingActivationID)
}

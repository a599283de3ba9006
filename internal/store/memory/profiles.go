package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/billing"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/cashback"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/subscriber"
)

type BillingRepository struct{ s *Store }

func cloneProfile(p *billing.Profile) *billing.Profile {
	c := *p
	c.Rules = append([]billing.DistributionRule(nil), p.Rules...)
	c.Addons = append([]billing.Addon(nil), p.Addons...)
	c.DeletedAt = copyTime(p.DeletedAt)
	return &c
}

func (r *BillingRepository) CreateProfile(_ context.Context, p *billing.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.profiles[p.ID]; exists {
		return fmt.Errorf("billing profile %s already exists", p.ID)
	}
	now := r.s.timestamp()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.profiles[p.ID] = cloneProfile(p)
	return nil
}

func (r *BillingRepository) UpdateProfile(_ context.Context, p *billing.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.profiles[p.ID]
	if !ok || existing.IsDeleted {
		return fmt.Errorf("%w: %s", billing.ErrProfileNotFound, p.ID)
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = r.s.timestamp()
	r.s.profiles[p.ID] = cloneProfile(p)
	return nil
}

// GetProfile returns deleted profiles too; history and reversals still
// need their names.
func (r *BillingRepository) GetProfile(_ context.Context, id string) (*billing.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", billing.ErrProfileNotFound, id)
	}
	return cloneProfile(p), nil
}

func (r *BillingRepository) ListProfiles(_ context.Context) ([]billing.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []billing.Profile
	for _, p := range r.s.profiles {
		if !p.IsDeleted {
			out = append(out, *cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *BillingRepository) SoftDeleteProfile(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.profiles[id]
	if !ok || p.IsDeleted {
		return fmt.Errorf("%w: %s", billing.ErrProfileNotFound, id)
	}
	now := r.s.timestamp()
	p.IsDeleted = true
	p.IsActive = false
	p.DeletedAt = &now
	p.UpdatedAt = now
	return nil
}

type CashbackRepository struct{ s *Store }

func cashbackKey(a, b string) string {
	return a + "|" + b
}

func (r *CashbackRepository) CreateGroup(_ context.Context, g *cashback.Group) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	g.CreatedAt = r.s.timestamp()
	c := *g
	r.s.cashbackGroups[g.ID] = &c
	return nil
}

func (r *CashbackRepository) SetProfileAmount(_ context.Context, pa *cashback.ProfileAmount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.cashbackGroups[pa.GroupID]; !ok {
		return fmt.Errorf("cashback group %s not found", pa.GroupID)
	}
	r.s.profileAmounts[cashbackKey(pa.GroupID, pa.BillingProfileID)] = *pa
	return nil
}

func (r *CashbackRepository) SetUserCashback(_ context.Context, uc *cashback.UserCashback) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.userCashbacks[cashbackKey(uc.SubscriberID, uc.BillingProfileID)] = *uc
	return nil
}

func (r *CashbackRepository) SetSubAgentCashback(_ context.Context, sc *cashback.SubAgentCashback) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	seq := len(r.s.subAgentCashback) + 1
	for i, e := range r.s.subAgentCashback {
		if e.SupervisorID == sc.SupervisorID && e.SubAgentID == sc.SubAgentID && e.BillingProfileID == sc.BillingProfileID {
			r.s.subAgentCashback[i] = subAgentEntry{SubAgentCashback: *sc, seq: seq}
			return nil
		}
	}
	r.s.subAgentCashback = append(r.s.subAgentCashback, subAgentEntry{SubAgentCashback: *sc, seq: seq})
	return nil
}

// FindSubAgentCashback matches any supervisor when supervisorID is empty,
// preferring the most recently set entry.
func (r *CashbackRepository) FindSubAgentCashback(_ context.Context, supervisorID, subAgentID, billingProfileID string) (*cashback.SubAgentCashback, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var best *subAgentEntry
	for i := range r.s.subAgentCashback {
		e := &r.s.subAgentCashback[i]
		if e.SubAgentID != subAgentID || e.BillingProfileID != billingProfileID {
			continue
		}
		if supervisorID != "" && e.SupervisorID != supervisorID {
			continue
		}
		if best == nil || e.seq > best.seq {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	c := best.SubAgentCashback
	return &c, nil
}

func (r *CashbackRepository) FindUserCashback(_ context.Context, subscriberID, billingProfileID string) (*cashback.UserCashback, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	uc, ok := r.s.userCashbacks[cashbackKey(subscriberID, billingProfileID)]
	if !ok {
		return nil, nil
	}
	return &uc, nil
}

func (r *CashbackRepository) FindProfileAmount(_ context.Context, groupID, billingProfileID string) (*cashback.ProfileAmount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	g, ok := r.s.cashbackGroups[groupID]
	if !ok || g.IsDeleted {
		return nil, nil
	}
	pa, ok := r.s.profileAmounts[cashbackKey(groupID, billingProfileID)]
	if !ok {
		return nil, nil
	}
	return &pa, nil
}

type SubscriberRepository struct{ s *Store }

func cloneSubscriber(sub *subscriber.Subscriber) *subscriber.Subscriber {
	c := *sub
	c.Expiration = copyTime(sub.Expiration)
	c.DeletedAt = copyTime(sub.DeletedAt)
	return &c
}

// Synced rows are keyed by external id, like the Postgres store.
func syncedID(id, externalID string) string {
	if externalID != "" {
		return externalID
	}
	return id
}

func (r *SubscriberRepository) UpsertServiceProfile(_ context.Context, p *subscriber.ServiceProfile) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *p
	c.ID = syncedID(p.ID, p.ExternalID)
	c.IsDeleted = false
	c.UpdatedAt = r.s.timestamp()
	_, exists := r.s.serviceProfiles[c.ID]
	r.s.serviceProfiles[c.ID] = &c
	return !exists, nil
}

func (r *SubscriberRepository) UpsertGroup(_ context.Context, g *subscriber.Group) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *g
	c.ID = syncedID(g.ID, g.ExternalID)
	c.UpdatedAt = r.s.timestamp()
	_, exists := r.s.groups[c.ID]
	r.s.groups[c.ID] = &c
	return !exists, nil
}

func (r *SubscriberRepository) UpsertZone(_ context.Context, z *subscriber.Zone) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *z
	c.ID = syncedID(z.ID, z.ExternalID)
	c.UpdatedAt = r.s.timestamp()
	_, exists := r.s.zones[c.ID]
	r.s.zones[c.ID] = &c
	return !exists, nil
}

func (r *SubscriberRepository) UpsertNAS(_ context.Context, n *subscriber.NAS) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *n
	c.ID = syncedID(n.ID, n.ExternalID)
	c.UpdatedAt = r.s.timestamp()
	_, exists := r.s.nas[c.ID]
	r.s.nas[c.ID] = &c
	return !exists, nil
}

// UpsertSubscriber keeps local billing and cashback assignments when the
// incoming row does not carry them.
func (r *SubscriberRepository) UpsertSubscriber(_ context.Context, sub *subscriber.Subscriber) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := cloneSubscriber(sub)
	c.ID = syncedID(sub.ID, sub.ExternalID)
	c.IsDeleted = false
	c.DeletedAt = nil
	now := r.s.timestamp()
	c.UpdatedAt = now

	existing, exists := r.s.subscribers[c.ID]
	if exists {
		if c.BillingProfileID == "" {
			c.BillingProfileID = existing.BillingProfileID
		}
		if c.CashbackGroupID == "" {
			c.CashbackGroupID = existing.CashbackGroupID
		}
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	r.s.subscribers[c.ID] = c
	return !exists, nil
}

func (r *SubscriberRepository) GetSubscriber(_ context.Context, id string) (*subscriber.Subscriber, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sub, ok := r.s.subscribers[id]
	if !ok || sub.IsDeleted {
		return nil, fmt.Errorf("%w: %s", subscriber.ErrSubscriberNotFound, id)
	}
	return cloneSubscriber(sub), nil
}

func (r *SubscriberRepository) GetServiceProfile(_ context.Context, id string) (*subscriber.ServiceProfile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.serviceProfiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", subscriber.ErrServiceProfileNotFound, id)
	}
	c := *p
	return &c, nil
}

func (r *SubscriberRepository) UpdateSubscriberService(_ context.Context, id, serviceProfileID, billingProfileID string, expiration time.Time) error {
	return r.update(id, func(sub *subscriber.Subscriber) {
		exp := expiration
		sub.ProfileID = serviceProfileID
		sub.BillingProfileID = billingProfileID
		sub.Expiration = &exp
		sub.Enabled = true
	})
}

func (r *SubscriberRepository) AssignSubscriber(_ context.Context, id string, req *subscriber.AssignRequest) error {
	return r.update(id, func(sub *subscriber.Subscriber) {
		if req.BillingProfileID != nil {
			sub.BillingProfileID = *req.BillingProfileID
		}
		if req.CashbackGroupID != nil {
			sub.CashbackGroupID = *req.CashbackGroupID
		}
	})
}

func (r *SubscriberRepository) update(id string, fn func(sub *subscriber.Subscriber)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sub, ok := r.s.subscribers[id]
	if !ok || sub.IsDeleted {
		return fmt.Errorf("%w: %s", subscriber.ErrSubscriberNotFound, id)
	}
	fn(sub)
	sub.UpdatedAt = r.s.timestamp()
	return nil
}

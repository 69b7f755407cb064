// Package memory provides a mutex-guarded in-memory implementation of the
// drip entity store, used by the engine tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/drip-engine/internal/drip"
)

// Store keeps subscriptions and mailings in maps. All methods are safe for
// concurrent use.
type Store struct {
	mu            sync.Mutex
	subscriptions map[uuid.UUID]*drip.Subscription
	mailings      map[uuid.UUID]*drip.Mailing
	tokens        map[string]uuid.UUID
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		subscriptions: make(map[uuid.UUID]*drip.Subscription),
		mailings:      make(map[uuid.UUID]*drip.Mailing),
		tokens:        make(map[string]uuid.UUID),
	}
}

func cloneSubscription(s *drip.Subscription) *drip.Subscription {
	cp := *s
	if s.User != nil {
		u := *s.User
		cp.User = &u
	}
	return &cp
}

func cloneMailing(m *drip.Mailing) *drip.Mailing {
	cp := *m
	return &cp
}

func (st *Store) CreateSubscription(_ context.Context, s *drip.Subscription) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, dup := st.subscriptions[s.ID]; dup {
		return fmt.Errorf("subscription %s already exists", s.ID)
	}
	if _, dup := st.tokens[s.Token]; dup {
		return fmt.Errorf("subscription token %q already in use", s.Token)
	}
	st.subscriptions[s.ID] = cloneSubscription(s)
	st.tokens[s.Token] = s.ID
	return nil
}

func (st *Store) UpdateSubscription(_ context.Context, s *drip.Subscription) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.subscriptions[s.ID]; !ok {
		return fmt.Errorf("subscription %s does not exist", s.ID)
	}
	st.subscriptions[s.ID] = cloneSubscription(s)
	return nil
}

func (st *Store) DeleteSubscription(_ context.Context, id uuid.UUID) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.subscriptions[id]
	if !ok {
		return nil
	}
	delete(st.subscriptions, id)
	delete(st.tokens, s.Token)
	for mid, m := range st.mailings {
		if m.SubscriptionID == id {
			delete(st.mailings, mid)
		}
	}
	return nil
}

func (st *Store) SubscriptionByID(_ context.Context, id uuid.UUID) (*drip.Subscription, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.subscriptions[id]
	if !ok {
		return nil, nil
	}
	return cloneSubscription(s), nil
}

func (st *Store) SubscriptionByToken(_ context.Context, token string) (*drip.Subscription, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	id, ok := st.tokens[token]
	if !ok {
		return nil, nil
	}
	return cloneSubscription(st.subscriptions[id]), nil
}

func (st *Store) FindSubscription(_ context.Context, campaignSlug string, subscriber drip.EntityRef, user *drip.EntityRef) (*drip.Subscription, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.subscriptions {
		if s.CampaignSlug != campaignSlug || s.Subscriber != subscriber {
			continue
		}
		if !sameUser(s.User, user) {
			continue
		}
		if s.Ended() {
			continue
		}
		return cloneSubscription(s), nil
	}
	return nil, nil
}

func sameUser(a, b *drip.EntityRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (st *Store) TokenExists(_ context.Context, token string) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.tokens[token]
	return ok, nil
}

func (st *Store) CreateMailing(_ context.Context, m *drip.Mailing) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, dup := st.mailings[m.ID]; dup {
		return fmt.Errorf("mailing %s already exists", m.ID)
	}
	st.mailings[m.ID] = cloneMailing(m)
	return nil
}

func (st *Store) UpdateMailing(_ context.Context, m *drip.Mailing) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.mailings[m.ID]; !ok {
		return fmt.Errorf("mailing %s does not exist", m.ID)
	}
	st.mailings[m.ID] = cloneMailing(m)
	return nil
}

func (st *Store) MailingByID(_ context.Context, id uuid.UUID) (*drip.Mailing, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	m, ok := st.mailings[id]
	if !ok {
		return nil, nil
	}
	return cloneMailing(m), nil
}

func (st *Store) MailingsForSubscription(_ context.Context, subscriptionID uuid.UUID) ([]*drip.Mailing, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []*drip.Mailing
	for _, m := range st.mailings {
		if m.SubscriptionID == subscriptionID {
			out = append(out, cloneMailing(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessMailing(out[i], out[j]) })
	return out, nil
}

func (st *Store) PendingMailingCount(_ context.Context, subscriptionID uuid.UUID) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pendingCountLocked(subscriptionID), nil
}

func (st *Store) pendingCountLocked(subscriptionID uuid.UUID) int {
	count := 0
	for _, m := range st.mailings {
		if m.SubscriptionID == subscriptionID && m.Pending() {
			count++
		}
	}
	return count
}

func (st *Store) DueMailings(_ context.Context, campaignSlug string, now time.Time, limit int, after *drip.MailingCursor) ([]*drip.Mailing, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var due []*drip.Mailing
	for _, m := range st.mailings {
		if !m.Pending() || m.SendAt.After(now) {
			continue
		}
		s, ok := st.subscriptions[m.SubscriptionID]
		if !ok || s.CampaignSlug != campaignSlug || !s.Subscribed() {
			continue
		}
		if after != nil && !afterCursor(m, after) {
			continue
		}
		due = append(due, cloneMailing(m))
	}

	sort.Slice(due, func(i, j int) bool { return lessMailing(due[i], due[j]) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (st *Store) ClaimMailing(_ context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	m, ok := st.mailings[id]
	if !ok || !m.Pending() {
		return false, nil
	}
	if m.ClaimedAt != nil && m.ClaimedAt.Add(lease).After(now) {
		return false, nil
	}
	claimed := now
	m.ClaimedAt = &claimed
	return true, nil
}

func (st *Store) EndIfComplete(_ context.Context, subscriptionID uuid.UUID, reason string, now time.Time) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.subscriptions[subscriptionID]
	if !ok || !s.Subscribed() {
		return false, nil
	}
	if st.pendingCountLocked(subscriptionID) > 0 {
		return false, nil
	}
	ended := now
	s.EndedAt = &ended
	s.EndedReason = reason
	s.UpdatedAt = now
	return true, nil
}

// lessMailing orders mailings by (send_at, step, id), the due-work order.
func lessMailing(a, b *drip.Mailing) bool {
	if !a.SendAt.Equal(b.SendAt) {
		return a.SendAt.Before(b.SendAt)
	}
	if a.Step != b.Step {
		return a.Step < b.Step
	}
	return a.ID.String() < b.ID.String()
}

// afterCursor reports whether m sorts strictly after the cursor.
func afterCursor(m *drip.Mailing, c *drip.MailingCursor) bool {
	if !m.SendAt.Equal(c.SendAt) {
		return m.SendAt.After(c.SendAt)
	}
	if m.Step != c.Step {
		return m.Step > c.Step
	}
	return m.ID.String() > c.ID.String()
}

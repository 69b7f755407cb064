package drip

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the entity-store abstraction the engine runs against. Lookup
// methods return (nil, nil) when no row matches; only infrastructure
// failures surface as errors. Adapters live under internal/store.
type Store interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	UpdateSubscription(ctx context.Context, s *Subscription) error
	// DeleteSubscription removes a subscription and cascades to its
	// mailings.
	DeleteSubscription(ctx context.Context, id uuid.UUID) error
	SubscriptionByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	SubscriptionByToken(ctx context.Context, token string) (*Subscription, error)
	// FindSubscription returns the campaign's subscription for the
	// (subscriber, user) pair that is active or merely unsubscribed.
	// Ended subscriptions are not candidates for reuse.
	FindSubscription(ctx context.Context, campaignSlug string, subscriber EntityRef, user *EntityRef) (*Subscription, error)
	TokenExists(ctx context.Context, token string) (bool, error)

	CreateMailing(ctx context.Context, m *Mailing) error
	UpdateMailing(ctx context.Context, m *Mailing) error
	MailingByID(ctx context.Context, id uuid.UUID) (*Mailing, error)
	MailingsForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*Mailing, error)
	PendingMailingCount(ctx context.Context, subscriptionID uuid.UUID) (int, error)

	// DueMailings returns up to limit pending mailings of active
	// subscriptions in the campaign with send_at at or before now,
	// ordered by (send_at, step, id) and strictly after the cursor when
	// one is given.
	DueMailings(ctx context.Context, campaignSlug string, now time.Time, limit int, after *MailingCursor) ([]*Mailing, error)

	// ClaimMailing leases a pending mailing for delivery via a
	// conditional update. It returns false when the mailing is no longer
	// pending or another worker holds an unexpired claim.
	ClaimMailing(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (bool, error)

	// EndIfComplete atomically ends the subscription when it is still
	// active and has no pending mailings left. It returns true only on
	// the transition, so completion side effects fire exactly once.
	EndIfComplete(ctx context.Context, subscriptionID uuid.UUID, reason string, now time.Time) (bool, error)
}

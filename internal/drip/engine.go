package drip

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/drip-engine/internal/pkg/logger"
)

const (
	// DefaultEndedReason is recorded when a subscription ends because no
	// pending mailings remain.
	DefaultEndedReason = "completed"
	// DefaultUnsubscribeReason is recorded when no reason is given.
	DefaultUnsubscribeReason = "unsubscribed"

	// tokenAttempts bounds the collision-retry loop for token generation.
	tokenAttempts = 100
)

// Deliverer invokes the external delivery capability for a due mailing.
type Deliverer interface {
	Deliver(ctx context.Context, m *Mailing) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, m *Mailing) error

func (f DelivererFunc) Deliver(ctx context.Context, m *Mailing) error { return f(ctx, m) }

// Enqueuer hands a mailing off to an asynchronous delivery queue. When an
// Enqueuer is configured, Process returns once the enqueue succeeds and
// sent_at is written by DeliverQueued when the consumer completes the
// delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, mailingID uuid.UUID) error
}

// Engine drives the subscription state machine, mailing lifecycle, perform
// cycles, and refuel against a Store and a Deliverer.
type Engine struct {
	registry  *Registry
	store     Store
	deliverer Deliverer

	// Queue switches delivery to asynchronous mode when non-nil.
	Queue Enqueuer
	// Now is the clock; injectable for deterministic scheduling in tests.
	Now func() time.Time
	// ClaimLease is the per-mailing delivery lease. Zero disables
	// claiming (single-worker deployments only).
	ClaimLease time.Duration
	// EndedReason and UnsubscribeReason are the defaults recorded by the
	// automatic transitions.
	EndedReason       string
	UnsubscribeReason string
}

// NewEngine creates an engine with default reasons and the wall clock.
func NewEngine(registry *Registry, store Store, deliverer Deliverer) *Engine {
	return &Engine{
		registry:          registry,
		store:             store,
		deliverer:         deliverer,
		Now:               time.Now,
		EndedReason:       DefaultEndedReason,
		UnsubscribeReason: DefaultUnsubscribeReason,
	}
}

// Registry returns the engine's campaign registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Store returns the engine's persistence backend.
func (e *Engine) Store() Store { return e.store }

// Evaluator returns a schedule evaluator on the engine's clock.
func (e *Engine) Evaluator() Evaluator { return Evaluator{Now: e.Now} }

// SubscriptionByToken resolves the subscription behind an external token.
// Unknown tokens fail with a NotFoundError.
func (e *Engine) SubscriptionByToken(ctx context.Context, token string) (*Subscription, error) {
	s, err := e.store.SubscriptionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &NotFoundError{Kind: "subscription", Key: token}
	}
	return s, nil
}

// Subscribe enrolls a subscriber (and optional acting user) in a campaign.
// It is idempotent: an existing subscription that is active or merely
// unsubscribed is returned as-is; reactivation is Resubscribe's job.
// Otherwise it creates a subscription, snapshots every registered drip
// into a mailing, and fires the on-subscribe hooks. A before-subscribe
// guard rejecting the attempt fails with a ValidationError and persists
// nothing.
func (e *Engine) Subscribe(ctx context.Context, campaignSlug string, subscriber EntityRef, user *EntityRef) (*Subscription, error) {
	dr, err := e.registry.Dripper(campaignSlug)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.FindSubscription(ctx, campaignSlug, subscriber, user)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := e.Now()
	token, err := e.generateToken(ctx)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:           uuid.New(),
		CampaignSlug: campaignSlug,
		Subscriber:   subscriber,
		User:         user,
		Token:        token,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := dr.runBeforeSubscribe(sub); err != nil {
		return nil, &ValidationError{Campaign: campaignSlug, Err: err}
	}

	if err := e.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	ev := e.Evaluator()
	for _, d := range dr.Drips() {
		m := e.newMailing(sub, d, now)
		m.SendAt = ev.SendAt(d, m, sub)
		if err := e.store.CreateMailing(ctx, m); err != nil {
			return nil, fmt.Errorf("create mailing %s#%s: %w", d.Mailer, d.Action, err)
		}
	}

	dr.runOnSubscribe(sub)
	logger.Info("subscription created",
		"campaign", campaignSlug, "subscription_id", sub.ID, "subscriber", subscriber.ID)
	return sub, nil
}

// End marks the subscription ended. Fails with an InvalidStateError when
// it is already unsubscribed.
func (e *Engine) End(ctx context.Context, s *Subscription, reason string) error {
	if s.Unsubscribed() {
		return &InvalidStateError{Op: "end", Reason: "subscription is already unsubscribed"}
	}
	if reason == "" {
		reason = e.EndedReason
	}
	now := e.Now()

	prevAt, prevReason, prevUpdated := s.EndedAt, s.EndedReason, s.UpdatedAt
	s.EndedAt, s.EndedReason, s.UpdatedAt = &now, reason, now
	if err := e.store.UpdateSubscription(ctx, s); err != nil {
		s.EndedAt, s.EndedReason, s.UpdatedAt = prevAt, prevReason, prevUpdated
		return err
	}

	dr, err := e.registry.Dripper(s.CampaignSlug)
	if err != nil {
		return err
	}
	dr.runOnEnd(s)

	pending, err := e.store.PendingMailingCount(ctx, s.ID)
	if err == nil && pending == 0 {
		dr.runOnComplete(s)
	}
	return nil
}

// TryEnd is the non-raising End: a state violation returns false instead
// of an error.
func (e *Engine) TryEnd(ctx context.Context, s *Subscription, reason string) (bool, error) {
	err := e.End(ctx, s, reason)
	if IsInvalidState(err) {
		return false, nil
	}
	return err == nil, err
}

// Unsubscribe marks the subscription unsubscribed. Fails with an
// InvalidStateError when it is already ended.
func (e *Engine) Unsubscribe(ctx context.Context, s *Subscription, reason string) error {
	if s.Ended() {
		return &InvalidStateError{Op: "unsubscribe", Reason: "subscription is already ended"}
	}
	if reason == "" {
		reason = e.UnsubscribeReason
	}
	now := e.Now()

	prevAt, prevReason, prevUpdated := s.UnsubscribedAt, s.UnsubscribeReason, s.UpdatedAt
	s.UnsubscribedAt, s.UnsubscribeReason, s.UpdatedAt = &now, reason, now
	if err := e.store.UpdateSubscription(ctx, s); err != nil {
		s.UnsubscribedAt, s.UnsubscribeReason, s.UpdatedAt = prevAt, prevReason, prevUpdated
		return err
	}

	dr, err := e.registry.Dripper(s.CampaignSlug)
	if err != nil {
		return err
	}
	dr.runOnUnsubscribe(s)
	return nil
}

// TryUnsubscribe is the non-raising Unsubscribe.
func (e *Engine) TryUnsubscribe(ctx context.Context, s *Subscription, reason string) (bool, error) {
	err := e.Unsubscribe(ctx, s, reason)
	if IsInvalidState(err) {
		return false, nil
	}
	return err == nil, err
}

// Resubscribe clears unsubscribed_at and records resubscribed_at. Without
// force it fails with an InvalidStateError when the subscription is ended
// or unsubscribed. It does not recreate mailings; use Refuel for that.
func (e *Engine) Resubscribe(ctx context.Context, s *Subscription, force bool) error {
	if s.Ended() && !force {
		return &InvalidStateError{Op: "resubscribe", Reason: "subscription is already ended"}
	}
	if s.Unsubscribed() && !force {
		return &InvalidStateError{Op: "resubscribe", Reason: "subscription is already unsubscribed"}
	}
	now := e.Now()

	prevUnsub, prevResub, prevUpdated := s.UnsubscribedAt, s.ResubscribedAt, s.UpdatedAt
	s.UnsubscribedAt, s.ResubscribedAt, s.UpdatedAt = nil, &now, now
	if err := e.store.UpdateSubscription(ctx, s); err != nil {
		s.UnsubscribedAt, s.ResubscribedAt, s.UpdatedAt = prevUnsub, prevResub, prevUpdated
		return err
	}

	dr, err := e.registry.Dripper(s.CampaignSlug)
	if err != nil {
		return err
	}
	dr.runOnResubscribe(s)
	return nil
}

// Destroy deletes the subscription and, by cascade, its mailings. No
// completion side effects fire.
func (e *Engine) Destroy(ctx context.Context, s *Subscription) error {
	return e.store.DeleteSubscription(ctx, s.ID)
}

// Skip marks a pending mailing skipped and fires the on-skip hooks. A
// skipped mailing never returns to pending and does not chain.
func (e *Engine) Skip(ctx context.Context, m *Mailing) error {
	if !m.Pending() {
		return &InvalidStateError{Op: "skip", Reason: "mailing is not pending"}
	}
	now := e.Now()

	prevSkipped, prevUpdated := m.SkippedAt, m.UpdatedAt
	m.SkippedAt, m.UpdatedAt = &now, now
	if err := e.store.UpdateMailing(ctx, m); err != nil {
		m.SkippedAt, m.UpdatedAt = prevSkipped, prevUpdated
		return err
	}

	dr, err := e.dripperForMailing(ctx, m)
	if err != nil {
		return err
	}
	dr.runOnSkip(m)

	return e.endIfComplete(ctx, dr, m.SubscriptionID)
}

// Process is the perform engine's unit of work for one due mailing: run
// the per-occurrence gates, claim the mailing, then deliver inline or
// enqueue for the asynchronous consumer.
func (e *Engine) Process(ctx context.Context, m *Mailing) error {
	sub, err := e.store.SubscriptionByID(ctx, m.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil || !sub.Subscribed() {
		return nil
	}

	dr, err := e.registry.Dripper(sub.CampaignSlug)
	if err != nil {
		return err
	}
	d := dr.dripForTarget(m.Mailer, m.Action)
	if d == nil {
		logger.Warn("mailing has no registered drip",
			"campaign", sub.CampaignSlug, "mailer", m.Mailer, "action", m.Action)
		return nil
	}

	if !dr.runBeforeDrip(d, m) {
		return nil
	}
	if d.Block != nil {
		switch d.Block(m) {
		case Skip:
			return e.Skip(ctx, m)
		case EndSubscription:
			return e.End(ctx, sub, "")
		case Unsubscribe:
			return e.Unsubscribe(ctx, sub, "")
		case Halt:
			return nil
		}
	}

	if e.ClaimLease > 0 {
		ok, err := e.store.ClaimMailing(ctx, m.ID, e.Now(), e.ClaimLease)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	if e.Queue != nil {
		return e.Queue.Enqueue(ctx, m.ID)
	}
	return e.deliverNow(ctx, dr, d, sub, m)
}

// DeliverQueued completes an asynchronously enqueued delivery. The queue
// consumer calls it with the mailing ID popped from the queue.
func (e *Engine) DeliverQueued(ctx context.Context, mailingID uuid.UUID) error {
	m, err := e.store.MailingByID(ctx, mailingID)
	if err != nil {
		return err
	}
	if m == nil || !m.Pending() {
		return nil
	}
	sub, err := e.store.SubscriptionByID(ctx, m.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil || !sub.Subscribed() {
		return nil
	}
	dr, err := e.registry.Dripper(sub.CampaignSlug)
	if err != nil {
		return err
	}
	d := dr.dripForTarget(m.Mailer, m.Action)
	if d == nil {
		return nil
	}
	return e.deliverNow(ctx, dr, d, sub, m)
}

// deliverNow performs the delivery, marks the mailing sent, enqueues the
// next periodical occurrence, and runs the auto-end check. The rescue
// policy classifies delivery failures; handled ones are swallowed with the
// mailing left unsent for the next cycle.
func (e *Engine) deliverNow(ctx context.Context, dr *Dripper, d *Drip, sub *Subscription, m *Mailing) error {
	if err := e.deliverer.Deliver(ctx, m); err != nil {
		df := &DeliveryFailure{Mailer: m.Mailer, Action: m.Action, Err: err}
		if dr.Rescue != nil && dr.Rescue(df, m) {
			logger.Warn("delivery failure rescued",
				"campaign", dr.Slug, "mailing_id", m.ID, "error", err)
			return nil
		}
		return df
	}

	now := e.Now()
	prevSent, prevUpdated := m.SentAt, m.UpdatedAt
	m.SentAt, m.UpdatedAt = &now, now
	if err := e.store.UpdateMailing(ctx, m); err != nil {
		m.SentAt, m.UpdatedAt = prevSent, prevUpdated
		return err
	}

	if d.Periodical() {
		if err := e.chainPeriodical(ctx, d, sub, m); err != nil {
			return err
		}
	}

	return e.endIfComplete(ctx, dr, sub.ID)
}

// chainPeriodical creates the next occurrence of a periodical drip after a
// delivery, unless the per-firing gate or the until rule stops the chain.
func (e *Engine) chainPeriodical(ctx context.Context, d *Drip, sub *Subscription, prev *Mailing) error {
	if d.Schedule.If != nil && !d.Schedule.If(prev) {
		return nil
	}

	next := e.newMailing(sub, d, e.Now())
	next.SendAt = e.Evaluator().NextSendAt(d, prev, sub)
	if e.Evaluator().ReachedUntil(d, next, sub) {
		return nil
	}
	return e.store.CreateMailing(ctx, next)
}

// endIfComplete runs the automatic-ending check after a mailing update:
// when no pending mailings remain and the subscription is still active, it
// transitions to ended exactly once and fires on_end plus on_complete.
func (e *Engine) endIfComplete(ctx context.Context, dr *Dripper, subscriptionID uuid.UUID) error {
	ended, err := e.store.EndIfComplete(ctx, subscriptionID, e.EndedReason, e.Now())
	if err != nil {
		return err
	}
	if !ended {
		return nil
	}
	sub, err := e.store.SubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	dr.runOnEnd(sub)
	dr.runOnComplete(sub)
	logger.Info("subscription completed", "campaign", dr.Slug, "subscription_id", sub.ID)
	return nil
}

func (e *Engine) dripperForMailing(ctx context.Context, m *Mailing) (*Dripper, error) {
	sub, err := e.store.SubscriptionByID(ctx, m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, &NotFoundError{Kind: "subscription", Key: m.SubscriptionID.String()}
	}
	return e.registry.Dripper(sub.CampaignSlug)
}

func (e *Engine) newMailing(sub *Subscription, d *Drip, now time.Time) *Mailing {
	return &Mailing{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Mailer:         d.Mailer,
		Action:         d.Action,
		Step:           d.Step,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// generateToken returns a token no existing subscription uses. Tokens are
// generated once at creation and never regenerated; they are the external
// identity used by unsubscribe and resubscribe links.
func (e *Engine) generateToken(ctx context.Context) (string, error) {
	for i := 0; i < tokenAttempts; i++ {
		token := uuid.NewString()
		exists, err := e.store.TokenExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !exists {
			return token, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique subscription token after %d attempts", tokenAttempts)
}

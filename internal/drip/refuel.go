package drip

import (
	"context"
	"fmt"

	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// RefuelOffset selects the time basis for mailings created by Refuel.
type RefuelOffset int

const (
	// OffsetCreatedAt shifts the computed date back by the time elapsed
	// since the subscription was created, so a drip added after the fact
	// lands where it would have if registered from the start.
	OffsetCreatedAt RefuelOffset = iota
	// OffsetCurrent uses the computed date unmodified; relative offsets
	// run from now.
	OffsetCurrent
)

// Refuel backfills mailings for drips registered on the subscription's
// campaign that have no existing mailing with the same (mailer, action)
// target. Existing mailings are untouched, making the operation
// idempotent. It returns the newly created mailings.
func (e *Engine) Refuel(ctx context.Context, s *Subscription, offset RefuelOffset) ([]*Mailing, error) {
	if offset != OffsetCreatedAt && offset != OffsetCurrent {
		return nil, fmt.Errorf("refuel offset must be OffsetCreatedAt or OffsetCurrent")
	}

	dr, err := e.registry.Dripper(s.CampaignSlug)
	if err != nil {
		return nil, err
	}

	existing, err := e.store.MailingsForSubscription(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[[2]string]bool, len(existing))
	for _, m := range existing {
		seen[[2]string{m.Mailer, m.Action}] = true
	}

	now := e.Now()
	ev := e.Evaluator()
	var created []*Mailing
	for _, d := range dr.Drips() {
		if seen[[2]string{d.Mailer, d.Action}] {
			continue
		}

		m := e.newMailing(s, d, now)
		m.SendAt = ev.SendAt(d, m, s)
		if offset == OffsetCreatedAt {
			m.SendAt = m.SendAt.Add(s.CreatedAt.Sub(now))
		}
		if err := e.store.CreateMailing(ctx, m); err != nil {
			return created, fmt.Errorf("create mailing %s#%s: %w", d.Mailer, d.Action, err)
		}
		created = append(created, m)
	}

	if len(created) > 0 {
		logger.Info("subscription refueled",
			"campaign", s.CampaignSlug, "subscription_id", s.ID, "mailings", len(created))
	}
	return created, nil
}

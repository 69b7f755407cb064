package drip

import (
	"context"
	"errors"

	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// Perform runs one cycle for a single dripper: find the campaign's due
// mailings in batches of BatchSize, fire the perform hooks, and process
// each member. A failing mailing never aborts its batch; unhandled
// failures are joined and returned after the cycle, with those mailings
// left unsent so the next cycle retries them. Iteration is cancellable
// between batches.
func (e *Engine) Perform(ctx context.Context, dr *Dripper) error {
	dr.runBeforePerform()

	batchSize := dr.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	now := e.Now()
	var cursor *MailingCursor
	var failures []error

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := e.store.DueMailings(ctx, dr.Slug, now, batchSize, cursor)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		dr.runOnPerform(batch)
		for _, m := range batch {
			if err := e.Process(ctx, m); err != nil {
				logger.Error("mailing processing failed",
					"campaign", dr.Slug, "mailing_id", m.ID, "error", err)
				failures = append(failures, err)
			}
		}

		last := batch[len(batch)-1].Cursor()
		cursor = &last
	}

	dr.runAfterPerform()
	return errors.Join(failures...)
}

// PerformAll runs a perform cycle for every registered active dripper, or
// for the named subset when slugs are given. Per-dripper failures are
// joined; one campaign's failure does not stop the others.
func (e *Engine) PerformAll(ctx context.Context, slugs ...string) error {
	var drippers []*Dripper
	if len(slugs) == 0 {
		drippers = e.registry.Drippers()
	} else {
		for _, slug := range slugs {
			dr, err := e.registry.Dripper(slug)
			if err != nil {
				return err
			}
			drippers = append(drippers, dr)
		}
	}

	var failures []error
	for _, dr := range drippers {
		if !dr.Active {
			continue
		}
		if err := e.Perform(ctx, dr); err != nil {
			failures = append(failures, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(failures...)
}

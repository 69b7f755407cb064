package drip

import (
	"time"

	"github.com/google/uuid"
)

// Mailing is one concrete scheduled occurrence of a drip for a
// subscription. Its state is derived, not stored: pending when neither
// skipped_at nor sent_at is set, and monotone once either is written.
type Mailing struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	Mailer         string
	Action         string
	Step           int
	SendAt         time.Time
	SentAt         *time.Time
	SkippedAt      *time.Time
	ClaimedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Sent reports whether sent_at is set.
func (m *Mailing) Sent() bool { return m.SentAt != nil }

// Skipped reports whether skipped_at is set.
func (m *Mailing) Skipped() bool { return m.SkippedAt != nil }

// Pending reports whether the mailing is neither sent nor skipped.
func (m *Mailing) Pending() bool { return !m.Sent() && !m.Skipped() }

// Cursor returns the keyset position of the mailing in due-work order
// (send_at, step, id).
func (m *Mailing) Cursor() MailingCursor {
	return MailingCursor{SendAt: m.SendAt, Step: m.Step, ID: m.ID}
}

// MailingCursor is a keyset cursor into the due-mailing ordering. Batch
// iteration resumes strictly after the cursor, so mailings left unsent by a
// failed delivery are not refetched within the same perform cycle.
type MailingCursor struct {
	SendAt time.Time
	Step   int
	ID     uuid.UUID
}

package drip

import (
	"time"

	"github.com/google/uuid"
)

// EntityRef identifies a polymorphic subscriber or actor: an entity type
// tag plus the entity's identifier in its own store. Lookup happens through
// resolvers registered per type on the Registry.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r EntityRef) IsZero() bool { return r.Type == "" && r.ID == "" }

// Subscription enrolls one subscriber (and an optional acting user) in one
// campaign. ended_at and unsubscribed_at are independent flags, but the
// state machine never sets both: you cannot end an unsubscribed
// subscription nor unsubscribe an ended one.
type Subscription struct {
	ID                uuid.UUID
	CampaignSlug      string
	Subscriber        EntityRef
	User              *EntityRef
	Token             string
	EndedAt           *time.Time
	EndedReason       string
	UnsubscribedAt    *time.Time
	UnsubscribeReason string
	ResubscribedAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Ended reports whether ended_at is set.
func (s *Subscription) Ended() bool { return s.EndedAt != nil }

// Unsubscribed reports whether unsubscribed_at is set.
func (s *Subscription) Unsubscribed() bool { return s.UnsubscribedAt != nil }

// Subscribed reports whether the subscription is active: neither ended nor
// unsubscribed.
func (s *Subscription) Subscribed() bool { return !s.Ended() && !s.Unsubscribed() }

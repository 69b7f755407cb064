package delivery

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/drip-engine/internal/drip"
	"github.com/ignite/drip-engine/internal/store/memory"
)

type capturingSender struct {
	mu       sync.Mutex
	to       []string
	subjects []string
	bodies   []string
}

func (s *capturingSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.to = append(s.to, to)
	s.subjects = append(s.subjects, subject)
	s.bodies = append(s.bodies, htmlBody)
	return nil
}

type testCustomer struct {
	Name  string
	Email string
}

func (c *testCustomer) EmailAddress() string { return c.Email }

func emailFixture(t *testing.T) (*EmailHandler, *capturingSender, *drip.Mailing, *drip.Subscription, *memory.Store) {
	t.Helper()
	reg := drip.NewRegistry()
	reg.RegisterEntityResolver("customer", func(ctx context.Context, id string) (any, error) {
		return &testCustomer{Name: "Ada", Email: "ada@example.com"}, nil
	})

	store := memory.New()
	sub := &drip.Subscription{
		ID:           uuid.New(),
		CampaignSlug: "onboarding",
		Subscriber:   drip.EntityRef{Type: "customer", ID: "42"},
		Token:        "tok-123",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	m := &drip.Mailing{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Mailer:         "m",
		Action:         "welcome",
		Step:           1,
		SendAt:         time.Now(),
	}

	sender := &capturingSender{}
	return NewEmailHandler(reg, store, sender), sender, m, sub, store
}

func TestEmailHandlerRendersLiquidBinding(t *testing.T) {
	handler, sender, m, _, _ := emailFixture(t)

	fn := handler.Handler(EmailTemplate{
		Subject: "Welcome, {{ subscriber.Name }}!",
		HTML:    `<p>Hi {{ subscriber.Name }}</p><a href="/u/{{ subscription.token }}">bye</a>`,
	})

	deliverable, err := fn(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if err := deliverable.Deliver(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(sender.to) != 1 || sender.to[0] != "ada@example.com" {
		t.Errorf("to = %v", sender.to)
	}
	if sender.subjects[0] != "Welcome, Ada!" {
		t.Errorf("subject = %q", sender.subjects[0])
	}
	if !strings.Contains(sender.bodies[0], "Hi Ada") {
		t.Errorf("body missing subscriber binding: %q", sender.bodies[0])
	}
	if !strings.Contains(sender.bodies[0], "/u/tok-123") {
		t.Errorf("body missing token binding: %q", sender.bodies[0])
	}
}

func TestEmailHandlerUnresolvableSubscriber(t *testing.T) {
	handler, _, m, _, _ := emailFixture(t)

	// Re-point the mailing at a subscription whose entity type has no
	// resolver.
	store := memory.New()
	sub := &drip.Subscription{
		ID:           uuid.New(),
		CampaignSlug: "onboarding",
		Subscriber:   drip.EntityRef{Type: "ghost", ID: "1"},
		Token:        "tok-x",
	}
	store.CreateSubscription(context.Background(), sub)
	handler.store = store
	m.SubscriptionID = sub.ID

	fn := handler.Handler(EmailTemplate{Subject: "s", HTML: "b"})
	if _, err := fn(context.Background(), m); !drip.IsNotFound(err) {
		t.Errorf("error = %v, want NotFoundError for missing resolver", err)
	}
}

func TestEmailHandlerRejectsUnaddressableEntity(t *testing.T) {
	reg := drip.NewRegistry()
	reg.RegisterEntityResolver("customer", func(ctx context.Context, id string) (any, error) {
		return struct{ Name string }{"NoEmail"}, nil
	})
	store := memory.New()
	sub := &drip.Subscription{
		ID:           uuid.New(),
		CampaignSlug: "onboarding",
		Subscriber:   drip.EntityRef{Type: "customer", ID: "42"},
		Token:        "tok-y",
	}
	store.CreateSubscription(context.Background(), sub)
	m := &drip.Mailing{ID: uuid.New(), SubscriptionID: sub.ID, Mailer: "m", Action: "welcome"}

	handler := NewEmailHandler(reg, store, &capturingSender{})
	fn := handler.Handler(EmailTemplate{Subject: "s", HTML: "b"})
	if _, err := fn(context.Background(), m); err == nil {
		t.Error("entity without an email address should fail delivery preparation")
	}
}

func TestTemplateCacheBadSource(t *testing.T) {
	tc := newTemplateCache()
	if _, err := tc.render("{{ unclosed", nil); err == nil {
		t.Error("invalid template source should error")
	}
}

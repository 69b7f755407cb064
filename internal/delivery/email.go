package delivery

import (
	"context"
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/drip-engine/internal/drip"
	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// EmailSender sends a rendered email. Implemented by the SES adapter and
// by test fakes.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Addressable is implemented by subscriber entities that can receive
// email.
type Addressable interface {
	EmailAddress() string
}

// EmailTemplate holds the Liquid sources for one drip action's email.
type EmailTemplate struct {
	Subject string
	HTML    string
}

// templateCache parses Liquid sources once per target.
type templateCache struct {
	engine *liquid.Engine
	cache  sync.Map // source -> *liquid.Template
}

func newTemplateCache() *templateCache {
	return &templateCache{engine: liquid.NewEngine()}
}

func (tc *templateCache) render(source string, binding map[string]interface{}) (string, error) {
	if cached, ok := tc.cache.Load(source); ok {
		out, err := cached.(*liquid.Template).Render(binding)
		return string(out), err
	}
	tmpl, err := tc.engine.ParseString(source)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	tc.cache.Store(source, tmpl)
	out, err := tmpl.Render(binding)
	return string(out), err
}

// EmailHandler builds delivery handlers that render a Liquid template for
// the mailing's subscriber and return an envelope deferring the actual
// send to an EmailSender.
type EmailHandler struct {
	registry  *drip.Registry
	store     drip.Store
	sender    EmailSender
	templates *templateCache
}

// NewEmailHandler creates an email handler factory over the entity
// resolvers in registry.
func NewEmailHandler(registry *drip.Registry, store drip.Store, sender EmailSender) *EmailHandler {
	return &EmailHandler{
		registry:  registry,
		store:     store,
		sender:    sender,
		templates: newTemplateCache(),
	}
}

// Handler returns a HandlerFunc rendering tmpl for each due mailing.
func (h *EmailHandler) Handler(tmpl EmailTemplate) HandlerFunc {
	return func(ctx context.Context, m *drip.Mailing) (Deliverable, error) {
		sub, err := h.store.SubscriptionByID(ctx, m.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			return nil, fmt.Errorf("mailing %s has no subscription", m.ID)
		}

		entity, err := h.registry.ResolveEntity(ctx, sub.Subscriber)
		if err != nil {
			return nil, err
		}
		addr, ok := entity.(Addressable)
		if !ok {
			return nil, fmt.Errorf("subscriber %s/%s has no email address", sub.Subscriber.Type, sub.Subscriber.ID)
		}

		binding := map[string]interface{}{
			"subscriber": entity,
			"mailing": map[string]interface{}{
				"mailer":  m.Mailer,
				"action":  m.Action,
				"send_at": m.SendAt,
			},
			"subscription": map[string]interface{}{
				"token":    sub.Token,
				"campaign": sub.CampaignSlug,
			},
		}

		subject, err := h.templates.render(tmpl.Subject, binding)
		if err != nil {
			return nil, err
		}
		html, err := h.templates.render(tmpl.HTML, binding)
		if err != nil {
			return nil, err
		}

		return &Envelope{
			To:      addr.EmailAddress(),
			Subject: subject,
			HTML:    html,
			sender:  h.sender,
		}, nil
	}
}

// Envelope is a rendered email waiting to be sent.
type Envelope struct {
	To      string
	Subject string
	HTML    string
	sender  EmailSender
}

// Deliver sends the envelope through its EmailSender.
func (e *Envelope) Deliver(ctx context.Context) error {
	if err := e.sender.Send(ctx, e.To, e.Subject, e.HTML); err != nil {
		return err
	}
	logger.Debug("email delivered", "email", e.To, "subject", e.Subject)
	return nil
}

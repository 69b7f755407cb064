package campaigns

import (
	"database/sql"
	"time"

	"github.com/ignite/drip-engine/internal/delivery"
	"github.com/ignite/drip-engine/internal/drip"
	"github.com/ignite/drip-engine/internal/pkg/logger"
)

const onboardingMailer = "onboarding_mailer"

// Onboarding builds the customer onboarding campaign: a welcome email an
// hour after signup, a getting-started guide on day three at 9am, and a
// weekly check-in starting after two weeks and running for sixty days.
func Onboarding() *drip.Dripper {
	dr := drip.NewDripper("onboarding", "Customer Onboarding")
	dr.DefaultMailer = onboardingMailer

	dr.MustDrip(&drip.Drip{
		Action:   "welcome",
		Schedule: drip.Schedule{Delay: drip.In(time.Hour)},
	})

	dr.MustDrip(&drip.Drip{
		Action: "getting_started",
		Schedule: drip.Schedule{
			Delay:  drip.In(3 * 24 * time.Hour),
			AtTime: drip.Dynamic(nineAM),
		},
	})

	dr.MustDrip(&drip.Drip{
		Action: "weekly_check_in",
		Schedule: drip.Schedule{
			Every: drip.In(7 * 24 * time.Hour),
			Start: drip.In(14 * 24 * time.Hour),
			Until: drip.UntilFunc(func(next *drip.Mailing, s *drip.Subscription) bool {
				return next.SendAt.After(s.CreatedAt.Add(60 * 24 * time.Hour))
			}),
		},
	})

	dr.Rescue = func(err error, m *drip.Mailing) bool {
		// Transient transport failures stay pending for the next cycle.
		logger.Warn("onboarding delivery failed, leaving pending",
			"action", m.Action, "mailing_id", m.ID.String(), "error", err.Error())
		return true
	}

	dr.OnComplete(func(s *drip.Subscription) {
		logger.Info("onboarding complete", "token", s.Token)
	})

	return dr
}

// RegisterOnboarding wires the onboarding campaign into the registry and
// its email handlers into the delivery registry.
func RegisterOnboarding(reg *drip.Registry, handlers *delivery.Registry, emails *delivery.EmailHandler, db *sql.DB) error {
	if err := reg.Register(Onboarding()); err != nil {
		return err
	}
	reg.RegisterEntityResolver("customer", NewCustomerResolver(db))

	handlers.Register(onboardingMailer, "welcome", emails.Handler(delivery.EmailTemplate{
		Subject: "Welcome aboard, {{ subscriber.Name }}!",
		HTML: `<p>Hi {{ subscriber.Name }},</p>
<p>Thanks for signing up. Over the next few weeks we'll send you a few
short emails to help you get the most out of your account.</p>
<p><a href="https://app.example.com/unsubscribe/{{ subscription.token }}">Unsubscribe</a></p>`,
	}))

	handlers.Register(onboardingMailer, "getting_started", emails.Handler(delivery.EmailTemplate{
		Subject: "Getting started with your account",
		HTML: `<p>Hi {{ subscriber.Name }},</p>
<p>Here are three things worth setting up this week.</p>
<p><a href="https://app.example.com/unsubscribe/{{ subscription.token }}">Unsubscribe</a></p>`,
	}))

	handlers.Register(onboardingMailer, "weekly_check_in", emails.Handler(delivery.EmailTemplate{
		Subject: "Your weekly check-in",
		HTML: `<p>Hi {{ subscriber.Name }},</p>
<p>Here's what's new since last week.</p>
<p><a href="https://app.example.com/unsubscribe/{{ subscription.token }}">Unsubscribe</a></p>`,
	}))

	return nil
}

func nineAM(d *drip.Drip, m *drip.Mailing, s *drip.Subscription) drip.Timing {
	now := time.Now()
	return drip.At(time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, time.UTC))
}

package drip

import (
	"testing"
	"time"
)

var scheduleNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedEvaluator() Evaluator {
	return Evaluator{Now: func() time.Time { return scheduleNow }}
}

func TestSendAtDelay(t *testing.T) {
	d := &Drip{
		Action:   "welcome",
		Mailer:   "m",
		Schedule: Schedule{Delay: In(3 * 24 * time.Hour)},
	}
	got := fixedEvaluator().SendAt(d, &Mailing{}, &Subscription{})
	want := scheduleNow.Add(3 * 24 * time.Hour)
	if !got.Equal(want) {
		t.Errorf("SendAt = %v, want %v", got, want)
	}
}

func TestSendAtDeterministic(t *testing.T) {
	d := &Drip{
		Action:   "welcome",
		Mailer:   "m",
		Schedule: Schedule{Delay: In(time.Hour)},
	}
	ev := fixedEvaluator()
	first := ev.SendAt(d, &Mailing{}, &Subscription{})
	for i := 0; i < 10; i++ {
		if got := ev.SendAt(d, &Mailing{}, &Subscription{}); !got.Equal(first) {
			t.Fatalf("SendAt not deterministic: %v != %v", got, first)
		}
	}
}

func TestSendAtOnAbsolute(t *testing.T) {
	target := time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC)
	d := &Drip{
		Action:   "launch",
		Mailer:   "m",
		Schedule: Schedule{On: At(target)},
	}
	if got := fixedEvaluator().SendAt(d, &Mailing{}, &Subscription{}); !got.Equal(target) {
		t.Errorf("SendAt = %v, want %v", got, target)
	}
}

func TestSendAtDynamicTiming(t *testing.T) {
	d := &Drip{
		Action: "per_subscriber",
		Mailer: "m",
		Schedule: Schedule{
			Delay: Dynamic(func(d *Drip, m *Mailing, s *Subscription) Timing {
				return In(2 * time.Hour)
			}),
		},
	}
	got := fixedEvaluator().SendAt(d, &Mailing{}, &Subscription{})
	want := scheduleNow.Add(2 * time.Hour)
	if !got.Equal(want) {
		t.Errorf("SendAt = %v, want %v", got, want)
	}
}

func TestSendAtTimeOfDayOverride(t *testing.T) {
	d := &Drip{
		Action: "digest",
		Mailer: "m",
		Schedule: Schedule{
			Delay:  In(3 * 24 * time.Hour),
			AtTime: At(time.Date(2000, 1, 1, 17, 2, 2, 0, time.UTC)),
		},
	}
	got := fixedEvaluator().SendAt(d, &Mailing{}, &Subscription{})
	want := time.Date(2026, 3, 13, 17, 2, 2, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("SendAt = %v, want %v", got, want)
	}
}

func TestSendAtPeriodicalUsesStart(t *testing.T) {
	d := &Drip{
		Action: "check_in",
		Mailer: "m",
		Schedule: Schedule{
			Every: In(time.Hour),
			Start: In(30 * time.Minute),
		},
	}
	got := fixedEvaluator().SendAt(d, &Mailing{}, &Subscription{})
	want := scheduleNow.Add(30 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("SendAt = %v, want %v", got, want)
	}
}

func TestSendAtPeriodicalDefaultStart(t *testing.T) {
	d := &Drip{
		Action:   "check_in",
		Mailer:   "m",
		Schedule: Schedule{Every: In(time.Hour)},
	}
	if got := fixedEvaluator().SendAt(d, &Mailing{}, &Subscription{}); !got.Equal(scheduleNow) {
		t.Errorf("SendAt = %v, want now (%v)", got, scheduleNow)
	}
}

func TestNextSendAtAnchorsOnPrevious(t *testing.T) {
	d := &Drip{
		Action:   "check_in",
		Mailer:   "m",
		Schedule: Schedule{Every: In(time.Hour), Start: In(30 * time.Minute)},
	}
	ev := fixedEvaluator()
	prev := &Mailing{SendAt: scheduleNow.Add(30 * time.Minute)}
	got := ev.NextSendAt(d, prev, &Subscription{})
	want := prev.SendAt.Add(time.Hour)
	if !got.Equal(want) {
		t.Errorf("NextSendAt = %v, want %v", got, want)
	}
}

func TestNextSendAtNoDrift(t *testing.T) {
	// Late perform cycles must not push subsequent occurrences later: the
	// interval is anchored on the previous due time, not on delivery time.
	d := &Drip{
		Action:   "check_in",
		Mailer:   "m",
		Schedule: Schedule{Every: In(24 * time.Hour)},
	}
	lateClock := Evaluator{Now: func() time.Time { return scheduleNow.Add(6 * time.Hour) }}
	prev := &Mailing{SendAt: scheduleNow}
	got := lateClock.NextSendAt(d, prev, &Subscription{})
	want := scheduleNow.Add(24 * time.Hour)
	if !got.Equal(want) {
		t.Errorf("NextSendAt = %v, want %v", got, want)
	}
}

func TestUntilTime(t *testing.T) {
	limit := scheduleNow.Add(48 * time.Hour)
	d := &Drip{
		Action:   "check_in",
		Mailer:   "m",
		Schedule: Schedule{Every: In(24 * time.Hour), Until: UntilTime(limit)},
	}
	ev := fixedEvaluator()
	sub := &Subscription{}

	within := &Mailing{SendAt: limit.Add(-time.Minute)}
	if ev.ReachedUntil(d, within, sub) {
		t.Error("occurrence before the limit should not stop the chain")
	}
	past := &Mailing{SendAt: limit.Add(time.Minute)}
	if !ev.ReachedUntil(d, past, sub) {
		t.Error("occurrence past the limit should stop the chain")
	}
}

func TestUntilFuncSeesSubscription(t *testing.T) {
	sub := &Subscription{CreatedAt: scheduleNow}
	d := &Drip{
		Action: "check_in",
		Mailer: "m",
		Schedule: Schedule{
			Every: In(24 * time.Hour),
			Until: UntilFunc(func(next *Mailing, s *Subscription) bool {
				return next.SendAt.After(s.CreatedAt.Add(7 * 24 * time.Hour))
			}),
		},
	}
	ev := fixedEvaluator()
	if ev.ReachedUntil(d, &Mailing{SendAt: scheduleNow.Add(6 * 24 * time.Hour)}, sub) {
		t.Error("chain stopped before the subscription-relative limit")
	}
	if !ev.ReachedUntil(d, &Mailing{SendAt: scheduleNow.Add(8 * 24 * time.Hour)}, sub) {
		t.Error("chain did not stop past the subscription-relative limit")
	}
}

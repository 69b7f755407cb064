package drip

import (
	"time"
)

// TimingFunc is a dynamic schedule resolver. It is invoked with the drip,
// the mailing being scheduled, and its subscription, and must return a
// literal Timing (a further dynamic value is not resolved again).
type TimingFunc func(d *Drip, m *Mailing, s *Subscription) Timing

// Timing is a schedule value: an absolute point in time, a duration
// relative to "now", or a function resolved at schedule time.
type Timing struct {
	at time.Time
	in time.Duration
	fn TimingFunc
}

// At returns a Timing fixed at an absolute point in time.
func At(t time.Time) Timing { return Timing{at: t} }

// In returns a Timing relative to the moment of scheduling.
func In(d time.Duration) Timing { return Timing{in: d} }

// Dynamic returns a Timing resolved by fn at schedule time.
func Dynamic(fn TimingFunc) Timing { return Timing{fn: fn} }

func (t Timing) isZero() bool { return t.at.IsZero() && t.in == 0 && t.fn == nil }

// resolve evaluates the timing to an absolute time. A duration-valued
// result is anchored at now; an absolute result is used as-is.
func (t Timing) resolve(now time.Time, d *Drip, m *Mailing, s *Subscription) time.Time {
	v := t
	if v.fn != nil {
		v = v.fn(d, m, s)
	}
	if !v.at.IsZero() {
		return v.at
	}
	return now.Add(v.in)
}

// duration evaluates the timing as a duration. An absolute result is
// converted to an offset from now.
func (t Timing) duration(now time.Time, d *Drip, m *Mailing, s *Subscription) time.Duration {
	v := t
	if v.fn != nil {
		v = v.fn(d, m, s)
	}
	if !v.at.IsZero() {
		return v.at.Sub(now)
	}
	return v.in
}

// UntilRule stops a periodical chain: either a fixed timestamp the next
// occurrence must not pass, or a predicate evaluated against the candidate
// next mailing and its subscription.
type UntilRule struct {
	at time.Time
	fn func(next *Mailing, s *Subscription) bool
}

// UntilTime stops chaining once the candidate occurrence would be due
// after t.
func UntilTime(t time.Time) UntilRule { return UntilRule{at: t} }

// UntilFunc stops chaining when fn returns true for the candidate next
// mailing.
func UntilFunc(fn func(next *Mailing, s *Subscription) bool) UntilRule { return UntilRule{fn: fn} }

func (u UntilRule) isZero() bool { return u.at.IsZero() && u.fn == nil }

// reached reports whether the chain should stop before creating next.
func (u UntilRule) reached(next *Mailing, s *Subscription) bool {
	if u.fn != nil {
		return u.fn(next, s)
	}
	if !u.at.IsZero() {
		return next.SendAt.After(u.at)
	}
	return false
}

// Schedule holds the declarative timing options of a drip. Exactly one of
// Delay, On, or Every must be set; Start, Until, At, and If only apply as
// documented on each field.
type Schedule struct {
	// Delay schedules the mailing an offset after subscribe (or refuel)
	// time. An absolute resolution result is used as-is.
	Delay Timing
	// On schedules the mailing at an absolute target. A duration result is
	// anchored at now, same resolution rules as Delay.
	On Timing
	// Every marks the drip periodical and sets the interval between
	// occurrences. Must resolve to a duration.
	Every Timing
	// Start is the timing of the first periodical occurrence. Defaults to
	// now when unset.
	Start Timing
	// Until stops the periodical chain, evaluated against the candidate
	// next mailing.
	Until UntilRule
	// AtTime overrides the hour/minute/second of the computed date; the
	// date component is unchanged.
	AtTime Timing
	// If gates periodical chaining per firing: when it returns false no
	// next occurrence is created for that delivery.
	If func(m *Mailing) bool
}

// Evaluator computes concrete send times from drip schedules. Now is
// injectable so schedule arithmetic is deterministic under test.
type Evaluator struct {
	Now func() time.Time
}

func (ev Evaluator) now() time.Time {
	if ev.Now != nil {
		return ev.Now()
	}
	return time.Now()
}

// SendAt computes the due time for a first occurrence of d: the resolved
// Start for periodicals, the resolved On or Delay otherwise, with the
// optional time-of-day override applied last.
func (ev Evaluator) SendAt(d *Drip, m *Mailing, s *Subscription) time.Time {
	now := ev.now()
	sc := d.Schedule

	var date time.Time
	switch {
	case d.Periodical():
		date = sc.Start.resolve(now, d, m, s)
	case !sc.On.isZero():
		date = sc.On.resolve(now, d, m, s)
	default:
		date = sc.Delay.resolve(now, d, m, s)
	}

	return ev.applyTimeOfDay(date, d, m, s)
}

// NextSendAt computes the due time of the occurrence after prev: the
// previous occurrence's due time plus the resolved interval. Anchoring on
// the previous due time rather than now keeps late perform cycles from
// accumulating drift. The drip must be periodical.
func (ev Evaluator) NextSendAt(d *Drip, prev *Mailing, s *Subscription) time.Time {
	every := d.Schedule.Every.duration(ev.now(), d, prev, s)
	return ev.applyTimeOfDay(prev.SendAt.Add(every), d, prev, s)
}

// ReachedUntil reports whether the chain must stop before creating next.
func (ev Evaluator) ReachedUntil(d *Drip, next *Mailing, s *Subscription) bool {
	return d.Schedule.Until.reached(next, s)
}

func (ev Evaluator) applyTimeOfDay(date time.Time, d *Drip, m *Mailing, s *Subscription) time.Time {
	sc := d.Schedule
	if sc.AtTime.isZero() {
		return date
	}
	clock := sc.AtTime.resolve(ev.now(), d, m, s)
	return time.Date(
		date.Year(), date.Month(), date.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0,
		date.Location(),
	)
}

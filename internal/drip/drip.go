package drip

// BlockResult is the outcome of a drip's inline block, evaluated with the
// pending mailing just before delivery.
type BlockResult int

const (
	// Deliver proceeds with delivery.
	Deliver BlockResult = iota
	// Skip marks the mailing skipped and does not deliver.
	Skip
	// Halt leaves the mailing pending and does not deliver; it stays due
	// for the next perform cycle.
	Halt
	// EndSubscription ends the subscription; the mailing is not delivered.
	EndSubscription
	// Unsubscribe unsubscribes the subscription; the mailing is not
	// delivered.
	Unsubscribe
)

// Drip is a declarative rule producing one kind of scheduled message,
// one-shot or periodical. Drips are registered on a Dripper and validated
// at registration time.
type Drip struct {
	// Action is the drip's unique key within its campaign, and the action
	// half of the delivery target.
	Action string
	// Mailer is the opaque delivery target identifier.
	Mailer string
	// Step is the registration position, used as the ordering tie-break
	// when mailings share a send_at.
	Step int
	// Schedule holds the timing options.
	Schedule Schedule
	// Block, when set, is evaluated with the pending mailing before
	// delivery and may divert it (skip, halt, end, unsubscribe).
	Block func(m *Mailing) BlockResult
}

// Periodical reports whether the drip repeats on an interval.
func (d *Drip) Periodical() bool { return !d.Schedule.Every.isZero() }

func (d *Drip) validate(campaign string) error {
	if d.Action == "" {
		return &ConfigurationError{Campaign: campaign, Action: d.Action, Reason: "an action name is required"}
	}
	if d.Mailer == "" {
		return &ConfigurationError{Campaign: campaign, Action: d.Action, Reason: "a mailer is required"}
	}

	set := 0
	for _, t := range []Timing{d.Schedule.Delay, d.Schedule.On, d.Schedule.Every} {
		if !t.isZero() {
			set++
		}
	}
	if set == 0 {
		return &ConfigurationError{Campaign: campaign, Action: d.Action, Reason: "one of delay, on, or every is required"}
	}
	if set > 1 {
		return &ConfigurationError{Campaign: campaign, Action: d.Action, Reason: "delay, on, and every are mutually exclusive"}
	}

	if d.Schedule.Every.isZero() {
		if !d.Schedule.Start.isZero() {
			return &ConfigurationError{Campaign: campaign, Action: d.Action, Reason: "start only applies to periodical drips"}
		}
		if !d.Schedule.Until.isZero() {
			return &ConfigurationError{Campaign: campaign, Action: d.Action, Reason: "until only applies to periodical drips"}
		}
	}
	return nil
}

package drip

// DefaultBatchSize is the perform batch size used when a dripper does not
// set its own.
const DefaultBatchSize = 100

// RescueFunc classifies a delivery failure for a dripper. Returning true
// marks the failure handled: the mailing is left unsent for retry and the
// error does not propagate from perform.
type RescueFunc func(err error, m *Mailing) bool

// Dripper owns a campaign's drips, lifecycle callbacks, perform batch
// size, and rescue policy.
type Dripper struct {
	// Slug is the campaign's unique registry key.
	Slug string
	// Name is the campaign's display name.
	Name string
	// Active campaigns are included in PerformAll. Inactive ones keep
	// their subscriptions but stop delivering.
	Active bool
	// BatchSize bounds how many due mailings one perform batch holds.
	BatchSize int
	// DefaultMailer is used by drips registered without an explicit
	// mailer.
	DefaultMailer string
	// Rescue classifies delivery failures; nil propagates everything.
	Rescue RescueFunc

	drips []*Drip
	index map[string]*Drip

	callbacks callbacks
}

// NewDripper creates an active dripper for the campaign slug.
func NewDripper(slug, name string) *Dripper {
	return &Dripper{
		Slug:      slug,
		Name:      name,
		Active:    true,
		BatchSize: DefaultBatchSize,
		index:     make(map[string]*Drip),
	}
}

// Drip registers a message rule under its action name. Registration order
// assigns each drip's step. Fails with a ConfigurationError when the
// target or timing options are invalid, or the action is already taken.
func (dr *Dripper) Drip(d *Drip) error {
	if d.Mailer == "" {
		d.Mailer = dr.DefaultMailer
	}
	if err := d.validate(dr.Slug); err != nil {
		return err
	}
	if _, dup := dr.index[d.Action]; dup {
		return &ConfigurationError{Campaign: dr.Slug, Action: d.Action, Reason: "action already registered"}
	}
	if d.Step == 0 {
		d.Step = len(dr.drips) + 1
	}
	dr.drips = append(dr.drips, d)
	dr.index[d.Action] = d
	return nil
}

// MustDrip is Drip but panics on a ConfigurationError. Campaign definitions
// are static, so a bad registration is a programming error.
func (dr *Dripper) MustDrip(d *Drip) *Dripper {
	if err := dr.Drip(d); err != nil {
		panic(err)
	}
	return dr
}

// Drips returns the registered drips in registration order.
func (dr *Dripper) Drips() []*Drip { return dr.drips }

// DripFor returns the drip registered under action, or nil.
func (dr *Dripper) DripFor(action string) *Drip { return dr.index[action] }

// dripForTarget resolves a mailing's (mailer, action) pair back to its
// drip. A mailing whose drip was since re-targeted to another mailer no
// longer matches.
func (dr *Dripper) dripForTarget(mailer, action string) *Drip {
	d := dr.index[action]
	if d == nil || d.Mailer != mailer {
		return nil
	}
	return d
}

// callbacks holds the operator hooks for one dripper.
type callbacks struct {
	beforeSubscribe []func(s *Subscription) error
	onSubscribe     []func(s *Subscription)
	beforeDrip      []func(d *Drip, m *Mailing) bool
	onSkip          []func(m *Mailing)
	onUnsubscribe   []func(s *Subscription)
	onEnd           []func(s *Subscription)
	onResubscribe   []func(s *Subscription)
	onComplete      []func(s *Subscription)
	beforePerform   []func(dr *Dripper)
	onPerform       []func(dr *Dripper, batch []*Mailing)
	afterPerform    []func(dr *Dripper)
}

// BeforeSubscribe registers a guard run before a subscription persists.
// A non-nil error rejects the attempt with a ValidationError.
func (dr *Dripper) BeforeSubscribe(fn func(s *Subscription) error) *Dripper {
	dr.callbacks.beforeSubscribe = append(dr.callbacks.beforeSubscribe, fn)
	return dr
}

// OnSubscribe registers a hook fired after a subscription and its mailings
// are created.
func (dr *Dripper) OnSubscribe(fn func(s *Subscription)) *Dripper {
	dr.callbacks.onSubscribe = append(dr.callbacks.onSubscribe, fn)
	return dr
}

// BeforeDrip registers a per-occurrence gate. Returning false leaves the
// mailing pending without delivering it.
func (dr *Dripper) BeforeDrip(fn func(d *Drip, m *Mailing) bool) *Dripper {
	dr.callbacks.beforeDrip = append(dr.callbacks.beforeDrip, fn)
	return dr
}

// OnSkip registers a hook fired when a mailing is skipped.
func (dr *Dripper) OnSkip(fn func(m *Mailing)) *Dripper {
	dr.callbacks.onSkip = append(dr.callbacks.onSkip, fn)
	return dr
}

// OnUnsubscribe registers a hook fired when a subscription unsubscribes.
func (dr *Dripper) OnUnsubscribe(fn func(s *Subscription)) *Dripper {
	dr.callbacks.onUnsubscribe = append(dr.callbacks.onUnsubscribe, fn)
	return dr
}

// OnEnd registers a hook fired when a subscription ends.
func (dr *Dripper) OnEnd(fn func(s *Subscription)) *Dripper {
	dr.callbacks.onEnd = append(dr.callbacks.onEnd, fn)
	return dr
}

// OnResubscribe registers a hook fired when a subscription reactivates.
func (dr *Dripper) OnResubscribe(fn func(s *Subscription)) *Dripper {
	dr.callbacks.onResubscribe = append(dr.callbacks.onResubscribe, fn)
	return dr
}

// OnComplete registers a hook fired once when a subscription runs out of
// pending mailings.
func (dr *Dripper) OnComplete(fn func(s *Subscription)) *Dripper {
	dr.callbacks.onComplete = append(dr.callbacks.onComplete, fn)
	return dr
}

// BeforePerform registers a hook fired at the start of a perform cycle.
func (dr *Dripper) BeforePerform(fn func(dr *Dripper)) *Dripper {
	dr.callbacks.beforePerform = append(dr.callbacks.beforePerform, fn)
	return dr
}

// OnPerform registers a hook fired once per batch with its members.
func (dr *Dripper) OnPerform(fn func(dr *Dripper, batch []*Mailing)) *Dripper {
	dr.callbacks.onPerform = append(dr.callbacks.onPerform, fn)
	return dr
}

// AfterPerform registers a hook fired when a perform cycle is exhausted.
func (dr *Dripper) AfterPerform(fn func(dr *Dripper)) *Dripper {
	dr.callbacks.afterPerform = append(dr.callbacks.afterPerform, fn)
	return dr
}

func (dr *Dripper) runBeforeSubscribe(s *Subscription) error {
	for _, fn := range dr.callbacks.beforeSubscribe {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (dr *Dripper) runBeforeDrip(d *Drip, m *Mailing) bool {
	for _, fn := range dr.callbacks.beforeDrip {
		if !fn(d, m) {
			return false
		}
	}
	return true
}

func (dr *Dripper) runOnSubscribe(s *Subscription) {
	for _, fn := range dr.callbacks.onSubscribe {
		fn(s)
	}
}

func (dr *Dripper) runOnSkip(m *Mailing) {
	for _, fn := range dr.callbacks.onSkip {
		fn(m)
	}
}

func (dr *Dripper) runOnUnsubscribe(s *Subscription) {
	for _, fn := range dr.callbacks.onUnsubscribe {
		fn(s)
	}
}

func (dr *Dripper) runOnEnd(s *Subscription) {
	for _, fn := range dr.callbacks.onEnd {
		fn(s)
	}
}

func (dr *Dripper) runOnResubscribe(s *Subscription) {
	for _, fn := range dr.callbacks.onResubscribe {
		fn(s)
	}
}

func (dr *Dripper) runOnComplete(s *Subscription) {
	for _, fn := range dr.callbacks.onComplete {
		fn(s)
	}
}

func (dr *Dripper) runBeforePerform() {
	for _, fn := range dr.callbacks.beforePerform {
		fn(dr)
	}
}

func (dr *Dripper) runOnPerform(batch []*Mailing) {
	for _, fn := range dr.callbacks.onPerform {
		fn(dr, batch)
	}
}

func (dr *Dripper) runAfterPerform() {
	for _, fn := range dr.callbacks.afterPerform {
		fn(dr)
	}
}

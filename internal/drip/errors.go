package drip

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid drip registration: a missing
// mailer/action target or missing/conflicting timing options. It is only
// ever returned at registration time, never while scheduling.
type ConfigurationError struct {
	Campaign string
	Action   string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("drip %q on campaign %q: %s", e.Action, e.Campaign, e.Reason)
}

// ValidationError reports that a before-subscribe guard rejected a
// subscription attempt. No record is persisted when it is returned.
type ValidationError struct {
	Campaign string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("subscribe to campaign %q rejected: %v", e.Campaign, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InvalidStateError reports a state-machine guard violation, such as ending
// an already-unsubscribed subscription. The Try* call variants convert it
// into a boolean false instead.
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// NotFoundError reports an unknown campaign slug, subscription token, or
// record identifier.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// DeliveryFailure wraps an error raised by the external delivery capability
// for a mailing. Unless a dripper's rescue policy handles it, it propagates
// from perform with the mailing left unsent so it is retried.
type DeliveryFailure struct {
	Mailer string
	Action string
	Err    error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery of %s#%s failed: %v", e.Mailer, e.Action, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var is *InvalidStateError
	return errors.As(err, &is)
}

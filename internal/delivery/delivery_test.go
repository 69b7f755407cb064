package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ignite/drip-engine/internal/drip"
)

func TestRegistryDispatchesByTarget(t *testing.T) {
	reg := NewRegistry()
	var handled []string
	reg.Register("m", "welcome", func(ctx context.Context, m *drip.Mailing) (Deliverable, error) {
		handled = append(handled, m.Action)
		return nil, nil
	})

	m := &drip.Mailing{ID: uuid.New(), Mailer: "m", Action: "welcome"}
	if err := reg.Deliver(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if len(handled) != 1 {
		t.Errorf("handler invoked %d times, want 1", len(handled))
	}
}

func TestRegistryUnknownTarget(t *testing.T) {
	reg := NewRegistry()
	m := &drip.Mailing{ID: uuid.New(), Mailer: "m", Action: "unknown"}
	if err := reg.Deliver(context.Background(), m); err == nil {
		t.Error("unregistered target should error")
	}
}

type staticDeliverable struct {
	delivered *bool
	err       error
}

func (d staticDeliverable) Deliver(ctx context.Context) error {
	if d.err != nil {
		return d.err
	}
	*d.delivered = true
	return nil
}

func TestRegistryInvokesSecondaryDeliverable(t *testing.T) {
	reg := NewRegistry()
	var delivered bool
	reg.Register("m", "welcome", func(ctx context.Context, m *drip.Mailing) (Deliverable, error) {
		return staticDeliverable{delivered: &delivered}, nil
	})

	m := &drip.Mailing{ID: uuid.New(), Mailer: "m", Action: "welcome"}
	if err := reg.Deliver(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if !delivered {
		t.Error("returned deliverable was not invoked")
	}
}

func TestRegistryPropagatesDeliverableError(t *testing.T) {
	reg := NewRegistry()
	want := errors.New("smtp down")
	reg.Register("m", "welcome", func(ctx context.Context, m *drip.Mailing) (Deliverable, error) {
		return staticDeliverable{err: want}, nil
	})

	m := &drip.Mailing{ID: uuid.New(), Mailer: "m", Action: "welcome"}
	if err := reg.Deliver(context.Background(), m); !errors.Is(err, want) {
		t.Errorf("error = %v, want %v", err, want)
	}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	var got string
	reg.Register("m", "a", func(ctx context.Context, m *drip.Mailing) (Deliverable, error) {
		got = "first"
		return nil, nil
	})
	reg.Register("m", "a", func(ctx context.Context, m *drip.Mailing) (Deliverable, error) {
		got = "second"
		return nil, nil
	})

	reg.Deliver(context.Background(), &drip.Mailing{Mailer: "m", Action: "a"})
	if got != "second" {
		t.Errorf("dispatched to %q, want the replacement handler", got)
	}
}

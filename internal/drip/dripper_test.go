package drip

import (
	"errors"
	"testing"
	"time"
)

func TestDripAssignsSteps(t *testing.T) {
	dr := NewDripper("onboarding", "Onboarding")
	dr.DefaultMailer = "m"

	for _, action := range []string{"a", "b", "c"} {
		if err := dr.Drip(&Drip{Action: action, Schedule: Schedule{Delay: In(time.Hour)}}); err != nil {
			t.Fatalf("Drip(%s): %v", action, err)
		}
	}

	for i, d := range dr.Drips() {
		if d.Step != i+1 {
			t.Errorf("drip %s step = %d, want %d", d.Action, d.Step, i+1)
		}
	}
}

func TestDripDuplicateAction(t *testing.T) {
	dr := NewDripper("onboarding", "Onboarding")
	dr.DefaultMailer = "m"

	if err := dr.Drip(&Drip{Action: "welcome", Schedule: Schedule{Delay: In(time.Hour)}}); err != nil {
		t.Fatal(err)
	}
	err := dr.Drip(&Drip{Action: "welcome", Schedule: Schedule{Delay: In(time.Hour)}})
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("duplicate action error = %v, want ConfigurationError", err)
	}
}

func TestDripValidation(t *testing.T) {
	tests := []struct {
		name string
		drip *Drip
	}{
		{"missing action", &Drip{Mailer: "m", Schedule: Schedule{Delay: In(time.Hour)}}},
		{"missing mailer", &Drip{Action: "a", Schedule: Schedule{Delay: In(time.Hour)}}},
		{"no timing option", &Drip{Action: "a", Mailer: "m"}},
		{"delay and on together", &Drip{Action: "a", Mailer: "m", Schedule: Schedule{
			Delay: In(time.Hour), On: At(time.Now().Add(time.Hour)),
		}}},
		{"delay and every together", &Drip{Action: "a", Mailer: "m", Schedule: Schedule{
			Delay: In(time.Hour), Every: In(time.Hour),
		}}},
		{"start without every", &Drip{Action: "a", Mailer: "m", Schedule: Schedule{
			Delay: In(time.Hour), Start: In(time.Minute),
		}}},
		{"until without every", &Drip{Action: "a", Mailer: "m", Schedule: Schedule{
			Delay: In(time.Hour), Until: UntilTime(time.Now()),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dr := NewDripper("c", "C")
			err := dr.Drip(tt.drip)
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Errorf("Drip() error = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestDefaultMailerApplied(t *testing.T) {
	dr := NewDripper("c", "C")
	dr.DefaultMailer = "campaign_mailer"
	if err := dr.Drip(&Drip{Action: "a", Schedule: Schedule{Delay: In(time.Hour)}}); err != nil {
		t.Fatal(err)
	}
	if got := dr.DripFor("a").Mailer; got != "campaign_mailer" {
		t.Errorf("mailer = %q, want default applied", got)
	}
}

func TestRegistryDuplicateSlug(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(NewDripper("c", "C")); err != nil {
		t.Fatal(err)
	}
	err := reg.Register(NewDripper("c", "C again"))
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("duplicate slug error = %v, want ConfigurationError", err)
	}
}

func TestRegistryUnknownSlug(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Dripper("nope")
	if !IsNotFound(err) {
		t.Fatalf("Dripper(nope) error = %v, want NotFoundError", err)
	}
}

func TestRegistryOrder(t *testing.T) {
	reg := NewRegistry()
	for _, slug := range []string{"z", "a", "m"} {
		reg.MustRegister(NewDripper(slug, slug))
	}
	var got []string
	for _, dr := range reg.Drippers() {
		got = append(got, dr.Slug)
	}
	want := []string{"z", "a", "m"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Drippers order = %v, want %v", got, want)
		}
	}
}

func TestDripForTargetMailerMismatch(t *testing.T) {
	dr := NewDripper("c", "C")
	dr.MustDrip(&Drip{Action: "a", Mailer: "m1", Schedule: Schedule{Delay: In(time.Hour)}})
	if dr.dripForTarget("m2", "a") != nil {
		t.Error("a mailing targeting a re-targeted mailer should no longer resolve")
	}
	if dr.dripForTarget("m1", "a") == nil {
		t.Error("matching target should resolve")
	}
}

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func capture(t *testing.T, fn func()) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	fn()
	if buf.Len() == 0 {
		return nil
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", buf.String())
	}
	return entry
}

func TestLevelFiltering(t *testing.T) {
	SetLevel(WARN)
	defer SetLevel(INFO)

	if entry := capture(t, func() { Info("hidden") }); entry != nil {
		t.Error("INFO emitted below WARN threshold")
	}
	entry := capture(t, func() { Warn("shown") })
	if entry == nil || entry["level"] != "WARN" || entry["msg"] != "shown" {
		t.Errorf("entry = %v", entry)
	}
}

func TestFieldsSerialized(t *testing.T) {
	SetRedactPII(false)
	defer SetRedactPII(true)

	entry := capture(t, func() { Info("subscribed", "campaign", "onboarding", "step", 3) })
	if entry["campaign"] != "onboarding" || entry["step"] != "3" {
		t.Errorf("entry = %v", entry)
	}
}

func TestEmailRedaction(t *testing.T) {
	SetRedactPII(true)

	entry := capture(t, func() { Info("delivered", "email", "john.doe@example.com") })
	got, _ := entry["email"].(string)
	if strings.Contains(got, "john.doe@") {
		t.Errorf("email not redacted: %q", got)
	}
	if !strings.HasSuffix(got, "@example.com") {
		t.Errorf("redaction should keep the domain: %q", got)
	}
}

func TestRedactEmail(t *testing.T) {
	tests := []struct{ in, want string }{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != DEBUG || ParseLevel("error") != ERROR {
		t.Error("explicit levels not parsed")
	}
	if ParseLevel("unknown") != INFO {
		t.Error("unknown level should default to INFO")
	}
}

package redact

import (
	"strings"
	"testing"
)

func TestTextRedactsEmail(t *testing.T) {
	out := Text("contact jane.doe@example.com for details")
	if strings.Contains(out, "jane.doe@example.com") {
		t.Fatalf("email leaked: %s", out)
	}
	if !strings.Contains(out, "@example.com") {
		t.Fatalf("expected domain preserved: %s", out)
	}
}

func TestTextRedactsPhoneKeepsLast4(t *testing.T) {
	out := Text("call 555-123-4567 now")
	if !strings.HasSuffix(strings.TrimSpace(out), "4567") && !strings.Contains(out, "4567") {
		t.Fatalf("expected last 4 digits preserved: %s", out)
	}
	if strings.Contains(out, "555-123-4567") {
		t.Fatalf("phone leaked: %s", out)
	}
}

func TestJSONStructuralRedaction(t *testing.T) {
	in := []byte(`{"email":"alice@corp.com","password":"hunter2","nested":{"ssn":"123-45-6789"}}`)
	out := JSON(in)
	s := string(out)
	if strings.Contains(s, "hunter2") {
		t.Fatalf("password leaked: %s", s)
	}
	if strings.Contains(s, "123-45-6789") {
		t.Fatalf("ssn leaked: %s", s)
	}
	if strings.Contains(s, "alice@corp.com") {
		t.Fatalf("email leaked: %s", s)
	}
	if !strings.Contains(s, "@corp.com") {
		t.Fatalf("expected domain preserved: %s", s)
	}
}

func TestJSONDegradesOnUnparseableInput(t *testing.T) {
	in := []byte(`not json at all but has alice@example.com`)
	out := JSON(in)
	if strings.Contains(string(out), "alice@example.com") {
		t.Fatalf("email leaked on degrade path: %s", out)
	}
}

func TestJSONNeverFails(t *testing.T) {
	inputs := [][]byte{nil, []byte(""), []byte("{"), []byte(`[1,2,3`), []byte(`"just a string"`)}
	for _, in := range inputs {
		_ = JSON(in) // must not panic
	}
}

func TestPostalCodeKeepsLeading3(t *testing.T) {
	in := []byte(`{"postalCode":"94107"}`)
	out := string(JSON(in))
	if !strings.Contains(out, "941") {
		t.Fatalf("expected leading 3 chars preserved: %s", out)
	}
	if strings.Contains(out, "94107") {
		t.Fatalf("full postal code leaked: %s", out)
	}
}

package etag

import "testing"

func TestValidateAbsentIfMatchAllowed(t *testing.T) {
	if err := Validate("", `W/"abc"`); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestValidateWildcardAllowed(t *testing.T) {
	if err := Validate("*", `W/"abc"`); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestValidateMismatchFails(t *testing.T) {
	err := Validate(`W/"old"`, `W/"new"`)
	if err == nil {
		t.Fatal("expected VersionMismatch")
	}
	var vm *VersionMismatch
	if !isVersionMismatch(err, &vm) {
		t.Fatalf("expected *VersionMismatch, got %T", err)
	}
}

func TestValidateCaseInsensitive(t *testing.T) {
	if err := Validate(`W/"ABC"`, `W/"abc"`); err != nil {
		t.Fatalf("expected case-insensitive match, got %v", err)
	}
}

func TestFromResourceDeterministic(t *testing.T) {
	type r struct {
		A int
		B string
	}
	a, err := FromResource(r{A: 1, B: "x"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := FromResource(r{A: 1, B: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("expected deterministic etag, got %s != %s", a, b)
	}
}

func isVersionMismatch(err error, target **VersionMismatch) bool {
	if vm, ok := err.(*VersionMismatch); ok {
		*target = vm
		return true
	}
	return false
}

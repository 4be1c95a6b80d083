package scimfilter

import "testing"

func TestParseSimpleEq(t *testing.T) {
	n, err := Parse(`userName eq "bjensen"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Op != OpEq || n.Attribute != "userName" || n.Value != "bjensen" {
		t.Fatalf("unexpected tree: %+v", n)
	}
}

func TestOperatorPrecedence(t *testing.T) {
	// a eq 1 or b eq 2 and c eq 3  =>  a eq 1 OR (b eq 2 AND c eq 3)
	n, err := Parse(`a eq 1 or b eq 2 and c eq 3`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Op != OpOr {
		t.Fatalf("expected top-level OR, got %v", n.Op)
	}
	if n.Left.Op != OpEq || n.Left.Attribute != "a" {
		t.Fatalf("expected left=a eq 1, got %+v", n.Left)
	}
	if n.Right.Op != OpAnd {
		t.Fatalf("expected right=AND, got %+v", n.Right)
	}
}

func TestPresenceOperator(t *testing.T) {
	n, err := Parse(`title pr`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Op != OpPr || n.Attribute != "title" {
		t.Fatalf("unexpected tree: %+v", n)
	}
}

func TestValuePath(t *testing.T) {
	n, err := Parse(`emails[type eq "work"].value`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Attribute != "emails" || n.SubAttr != "value" || n.SubFilter == nil {
		t.Fatalf("unexpected tree: %+v", n)
	}
	if n.SubFilter.Op != OpEq || n.SubFilter.Attribute != "type" {
		t.Fatalf("unexpected subfilter: %+v", n.SubFilter)
	}
}

func TestNotGroup(t *testing.T) {
	n, err := Parse(`not (active eq false)`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Op != OpNot || n.Left.Op != OpEq {
		t.Fatalf("unexpected tree: %+v", n)
	}
}

func TestUnbalancedParenFails(t *testing.T) {
	_, err := Parse(`(userName eq "a"`)
	if err == nil {
		t.Fatal("expected InvalidFilter error")
	}
	var ief *InvalidFilter
	if !asInvalidFilter(err, &ief) {
		t.Fatalf("expected *InvalidFilter, got %T: %v", err, err)
	}
}

func TestUnbalancedBracketFails(t *testing.T) {
	_, err := Parse(`emails[type eq "work"`)
	if err == nil {
		t.Fatal("expected InvalidFilter error")
	}
}

func TestMalformedOperatorFails(t *testing.T) {
	_, err := Parse(`userName bogus "x"`)
	if err == nil {
		t.Fatal("expected InvalidFilter error")
	}
}

func TestSchemaURNAttributePath(t *testing.T) {
	n, err := Parse(`urn:ietf:params:scim:schemas:extension:enterprise:2.0:User:employeeNumber eq "701984"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Op != OpEq {
		t.Fatalf("unexpected tree: %+v", n)
	}
}

func asInvalidFilter(err error, target **InvalidFilter) bool {
	if ief, ok := err.(*InvalidFilter); ok {
		*target = ief
		return true
	}
	return false
}

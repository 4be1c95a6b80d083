// Package scimvalidate enforces SCIM 2.0 schema conformance for User and Group
// resources. Static bounds (required fields, string length caps) are expressed
// as go-playground/validator/v10 struct tags, the same library imported by
// jordigilh-kubernaut and other_examples/rawblock-coinjoin-engine in the
// retrieval pack. Cross-field SCIM invariants (single-primary-per-multivalued,
// conditional Enterprise URN) have no equivalent in validator's tag vocabulary
// and are hand-written on top — see DESIGN.md.
package scimvalidate

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/scim-gateway/gateway/internal/scimmodel"
)

var engine = validator.New()

type userShape struct {
	UserName string `validate:"required"`
}

type groupShape struct {
	DisplayName string `validate:"required"`
}

type enterpriseShape struct {
	EmployeeNumber string `validate:"omitempty,max=256"`
	CostCenter     string `validate:"omitempty,max=256"`
	Organization   string `validate:"omitempty,max=256"`
	Division       string `validate:"omitempty,max=256"`
	Department     string `validate:"omitempty,max=256"`
}

// Errors is a human-readable list of validation failures. An empty list means
// the resource is valid. Validation never mutates its input.
type Errors []string

func (e Errors) Empty() bool { return len(e) == 0 }

// User validates a SCIM User resource against spec §4.4's rule set.
func User(u *scimmodel.User) Errors {
	var errs Errors

	if err := engine.Struct(userShape{UserName: u.UserName}); err != nil {
		errs = append(errs, "userName is required")
	}

	errs = append(errs, multiValuedPrimaryErrors("emails", emailValues(u.Emails))...)
	errs = append(errs, multiValuedPrimaryErrors("phoneNumbers", phoneValues(u.Phones))...)
	errs = append(errs, addressPrimaryErrors(u.Addresses)...)

	if u.Enterprise != nil {
		shape := enterpriseShape{
			EmployeeNumber: u.Enterprise.EmployeeNumber,
			CostCenter:     u.Enterprise.CostCenter,
			Organization:   u.Enterprise.Organization,
			Division:       u.Enterprise.Division,
			Department:     u.Enterprise.Department,
		}
		if err := engine.Struct(shape); err != nil {
			errs = append(errs, fieldErrors(err, "enterprise extension field exceeds 256 characters")...)
		}
	}

	hasEnterpriseURN := false
	for _, s := range u.Schemas {
		if s == scimmodel.SchemaEnterprise {
			hasEnterpriseURN = true
		}
		if !knownSchemaURN(s) {
			errs = append(errs, fmt.Sprintf("unknown schema URN %q", s))
		}
	}
	if u.EnterprisePopulated() && !hasEnterpriseURN {
		errs = append(errs, "schemas[] must include the Enterprise extension URN when enterprise fields are populated")
	}
	if hasEnterpriseURN && !u.EnterprisePopulated() {
		// Not an error per spec; schema listing the URN with no data is benign.
		_ = hasEnterpriseURN
	}

	return errs
}

// Group validates a SCIM Group resource against spec §4.4's rule set.
func Group(g *scimmodel.Group) Errors {
	var errs Errors
	if err := engine.Struct(groupShape{DisplayName: g.DisplayName}); err != nil {
		errs = append(errs, "displayName is required")
	}
	for _, s := range g.Schemas {
		if !knownSchemaURN(s) {
			errs = append(errs, fmt.Sprintf("unknown schema URN %q", s))
		}
	}
	for _, m := range g.Members {
		if m.Type != "" && m.Type != scimmodel.ResourceTypeUser && m.Type != scimmodel.ResourceTypeGroup {
			errs = append(errs, fmt.Sprintf("member type %q must be User or Group", m.Type))
		}
	}
	return errs
}

func knownSchemaURN(urn string) bool {
	switch urn {
	case scimmodel.SchemaUser, scimmodel.SchemaGroup, scimmodel.SchemaEnterprise,
		scimmodel.SchemaListResponse, scimmodel.SchemaPatchOp, scimmodel.SchemaError:
		return true
	default:
		return false
	}
}

func emailValues(vs []scimmodel.MultiValued) []scimmodel.MultiValued { return vs }
func phoneValues(vs []scimmodel.MultiValued) []scimmodel.MultiValued { return vs }

func multiValuedPrimaryErrors(field string, vs []scimmodel.MultiValued) Errors {
	count := 0
	for _, v := range vs {
		if v.Primary {
			count++
		}
	}
	if count > 1 {
		return Errors{fmt.Sprintf("at most one %s entry may have primary=true, found %d", field, count)}
	}
	return nil
}

func addressPrimaryErrors(addrs []scimmodel.Address) Errors {
	count := 0
	for _, a := range addrs {
		if a.Primary {
			count++
		}
	}
	if count > 1 {
		return Errors{fmt.Sprintf("at most one addresses entry may have primary=true, found %d", count)}
	}
	return nil
}

func fieldErrors(err error, detail string) Errors {
	if _, ok := err.(validator.ValidationErrors); ok {
		return Errors{detail}
	}
	return Errors{err.Error()}
}

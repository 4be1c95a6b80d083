// Package scimmodel defines the wire types for the SCIM 2.0 resource model:
// User, Group, their shared metadata envelope, PatchOp bodies, list responses,
// and the error document shape. These are pure data types; validation lives in
// internal/scimvalidate, concurrency semantics in internal/etag.
package scimmodel

const (
	SchemaUser         = "urn:ietf:params:scim:schemas:core:2.0:User"
	SchemaGroup        = "urn:ietf:params:scim:schemas:core:2.0:Group"
	SchemaEnterprise   = "urn:ietf:params:scim:schemas:extension:enterprise:2.0:User"
	SchemaListResponse = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	SchemaPatchOp      = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	SchemaError        = "urn:ietf:params:scim:api:messages:2.0:Error"

	ResourceTypeUser  = "User"
	ResourceTypeGroup = "Group"
)

// Meta is the metadata envelope carried by every SCIM resource.
type Meta struct {
	ResourceType string `json:"resourceType"`
	Created      string `json:"created"`
	LastModified string `json:"lastModified"`
	Location     string `json:"location,omitempty"`
	Version      string `json:"version"`
}

// Name is the SCIM "name" complex attribute.
type Name struct {
	Formatted       string `json:"formatted,omitempty"`
	FamilyName      string `json:"familyName,omitempty"`
	GivenName       string `json:"givenName,omitempty"`
	MiddleName      string `json:"middleName,omitempty"`
	HonorificPrefix string `json:"honorificPrefix,omitempty"`
	HonorificSuffix string `json:"honorificSuffix,omitempty"`
}

// MultiValued is the shape shared by emails, phoneNumbers, and addresses entries
// that carry a type/primary/value triple (addresses carry additional fields, see
// Address below).
type MultiValued struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
	Display string `json:"display,omitempty"`
}

// Address is the SCIM multi-valued address attribute.
type Address struct {
	Type          string `json:"type,omitempty"`
	Primary       bool   `json:"primary,omitempty"`
	StreetAddress string `json:"streetAddress,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	Country       string `json:"country,omitempty"`
	Formatted     string `json:"formatted,omitempty"`
}

// ManagerRef is the Enterprise extension's manager.value reference.
type ManagerRef struct {
	Value       string `json:"value,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Ref         string `json:"$ref,omitempty"`
}

// EnterpriseUser is the urn:...:extension:enterprise:2.0:User schema.
type EnterpriseUser struct {
	EmployeeNumber string      `json:"employeeNumber,omitempty"`
	CostCenter     string      `json:"costCenter,omitempty"`
	Organization   string      `json:"organization,omitempty"`
	Division       string      `json:"division,omitempty"`
	Department     string      `json:"department,omitempty"`
	Manager        *ManagerRef `json:"manager,omitempty"`
}

func (e *EnterpriseUser) populated() bool {
	if e == nil {
		return false
	}
	return e.EmployeeNumber != "" || e.CostCenter != "" || e.Organization != "" ||
		e.Division != "" || e.Department != "" || (e.Manager != nil && e.Manager.Value != "")
}

// User is a SCIM core User resource, plus the Enterprise extension.
type User struct {
	Schemas    []string        `json:"schemas"`
	ID         string          `json:"id,omitempty"`
	TenantID   string          `json:"-"`
	ExternalID string          `json:"externalId,omitempty"`
	UserName   string          `json:"userName"`
	Name       *Name           `json:"name,omitempty"`
	Emails     []MultiValued   `json:"emails,omitempty"`
	Phones     []MultiValued   `json:"phoneNumbers,omitempty"`
	Addresses  []Address       `json:"addresses,omitempty"`
	Active     bool            `json:"active"`
	Enterprise *EnterpriseUser `json:"urn:ietf:params:scim:schemas:extension:enterprise:2.0:User,omitempty"`
	Meta       Meta            `json:"meta"`
}

// Locatable is implemented by resource types whose meta.location the dispatcher
// is responsible for populating explicitly, rather than via reflection.
type Locatable interface {
	SetLocation(baseURL string)
	GetID() string
	GetMeta() Meta
	SetMeta(Meta)
}

func (u *User) SetLocation(baseURL string) { u.Meta.Location = baseURL + "/scim/v2/Users/" + u.ID }
func (u *User) GetID() string              { return u.ID }
func (u *User) GetMeta() Meta              { return u.Meta }
func (u *User) SetMeta(m Meta)             { u.Meta = m }

// NormalizeSchemas ensures schemas[] carries the core User URN, and the
// Enterprise extension URN iff any enterprise field is populated.
func (u *User) NormalizeSchemas() {
	set := map[string]bool{SchemaUser: true}
	if u.Enterprise.populated() {
		set[SchemaEnterprise] = true
	}
	for _, s := range u.Schemas {
		set[s] = true
	}
	if !u.Enterprise.populated() {
		delete(set, SchemaEnterprise)
	}
	u.Schemas = sortedKeys(set)
}

// EnterprisePopulated reports whether the Enterprise extension carries data.
func (u *User) EnterprisePopulated() bool { return u.Enterprise.populated() }

// Member is a Group membership entry.
type Member struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"` // "User" or "Group", defaults to User
	Display string `json:"display,omitempty"`
	Ref     string `json:"$ref,omitempty"`
}

// Group is a SCIM core Group resource.
type Group struct {
	Schemas     []string `json:"schemas"`
	ID          string   `json:"id,omitempty"`
	TenantID    string   `json:"-"`
	ExternalID  string   `json:"externalId,omitempty"`
	DisplayName string   `json:"displayName"`
	Members     []Member `json:"members,omitempty"`
	Meta        Meta     `json:"meta"`
}

func (g *Group) SetLocation(baseURL string) {
	g.Meta.Location = baseURL + "/scim/v2/Groups/" + g.ID
}
func (g *Group) GetID() string  { return g.ID }
func (g *Group) GetMeta() Meta  { return g.Meta }
func (g *Group) SetMeta(m Meta) { g.Meta = m }

func (g *Group) NormalizeSchemas() {
	set := map[string]bool{SchemaGroup: true}
	for _, s := range g.Schemas {
		set[s] = true
	}
	g.Schemas = sortedKeys(set)
}

// PopulateMemberRefs fills in each member's $ref using its type (default User),
// given the external base URL of the gateway.
func (g *Group) PopulateMemberRefs(baseURL string) {
	for i := range g.Members {
		typ := g.Members[i].Type
		if typ == "" {
			typ = ResourceTypeUser
		}
		if typ == ResourceTypeGroup {
			g.Members[i].Ref = baseURL + "/scim/v2/Groups/" + g.Members[i].Value
		} else {
			g.Members[i].Ref = baseURL + "/scim/v2/Users/" + g.Members[i].Value
		}
	}
}

// DedupeMembers enforces the set-not-bag membership invariant: a group's member
// set never contains the same (value,type) pair twice.
func DedupeMembers(members []Member) []Member {
	seen := make(map[string]bool, len(members))
	out := make([]Member, 0, len(members))
	for _, m := range members {
		typ := m.Type
		if typ == "" {
			typ = ResourceTypeUser
		}
		key := typ + ":" + m.Value
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}

// PatchOperation is a single op within a PatchOp body.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// PatchRequest is the RFC 7644 §3.5.2 PatchOp request body.
type PatchRequest struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// ListResponse is the canonical SCIM list envelope used for Users/Groups list
// endpoints. Admin API listings use PagedReport instead (see internal/httpapi).
type ListResponse struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []any    `json:"Resources"`
}

func NewListResponse(resources []any, total, startIndex, itemsPerPage int) ListResponse {
	if resources == nil {
		resources = []any{}
	}
	return ListResponse{
		Schemas:      []string{SchemaListResponse},
		TotalResults: total,
		StartIndex:   startIndex,
		ItemsPerPage: itemsPerPage,
		Resources:    resources,
	}
}

// ErrorDocument is the RFC 7644 §3.12 SCIM error body.
type ErrorDocument struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	ScimType string   `json:"scimType,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	// small, fixed universe of schema URNs: plain insertion-order-independent sort
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

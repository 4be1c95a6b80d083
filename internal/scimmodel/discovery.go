package scimmodel

// ServiceProviderConfig is the RFC 7644 §4 discovery document.
type ServiceProviderConfig struct {
	Schemas               []string           `json:"schemas"`
	DocumentationURI      string             `json:"documentationUri,omitempty"`
	Patch                 SupportedFlag      `json:"patch"`
	Bulk                  BulkConfig         `json:"bulk"`
	Filter                FilterConfig       `json:"filter"`
	ChangePassword        SupportedFlag      `json:"changePassword"`
	Sort                  SupportedFlag      `json:"sort"`
	ETag                  SupportedFlag      `json:"etag"`
	AuthenticationSchemes []AuthenticationScheme `json:"authenticationSchemes"`
	Meta                  Meta               `json:"meta"`
}

type SupportedFlag struct {
	Supported bool `json:"supported"`
}

type BulkConfig struct {
	Supported      bool `json:"supported"`
	MaxOperations  int  `json:"maxOperations"`
	MaxPayloadSize int  `json:"maxPayloadSize"`
}

type FilterConfig struct {
	Supported  bool `json:"supported"`
	MaxResults int  `json:"maxResults"`
}

type AuthenticationScheme struct {
	Type             string `json:"type"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	SpecURI          string `json:"specUri,omitempty"`
	Primary          bool   `json:"primary,omitempty"`
}

// SchemaAttribute describes one attribute of a Schema document.
type SchemaAttribute struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	MultiValued bool              `json:"multiValued"`
	Required    bool              `json:"required"`
	CaseExact   bool              `json:"caseExact"`
	Mutability  string            `json:"mutability"`
	Returned    string            `json:"returned"`
	Uniqueness  string            `json:"uniqueness"`
	SubAttributes []SchemaAttribute `json:"subAttributes,omitempty"`
}

// SchemaDocument is one entry returned by GET /scim/v2/Schemas.
type SchemaDocument struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Attributes  []SchemaAttribute `json:"attributes"`
	Meta        Meta              `json:"meta"`
}

// ResourceTypeDocument is one entry returned by GET /scim/v2/ResourceTypes.
type ResourceTypeDocument struct {
	Schemas     []string `json:"schemas"`
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Endpoint    string   `json:"endpoint"`
	Description string   `json:"description"`
	Schema      string   `json:"schema"`
	Meta        Meta     `json:"meta"`
}

package httpapi

import (
	"net/http"

	"github.com/scim-gateway/gateway/internal/scimmodel"
)

// ServiceProviderConfigHandler serves GET /scim/v2/ServiceProviderConfig,
// an anonymous discovery endpoint per spec §6.
func (s *Server) ServiceProviderConfigHandler(w http.ResponseWriter, r *http.Request) {
	cfg := scimmodel.ServiceProviderConfig{
		Schemas: []string{"urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"},
		Patch:   scimmodel.SupportedFlag{Supported: true},
		Bulk:             scimmodel.BulkConfig{Supported: false},
		Filter:           scimmodel.FilterConfig{Supported: true, MaxResults: 1000},
		ChangePassword:   scimmodel.SupportedFlag{Supported: false},
		Sort:             scimmodel.SupportedFlag{Supported: true},
		ETag:             scimmodel.SupportedFlag{Supported: true},
		AuthenticationSchemes: []scimmodel.AuthenticationScheme{
			{
				Type:        "oauthbearertoken",
				Name:        "OAuth Bearer Token",
				Description: "Authentication via OAuth 2.0 bearer token",
				Primary:     true,
			},
		},
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SchemasHandler serves GET /scim/v2/Schemas.
func (s *Server) SchemasHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []scimmodel.SchemaDocument{userSchemaDocument(), groupSchemaDocument()})
}

// ResourceTypesHandler serves GET /scim/v2/ResourceTypes.
func (s *Server) ResourceTypesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []scimmodel.ResourceTypeDocument{
		{
			Schemas:     []string{"urn:ietf:params:scim:schemas:core:2.0:ResourceType"},
			ID:          scimmodel.ResourceTypeUser,
			Name:        scimmodel.ResourceTypeUser,
			Endpoint:    "/scim/v2/Users",
			Description: "SCIM core User resource",
			Schema:      scimmodel.SchemaUser,
		},
		{
			Schemas:     []string{"urn:ietf:params:scim:schemas:core:2.0:ResourceType"},
			ID:          scimmodel.ResourceTypeGroup,
			Name:        scimmodel.ResourceTypeGroup,
			Endpoint:    "/scim/v2/Groups",
			Description: "SCIM core Group resource",
			Schema:      scimmodel.SchemaGroup,
		},
	})
}

// HealthHandler serves GET /health.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func userSchemaDocument() scimmodel.SchemaDocument {
	return scimmodel.SchemaDocument{
		ID:          scimmodel.SchemaUser,
		Name:        "User",
		Description: "SCIM core schema for representing users",
		Attributes: []scimmodel.SchemaAttribute{
			{Name: "userName", Type: "string", Required: true, Mutability: "readWrite", Returned: "default", Uniqueness: "server"},
			{Name: "active", Type: "boolean", Mutability: "readWrite", Returned: "default"},
			{Name: "emails", Type: "complex", MultiValued: true, Mutability: "readWrite", Returned: "default"},
		},
	}
}

func groupSchemaDocument() scimmodel.SchemaDocument {
	return scimmodel.SchemaDocument{
		ID:          scimmodel.SchemaGroup,
		Name:        "Group",
		Description: "SCIM core schema for representing groups",
		Attributes: []scimmodel.SchemaAttribute{
			{Name: "displayName", Type: "string", Required: true, Mutability: "readWrite", Returned: "default", Uniqueness: "server"},
			{Name: "members", Type: "complex", MultiValued: true, Mutability: "readWrite", Returned: "default"},
		},
	}
}

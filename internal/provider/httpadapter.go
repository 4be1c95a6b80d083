package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2/clientcredentials"
)

// SecretResolver addresses credentials by an external secret store name,
// per spec §4.13's "adapters MUST NOT accept plaintext credentials inline".
// Implementations back onto a cloud secret manager; none is wired here
// since no secret-manager SDK appears anywhere in the retrieved pack.
type SecretResolver interface {
	Resolve(ctx context.Context, keyVaultSecretName string) (clientID, clientSecret string, err error)
}

// HTTPAdapterConfig configures an HTTPAdapter instance.
type HTTPAdapterConfig struct {
	BaseURL            string
	TokenURL           string
	KeyVaultSecretName string
	Scopes             []string
}

// HTTPAdapter is a generic SCIM-over-HTTP provider adapter, grounded on
// abcxyz-team-link/pkg/github/scim.go's SCIMClient: same
// application/scim+json content negotiation, same startIndex/count
// pagination discipline, PATCH-based group-membership add/remove,
// generalized from a GitHub-Enterprise-specific client to any RFC
// 7644-speaking downstream.
type HTTPAdapter struct {
	httpClient *http.Client
	baseURL    *url.URL
}

// NewHTTPAdapter resolves OAuth2 client-credentials from secrets (via
// resolver) and returns a ready-to-register Adapter.
func NewHTTPAdapter(ctx context.Context, cfg HTTPAdapterConfig, resolver SecretResolver) (*HTTPAdapter, error) {
	clientID, clientSecret, err := resolver.Resolve(ctx, cfg.KeyVaultSecretName)
	if err != nil {
		return nil, fmt.Errorf("resolve provider credentials: %w", err)
	}

	ccCfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/scim/v2/")
	if err != nil {
		return nil, fmt.Errorf("parse provider base url %q: %w", cfg.BaseURL, err)
	}

	return &HTTPAdapter{
		httpClient: ccCfg.Client(ctx),
		baseURL:    base,
	}, nil
}

type scimPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

type scimPatchPayload struct {
	Schemas    []string      `json:"schemas"`
	Operations []scimPatchOp `json:"Operations"`
}

type scimListResponse struct {
	TotalResults int              `json:"totalResults"`
	Resources    []map[string]any `json:"Resources"`
}

func (a *HTTPAdapter) CreateUser(ctx context.Context, user map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := a.do(ctx, http.MethodPost, "Users", user, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *HTTPAdapter) GetUser(ctx context.Context, providerUserID string) (map[string]any, error) {
	var out map[string]any
	if err := a.do(ctx, http.MethodGet, "Users/"+providerUserID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *HTTPAdapter) UpdateUser(ctx context.Context, providerUserID string, user map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := a.do(ctx, http.MethodPut, "Users/"+providerUserID, user, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *HTTPAdapter) DeleteUser(ctx context.Context, providerUserID string) error {
	return a.do(ctx, http.MethodDelete, "Users/"+providerUserID, nil, nil)
}

func (a *HTTPAdapter) CreateGroup(ctx context.Context, group map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := a.do(ctx, http.MethodPost, "Groups", group, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *HTTPAdapter) AddUserToGroup(ctx context.Context, providerGroupID, providerUserID string) error {
	payload := scimPatchPayload{
		Schemas: []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
		Operations: []scimPatchOp{
			{Op: "add", Path: "members", Value: []map[string]string{{"value": providerUserID}}},
		},
	}
	return a.do(ctx, http.MethodPatch, "Groups/"+providerGroupID, payload, nil)
}

func (a *HTTPAdapter) RemoveUserFromGroup(ctx context.Context, providerGroupID, providerUserID string) error {
	payload := scimPatchPayload{
		Schemas: []string{"urn:ietf:params:scim:api:messages:2.0:PatchOp"},
		Operations: []scimPatchOp{
			{Op: "remove", Path: fmt.Sprintf(`members[value eq "%s"]`, providerUserID)},
		},
	}
	return a.do(ctx, http.MethodPatch, "Groups/"+providerGroupID, payload, nil)
}

// ListEntitlements fetches all groups the provider has attached to a user.
// Most SCIM providers don't expose entitlements directly, so this lists the
// user's provider-side group memberships via the Groups endpoint filtered
// by member value, paginating per spec §4.13/§4.7's startIndex/count
// discipline.
func (a *HTTPAdapter) ListEntitlements(ctx context.Context, providerUserID string) ([]Entitlement, error) {
	var entitlements []Entitlement
	startIndex := 1
	for {
		path := fmt.Sprintf(`Groups?filter=members.value+eq+%q&startIndex=%d&count=100`, providerUserID, startIndex)
		var page scimListResponse
		if err := a.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for _, g := range page.Resources {
			name, _ := g["displayName"].(string)
			id, _ := g["id"].(string)
			entitlements = append(entitlements, Entitlement{Name: name, Type: "group", ProviderEntitlementID: id})
		}
		if len(page.Resources) == 0 || len(entitlements) >= page.TotalResults {
			break
		}
		startIndex += len(page.Resources)
	}
	return entitlements, nil
}

func (a *HTTPAdapter) do(ctx context.Context, method, relPath string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal provider request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	ref, err := url.Parse(relPath)
	if err != nil {
		return fmt.Errorf("parse provider path %q: %w", relPath, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL.ResolveReference(ref).String(), bodyReader)
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/scim+json")
	req.Header.Set("Accept", "application/scim+json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &Failure{ProviderErrorCode: "transport", Retryable: true, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Failure{
			ProviderErrorCode: "http_" + strconv.Itoa(resp.StatusCode),
			HTTPStatus:        resp.StatusCode,
			Retryable:         isRetryableStatus(resp.StatusCode),
			Cause:             fmt.Errorf("provider returned status %d", resp.StatusCode),
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &Failure{ProviderErrorCode: "decode", Cause: err}
		}
	}
	return nil
}

func isRetryableStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

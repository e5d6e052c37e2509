// Package lusha adapts the Lusha contact-enrichment API to the provider
// interface: person lookups by email, LinkedIn URL, or name+company.
package lusha

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/provider"
	"github.com/sells-group/enrich-cli/internal/resilience"
)

// Name is the provider identifier used in config and provenance.
const Name = "lusha"

// Option configures the Lusha client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client implements provider.Provider against the Lusha person API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Lusha client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.lusha.com",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string    { return Name }
func (c *Client) Version() string { return "v2" }

func (c *Client) Kinds() []model.EntityKind {
	return []model.EntityKind{model.KindPerson}
}

// personResponse is the subset of the Lusha person payload the adapter
// normalizes.
type personResponse struct {
	FullName    string `json:"fullName"`
	JobTitle    string `json:"jobTitle"`
	Department  string `json:"department"`
	Seniority   string `json:"seniority"`
	Location    string `json:"location"`
	LinkedInURL string `json:"linkedinUrl"`
	Emails      []struct {
		Address string `json:"address"`
		Type    string `json:"type"`
	} `json:"emailAddresses"`
	Phones []struct {
		Number string `json:"internationalNumber"`
		Type   string `json:"type"`
	} `json:"phoneNumbers"`
	Company struct {
		Name   string `json:"name"`
		Domain string `json:"domain"`
	} `json:"company"`
}

// Lookup enriches one person. Lusha has no discovery endpoint, so a
// request with only company identifiers returns an empty (unusable)
// result and the waterfall moves on.
func (c *Client) Lookup(ctx context.Context, kind model.EntityKind, ids model.Identifiers) (*provider.LookupResult, error) {
	if kind != model.KindPerson {
		return nil, resilience.NewPermanentError(eris.Errorf("lusha: unsupported kind %q", kind), 0)
	}

	q := url.Values{}
	switch {
	case ids.Email != "":
		q.Set("email", ids.Email)
	case ids.LinkedInURL != "":
		q.Set("linkedinUrl", ids.LinkedInURL)
	case ids.Name != "" && (ids.Company != "" || ids.Domain != ""):
		q.Set("fullName", ids.Name)
		if ids.Domain != "" {
			q.Set("companyDomain", ids.Domain)
		} else {
			q.Set("companyName", ids.Company)
		}
	default:
		return &provider.LookupResult{Provider: Name}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/person?"+q.Encode(), nil)
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "lusha: create request"), 0)
	}
	req.Header.Set("api_key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "lusha: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "lusha: read body"), resp.StatusCode)
	}

	// Lusha answers 404 for people it simply does not know. That is a
	// no-data result, not a provider failure.
	if resp.StatusCode == http.StatusNotFound {
		return &provider.LookupResult{Provider: Name, Raw: body}, nil
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("lusha: status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, resilience.NewPermanentError(apiErr, resp.StatusCode)
	}

	var pr personResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "lusha: decode person"), 0)
	}

	result := &provider.LookupResult{Provider: Name, Confidence: 0.9, Raw: body}
	add := func(key string, value string) {
		if value == "" {
			return
		}
		result.Fields = append(result.Fields, provider.Field{FieldKey: key, Value: value, Confidence: 0.9})
	}
	add("name", pr.FullName)
	add("title", pr.JobTitle)
	add("department", pr.Department)
	add("seniority", pr.Seniority)
	add("location", pr.Location)
	add("linkedin_url", pr.LinkedInURL)
	add("company", pr.Company.Name)
	add("company_domain", pr.Company.Domain)
	if len(pr.Emails) > 0 {
		add("email", pr.Emails[0].Address)
	}
	if len(pr.Phones) > 0 {
		add("phone", pr.Phones[0].Number)
	}
	return result, nil
}

var _ provider.Provider = (*Client)(nil)

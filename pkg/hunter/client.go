// Package hunter adapts the Hunter.io email-finder API to the provider
// interface: person email discovery by name and company domain.
package hunter

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
const Name = "hunter"

// Option configures the Hunter client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client implements provider.Provider against the Hunter.io API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Hunter client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.hunter.io",
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

// finderResponse is the subset of the email-finder payload the adapter
// normalizes. Hunter scores confidence 0 to 100.
type finderResponse struct {
	Data struct {
		Email     string `json:"email"`
		Score     int    `json:"score"`
		Position  string `json:"position"`
		LinkedIn  string `json:"linkedin_url"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"data"`
}

// Lookup finds a work email for a named person at a known domain.
// Without both a name and a domain Hunter has nothing to search on and
// the adapter returns an empty result so the waterfall moves on.
func (c *Client) Lookup(ctx context.Context, kind model.EntityKind, ids model.Identifiers) (*provider.LookupResult, error) {
	if kind != model.KindPerson {
		return nil, resilience.NewPermanentError(eris.Errorf("hunter: unsupported kind %q", kind), 0)
	}
	if ids.Name == "" || ids.Domain == "" {
		return &provider.LookupResult{Provider: Name}, nil
	}

	q := url.Values{}
	q.Set("domain", ids.Domain)
	q.Set("full_name", ids.Name)
	q.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/email-finder?"+q.Encode(), nil)
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "hunter: create request"), 0)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "hunter: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "hunter: read body"), resp.StatusCode)
	}

	// 404 means no email found for this person, not a failure.
	if resp.StatusCode == http.StatusNotFound {
		return &provider.LookupResult{Provider: Name, Raw: body}, nil
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("hunter: status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, resilience.NewPermanentError(apiErr, resp.StatusCode)
	}

	var fr finderResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "hunter: decode response"), 0)
	}

	conf := float64(fr.Data.Score) / 100
	result := &provider.LookupResult{Provider: Name, Confidence: conf, Raw: body}
	if fr.Data.Email != "" {
		result.Fields = append(result.Fields, provider.Field{FieldKey: "email", Value: fr.Data.Email, Confidence: conf})
	}
	if fr.Data.Position != "" {
		result.Fields = append(result.Fields, provider.Field{FieldKey: "title", Value: fr.Data.Position, Confidence: conf})
	}
	if fr.Data.LinkedIn != "" {
		result.Fields = append(result.Fields, provider.Field{FieldKey: "linkedin_url", Value: fr.Data.LinkedIn, Confidence: conf})
	}
	return result, nil
}

var _ provider.Provider = (*Client)(nil)

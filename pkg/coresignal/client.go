// Package coresignal adapts the CoreSignal firmographic API to the
// provider interface: company lookups by domain or name, and employee
// discovery for a company.
package coresignal

import (
	"context"
	"encoding/json"
	"fmt"
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
const Name = "coresignal"

// Option configures the CoreSignal client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client implements provider.Provider against the CoreSignal API.
// Retries and circuit breaking are owned by the waterfall; the client
// performs a single attempt and classifies failures.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a CoreSignal client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.coresignal.com",
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
	return []model.EntityKind{model.KindCompany, model.KindPerson}
}

// Lookup fetches company firmographics or discovers employees,
// depending on kind.
func (c *Client) Lookup(ctx context.Context, kind model.EntityKind, ids model.Identifiers) (*provider.LookupResult, error) {
	switch kind {
	case model.KindCompany:
		return c.lookupCompany(ctx, ids)
	case model.KindPerson:
		return c.lookupPeople(ctx, ids)
	default:
		return nil, resilience.NewPermanentError(eris.Errorf("coresignal: unsupported kind %q", kind), 0)
	}
}

// companyResponse is the subset of the CoreSignal company payload the
// adapter normalizes.
type companyResponse struct {
	Name          string `json:"name"`
	Website       string `json:"website"`
	Industry      string `json:"industry"`
	EmployeeCount int    `json:"employees_count"`
	HQLocation    string `json:"headquarters_location"`
	LinkedInURL   string `json:"linkedin_url"`
	FoundedYear   int    `json:"founded_year"`
}

type employeeResponse struct {
	Members []struct {
		FullName    string `json:"full_name"`
		Title       string `json:"title"`
		Department  string `json:"department"`
		Location    string `json:"location"`
		LinkedInURL string `json:"linkedin_url"`
	} `json:"members"`
}

func (c *Client) lookupCompany(ctx context.Context, ids model.Identifiers) (*provider.LookupResult, error) {
	q := url.Values{}
	if ids.Domain != "" {
		q.Set("website", ids.Domain)
	} else if ids.Name != "" {
		q.Set("name", ids.Name)
	} else {
		return &provider.LookupResult{Provider: Name}, nil
	}

	body, err := c.get(ctx, "/cdapi/v2/company/search?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var cr companyResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "coresignal: decode company"), 0)
	}

	result := &provider.LookupResult{Provider: Name, Confidence: 0.9, Raw: body}
	add := func(key string, value any) {
		if value == nil || value == "" || value == 0 {
			return
		}
		result.Fields = append(result.Fields, provider.Field{FieldKey: key, Value: value, Confidence: 0.9})
	}
	add("name", cr.Name)
	add("domain", normalizeWebsite(cr.Website))
	add("industry", cr.Industry)
	add("employee_count", cr.EmployeeCount)
	add("location", cr.HQLocation)
	add("linkedin_url", cr.LinkedInURL)
	add("founded_year", cr.FoundedYear)
	return result, nil
}

func (c *Client) lookupPeople(ctx context.Context, ids model.Identifiers) (*provider.LookupResult, error) {
	q := url.Values{}
	if ids.Domain != "" {
		q.Set("company_website", ids.Domain)
	} else if ids.Company != "" {
		q.Set("company_name", ids.Company)
	} else if ids.Name != "" {
		q.Set("full_name", ids.Name)
	} else {
		return &provider.LookupResult{Provider: Name}, nil
	}

	body, err := c.get(ctx, "/cdapi/v2/member/search?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var er employeeResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "coresignal: decode members"), 0)
	}

	result := &provider.LookupResult{Provider: Name, Confidence: 0.85, Raw: body}
	for _, m := range er.Members {
		person := provider.Person{
			Identifiers: model.Identifiers{
				Name:        m.FullName,
				Title:       m.Title,
				Department:  m.Department,
				Location:    m.Location,
				LinkedInURL: m.LinkedInURL,
			},
			Confidence: 0.85,
		}
		if m.Title != "" {
			person.Fields = append(person.Fields, provider.Field{FieldKey: "title", Value: m.Title, Confidence: 0.85})
		}
		if m.Department != "" {
			person.Fields = append(person.Fields, provider.Field{FieldKey: "department", Value: m.Department, Confidence: 0.85})
		}
		result.People = append(result.People, person)
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "coresignal: create request"), 0)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "coresignal: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "coresignal: read body"), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}
	return body, nil
}

func classifyStatus(code int, body []byte) error {
	err := eris.Errorf("coresignal: status %d: %s", code, truncate(body))
	if resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(err, code)
	}
	return resilience.NewPermanentError(err, code)
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func normalizeWebsite(site string) string {
	if site == "" {
		return ""
	}
	u, err := url.Parse(site)
	if err != nil || u.Host == "" {
		return site
	}
	return u.Host
}

var _ provider.Provider = (*Client)(nil)

// String implements fmt.Stringer for debug logs.
func (c *Client) String() string {
	return fmt.Sprintf("coresignal(%s)", c.baseURL)
}

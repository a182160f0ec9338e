// Package dbpedia provides a client for DBpedia SPARQL endpoints and the
// DBpedia Lookup keyword service.
package dbpedia

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-graph/internal/resilience"
)

// DefaultEndpoints are the SPARQL endpoints tried in order for English.
var DefaultEndpoints = []string{
	"https://dbpedia.org/sparql",
	"https://dbpedia-live.openlinksw.com/sparql",
}

// Client defines the DBpedia operations used by the resolver.
type Client interface {
	// Select runs a SPARQL SELECT query against endpoint.
	Select(ctx context.Context, endpoint, query string) (*Results, error)
	// Lookup runs a keyword search and returns matching resources.
	Lookup(ctx context.Context, text string, limit int) ([]LookupHit, error)
}

// Binding is one SPARQL result term.
type Binding struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

// Results is a decoded application/sparql-results+json document.
type Results struct {
	Vars     []string
	Bindings []map[string]Binding
}

// Values returns the distinct non-empty values bound to v, in result order.
func (r *Results) Values(v string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, row := range r.Bindings {
		b, ok := row[v]
		if !ok || b.Value == "" || seen[b.Value] {
			continue
		}
		seen[b.Value] = true
		out = append(out, b.Value)
	}
	return out
}

// First returns the first value bound to v.
func (r *Results) First(v string) string {
	for _, row := range r.Bindings {
		if b, ok := row[v]; ok && b.Value != "" {
			return b.Value
		}
	}
	return ""
}

// LookupHit is one DBpedia Lookup result.
type LookupHit struct {
	Resource string   `json:"resource"`
	Label    string   `json:"label"`
	Comment  string   `json:"comment"`
	Types    []string `json:"types,omitempty"`
}

type sparqlResponse struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]Binding `json:"bindings"`
	} `json:"results"`
}

type lookupResponse struct {
	Docs []struct {
		Resource []string `json:"resource"`
		Label    []string `json:"label"`
		Comment  []string `json:"comment"`
		Type     []string `json:"type"`
	} `json:"docs"`
}

// Option configures the DBpedia client.
type Option func(*httpClient)

// WithLookupURL sets a custom Lookup endpoint (for testing).
func WithLookupURL(u string) Option {
	return func(c *httpClient) {
		c.lookupURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

type httpClient struct {
	lookupURL string
	userAgent string
	http      *http.Client
}

// NewClient creates a new DBpedia client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		lookupURL: "https://lookup.dbpedia.org/api/search",
		userAgent: "entity-graph/1.0",
		http: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) get(ctx context.Context, reqURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "dbpedia: create request")
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransportError(eris.Wrap(err, "dbpedia: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransportError(eris.Wrap(err, "dbpedia: read response body"), resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.FromStatus(resp, body)
	}
	return body, nil
}

func (c *httpClient) Select(ctx context.Context, endpoint, query string) (*Results, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("format", "application/sparql-results+json")

	body, err := c.get(ctx, endpoint+"?"+params.Encode(), "application/sparql-results+json")
	if err != nil {
		return nil, err
	}

	var sr sparqlResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "dbpedia: unmarshal sparql results")
	}
	return &Results{Vars: sr.Head.Vars, Bindings: sr.Results.Bindings}, nil
}

var highlight = strings.NewReplacer("<B>", "", "</B>", "", "<b>", "", "</b>", "")

func (c *httpClient) Lookup(ctx context.Context, text string, limit int) ([]LookupHit, error) {
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("query", text)
	params.Set("format", "JSON")
	params.Set("maxResults", strconv.Itoa(limit))

	body, err := c.get(ctx, c.lookupURL+"?"+params.Encode(), "application/json")
	if err != nil {
		return nil, err
	}

	var lr lookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, eris.Wrap(err, "dbpedia: unmarshal lookup response")
	}

	hits := make([]LookupHit, 0, len(lr.Docs))
	for _, d := range lr.Docs {
		if len(d.Resource) == 0 {
			continue
		}
		h := LookupHit{Resource: d.Resource[0], Types: d.Type}
		if len(d.Label) > 0 {
			h.Label = highlight.Replace(d.Label[0])
		}
		if len(d.Comment) > 0 {
			h.Comment = highlight.Replace(d.Comment[0])
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// ResourceURI derives the DBpedia resource URI for a Wikipedia-style title.
// Non-English languages use the chapter namespace, e.g. de.dbpedia.org.
func ResourceURI(title, lang string) string {
	name := strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
	if lang == "" || lang == "en" {
		return "http://dbpedia.org/resource/" + name
	}
	return "http://" + lang + ".dbpedia.org/resource/" + name
}

// EscapeIRI escapes characters that may not appear inside a SPARQL <IRI>.
func EscapeIRI(iri string) string {
	var b strings.Builder
	for _, r := range iri {
		switch r {
		case '<', '>', '"', '{', '}', '|', '^', '`', '\\', ' ':
			b.WriteString(url.PathEscape(string(r)))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EscapeLiteral escapes a string for use inside a double-quoted SPARQL literal.
func EscapeLiteral(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`).Replace(s)
}

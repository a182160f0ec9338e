// Package wikipedia provides a client for the MediaWiki action API of the
// language-specific Wikipedia sites.
package wikipedia

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

// Client defines the Wikipedia operations used by the resolver.
type Client interface {
	// Query fetches the intro extract, page props, and canonical URL for an
	// exact title. Redirects are followed. A missing page yields a Page with
	// Missing set.
	Query(ctx context.Context, lang, title string) (*Page, error)
	// OpenSearch returns article titles matching free text, best first.
	OpenSearch(ctx context.Context, lang, text string, limit int) ([]string, error)
	// LangLinks translates title from fromLang into toLang. An empty string
	// means the article has no counterpart.
	LangLinks(ctx context.Context, fromLang, title, toLang string) (string, error)
}

// Page is one resolved article.
type Page struct {
	PageID         int64  `json:"pageid"`
	Title          string `json:"title"`
	Extract        string `json:"extract"`
	FullURL        string `json:"fullurl"`
	WikidataItem   string `json:"wikidata_item,omitempty"`
	Disambiguation bool   `json:"disambiguation,omitempty"`
	Missing        bool   `json:"missing,omitempty"`
	RedirectedFrom string `json:"redirected_from,omitempty"`
}

type queryResponse struct {
	Query struct {
		Redirects []struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"redirects"`
		Pages []struct {
			PageID    int64             `json:"pageid"`
			Title     string            `json:"title"`
			Missing   bool              `json:"missing"`
			Invalid   bool              `json:"invalid"`
			Extract   string            `json:"extract"`
			FullURL   string            `json:"fullurl"`
			PageProps map[string]string `json:"pageprops"`
			LangLinks []struct {
				Lang  string `json:"lang"`
				Title string `json:"title"`
			} `json:"langlinks"`
		} `json:"pages"`
	} `json:"query"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// Option configures the Wikipedia client.
type Option func(*httpClient)

// WithBaseURL sets the API endpoint. A "{lang}" placeholder is replaced by the
// request language.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header. Wikimedia rejects anonymous
// agents on heavy traffic.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient creates a new Wikipedia client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   "https://{lang}.wikipedia.org/w/api.php",
		userAgent: "entity-graph/1.0",
		http: &http.Client{
			Timeout: 15 * time.Second,
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

func (c *httpClient) endpoint(lang string) string {
	if lang == "" {
		lang = "en"
	}
	return strings.ReplaceAll(c.baseURL, "{lang}", url.PathEscape(lang))
}

func (c *httpClient) get(ctx context.Context, lang string, params url.Values) ([]byte, error) {
	params.Set("format", "json")
	params.Set("formatversion", "2")
	reqURL := c.endpoint(lang) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "wikipedia: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransportError(eris.Wrap(err, "wikipedia: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransportError(eris.Wrap(err, "wikipedia: read response body"), resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.FromStatus(resp, body)
	}
	return body, nil
}

func (c *httpClient) query(ctx context.Context, lang string, params url.Values) (*queryResponse, error) {
	body, err := c.get(ctx, lang, params)
	if err != nil {
		return nil, err
	}
	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, eris.Wrap(err, "wikipedia: unmarshal query response")
	}
	if qr.Error != nil {
		if qr.Error.Code == "maxlag" || qr.Error.Code == "ratelimited" {
			return nil, resilience.NewThrottledError(eris.Errorf("wikipedia: %s", qr.Error.Info), 0)
		}
		return nil, eris.Errorf("wikipedia: api error %s: %s", qr.Error.Code, qr.Error.Info)
	}
	return &qr, nil
}

func (c *httpClient) Query(ctx context.Context, lang, title string) (*Page, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts|pageprops|info")
	params.Set("titles", title)
	params.Set("redirects", "1")
	params.Set("exintro", "1")
	params.Set("explaintext", "1")
	params.Set("inprop", "url")
	params.Set("ppprop", "wikibase_item|disambiguation")

	qr, err := c.query(ctx, lang, params)
	if err != nil {
		return nil, err
	}
	if len(qr.Query.Pages) == 0 {
		return &Page{Title: title, Missing: true}, nil
	}

	p := qr.Query.Pages[0]
	page := &Page{
		PageID:  p.PageID,
		Title:   p.Title,
		Extract: strings.TrimSpace(p.Extract),
		FullURL: p.FullURL,
		Missing: p.Missing || p.Invalid || p.PageID == 0,
	}
	if item, ok := p.PageProps["wikibase_item"]; ok {
		page.WikidataItem = item
	}
	if _, ok := p.PageProps["disambiguation"]; ok {
		page.Disambiguation = true
	}
	if len(qr.Query.Redirects) > 0 {
		page.RedirectedFrom = qr.Query.Redirects[0].From
	}
	return page, nil
}

func (c *httpClient) OpenSearch(ctx context.Context, lang, text string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("action", "opensearch")
	params.Set("search", text)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("namespace", "0")

	body, err := c.get(ctx, lang, params)
	if err != nil {
		return nil, err
	}

	// Response shape: [query, [titles], [descriptions], [urls]].
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrap(err, "wikipedia: unmarshal opensearch response")
	}
	if len(raw) < 2 {
		return nil, nil
	}
	var titles []string
	if err := json.Unmarshal(raw[1], &titles); err != nil {
		return nil, eris.Wrap(err, "wikipedia: unmarshal opensearch titles")
	}
	return titles, nil
}

func (c *httpClient) LangLinks(ctx context.Context, fromLang, title, toLang string) (string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "langlinks")
	params.Set("titles", title)
	params.Set("lllang", toLang)
	params.Set("redirects", "1")

	qr, err := c.query(ctx, fromLang, params)
	if err != nil {
		return "", err
	}
	for _, p := range qr.Query.Pages {
		for _, ll := range p.LangLinks {
			if ll.Lang == toLang {
				return ll.Title, nil
			}
		}
	}
	return "", nil
}

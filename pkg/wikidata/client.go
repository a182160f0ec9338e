// Package wikidata provides a client for the Wikidata entity API.
package wikidata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-graph/internal/resilience"
)

// Client defines the Wikidata operations used by the resolver.
type Client interface {
	// EntitiesBySite looks up the item linked to a wiki page, e.g. site
	// "enwiki" and title "Albert Einstein". Returns nil when there is none.
	EntitiesBySite(ctx context.Context, site, title, lang string) (*Entity, error)
	// EntitiesByID fetches items by QID. Unknown ids are omitted.
	EntitiesByID(ctx context.Context, ids []string, lang string) ([]Entity, error)
	// Search runs a label/alias search and returns hits, best first.
	Search(ctx context.Context, text, lang string, limit int) ([]SearchHit, error)
}

// Entity is the subset of a Wikidata item the resolver uses.
type Entity struct {
	ID          string             `json:"id"`
	Label       string             `json:"label"`
	Description string             `json:"description"`
	Aliases     []string           `json:"aliases,omitempty"`
	Sitelink    string             `json:"sitelink,omitempty"`
	Claims      map[string][]Value `json:"claims,omitempty"`
}

// Value is a simplified claim value. Exactly one of the fields is set,
// depending on the datatype.
type Value struct {
	ItemID    string   `json:"item,omitempty"`
	String    string   `json:"string,omitempty"`
	Time      string   `json:"time,omitempty"`
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lon,omitempty"`
}

// ItemIDs returns the item ids of property p.
func (e *Entity) ItemIDs(p string) []string {
	var out []string
	for _, v := range e.Claims[p] {
		if v.ItemID != "" {
			out = append(out, v.ItemID)
		}
	}
	return out
}

// First returns the first value of property p.
func (e *Entity) First(p string) (Value, bool) {
	vals := e.Claims[p]
	if len(vals) == 0 {
		return Value{}, false
	}
	return vals[0], true
}

// SearchHit is one wbsearchentities result.
type SearchHit struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type rawEntity struct {
	ID      string  `json:"id"`
	Missing *string `json:"missing"`
	Labels  map[string]struct {
		Value string `json:"value"`
	} `json:"labels"`
	Descriptions map[string]struct {
		Value string `json:"value"`
	} `json:"descriptions"`
	Aliases map[string][]struct {
		Value string `json:"value"`
	} `json:"aliases"`
	Sitelinks map[string]struct {
		Title string `json:"title"`
	} `json:"sitelinks"`
	Claims map[string][]struct {
		Mainsnak struct {
			Snaktype  string `json:"snaktype"`
			Datavalue struct {
				Type  string          `json:"type"`
				Value json.RawMessage `json:"value"`
			} `json:"datavalue"`
		} `json:"mainsnak"`
		Rank string `json:"rank"`
	} `json:"claims"`
}

type entitiesResponse struct {
	Entities map[string]rawEntity `json:"entities"`
	Error    *apiError            `json:"error"`
}

type searchResponse struct {
	Search []SearchHit `json:"search"`
	Error  *apiError   `json:"error"`
}

type apiError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

// Option configures the Wikidata client.
type Option func(*httpClient)

// WithBaseURL sets a custom API endpoint (for testing).
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

// WithUserAgent sets the User-Agent header.
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

// NewClient creates a new Wikidata client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   "https://www.wikidata.org/w/api.php",
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

func (c *httpClient) get(ctx context.Context, params url.Values, out any) error {
	params.Set("format", "json")
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "wikidata: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return resilience.NewTransportError(eris.Wrap(err, "wikidata: request failed"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.NewTransportError(eris.Wrap(err, "wikidata: read response body"), resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.FromStatus(resp, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "wikidata: unmarshal response")
	}
	return nil
}

func checkAPIError(e *apiError) error {
	if e == nil {
		return nil
	}
	if e.Code == "maxlag" || e.Code == "ratelimited" {
		return resilience.NewThrottledError(eris.Errorf("wikidata: %s", e.Info), 0)
	}
	// no-such-entity is a miss, not a failure.
	if e.Code == "no-such-entity" {
		return nil
	}
	return eris.Errorf("wikidata: api error %s: %s", e.Code, e.Info)
}

func langs(lang string) string {
	if lang == "" || lang == "en" {
		return "en"
	}
	return lang + "|en"
}

func (c *httpClient) EntitiesBySite(ctx context.Context, site, title, lang string) (*Entity, error) {
	params := url.Values{}
	params.Set("action", "wbgetentities")
	params.Set("sites", site)
	params.Set("titles", title)
	params.Set("normalize", "1")
	params.Set("props", "labels|descriptions|aliases|claims|sitelinks")
	params.Set("sitefilter", site)
	params.Set("languages", langs(lang))

	var er entitiesResponse
	if err := c.get(ctx, params, &er); err != nil {
		return nil, err
	}
	if err := checkAPIError(er.Error); err != nil {
		return nil, err
	}
	ents := convertAll(er.Entities, lang, site)
	if len(ents) == 0 {
		return nil, nil
	}
	return &ents[0], nil
}

func (c *httpClient) EntitiesByID(ctx context.Context, ids []string, lang string) ([]Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("action", "wbgetentities")
	params.Set("ids", strings.Join(ids, "|"))
	params.Set("props", "labels|descriptions|aliases|claims|sitelinks")
	params.Set("languages", langs(lang))

	var er entitiesResponse
	if err := c.get(ctx, params, &er); err != nil {
		return nil, err
	}
	if err := checkAPIError(er.Error); err != nil {
		return nil, err
	}

	site := wikiSite(lang)
	byID := make(map[string]Entity)
	for _, e := range convertAll(er.Entities, lang, site) {
		byID[e.ID] = e
	}
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *httpClient) Search(ctx context.Context, text, lang string, limit int) ([]SearchHit, error) {
	if lang == "" {
		lang = "en"
	}
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("action", "wbsearchentities")
	params.Set("search", text)
	params.Set("language", lang)
	params.Set("uselang", lang)
	params.Set("type", "item")
	params.Set("limit", strconv.Itoa(limit))

	var sr searchResponse
	if err := c.get(ctx, params, &sr); err != nil {
		return nil, err
	}
	if err := checkAPIError(sr.Error); err != nil {
		return nil, err
	}
	return sr.Search, nil
}

func wikiSite(lang string) string {
	if lang == "" {
		lang = "en"
	}
	return lang + "wiki"
}

func convertAll(raw map[string]rawEntity, lang, site string) []Entity {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Entity
	for _, k := range keys {
		r := raw[k]
		if r.Missing != nil || r.ID == "" {
			continue
		}
		out = append(out, convert(r, lang, site))
	}
	return out
}

func pick[T any](m map[string]T, lang string) (T, bool) {
	if v, ok := m[lang]; ok {
		return v, true
	}
	v, ok := m["en"]
	return v, ok
}

func convert(r rawEntity, lang, site string) Entity {
	if lang == "" {
		lang = "en"
	}
	e := Entity{ID: r.ID, Claims: make(map[string][]Value)}
	if l, ok := pick(r.Labels, lang); ok {
		e.Label = l.Value
	}
	if d, ok := pick(r.Descriptions, lang); ok {
		e.Description = d.Value
	}
	if as, ok := pick(r.Aliases, lang); ok {
		for _, a := range as {
			e.Aliases = append(e.Aliases, a.Value)
		}
	}
	if sl, ok := r.Sitelinks[site]; ok {
		e.Sitelink = sl.Title
	}

	for prop, stmts := range r.Claims {
		for _, st := range stmts {
			if st.Rank == "deprecated" || st.Mainsnak.Snaktype != "value" {
				continue
			}
			if v, ok := decodeValue(st.Mainsnak.Datavalue.Type, st.Mainsnak.Datavalue.Value); ok {
				e.Claims[prop] = append(e.Claims[prop], v)
			}
		}
	}
	return e
}

func decodeValue(typ string, raw json.RawMessage) (Value, bool) {
	switch typ {
	case "wikibase-entityid":
		var v struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &v) != nil || v.ID == "" {
			return Value{}, false
		}
		return Value{ItemID: v.ID}, true
	case "string":
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return Value{}, false
		}
		return Value{String: s}, true
	case "time":
		var v struct {
			Time string `json:"time"`
		}
		if json.Unmarshal(raw, &v) != nil {
			return Value{}, false
		}
		return Value{Time: v.Time}, true
	case "globecoordinate":
		var v struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		}
		if json.Unmarshal(raw, &v) != nil {
			return Value{}, false
		}
		return Value{Latitude: &v.Latitude, Longitude: &v.Longitude}, true
	default:
		return Value{}, false
	}
}

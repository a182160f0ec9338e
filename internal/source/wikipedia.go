package source

import (
	"context"
	"strconv"
	"strings"

	"github.com/sells-group/entity-graph/internal/model"
	"github.com/sells-group/entity-graph/pkg/wikipedia"
)

// WikipediaAdapter resolves candidates to encyclopedia articles. It tries the
// exact title first, then a free-text search, then (for non-English targets)
// the English title's interlanguage link.
type WikipediaAdapter struct {
	client wikipedia.Client
	gate   *Gate
	opts   Options
}

// NewWikipedia creates the encyclopedia adapter.
func NewWikipedia(client wikipedia.Client, gate *Gate, opts Options) *WikipediaAdapter {
	return &WikipediaAdapter{client: client, gate: gate, opts: opts}
}

func (a *WikipediaAdapter) ID() string { return Wikipedia }

func (a *WikipediaAdapter) Resolve(ctx context.Context, c model.CandidateEntity) model.SourceRecord {
	attempts := []Attempt{
		{Name: "title", Run: func(ctx context.Context) (*model.SourceRecord, error) {
			return a.byTitle(ctx, c.Name)
		}},
		{Name: "opensearch", Run: func(ctx context.Context) (*model.SourceRecord, error) {
			return a.bySearch(ctx, c.Name)
		}},
	}
	if a.opts.lang() != "en" {
		attempts = append(attempts, Attempt{Name: "langlink", Run: func(ctx context.Context) (*model.SourceRecord, error) {
			return a.byLangLink(ctx, c.Name)
		}})
	}
	return Chain(ctx, Wikipedia, attempts...)
}

func (a *WikipediaAdapter) query(ctx context.Context, title string) (*wikipedia.Page, error) {
	lang := a.opts.lang()
	return Do(ctx, a.gate, Wikipedia, lang, title, "query", func(ctx context.Context) (*wikipedia.Page, error) {
		return a.client.Query(ctx, lang, title)
	})
}

func (a *WikipediaAdapter) byTitle(ctx context.Context, title string) (*model.SourceRecord, error) {
	page, err := a.query(ctx, title)
	if err != nil {
		return nil, err
	}
	return a.record(page), nil
}

func (a *WikipediaAdapter) bySearch(ctx context.Context, text string) (*model.SourceRecord, error) {
	lang := a.opts.lang()
	titles, err := Do(ctx, a.gate, Wikipedia, lang, text, "opensearch", func(ctx context.Context) ([]string, error) {
		return a.client.OpenSearch(ctx, lang, text, 5)
	})
	if err != nil {
		return nil, err
	}
	for _, t := range titles {
		page, err := a.query(ctx, t)
		if err != nil {
			return nil, err
		}
		if rec := a.record(page); rec != nil {
			return rec, nil
		}
	}
	return nil, nil
}

func (a *WikipediaAdapter) byLangLink(ctx context.Context, englishTitle string) (*model.SourceRecord, error) {
	lang := a.opts.lang()
	title, err := Do(ctx, a.gate, Wikipedia, "en", englishTitle, "langlinks:"+lang, func(ctx context.Context) (string, error) {
		return a.client.LangLinks(ctx, "en", englishTitle, lang)
	})
	if err != nil || title == "" {
		return nil, err
	}
	return a.byTitle(ctx, title)
}

// record converts a page into a record, or nil for missing and
// disambiguation pages.
func (a *WikipediaAdapter) record(page *wikipedia.Page) *model.SourceRecord {
	if page == nil || page.Missing || page.Disambiguation {
		return nil
	}
	rec := &model.SourceRecord{
		MatchedLabel: page.Title,
		CanonicalID:  strconv.FormatInt(page.PageID, 10),
		Summary:      trimEllipsis(page.Extract),
	}
	if a.opts.Details {
		d := &model.Details{URL: page.FullURL}
		if page.WikidataItem != "" {
			d.Relations = map[string][]string{"wikidata": {page.WikidataItem}}
		}
		rec.Details = d
	}
	return rec
}

func trimEllipsis(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "...")
	s = strings.TrimSuffix(s, "…")
	return strings.TrimSpace(s)
}

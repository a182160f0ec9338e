package source

import (
	"context"
	"net/url"
	"strings"

	"github.com/sells-group/entity-graph/internal/model"
	"github.com/sells-group/entity-graph/pkg/wikidata"
)

// Wikidata properties read by the adapter.
const (
	propInstanceOf = "P31"
	propImage      = "P18"
	propWebsite    = "P856"
	propCoordinate = "P625"
	propBirth      = "P569"
	propDeath      = "P570"
	propInception  = "P571"
	propOccupation = "P106"
)

// WikidataAdapter resolves candidates to Wikidata items: first through the
// sitelink of the same-named encyclopedia article, then by label search.
type WikidataAdapter struct {
	client wikidata.Client
	gate   *Gate
	opts   Options
}

// NewWikidata creates the structured-fact adapter.
func NewWikidata(client wikidata.Client, gate *Gate, opts Options) *WikidataAdapter {
	return &WikidataAdapter{client: client, gate: gate, opts: opts}
}

func (a *WikidataAdapter) ID() string { return Wikidata }

func (a *WikidataAdapter) Resolve(ctx context.Context, c model.CandidateEntity) model.SourceRecord {
	return Chain(ctx, Wikidata,
		Attempt{Name: "sitelink", Run: func(ctx context.Context) (*model.SourceRecord, error) {
			return a.bySitelink(ctx, c.Name)
		}},
		Attempt{Name: "search", Run: func(ctx context.Context) (*model.SourceRecord, error) {
			return a.bySearch(ctx, c.Name)
		}},
	)
}

func (a *WikidataAdapter) bySitelink(ctx context.Context, title string) (*model.SourceRecord, error) {
	lang := a.opts.lang()
	site := lang + "wiki"
	ent, err := Do(ctx, a.gate, Wikidata, lang, site+":"+title, "sitelink", func(ctx context.Context) (*wikidata.Entity, error) {
		return a.client.EntitiesBySite(ctx, site, title, lang)
	})
	if err != nil || ent == nil {
		return nil, err
	}
	return a.record(ent), nil
}

func (a *WikidataAdapter) bySearch(ctx context.Context, text string) (*model.SourceRecord, error) {
	lang := a.opts.lang()
	hits, err := Do(ctx, a.gate, Wikidata, lang, text, "search", func(ctx context.Context) ([]wikidata.SearchHit, error) {
		return a.client.Search(ctx, text, lang, 5)
	})
	if err != nil || len(hits) == 0 {
		return nil, err
	}

	id := hits[0].ID
	ents, err := Do(ctx, a.gate, Wikidata, lang, id, "entities", func(ctx context.Context) ([]wikidata.Entity, error) {
		return a.client.EntitiesByID(ctx, []string{id}, lang)
	})
	if err != nil || len(ents) == 0 {
		return nil, err
	}
	return a.record(&ents[0]), nil
}

func (a *WikidataAdapter) record(e *wikidata.Entity) *model.SourceRecord {
	var types []string
	for _, qid := range e.ItemIDs(propInstanceOf) {
		if t, ok := model.WikidataType(qid); ok {
			types = append(types, t)
		}
	}

	rec := &model.SourceRecord{
		MatchedLabel: e.Label,
		CanonicalID:  e.ID,
		Summary:      e.Description,
		Types:        model.WithAncestors(types),
	}
	if len(rec.Types) == 0 {
		rec.Types = nil
	}
	if a.opts.Details {
		rec.Details = wikidataDetails(e)
	}
	return rec
}

func wikidataDetails(e *wikidata.Entity) *model.Details {
	d := &model.Details{URL: "https://www.wikidata.org/wiki/" + e.ID}

	if v, ok := e.First(propImage); ok && v.String != "" {
		d.ImageURL = "https://commons.wikimedia.org/wiki/Special:FilePath/" +
			url.PathEscape(strings.ReplaceAll(v.String, " ", "_"))
	}
	if v, ok := e.First(propWebsite); ok {
		d.Website = v.String
	}
	if v, ok := e.First(propCoordinate); ok && v.Latitude != nil && v.Longitude != nil {
		d.SetCoordinates(*v.Latitude, *v.Longitude)
	}

	for prop, name := range map[string]string{propBirth: "birth", propDeath: "death", propInception: "inception"} {
		if v, ok := e.First(prop); ok && v.Time != "" {
			if d.Dates == nil {
				d.Dates = make(map[string]string)
			}
			d.Dates[name] = wikidataDate(v.Time)
		}
	}

	if occ := e.ItemIDs(propOccupation); len(occ) > 0 {
		d.Relations = map[string][]string{"occupation": occ}
	}
	if len(e.Aliases) > 0 {
		if d.Relations == nil {
			d.Relations = make(map[string][]string)
		}
		d.Relations["alias"] = e.Aliases
	}
	return d
}

// wikidataDate turns "+1879-03-14T00:00:00Z" into "1879-03-14".
func wikidataDate(t string) string {
	t = strings.TrimPrefix(t, "+")
	if i := strings.IndexByte(t, 'T'); i > 0 {
		t = t[:i]
	}
	return t
}

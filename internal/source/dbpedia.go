package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/entity-graph/internal/model"
	"github.com/sells-group/entity-graph/pkg/dbpedia"
)

const ontologyPrefix = "http://dbpedia.org/ontology/"

// DBpediaAdapter resolves candidates to DBpedia resources. Each configured
// SPARQL endpoint is tried in order as a mirror; the keyword Lookup service
// is the last resort.
type DBpediaAdapter struct {
	client    dbpedia.Client
	gate      *Gate
	opts      Options
	endpoints []string
}

// NewDBpedia creates the linked-data adapter. Without endpoints the public
// defaults are used.
func NewDBpedia(client dbpedia.Client, gate *Gate, opts Options, endpoints ...string) *DBpediaAdapter {
	if len(endpoints) == 0 {
		endpoints = dbpedia.DefaultEndpoints
	}
	return &DBpediaAdapter{client: client, gate: gate, opts: opts, endpoints: endpoints}
}

func (a *DBpediaAdapter) ID() string { return DBpedia }

func (a *DBpediaAdapter) Resolve(ctx context.Context, c model.CandidateEntity) model.SourceRecord {
	uri := dbpedia.ResourceURI(c.Name, a.opts.lang())

	attempts := make([]Attempt, 0, len(a.endpoints)+1)
	for _, ep := range a.endpoints {
		attempts = append(attempts, Attempt{Name: "sparql:" + ep, Run: func(ctx context.Context) (*model.SourceRecord, error) {
			return a.byResource(ctx, ep, uri)
		}})
	}
	attempts = append(attempts, Attempt{Name: "lookup", Run: func(ctx context.Context) (*model.SourceRecord, error) {
		return a.byLookup(ctx, c.Name)
	}})
	return Chain(ctx, DBpedia, attempts...)
}

func (a *DBpediaAdapter) sparql(ctx context.Context, endpoint, uri string) (*dbpedia.Results, error) {
	lang := a.opts.lang()
	q := resourceQuery(uri, lang)
	return Do(ctx, a.gate, DBpedia, lang, endpoint+" "+uri, "sparql", func(ctx context.Context) (*dbpedia.Results, error) {
		return a.client.Select(ctx, endpoint, q)
	})
}

func (a *DBpediaAdapter) byResource(ctx context.Context, endpoint, uri string) (*model.SourceRecord, error) {
	res, err := a.sparql(ctx, endpoint, uri)
	if err != nil || res == nil {
		return nil, err
	}
	abstract, comment, label := res.First("abstract"), res.First("comment"), res.First("label")
	types := ontologyTypes(res.Values("type"))
	if abstract == "" && comment == "" && label == "" && len(types) == 0 {
		return nil, nil
	}

	summary := abstract
	if summary == "" {
		summary = comment
	}
	rec := &model.SourceRecord{
		MatchedLabel: label,
		CanonicalID:  uri,
		Summary:      summary,
		Types:        types,
	}
	if a.opts.Details {
		rec.Details = dbpediaDetails(uri, res)
	}
	return rec, nil
}

func (a *DBpediaAdapter) byLookup(ctx context.Context, text string) (*model.SourceRecord, error) {
	lang := a.opts.lang()
	hits, err := Do(ctx, a.gate, DBpedia, lang, text, "lookup", func(ctx context.Context) ([]dbpedia.LookupHit, error) {
		return a.client.Lookup(ctx, text, 5)
	})
	if err != nil || len(hits) == 0 {
		return nil, err
	}

	hit := hits[0]
	rec := &model.SourceRecord{
		MatchedLabel: hit.Label,
		CanonicalID:  hit.Resource,
		Summary:      hit.Comment,
		Types:        ontologyTypes(hit.Types),
	}
	if a.opts.Details && len(a.endpoints) > 0 {
		res, err := a.sparql(ctx, a.endpoints[0], hit.Resource)
		if err != nil {
			zap.L().Debug("dbpedia: details query failed",
				zap.String("resource", hit.Resource),
				zap.Error(err),
			)
		} else if res != nil {
			rec.Details = dbpediaDetails(hit.Resource, res)
		}
	}
	return rec, nil
}

// ontologyTypes keeps dbo: classes and expands them with their ancestors.
func ontologyTypes(uris []string) []string {
	var names []string
	for _, u := range uris {
		if strings.HasPrefix(u, ontologyPrefix) {
			names = append(names, strings.TrimPrefix(u, ontologyPrefix))
		}
	}
	types := model.WithAncestors(names)
	if len(types) == 0 {
		return nil
	}
	return types
}

func dbpediaDetails(uri string, res *dbpedia.Results) *model.Details {
	d := &model.Details{
		URL:      strings.Replace(uri, "/resource/", "/page/", 1),
		Website:  res.First("homepage"),
		ImageURL: res.First("thumbnail"),
	}
	lat, latErr := strconv.ParseFloat(res.First("lat"), 64)
	lon, lonErr := strconv.ParseFloat(res.First("long"), 64)
	if latErr == nil && lonErr == nil {
		d.SetCoordinates(lat, lon)
	}
	for v, name := range map[string]string{"birthDate": "birth", "deathDate": "death", "foundingDate": "inception"} {
		if s := res.First(v); s != "" {
			if d.Dates == nil {
				d.Dates = make(map[string]string)
			}
			d.Dates[name] = s
		}
	}
	for v, name := range map[string]string{"partOf": "part_of", "hasPart": "has_part"} {
		if vals := res.Values(v); len(vals) > 0 {
			if d.Relations == nil {
				d.Relations = make(map[string][]string)
			}
			d.Relations[name] = vals
		}
	}
	return d
}

// maxRelations caps each part-whole direction; large regions have thousands.
const maxRelations = 50

// resourceQuery selects the summary, types, and detail properties of one
// resource. Every branch binds a single variable, so rows add up per property
// instead of multiplying across them. Part-whole relations are read in both
// directions.
func resourceQuery(uri, lang string) string {
	r := "<" + dbpedia.EscapeIRI(uri) + ">"
	l := dbpedia.EscapeLiteral(lang)
	return fmt.Sprintf(`PREFIX dbo: <http://dbpedia.org/ontology/>
PREFIX rdfs: <http://www.w3.org/2000/01/rdf-schema#>
PREFIX foaf: <http://xmlns.com/foaf/0.1/>
PREFIX geo: <http://www.w3.org/2003/01/geo/wgs84_pos#>
SELECT DISTINCT ?abstract ?label ?comment ?type ?homepage ?thumbnail ?lat ?long
       ?birthDate ?deathDate ?foundingDate ?partOf ?hasPart WHERE {
  { %[1]s dbo:abstract ?abstract . FILTER(LANG(?abstract) = "%[2]s") }
  UNION { %[1]s rdfs:label ?label . FILTER(LANG(?label) = "%[2]s") }
  UNION { %[1]s rdfs:comment ?comment . FILTER(LANG(?comment) = "%[2]s") }
  UNION { %[1]s a/rdfs:subClassOf* ?type . }
  UNION { %[1]s foaf:homepage ?homepage . }
  UNION { %[1]s dbo:thumbnail ?thumbnail . }
  UNION { %[1]s geo:lat ?lat . }
  UNION { %[1]s geo:long ?long . }
  UNION { %[1]s dbo:birthDate ?birthDate . }
  UNION { %[1]s dbo:deathDate ?deathDate . }
  UNION { %[1]s dbo:foundingDate ?foundingDate . }
  UNION { SELECT DISTINCT ?partOf WHERE {
    { %[1]s dbo:isPartOf ?partOf . } UNION { ?partOf dbo:hasPart %[1]s . }
  } LIMIT %[3]d }
  UNION { SELECT DISTINCT ?hasPart WHERE {
    { %[1]s dbo:hasPart ?hasPart . } UNION { ?hasPart dbo:isPartOf %[1]s . }
  } LIMIT %[3]d }
}`, r, l, maxRelations)
}

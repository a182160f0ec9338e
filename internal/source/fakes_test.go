package source

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/entity-graph/pkg/dbpedia"
	"github.com/sells-group/entity-graph/pkg/wikidata"
	"github.com/sells-group/entity-graph/pkg/wikipedia"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeWikipedia struct {
	mu        sync.Mutex
	pages     map[string]*wikipedia.Page
	search    map[string][]string
	langlinks map[string]string
	err       error
	calls     int
}

func (f *fakeWikipedia) Query(_ context.Context, _, title string) (*wikipedia.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.pages[title]; ok {
		return p, nil
	}
	return &wikipedia.Page{Title: title, Missing: true}, nil
}

func (f *fakeWikipedia) OpenSearch(_ context.Context, _, text string, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.search[text], nil
}

func (f *fakeWikipedia) LangLinks(_ context.Context, _, title, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.langlinks[title], f.err
}

type fakeWikidata struct {
	bySite map[string]*wikidata.Entity
	byID   map[string]wikidata.Entity
	search map[string][]wikidata.SearchHit
	err    error
}

func (f *fakeWikidata) EntitiesBySite(_ context.Context, _, title, _ string) (*wikidata.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bySite[title], nil
}

func (f *fakeWikidata) EntitiesByID(_ context.Context, ids []string, _ string) ([]wikidata.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []wikidata.Entity
	for _, id := range ids {
		if e, ok := f.byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeWikidata) Search(_ context.Context, text, _ string, _ int) ([]wikidata.SearchHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.search[text], nil
}

type fakeDBpedia struct {
	mu        sync.Mutex
	endpoints map[string]error
	results   map[string]*dbpedia.Results
	lookup    map[string][]dbpedia.LookupHit
	selected  []string
}

func (f *fakeDBpedia) Select(_ context.Context, endpoint, query string) (*dbpedia.Results, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, endpoint)
	if err := f.endpoints[endpoint]; err != nil {
		return nil, err
	}
	for uri, res := range f.results {
		if containsIRI(query, uri) {
			return res, nil
		}
	}
	return &dbpedia.Results{Bindings: []map[string]dbpedia.Binding{{}}}, nil
}

func (f *fakeDBpedia) Lookup(_ context.Context, text string, _ int) ([]dbpedia.LookupHit, error) {
	return f.lookup[text], nil
}

func containsIRI(query, uri string) bool {
	return len(uri) > 0 && len(query) > 0 && strings.Contains(query, "<"+uri+">")
}

// Package source adapts external knowledge bases to a common SourceRecord.
// Each adapter runs its own fallback chain of attempts and sends every remote
// call through the shared cache and rate limiter.
package source

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/entity-graph/internal/model"
)

// Source identifiers, also used as cache scopes and rate-limit keys.
const (
	Wikipedia = "wikipedia"
	Wikidata  = "wikidata"
	DBpedia   = "dbpedia"
)

// Priority is the fixed order in which records are merged.
var Priority = model.SourcePriority

// Adapter resolves a candidate against one knowledge base. Resolve never
// returns an error: failures are reported as a record with LinkStatusError.
type Adapter interface {
	// ID returns the source identifier.
	ID() string
	// Resolve looks the candidate up and returns this source's record.
	Resolve(ctx context.Context, c model.CandidateEntity) model.SourceRecord
}

// Options are shared by all adapters.
type Options struct {
	// Lang is the target language code, e.g. "en".
	Lang string
	// Details enables population of SourceRecord.Details.
	Details bool
}

func (o Options) lang() string {
	if o.Lang == "" {
		return "en"
	}
	return o.Lang
}

// Registry holds the enabled adapters keyed by source id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Get returns the adapter for id, or nil.
func (r *Registry) Get(id string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[id]
}

// Adapters returns all registered adapters in priority order.
func (r *Registry) Adapters() []Adapter {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return Less(out[i].ID(), out[j].ID())
	})
	return out
}

// Less orders source ids by Priority, then lexicographically.
func Less(a, b string) bool {
	return model.SourceLess(a, b)
}

// Package graph assembles resolved entities and relationship triples into a
// deduplicated knowledge graph.
package graph

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/entity-graph/internal/dedup"
	"github.com/sells-group/entity-graph/internal/model"
)

// EntityResolver resolves a batch of candidates, preserving order.
type EntityResolver interface {
	ResolveMany(ctx context.Context, candidates []model.CandidateEntity) []model.ResolvedEntity
}

// Delta counts the net-new items one Extend call added.
type Delta struct {
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
}

// Empty reports whether nothing new was added.
func (d Delta) Empty() bool {
	return d.Entities == 0 && d.Relationships == 0
}

// Total is the number of added entities and relationships.
func (d Delta) Total() int {
	return d.Entities + d.Relationships
}

// Builder resolves candidates and folds them into a graph.
type Builder struct {
	resolver EntityResolver
	opts     dedup.Options
}

// NewBuilder creates a Builder.
func NewBuilder(r EntityResolver, opts dedup.Options) *Builder {
	return &Builder{resolver: r, opts: opts}
}

// Build resolves candidates into a fresh graph.
func (b *Builder) Build(ctx context.Context, candidates []model.CandidateEntity, triples []model.RelationshipTriple) *model.Graph {
	g, _ := b.Extend(ctx, model.NewGraph(), candidates, triples)
	return g
}

// Extend resolves candidates and merges them and triples into a copy of g.
// Existing entities keep their names. Triples whose endpoints are not
// entities after deduplication are dropped.
func (b *Builder) Extend(ctx context.Context, g *model.Graph, candidates []model.CandidateEntity, triples []model.RelationshipTriple) (*model.Graph, Delta) {
	known := nameIndex(g.Entities)
	pending := make([]model.CandidateEntity, 0, len(candidates))
	for _, c := range candidates {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		// A known name would only fold into the existing entity.
		if known[dedup.Normalize(c.Name)] && c.Provenance == model.ProvenanceImplicit {
			continue
		}
		pending = append(pending, c)
	}

	entities := append([]model.ResolvedEntity(nil), g.Entities...)
	if len(pending) > 0 && b.resolver != nil {
		entities = append(entities, b.resolver.ResolveMany(ctx, pending)...)
	}
	res := dedup.Entities(entities, b.opts)

	rels := append(append([]model.RelationshipTriple(nil), g.Relationships...), triples...)
	rels = dedup.Repoint(rels, res)
	rels = dedup.Triples(rels, b.opts.PredicateThreshold)
	rels = dedup.Accept(rels, res.Entities)
	fillTypes(rels, res.Entities)

	out := g.Clone()
	out.Entities = res.Entities
	out.Relationships = rels

	delta := diff(g, out)
	zap.L().Debug("graph: extended",
		zap.String("graph_id", out.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("resolved", len(pending)),
		zap.Int("new_entities", delta.Entities),
		zap.Int("new_relationships", delta.Relationships),
		zap.Int("dropped_triples", len(g.Relationships)+len(triples)-len(rels)),
	)
	return out, delta
}

func nameIndex(entities []model.ResolvedEntity) map[string]bool {
	idx := make(map[string]bool, len(entities))
	for _, e := range entities {
		idx[dedup.Normalize(e.Name)] = true
		for _, a := range e.Aliases {
			idx[dedup.Normalize(a)] = true
		}
	}
	return idx
}

func tripleKey(t model.RelationshipTriple) [3]string {
	return [3]string{dedup.Normalize(t.Subject), dedup.Normalize(t.Predicate), dedup.Normalize(t.Object)}
}

// diff counts entities and triples in next that were absent from prev.
func diff(prev, next *model.Graph) Delta {
	names := make(map[string]bool, len(prev.Entities))
	for _, e := range prev.Entities {
		names[e.Name] = true
	}
	keys := make(map[[3]string]bool, len(prev.Relationships))
	for _, t := range prev.Relationships {
		keys[tripleKey(t)] = true
	}

	var d Delta
	for _, e := range next.Entities {
		if !names[e.Name] {
			d.Entities++
		}
	}
	for _, t := range next.Relationships {
		if !keys[tripleKey(t)] {
			d.Relationships++
		}
	}
	return d
}

// fillTypes sets missing endpoint types from the entity display types.
func fillTypes(rels []model.RelationshipTriple, entities []model.ResolvedEntity) {
	types := make(map[string]string, len(entities))
	for _, e := range entities {
		types[e.Name] = e.Type
	}
	for i := range rels {
		if rels[i].SubjectType == "" {
			rels[i].SubjectType = types[rels[i].Subject]
		}
		if rels[i].ObjectType == "" {
			rels[i].ObjectType = types[rels[i].Object]
		}
	}
}

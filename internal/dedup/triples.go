package dedup

import (
	"github.com/sells-group/entity-graph/internal/model"
)

// Repoint rewrites triple endpoints to the canonical entity names in res.
// Endpoints that match no entity are left unchanged. Inputs are not modified.
func Repoint(in []model.RelationshipTriple, res Result) []model.RelationshipTriple {
	out := make([]model.RelationshipTriple, len(in))
	for i, t := range in {
		if to, ok := res.Canonical(t.Subject); ok {
			t.Subject = to
		}
		if to, ok := res.Canonical(t.Object); ok {
			t.Object = to
		}
		out[i] = t
	}
	return out
}

// Triples removes duplicate triples, preserving first-seen order. Identical
// normalized triples collapse; so do triples between the same endpoints whose
// predicates score above predicateThreshold. Explicit provenance wins, and an
// explicit duplicate contributes its predicate wording to an implicit
// survivor.
func Triples(in []model.RelationshipTriple, predicateThreshold float64) []model.RelationshipTriple {
	out := make([]model.RelationshipTriple, 0, len(in))
	exact := make(map[[3]string]int, len(in))
	pairs := make(map[[2]string][]int, len(in))

	for _, t := range in {
		s, p, o := Normalize(t.Subject), Normalize(t.Predicate), Normalize(t.Object)
		if s == "" || p == "" || o == "" {
			continue
		}
		if i, ok := exact[[3]string{s, p, o}]; ok {
			out[i] = absorb(out[i], t)
			continue
		}

		pair := [2]string{s, o}
		merged := false
		for _, i := range pairs[pair] {
			if Similarity(out[i].Predicate, t.Predicate) > predicateThreshold {
				out[i] = absorb(out[i], t)
				merged = true
				break
			}
		}
		if merged {
			continue
		}

		exact[[3]string{s, p, o}] = len(out)
		pairs[pair] = append(pairs[pair], len(out))
		out = append(out, t)
	}
	return out
}

func absorb(keep, dup model.RelationshipTriple) model.RelationshipTriple {
	if keep.Provenance != model.ProvenanceExplicit && dup.Provenance == model.ProvenanceExplicit {
		keep.Predicate = dup.Predicate
	}
	keep.Provenance = keep.Provenance.Stronger(dup.Provenance)
	if keep.SubjectType == "" {
		keep.SubjectType = dup.SubjectType
	}
	if keep.ObjectType == "" {
		keep.ObjectType = dup.ObjectType
	}
	return keep
}

// Accept drops triples whose subject or object is not an entity name.
func Accept(in []model.RelationshipTriple, entities []model.ResolvedEntity) []model.RelationshipTriple {
	names := make(map[string]bool, len(entities))
	for _, e := range entities {
		names[e.Name] = true
	}
	out := make([]model.RelationshipTriple, 0, len(in))
	for _, t := range in {
		if names[t.Subject] && names[t.Object] {
			out = append(out, t)
		}
	}
	return out
}

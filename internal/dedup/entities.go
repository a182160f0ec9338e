package dedup

import (
	"go.uber.org/zap"

	"github.com/sells-group/entity-graph/internal/model"
)

// Defaults for Options.
const (
	DefaultThreshold          = 0.9
	DefaultPredicateThreshold = 0.85
	DefaultMaxGeoDistanceKm   = 100.0
)

// Options tune the semantic phase.
type Options struct {
	// Threshold is the similarity a pair must strictly exceed to merge.
	Threshold float64
	// PredicateThreshold is the same for predicates of parallel triples.
	PredicateThreshold float64
	// MaxGeoDistanceKm keeps entities apart whose coordinates differ by more
	// than this. Zero disables the guard.
	MaxGeoDistanceKm float64
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		Threshold:          DefaultThreshold,
		PredicateThreshold: DefaultPredicateThreshold,
		MaxGeoDistanceKm:   DefaultMaxGeoDistanceKm,
	}
}

// Result is the deduplicated entity list plus the renames applied.
type Result struct {
	Entities []model.ResolvedEntity
	// Renames maps every merged-away name to its surviving canonical name.
	Renames map[string]string
	// Merges counts semantic-phase merges.
	Merges int

	canon map[string]string
}

// Canonical returns the surviving name for any input name, alias, or
// normalized variant of one.
func (r Result) Canonical(name string) (string, bool) {
	c, ok := r.canon[Normalize(name)]
	return c, ok
}

// Entities deduplicates in two phases and preserves input order among the
// survivors. The earliest record of each group is canonical and keeps its
// name.
func Entities(in []model.ResolvedEntity, opts Options) Result {
	groups, renames := exactPhase(in)
	out, merges := semanticPhase(groups, renames, opts)

	if len(in) != len(out) {
		zap.L().Debug("dedup: entities merged",
			zap.Int("input", len(in)),
			zap.Int("output", len(out)),
			zap.Int("semantic_merges", merges),
		)
	}
	return Result{Entities: out, Renames: renames, Merges: merges, canon: canonIndex(out, renames)}
}

func canonIndex(out []model.ResolvedEntity, renames map[string]string) map[string]string {
	canon := make(map[string]string, len(out)+len(renames))
	for old, to := range renames {
		canon[Normalize(old)] = to
	}
	for _, e := range out {
		for _, a := range e.Aliases {
			canon[Normalize(a)] = e.Name
		}
	}
	for _, e := range out {
		canon[Normalize(e.Name)] = e.Name
	}
	return canon
}

// exactPhase merges entities whose normalized names are identical.
func exactPhase(in []model.ResolvedEntity) ([]model.ResolvedEntity, map[string]string) {
	renames := make(map[string]string)
	index := make(map[string]int, len(in))
	out := make([]model.ResolvedEntity, 0, len(in))

	for _, e := range in {
		key := Normalize(e.Name)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, e)
			continue
		}
		out[i] = model.Merge(out[i], e)
		if e.Name != out[i].Name {
			renames[e.Name] = out[i].Name
		}
	}
	return out, renames
}

// semanticPhase joins groups whose pairwise score exceeds the threshold.
// Components are built with union-find, so raising the threshold can only
// split components. The geo guard vetoes single pairs, not components: a
// bridging entity without coordinates can still join two distant places.
func semanticPhase(groups []model.ResolvedEntity, renames map[string]string, opts Options) ([]model.ResolvedEntity, int) {
	n := len(groups)
	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if farApart(groups[i].Coordinates(), groups[j].Coordinates(), opts.MaxGeoDistanceKm) {
				continue
			}
			if score(groups[i], groups[j]) > opts.Threshold {
				uf.union(i, j)
			}
		}
	}

	out := make([]model.ResolvedEntity, 0, n)
	pos := make(map[int]int, n)
	merges := 0
	for i := 0; i < n; i++ {
		root := uf.find(i)
		p, ok := pos[root]
		if !ok {
			pos[root] = len(out)
			out = append(out, groups[i])
			continue
		}
		merged := groups[i]
		out[p] = model.Merge(out[p], merged)
		merges++
		renames[merged.Name] = out[p].Name
		for old, to := range renames {
			if to == merged.Name {
				renames[old] = out[p].Name
			}
		}
	}
	return out, merges
}

// score is 1 when both entities link to the same record in any source,
// otherwise the name similarity.
func score(a, b model.ResolvedEntity) float64 {
	for _, ra := range a.Sources {
		if !ra.Linked() || ra.CanonicalID == "" {
			continue
		}
		if rb, ok := b.Source(ra.SourceID); ok && rb.Linked() && rb.CanonicalID == ra.CanonicalID {
			return 1
		}
	}
	return Similarity(a.Name, b.Name)
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union keeps the smaller index as root so the earliest entity is canonical.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

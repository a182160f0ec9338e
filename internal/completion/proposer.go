package completion

import (
	"context"
	"sync"

	"github.com/sells-group/entity-graph/internal/model"
)

// Proposal is what one round suggests adding.
type Proposal struct {
	Entities      []model.CandidateEntity    `json:"entities"`
	Relationships []model.RelationshipTriple `json:"relationships"`
}

// implicit returns a copy with every item tagged implicit. Proposed items
// carry no citation span.
func (p Proposal) implicit() Proposal {
	out := Proposal{
		Entities:      make([]model.CandidateEntity, len(p.Entities)),
		Relationships: make([]model.RelationshipTriple, len(p.Relationships)),
	}
	for i, e := range p.Entities {
		e.Provenance = model.ProvenanceImplicit
		e.CitationSpan = nil
		out.Entities[i] = e
	}
	for i, t := range p.Relationships {
		t.Provenance = model.ProvenanceImplicit
		out.Relationships[i] = t
	}
	return out
}

// Proposer suggests implicit entities and relationships for a graph.
type Proposer interface {
	Propose(ctx context.Context, g *model.Graph) (Proposal, error)
}

// ProposerFunc adapts a function to Proposer.
type ProposerFunc func(ctx context.Context, g *model.Graph) (Proposal, error)

// Propose calls f.
func (f ProposerFunc) Propose(ctx context.Context, g *model.Graph) (Proposal, error) {
	return f(ctx, g)
}

// StaticProposer replays fixed proposals, one per call, then proposes
// nothing. It serves offline runs and tests.
type StaticProposer struct {
	mu     sync.Mutex
	rounds []Proposal
	next   int
}

// NewStaticProposer creates a StaticProposer.
func NewStaticProposer(rounds ...Proposal) *StaticProposer {
	return &StaticProposer{rounds: rounds}
}

// Propose returns the next queued proposal.
func (s *StaticProposer) Propose(_ context.Context, _ *model.Graph) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.rounds) {
		return Proposal{}, nil
	}
	p := s.rounds[s.next]
	s.next++
	return p, nil
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// RelationshipTriple links two entities by canonical name.
type RelationshipTriple struct {
	Subject     string     `json:"subject" yaml:"subject"`
	Predicate   string     `json:"predicate" yaml:"predicate"`
	Object      string     `json:"object" yaml:"object"`
	Provenance  Provenance `json:"provenance" yaml:"provenance"`
	SubjectType string     `json:"subject_type,omitempty" yaml:"subject_type,omitempty"`
	ObjectType  string     `json:"object_type,omitempty" yaml:"object_type,omitempty"`
}

// CompletionState is the state of the graph completion loop.
type CompletionState string

const (
	CompletionIdle            CompletionState = "idle"
	CompletionRunning         CompletionState = "running"
	CompletionConverged       CompletionState = "converged"
	CompletionBudgetExhausted CompletionState = "budget_exhausted"
)

// Terminal reports whether s is a final state.
func (s CompletionState) Terminal() bool {
	return s == CompletionConverged || s == CompletionBudgetExhausted
}

// Graph is the accumulated set of resolved entities and triples.
type Graph struct {
	ID            string               `json:"id"`
	Entities      []ResolvedEntity     `json:"entities"`
	Relationships []RelationshipTriple `json:"relationships"`
	Completion    *CompletionSummary   `json:"completion,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// CompletionSummary reports how a completion run ended.
type CompletionSummary struct {
	State  CompletionState `json:"state"`
	Rounds int             `json:"rounds"`
	Added  int             `json:"added"`
}

// NewGraph returns an empty graph with a fresh id.
func NewGraph() *Graph {
	return &Graph{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}
}

// Entity returns the entity with the given name.
func (g *Graph) Entity(name string) (ResolvedEntity, bool) {
	for _, e := range g.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return ResolvedEntity{}, false
}

// Clone returns a copy whose slices can be replaced without affecting g.
func (g *Graph) Clone() *Graph {
	c := *g
	c.Entities = append([]ResolvedEntity(nil), g.Entities...)
	c.Relationships = append([]RelationshipTriple(nil), g.Relationships...)
	return &c
}

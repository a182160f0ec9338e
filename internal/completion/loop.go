// Package completion runs repeated rounds that ask a proposer for implicit
// entities and relationships and fold them into a graph until no round adds
// anything new or the round budget runs out.
package completion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/entity-graph/internal/graph"
	"github.com/sells-group/entity-graph/internal/model"
)

// DefaultRounds is the round budget used when none is configured.
const DefaultRounds = 3

// Extender folds candidates and triples into a graph and reports what was new.
type Extender interface {
	Extend(ctx context.Context, g *model.Graph, candidates []model.CandidateEntity, triples []model.RelationshipTriple) (*model.Graph, graph.Delta)
}

// Result is the outcome of a completion run. The graph is returned in both
// terminal states.
type Result struct {
	Graph  *model.Graph
	State  model.CompletionState
	Rounds int
	Added  int
}

// Loop drives completion rounds.
type Loop struct {
	extender Extender
	proposer Proposer
	rounds   int
}

// NewLoop creates a Loop with the given round budget.
func NewLoop(e Extender, p Proposer, rounds int) *Loop {
	return &Loop{extender: e, proposer: p, rounds: rounds}
}

// Run completes g. It stops with CompletionConverged after the first round
// that adds no net-new entity or relationship, and with
// CompletionBudgetExhausted when the budget is spent or ctx is done. A
// failing proposer counts as a round that proposed nothing.
func (l *Loop) Run(ctx context.Context, g *model.Graph) Result {
	res := Result{Graph: g, State: model.CompletionIdle}
	if g == nil {
		res.Graph = model.NewGraph()
	}
	start := time.Now()
	res.State = model.CompletionRunning

	for round := 1; round <= l.rounds; round++ {
		if ctx.Err() != nil {
			zap.L().Warn("completion: stopped early", zap.Int("round", round), zap.Error(ctx.Err()))
			break
		}
		res.Rounds = round

		p, err := l.proposer.Propose(ctx, res.Graph)
		if err != nil {
			zap.L().Warn("completion: proposer failed", zap.Int("round", round), zap.Error(err))
			p = Proposal{}
		}
		p = p.implicit()

		next, delta := l.extender.Extend(ctx, res.Graph, p.Entities, p.Relationships)
		res.Graph = next
		res.Added += delta.Total()

		zap.L().Info("completion: round finished",
			zap.String("graph_id", next.ID),
			zap.Int("round", round),
			zap.Int("budget", l.rounds),
			zap.Int("proposed_entities", len(p.Entities)),
			zap.Int("proposed_relationships", len(p.Relationships)),
			zap.Int("new_entities", delta.Entities),
			zap.Int("new_relationships", delta.Relationships),
		)

		if delta.Empty() {
			res.State = model.CompletionConverged
			break
		}
	}
	if res.State == model.CompletionRunning {
		res.State = model.CompletionBudgetExhausted
	}

	res.Graph.Completion = &model.CompletionSummary{State: res.State, Rounds: res.Rounds, Added: res.Added}
	zap.L().Info("completion: done",
		zap.String("graph_id", res.Graph.ID),
		zap.String("state", string(res.State)),
		zap.Int("rounds", res.Rounds),
		zap.Int("added", res.Added),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

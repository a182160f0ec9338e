package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/entity-graph/internal/completion"
	"github.com/sells-group/entity-graph/internal/model"
)

var (
	graphInput    string
	graphComplete bool
	graphRounds   int
)

// graphFile is the upstream candidate list. JSON input is read through the
// YAML decoder.
type graphFile struct {
	Entities      []model.CandidateEntity    `yaml:"entities"`
	Relationships []model.RelationshipTriple `yaml:"relationships"`
}

func readGraphFile(r io.Reader) (*graphFile, error) {
	var f graphFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, eris.Wrap(err, "decode graph input")
	}
	for i := range f.Entities {
		if f.Entities[i].Provenance == "" {
			f.Entities[i].Provenance = model.ProvenanceExplicit
		}
	}
	for i := range f.Relationships {
		if f.Relationships[i].Provenance == "" {
			f.Relationships[i].Provenance = model.ProvenanceExplicit
		}
	}
	return &f, nil
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Resolve and deduplicate a candidate list into a knowledge graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := "graph"
		if graphComplete {
			mode = "complete"
		}
		env, err := initEngine(cmd.Context(), cfg, mode)
		if err != nil {
			return err
		}
		defer env.Close()

		in := io.Reader(os.Stdin)
		if graphInput != "" && graphInput != "-" {
			f, err := os.Open(graphInput)
			if err != nil {
				return eris.Wrapf(err, "open %s", graphInput)
			}
			defer f.Close() //nolint:errcheck
			in = f
		}
		gf, err := readGraphFile(in)
		if err != nil {
			return err
		}

		g := env.Builder.Build(cmd.Context(), gf.Entities, gf.Relationships)
		if graphComplete {
			rounds := graphRounds
			if rounds == 0 {
				rounds = cfg.Completion.Rounds
			}
			res := completion.NewLoop(env.Builder, env.Proposer, rounds).Run(cmd.Context(), g)
			g = res.Graph
			if res.State == model.CompletionBudgetExhausted {
				zap.L().Warn("completion budget exhausted, graph may be partial", zap.Int("rounds", res.Rounds))
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(g); err != nil {
			return eris.Wrap(err, "encode graph")
		}
		return nil
	},
}

func init() {
	graphCmd.Flags().StringVar(&graphInput, "input", "", "candidate file (.yaml or .json), - for stdin")
	graphCmd.Flags().BoolVar(&graphComplete, "complete", false, "run graph completion rounds")
	graphCmd.Flags().IntVar(&graphRounds, "rounds", 0, "completion round budget (default from config)")
	rootCmd.AddCommand(graphCmd)
}

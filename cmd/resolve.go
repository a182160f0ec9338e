package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/entity-graph/internal/model"
)

var resolveType string

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Resolve one entity against every enabled source",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), cfg, "resolve")
		if err != nil {
			return err
		}
		defer env.Close()

		e := env.Resolver.ResolveAll(cmd.Context(), model.CandidateEntity{
			Name:       strings.Join(args, " "),
			Type:       resolveType,
			Provenance: model.ProvenanceExplicit,
		})

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(e); err != nil {
			return eris.Wrap(err, "encode result")
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveType, "type", "", "candidate entity type, e.g. Person or City")
	rootCmd.AddCommand(resolveCmd)
}

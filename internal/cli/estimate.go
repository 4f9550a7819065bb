package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/yanqian/ecoloop/internal/domain/pipeline"
)

func newEstimateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <item>",
		Short: "Print the offline heuristic reuse estimate for an item",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item := strings.Join(args, " ")
			result := pipeline.Fallback(pipeline.Request{Kind: pipeline.FeatureReuse, Subject: item})
			return printJSON(cmd.OutOrStdout(), withProvenance(result, pipeline.ProvenanceHeuristic))
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yanqian/ecoloop/internal/domain/pipeline"
)

var featureFlags = map[string]pipeline.FeatureKind{
	"reuse":     pipeline.FeatureReuse,
	"detail":    pipeline.FeatureReuseDetail,
	"repair":    pipeline.FeatureRepair,
	"community": pipeline.FeatureCommunity,
}

func newGenerateCmd(factory ServiceFactory) *cobra.Command {
	var (
		feature string
		idea    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "generate <text>",
		Short: "Run the generation pipeline for one feature",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := featureFlags[strings.ToLower(feature)]
			if !ok {
				return fmt.Errorf("unknown feature %q (want reuse, detail, repair or community)", feature)
			}
			if kind == pipeline.FeatureReuseDetail && strings.TrimSpace(idea) == "" {
				return fmt.Errorf("--idea is required for the detail feature")
			}

			svc, err := factory()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := svc.Generate(ctx, pipeline.Request{
				Kind:    kind,
				Subject: strings.Join(args, " "),
				Idea:    idea,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), withProvenance(resp.Result, resp.Provenance))
		},
	}
	cmd.Flags().StringVarP(&feature, "feature", "f", "reuse", "reuse, detail, repair or community")
	cmd.Flags().StringVar(&idea, "idea", "", "reuse idea to expand (detail only)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall time limit")
	return cmd
}

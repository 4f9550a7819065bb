package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yanqian/ecoloop/internal/bootstrap"
	"github.com/yanqian/ecoloop/internal/domain/pipeline"
	"github.com/yanqian/ecoloop/internal/infra/config"
	"github.com/yanqian/ecoloop/internal/infra/resultcache"
	"github.com/yanqian/ecoloop/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// SetVersionInfo is called from main with ldflags values.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

// ServiceFactory builds the pipeline used by generate.
type ServiceFactory func() (pipeline.Service, error)

// NewRootCmd assembles the reusectl command tree.
func NewRootCmd(factory ServiceFactory) *cobra.Command {
	root := &cobra.Command{
		Use:   "reusectl",
		Short: "Reuse, repair and community suggestions from the terminal",
		Long: `reusectl runs the ecoloop generation pipeline locally.

  reusectl estimate <item>                      Offline heuristic reuse estimate
  reusectl generate --feature repair <text>     Full pipeline against the configured model
  reusectl version                              Print build information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newEstimateCmd(), newGenerateCmd(factory), newVersionCmd())
	return root
}

// Execute runs the root command with the configured pipeline.
func Execute() {
	if err := NewRootCmd(defaultServiceFactory).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultServiceFactory() (pipeline.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pcfg, err := bootstrap.PipelineConfig(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"))
	var cache pipeline.ResultCache
	if pcfg.CacheTTL > 0 {
		cache = resultcache.NewMemoryCache()
	}
	return pipeline.NewService(pcfg, bootstrap.GeminiClient(cfg, log), cache, log), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func withProvenance(result pipeline.Result, provenance pipeline.Provenance) map[string]any {
	out := make(map[string]any, len(result)+1)
	for k, v := range result {
		out[k] = v
	}
	out["provenance"] = provenance
	return out
}

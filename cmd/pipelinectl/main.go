package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jobscope/lakehouse/pkg/common/config"
	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/pipeline"
	"github.com/spf13/cobra"
)

var (
	configFlag string
	rootCmd    = &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Run job lakehouse pipeline stages against the catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	logger.Init()
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Pipeline YAML file (overrides PIPELINE_CONFIG_FILE)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if configFlag != "" {
		cfg.PipelineFile = configFlag
	}
	pf, err := config.LoadPipelineFile(cfg.PipelineFile)
	if err != nil {
		return nil, err
	}
	if err := pf.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup connects to the catalog and builds the stages. tweak adjusts the
// config from command flags before anything is built.
func setup(ctx context.Context, tweak func(*config.Config)) (*pipeline.Components, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}
	db, err := pipeline.OpenCatalog(ctx, cfg, 3)
	if err != nil {
		return nil, err
	}
	return pipeline.Setup(ctx, cfg, db, nil)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

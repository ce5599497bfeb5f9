package main

import (
	"fmt"
	"os"

	"github.com/jobscope/lakehouse/pkg/common/config"
	"github.com/jobscope/lakehouse/pkg/ingestion"
	"github.com/jobscope/lakehouse/pkg/normalizer"
	"github.com/jobscope/lakehouse/pkg/pipeline"
	"github.com/spf13/cobra"
)

func init() {
	// ingest
	var file, prefix string
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Append raw documents from the object store to the bronze log",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := pipeline.Request{Ingest: ingestion.IngestRequest{SourceFile: file, Prefix: prefix}}
			return runStages(cmd, nil, req, pipeline.StageIngest)
		},
	}
	ingestCmd.Flags().StringVarP(&file, "file", "f", "", "Single object key to ingest")
	ingestCmd.Flags().StringVarP(&prefix, "prefix", "p", "", "Key prefix to ingest (default: whole bucket)")
	rootCmd.AddCommand(ingestCmd)

	// normalize
	var full, verify bool
	normalizeCmd := &cobra.Command{
		Use:   "normalize",
		Short: "Merge new raw documents into the versioned job table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verify {
				return verifyVersions(cmd)
			}
			return runStages(cmd, nil, pipeline.Request{Full: full}, pipeline.StageNormalize)
		},
	}
	normalizeCmd.Flags().BoolVar(&full, "full", false, "Reprocess the whole raw log instead of resuming after the checkpoint")
	normalizeCmd.Flags().BoolVar(&verify, "verify", false, "Only check the versioned table invariants")
	rootCmd.AddCommand(normalizeCmd)

	// project
	var withSync bool
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Rebuild the serving table from current versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			tweak := func(cfg *config.Config) {
				if cmd.Flags().Changed("sync") {
					cfg.SyncEnabled = withSync
				}
			}
			return runStages(cmd, tweak, pipeline.Request{}, pipeline.StageProject)
		},
	}
	projectCmd.Flags().BoolVar(&withSync, "sync", true, "Sync the application after the rebuild (default from SYNC_ENABLED)")
	rootCmd.AddCommand(projectCmd)

	// sync
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Push serving rows to the application datastore",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStages(cmd, nil, pipeline.Request{}, pipeline.StageSync)
		},
	}
	rootCmd.AddCommand(syncCmd)

	// run
	var stageNames []string
	var runPrefix string
	var runFull bool
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline stages in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			stages, err := pipeline.ParseStages(stageNames)
			if err != nil {
				return err
			}
			req := pipeline.Request{Ingest: ingestion.IngestRequest{Prefix: runPrefix}, Full: runFull}
			return runStages(cmd, nil, req, stages...)
		},
	}
	runCmd.Flags().StringSliceVarP(&stageNames, "stages", "s", nil, "Stages to run: ingest,normalize,project,sync (default: all)")
	runCmd.Flags().StringVarP(&runPrefix, "prefix", "p", "", "Key prefix to ingest")
	runCmd.Flags().BoolVar(&runFull, "full", false, "Reprocess the whole raw log")
	rootCmd.AddCommand(runCmd)
}

func runStages(cmd *cobra.Command, tweak func(*config.Config), req pipeline.Request, stages ...pipeline.Stage) error {
	components, err := setup(cmd.Context(), tweak)
	if err != nil {
		return err
	}
	report, runErr := components.Driver.Run(cmd.Context(), req, stages...)
	if err := printJSON(os.Stdout, report); err != nil {
		return err
	}
	return runErr
}

func verifyVersions(cmd *cobra.Command) error {
	components, err := setup(cmd.Context(), nil)
	if err != nil {
		return err
	}
	versions, err := components.Versions.LoadAll(cmd.Context())
	if err != nil {
		return err
	}
	if err := normalizer.CheckInvariants(versions); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "versioned table ok: %d versions\n", len(versions))
	return nil
}

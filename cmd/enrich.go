package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

var (
	enrichFile        string
	enrichOwner       string
	enrichDepth       string
	enrichConcurrency int
	enrichProviders   []string
	enrichWait        bool
)

// batchFile is the JSON shape accepted by --file: either a bare array of
// entities or an object with an "entities" key.
type batchFile struct {
	Entities []model.TargetEntity `json:"entities"`
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Start a batch enrichment execution",
	Long:  "Reads a JSON batch of companies and people, starts an asynchronous execution, and prints the execution ID. With --wait, polls until the execution finishes and prints the final snapshot.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		entities, err := loadBatch(enrichFile)
		if err != nil {
			return err
		}
		if enrichOwner != "" {
			for i := range entities {
				if entities[i].OwnerKey == "" {
					entities[i].OwnerKey = enrichOwner
				}
			}
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := model.ExecutionOptions{
			Depth:       model.Depth(enrichDepth),
			ProviderSet: enrichProviders,
			Concurrency: enrichConcurrency,
		}
		if opts.Depth == "" {
			opts.Depth = model.Depth(cfg.Pipeline.DefaultDepth)
		}

		id, err := env.Manager.StartExecution(ctx, entities, opts)
		if err != nil {
			return eris.Wrap(err, "start execution")
		}

		zap.L().Info("execution started",
			zap.String("execution_id", id),
			zap.Int("entities", len(entities)),
		)

		if !enrichWait {
			fmt.Println(id)
			return nil
		}

		exec, err := pollUntilTerminal(ctx, env, id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(exec)
	},
}

// loadBatch reads and validates the batch JSON.
func loadBatch(path string) ([]model.TargetEntity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read batch file %s", path)
	}

	var entities []model.TargetEntity
	if err := json.Unmarshal(raw, &entities); err != nil {
		var bf batchFile
		if err2 := json.Unmarshal(raw, &bf); err2 != nil {
			return nil, eris.Wrapf(err, "parse batch file %s", path)
		}
		entities = bf.Entities
	}

	for i, e := range entities {
		if e.Kind != model.KindCompany && e.Kind != model.KindPerson {
			return nil, eris.Errorf("batch entity %d: unknown kind %q", i, e.Kind)
		}
	}
	return entities, nil
}

// pollUntilTerminal polls the execution snapshot until it reaches a
// terminal status, printing progress transitions along the way.
func pollUntilTerminal(ctx context.Context, env *appEnv, id string) (*model.Execution, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastStage := ""
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		exec, err := env.Manager.GetStatus(ctx, id)
		if err != nil {
			return nil, eris.Wrap(err, "poll execution")
		}
		if exec.CurrentStageName != "" && exec.CurrentStageName != lastStage {
			lastStage = exec.CurrentStageName
			fmt.Fprintf(os.Stderr, "stage: %s (%d/%d done)\n",
				exec.CurrentStageName, exec.CompletedEntities+exec.FailedEntities, exec.TotalEntities)
		}
		if exec.Status.Terminal() {
			return exec, nil
		}
	}
}

func init() {
	enrichCmd.Flags().StringVar(&enrichFile, "file", "", "JSON file with the entity batch (required)")
	enrichCmd.Flags().StringVar(&enrichOwner, "owner", "", "owner key applied to entities that carry none")
	enrichCmd.Flags().StringVar(&enrichDepth, "depth", "", "enrichment depth: standard or comprehensive (default from config)")
	enrichCmd.Flags().IntVar(&enrichConcurrency, "concurrency", 0, "worker count (default from config)")
	enrichCmd.Flags().StringSliceVar(&enrichProviders, "providers", nil, "restrict the waterfall to these providers")
	enrichCmd.Flags().BoolVar(&enrichWait, "wait", false, "poll until the execution finishes and print the final snapshot")
	_ = enrichCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(enrichCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect and control batch executions",
}

// -- executions list --

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ExecutionFilter{
			Status: model.ExecutionStatus(status),
			Limit:  limit,
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		execs, err := st.ListExecutions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "executions list")
		}
		if len(execs) == 0 {
			fmt.Fprintln(os.Stderr, "No executions found.")
			return nil
		}

		formatExecutionsList(os.Stdout, execs)
		return nil
	},
}

// -- executions show --

var executionsShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show the full snapshot of an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		exec, err := st.GetExecution(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "executions show")
		}

		withStages, _ := cmd.Flags().GetBool("stages")
		out := struct {
			*model.Execution
			Stages []model.StageResult `json:"stages,omitempty"`
		}{Execution: exec}

		if withStages {
			out.Stages, err = st.ListStageResults(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "executions show stages")
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// -- executions cancel --

var executionsCancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel a running execution",
	Long:  "Signals in-flight entities to stop at their next stage boundary. Partial results already persisted are kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Manager.Cancel(ctx, args[0]); err != nil {
			return eris.Wrap(err, "executions cancel")
		}
		fmt.Println("cancelled")
		return nil
	},
}

func init() {
	executionsListCmd.Flags().String("status", "", "filter by status (pending, running, completed, failed, cancelled)")
	executionsListCmd.Flags().Duration("since", 0, "only executions created within this window (e.g. 24h)")
	executionsListCmd.Flags().Int("limit", 50, "max number of executions to display")

	executionsShowCmd.Flags().Bool("stages", false, "include per-entity stage results")

	executionsCmd.AddCommand(executionsListCmd)
	executionsCmd.AddCommand(executionsShowCmd)
	executionsCmd.AddCommand(executionsCancelCmd)
	rootCmd.AddCommand(executionsCmd)
}

// formatExecutionsList writes a tabular list of executions to w.
func formatExecutionsList(out io.Writer, execs []model.Execution) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tFAILED\tSTAGE\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t------\t-----\t-------")

	for _, e := range execs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			e.ID,
			e.Status,
			e.CompletedEntities, e.TotalEntities,
			e.FailedEntities,
			e.CurrentStageName,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show configured providers and their health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry := buildRegistry()
		statuses := registry.Statuses()
		if len(statuses) == 0 {
			fmt.Fprintln(os.Stderr, "No providers enabled.")
			return nil
		}
		formatProviders(os.Stdout, statuses)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func formatProviders(out io.Writer, statuses []provider.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tVERSION\tKINDS\tPRIORITY\tHEALTH\tBREAKER")
	_, _ = fmt.Fprintln(w, "----\t-------\t-----\t--------\t------\t-------")

	for _, s := range statuses {
		kinds := make([]string, len(s.Kinds))
		for i, k := range s.Kinds {
			kinds[i] = string(k)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.Name, s.Version, strings.Join(kinds, ","), s.Priority, s.Health, s.BreakerState)
	}
	_ = w.Flush()
}

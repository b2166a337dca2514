package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"finplan/internal/core"
	"finplan/internal/worker"
)

func runCmd(opts *rootOptions) *cobra.Command {
	var format string
	var today string

	c := &cobra.Command{
		Use:   "run",
		Short: "Process every obligation due today once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "pretty" && format != "json" {
				return fmt.Errorf("unsupported format %q (expected pretty|json)", format)
			}
			if today != "" {
				d, err := core.ParseDate(today)
				if err != nil {
					return fmt.Errorf("invalid --today: %w", err)
				}
				opts.clock = core.FixedClock{T: d.Time}
			}

			app, err := opts.openApp(true)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Scheduler.RunOnce(cmd.Context(), worker.TriggerManual)
			if err != nil {
				return err
			}
			if err := printRun(cmd.OutOrStdout(), res, format); err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("run finished with %d failed occurrence(s)", res.Failed)
			}
			return nil
		},
	}

	c.Flags().StringVar(&format, "format", "pretty", "Output format: pretty|json")
	c.Flags().StringVar(&today, "today", "", "Process as of this date (YYYY-MM-DD) instead of the current day")
	return c
}

func printRun(w io.Writer, res worker.RunResult, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "Run ID:     %s\n", res.RunID)
	fmt.Fprintf(w, "Date:       %s\n", res.Date)
	fmt.Fprintf(w, "Due:        %d\n", res.Due)
	fmt.Fprintf(w, "Processed:  %d\n", res.Processed)
	fmt.Fprintf(w, "Skipped:    %d\n", res.Skipped)
	fmt.Fprintf(w, "Failed:     %d\n", res.Failed)
	fmt.Fprintf(w, "Reminders:  %d\n", res.Reminders)
	fmt.Fprintf(w, "Duration:   %s\n", res.Duration)
	return nil
}

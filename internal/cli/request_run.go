package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func requestRunCmd(opts *rootOptions) *cobra.Command {
	var requestedBy string

	c := &cobra.Command{
		Use:   "request-run",
		Short: "Ask a running finplan serve to process due obligations now, via AMQP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.openApp(true)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.AMQP == nil {
				return errors.New("request-run needs a reachable broker (set AMQP_URL)")
			}
			if err := app.AMQP.RequestRun(cmd.Context(), requestedBy); err != nil {
				return fmt.Errorf("publish run request: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run requested on queue %s\n", app.Config.AMQPTriggerQueue)
			return nil
		},
	}

	host, _ := os.Hostname()
	c.Flags().StringVar(&requestedBy, "requested-by", host, "Identifier recorded on the run request")
	return c
}

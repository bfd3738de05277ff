package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List the months the next sync would fetch",
	Long: `Print, one per line, the months missing from the local dataset plus any
month whose last fetch failed. Nothing is fetched or written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		months, err := a.updater.Pending(ctx)
		if err != nil {
			return fmt.Errorf("computing gaps: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(months) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "dataset is up to date")
			return nil
		}
		for _, m := range months {
			fmt.Fprintln(out, m.String())
		}
		return nil
	},
}

package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/talon/internal/engine"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DBOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "stats",
		Short:         "Print instance and module statistics",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(opts, cmd, func(ctx context.Context, db *engine.DB) error {
				data, err := db.Stats(ctx)
				return opts.formatter(cmd).Result(data, err)
			})
		},
	}

	opts.addFlags(cmd)
	return cmd
}

package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/talon/internal/engine"
)

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DBOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <command-json>",
		Short: "Execute one generic command",
		Long: `Execute one {"module","action","params"} command and print the result.

Exit codes:
  0 - Command succeeded
  1 - Command returned an error
  2 - Usage error or the root could not be opened

Examples:
  talon exec --db ./data '{"module":"kv","action":"get","params":{"key":"a"}}'
  talon exec --db ./data --format json '{"module":"mq","action":"produce","params":{"topic":"t","payload":"x"}}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(opts, cmd, func(ctx context.Context, db *engine.DB) error {
				data, err := db.ExecuteJSON(ctx, []byte(args[0]))
				return opts.formatter(cmd).Result(data, err)
			})
		},
	}

	opts.addFlags(cmd)
	return cmd
}

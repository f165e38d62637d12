package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/roach88/talon/internal/command"
	"github.com/roach88/talon/internal/engine"
	"github.com/roach88/talon/internal/ir"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	DBOptions
	Args string // JSON array of positional args
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{DBOptions: DBOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "sql <statement>",
		Short: "Run SQL against the relational store",
		Long: `Run one SQL string. Several statements separated by ';' run atomically.

Query results print as a table in text format.

Examples:
  talon sql --db ./data 'CREATE TABLE t (id INTEGER, name TEXT)'
  talon sql --db ./data 'INSERT INTO t VALUES (?, ?)' --args '[1, "a"]'
  talon sql --db ./data 'SELECT * FROM t'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var params ir.IRArray
			if opts.Args != "" {
				if err := json.Unmarshal([]byte(opts.Args), &params); err != nil {
					return WrapExitError(ExitCommandError, "--args must be a JSON array", err)
				}
			}
			return withDB(&opts.DBOptions, cmd, func(ctx context.Context, db *engine.DB) error {
				data, err := db.Execute(ctx, command.RunSQL(args[0], params...))
				return opts.formatter(cmd).Result(data, err)
			})
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Args, "args", "", "positional args as a JSON array")
	return cmd
}

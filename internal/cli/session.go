package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/talon/internal/engine"
	"github.com/roach88/talon/internal/ir"
)

// DBOptions holds the flags shared by commands that open a root.
type DBOptions struct {
	*RootOptions
	DB     string // root directory
	Driver string // storage.driver override
}

func (o *DBOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.DB, "db", "", "Talon root directory (required)")
	cmd.Flags().StringVar(&o.Driver, "driver", "", "SQLite driver override (sqlite3|sqlite)")
}

// withDB opens the root for the length of fn. Open failures are command
// errors; fn's result is returned as is.
func withDB(o *DBOptions, cmd *cobra.Command, fn func(ctx context.Context, db *engine.DB) error) (err error) {
	if o.DB == "" {
		return NewExitError(ExitCommandError, "--db is required")
	}

	var opts []engine.Option
	if logger := o.logger(cmd.ErrOrStderr()); logger != nil {
		opts = append(opts, engine.WithLogger(logger))
	}
	if o.Driver != "" {
		opts = append(opts, engine.WithDriver(o.Driver))
	}

	db, err := engine.Open(o.DB, opts...)
	if err != nil {
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("open %s [%s]", o.DB, ir.KindOf(err)), err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = WrapExitError(ExitCommandError, "close", cerr)
		}
	}()

	return fn(cmd.Context(), db)
}

package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/talon/internal/command"
	"github.com/roach88/talon/internal/engine"
)

// KVOptions holds flags for the kv subcommands.
type KVOptions struct {
	DBOptions
	TTL uint64 // seconds, 0 for no expiry
}

// NewKVCommand creates the kv command group.
func NewKVCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KVOptions{DBOptions: DBOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Read and write the key-value store",
		Long: `Read and write keys. Keys and values are taken as UTF-8 text.

Examples:
  talon kv set --db ./data session abc --ttl 60
  talon kv get --db ./data session
  talon kv del --db ./data session`,
	}

	run := func(build func(args []string) command.Command) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withDB(&opts.DBOptions, cmd, func(ctx context.Context, db *engine.DB) error {
				data, err := db.Execute(ctx, build(args))
				return opts.formatter(cmd).Result(data, err)
			})
		}
	}

	get := &cobra.Command{
		Use:           "get <key>",
		Short:         "Get a key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(func(args []string) command.Command {
			return command.KVGet([]byte(args[0]))
		}),
	}
	set := &cobra.Command{
		Use:           "set <key> <value>",
		Short:         "Set a key",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(func(args []string) command.Command {
			return command.KVSet([]byte(args[0]), []byte(args[1]), opts.TTL)
		}),
	}
	del := &cobra.Command{
		Use:           "del <key>",
		Short:         "Delete a key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: run(func(args []string) command.Command {
			return command.KVDelete([]byte(args[0]))
		}),
	}

	for _, sub := range []*cobra.Command{get, set, del} {
		opts.addFlags(sub)
		cmd.AddCommand(sub)
	}
	set.Flags().Uint64Var(&opts.TTL, "ttl", 0, "expiry in seconds (0 = never)")

	return cmd
}

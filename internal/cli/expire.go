package cli

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/database"
	"github.com/roach88/docstore/internal/keystore"
)

// NewExpireCommand creates the expire command group.
func NewExpireCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Manage record expiration",
		Long: `Set and inspect expiration times and purge expired records.

Times are Unix milliseconds; 0 clears an expiration.

Examples:
  docstore expire set doc1 1735689600000
  docstore expire get doc1
  docstore expire next
  docstore expire run`,
	}

	cmd.AddCommand(newExpireSetCommand(rootOpts))
	cmd.AddCommand(newExpireGetCommand(rootOpts))
	cmd.AddCommand(newExpireNextCommand(rootOpts))
	cmd.AddCommand(newExpireRunCommand(rootOpts))

	return cmd
}

func newExpireSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <unix-ms>",
		Short: "Set a record's expiration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			ms, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || ms < 0 {
				return fail(f, CodeInvalid, NewExitError(ExitCommandError, fmt.Sprintf("invalid expiration %q", args[1])))
			}
			key := args[0]
			return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
				var ok bool
				err := db.InTransaction(ctx, func(t *keystore.Transaction) error {
					var err error
					ok, err = db.Store().SetExpiration(ctx, t, []byte(key), keystore.Expiration(ms))
					return err
				})
				if err != nil {
					return fail(f, CodeInvalid, storeExitError("expire set failed", err))
				}
				if !ok {
					return fail(f, CodeNotFound, NewExitError(ExitFailure, fmt.Sprintf("not found: %s", key)))
				}
				return f.Success(WriteResult{Key: key, OK: true, Message: fmt.Sprintf("%s expiration set", key)})
			})
		},
	}
}

func newExpireGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show a record's expiration (0 = none)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
				exp, err := db.Store().GetExpiration(ctx, []byte(args[0]))
				if err != nil {
					return fail(f, CodeInvalid, storeExitError("expire get failed", err))
				}
				return f.Success(CountResult{Count: uint64(exp)})
			})
		},
	}
}

func newExpireNextCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the earliest pending expiration (0 = none)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
				exp, err := db.Store().NextExpiration(ctx)
				if err != nil {
					return fail(f, CodeInvalid, storeExitError("expire next failed", err))
				}
				return f.Success(CountResult{Count: uint64(exp)})
			})
		},
	}
}

func newExpireRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Purge every expired record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
				var (
					n    uint64
					keys []string
				)
				err := db.InTransaction(ctx, func(t *keystore.Transaction) error {
					var err error
					n, err = db.Store().ExpireRecords(ctx, t, func(key []byte) {
						keys = append(keys, string(key))
					})
					return err
				})
				if err != nil {
					return fail(f, CodeInvalid, storeExitError("expire run failed", err))
				}
				slices.Sort(keys)
				return f.Success(CountResult{Count: n, Keys: keys})
			})
		},
	}
}

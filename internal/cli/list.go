package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/database"
	"github.com/roach88/docstore/internal/keystore"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Since      uint64
	ByKey      bool
	Deleted    bool
	Conflicts  bool
	Limit      uint64
	Skip       uint64
	Descending bool
	Meta       bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Enumerate records",
		Long: `Enumerate records by sequence (the default) or by key.

With --deleted the live and dead stores are merged into one stream;
otherwise only live documents are listed.

Examples:
  docstore list
  docstore list --since 10 --deleted
  docstore list --by-key --desc --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().Uint64Var(&opts.Since, "since", 0, "only records with a sequence above this")
	cmd.Flags().BoolVar(&opts.ByKey, "by-key", false, "order by key instead of sequence")
	cmd.Flags().BoolVar(&opts.Deleted, "deleted", false, "include tombstones")
	cmd.Flags().BoolVar(&opts.Conflicts, "conflicts", false, "only conflicted documents")
	cmd.Flags().Uint64Var(&opts.Limit, "limit", 0, "maximum records (0 = unlimited)")
	cmd.Flags().Uint64Var(&opts.Skip, "skip", 0, "records to skip")
	cmd.Flags().BoolVar(&opts.Descending, "desc", false, "descending order")
	cmd.Flags().BoolVar(&opts.Meta, "meta", false, "omit bodies")

	return cmd
}

func runList(cmd *cobra.Command, opts *ListOptions) error {
	f := opts.formatter(cmd)
	if opts.ByKey && opts.Since > 0 {
		return fail(f, CodeInvalid, NewExitError(ExitCommandError, "--since only applies to sequence order"))
	}
	content := keystore.EntireBody
	if opts.Meta {
		content = keystore.MetaOnly
	}
	enumOpts := keystore.EnumeratorOptions{
		Skip:           opts.Skip,
		Limit:          opts.Limit,
		Descending:     opts.Descending,
		IncludeDeleted: opts.Deleted,
		OnlyConflicts:  opts.Conflicts,
		Content:        content,
	}

	return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
		e, err := keystore.NewRecordEnumerator(ctx, db.Store(), !opts.ByKey, keystore.Sequence(opts.Since), enumOpts)
		if err != nil {
			return fail(f, CodeInvalid, storeExitError("list failed", err))
		}
		records, err := keystore.Collect(e)
		if err != nil {
			return fail(f, CodeInvalid, storeExitError("list failed", err))
		}
		list := RecordList{Records: make([]RecordView, 0, len(records)), Count: len(records)}
		for _, rec := range records {
			list.Records = append(list.Records, newRecordView(rec))
		}
		return f.Success(list)
	})
}

// CountOptions holds flags for the count command.
type CountOptions struct {
	*RootOptions
	Deleted bool
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CountOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count records",
		Long: `Count live documents, or documents plus tombstones with --deleted.

Examples:
  docstore count
  docstore count --deleted`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
				n, err := db.Store().RecordCount(ctx, opts.Deleted)
				if err != nil {
					return fail(f, CodeInvalid, storeExitError("count failed", err))
				}
				return f.Success(CountResult{Count: n})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Deleted, "deleted", false, "include tombstones")

	return cmd
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/database"
	"github.com/roach88/docstore/internal/keystore"
)

// fail reports an error response in JSON mode and returns the exit error.
// In text mode main prints the error.
func fail(f *OutputFormatter, code string, exitErr *ExitError) error {
	if f.Format == "json" {
		if err := f.Error(code, exitErr.Error(), nil); err != nil {
			return err
		}
	}
	return exitErr
}

// errKeepSequenceMove rejects a --keep-sequence write that would move a
// record between the live and deleted stores.
var errKeepSequenceMove = errors.New("--keep-sequence cannot move a record between live and deleted")

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	Body         string
	Version      string
	Deleted      bool
	Conflicted   bool
	Replacing    uint64
	KeepSequence bool
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <key>",
		Short: "Write a document or tombstone",
		Long: `Write a record. Records flagged --deleted are stored as tombstones;
writing a key moves it between the live and dead stores as needed.

--replacing makes the write conditional: 0 requires the key to be absent,
any other value must equal the key's current sequence.

Examples:
  docstore put doc1 --body '{"title":"hello"}' --version 1-a
  docstore put doc1 --deleted --replacing 1
  docstore put doc2 --body '{}' --replacing 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			replacing := cmd.Flags().Changed("replacing")
			return runPut(cmd, opts, args[0], replacing)
		},
	}

	cmd.Flags().StringVar(&opts.Body, "body", "", "document body (JSON)")
	cmd.Flags().StringVar(&opts.Version, "version", "", "revision identifier")
	cmd.Flags().BoolVar(&opts.Deleted, "deleted", false, "write a tombstone")
	cmd.Flags().BoolVar(&opts.Conflicted, "conflicted", false, "mark the document conflicted")
	cmd.Flags().Uint64Var(&opts.Replacing, "replacing", 0, "expected current sequence (0 = must not exist)")
	cmd.Flags().BoolVar(&opts.KeepSequence, "keep-sequence", false, "keep the existing sequence instead of assigning a new one")

	return cmd
}

func runPut(cmd *cobra.Command, opts *PutOptions, key string, conditional bool) error {
	f := opts.formatter(cmd)
	if opts.Body != "" && !json.Valid([]byte(opts.Body)) {
		return fail(f, CodeInvalid, NewExitError(ExitCommandError, "--body is not valid JSON"))
	}

	req := keystore.SetRequest{
		Key:         []byte(key),
		NewSequence: !opts.KeepSequence,
	}
	if opts.Body != "" {
		req.Body = []byte(opts.Body)
	}
	if opts.Version != "" {
		req.Version = []byte(opts.Version)
	}
	if opts.Deleted {
		req.Flags |= keystore.FlagDeleted
	}
	if opts.Conflicted {
		req.Flags |= keystore.FlagConflicted
	}
	if conditional {
		req.Replacing = keystore.Replacing(keystore.Sequence(opts.Replacing))
	}

	return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
		var seq keystore.Sequence
		err := db.InTransaction(ctx, func(t *keystore.Transaction) error {
			if !req.NewSequence && req.Replacing != nil && *req.Replacing > 0 {
				cur := keystore.Record{Key: req.Key}
				found, err := db.Store().Read(ctx, &cur, keystore.MetaOnly)
				if err != nil {
					return err
				}
				if found && cur.Sequence == *req.Replacing && cur.Deleted() != opts.Deleted {
					return errKeepSequenceMove
				}
			}
			var err error
			seq, err = db.Store().Set(ctx, t, req)
			return err
		})
		if errors.Is(err, errKeepSequenceMove) {
			return fail(f, CodeInvalid, NewExitError(ExitCommandError, err.Error()))
		}
		if err != nil {
			return fail(f, CodeInvalid, storeExitError("put failed", err))
		}
		if seq == 0 {
			return fail(f, CodeConflict, NewExitError(ExitFailure, fmt.Sprintf("conflict: %s was not written", key)))
		}
		f.VerboseLog("wrote %s at sequence %d", key, seq)
		return f.Success(WriteResult{
			Key:      key,
			Sequence: uint64(seq),
			OK:       true,
			Message:  fmt.Sprintf("%s written at sequence %d", key, seq),
		})
	})
}

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Meta     bool
	Sequence uint64
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Read a document or tombstone",
		Long: `Read a record by key, or by sequence with --seq. Tombstones are found too.

Examples:
  docstore get doc1
  docstore get doc1 --meta
  docstore get --seq 42`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.Sequence == 0 {
				return NewExitError(ExitCommandError, "a key or --seq is required")
			}
			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			return runGet(cmd, opts, key)
		},
	}

	cmd.Flags().BoolVar(&opts.Meta, "meta", false, "omit the body")
	cmd.Flags().Uint64Var(&opts.Sequence, "seq", 0, "look up by sequence instead of key")

	return cmd
}

func runGet(cmd *cobra.Command, opts *GetOptions, key string) error {
	f := opts.formatter(cmd)
	content := keystore.EntireBody
	if opts.Meta {
		content = keystore.MetaOnly
	}

	return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
		var (
			rec   keystore.Record
			found bool
			err   error
		)
		if key != "" {
			rec.Key = []byte(key)
			found, err = db.Store().Read(ctx, &rec, content)
		} else {
			rec, err = db.Store().Get(ctx, keystore.Sequence(opts.Sequence), content)
			found = rec.Exists()
			key = fmt.Sprintf("sequence %d", opts.Sequence)
		}
		if err != nil {
			return fail(f, CodeInvalid, storeExitError("get failed", err))
		}
		if !found {
			return fail(f, CodeNotFound, NewExitError(ExitFailure, fmt.Sprintf("not found: %s", key)))
		}
		return f.Success(newRecordView(rec))
	})
}

// DelOptions holds flags for the del command.
type DelOptions struct {
	*RootOptions
	Replacing uint64
}

// NewDelCommand creates the del command.
func NewDelCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DelOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "del <key>",
		Short: "Purge a record from both stores",
		Long: `Remove a record entirely, whether it is a document or a tombstone.
Unlike put --deleted this leaves nothing behind.

Examples:
  docstore del doc1
  docstore del doc1 --replacing 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDel(cmd, opts, args[0])
		},
	}

	cmd.Flags().Uint64Var(&opts.Replacing, "replacing", 0, "only delete if the current sequence matches")

	return cmd
}

func runDel(cmd *cobra.Command, opts *DelOptions, key string) error {
	f := opts.formatter(cmd)
	return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
		var removed bool
		err := db.InTransaction(ctx, func(t *keystore.Transaction) error {
			var err error
			removed, err = db.Store().Del(ctx, t, []byte(key), keystore.Sequence(opts.Replacing))
			return err
		})
		if err != nil {
			return fail(f, CodeInvalid, storeExitError("del failed", err))
		}
		if !removed {
			return fail(f, CodeNotFound, NewExitError(ExitFailure, fmt.Sprintf("not deleted: %s", key)))
		}
		return f.Success(WriteResult{Key: key, OK: true, Message: fmt.Sprintf("%s deleted", key)})
	})
}

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/compiler"
	"github.com/roach88/docstore/internal/database"
	"github.com/roach88/docstore/internal/keystore"
)

// IndexView is the printable form of an index.
type IndexView struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Expressions []string `json:"expressions"`
	Created     *bool    `json:"created,omitempty"`
}

func (v IndexView) String() string {
	s := fmt.Sprintf("%s (%s): %s", v.Name, v.Type, strings.Join(v.Expressions, ", "))
	if v.Created != nil && !*v.Created {
		s += " [unchanged]"
	}
	return s
}

// IndexList is the printable form of several indexes.
type IndexList struct {
	Indexes []IndexView `json:"indexes"`
}

func (l IndexList) String() string {
	if len(l.Indexes) == 0 {
		return "(no indexes)"
	}
	lines := make([]string, len(l.Indexes))
	for i, idx := range l.Indexes {
		lines[i] = idx.String()
	}
	return strings.Join(lines, "\n")
}

func newIndexView(spec keystore.IndexSpec) IndexView {
	return IndexView{Name: spec.Name, Type: spec.Type.String(), Expressions: spec.Expressions}
}

// NewIndexCommand creates the index command group.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage value indexes on the live store",
		Long: `Create, list and drop indexes. Indexes are declared in CUE:

  index: byTitle: {
    type: "value"
    expressions: ["title"]
  }

Examples:
  docstore index create --spec defs.cue
  docstore index list
  docstore index drop byTitle`,
	}

	cmd.AddCommand(newIndexCreateCommand(rootOpts))
	cmd.AddCommand(newIndexListCommand(rootOpts))
	cmd.AddCommand(newIndexDropCommand(rootOpts))

	return cmd
}

func newIndexCreateCommand(opts *RootOptions) *cobra.Command {
	var specPath string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create every index declared in a CUE file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			defs, err := compiler.LoadFile(specPath)
			if err != nil {
				return fail(f, CodeInvalid, WrapExitError(ExitCommandError, "failed to compile definitions", err))
			}
			if len(defs.Indexes) == 0 {
				return fail(f, CodeInvalid, NewExitError(ExitCommandError, fmt.Sprintf("%s declares no indexes", specPath)))
			}

			return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
				result := IndexList{Indexes: make([]IndexView, 0, len(defs.Indexes))}
				err := db.InTransaction(ctx, func(t *keystore.Transaction) error {
					for _, spec := range defs.Indexes {
						created, err := db.Store().CreateIndex(ctx, t, spec)
						if err != nil {
							return err
						}
						view := newIndexView(spec)
						view.Created = &created
						result.Indexes = append(result.Indexes, view)
						f.VerboseLog("index %s created=%t", spec.Name, created)
					}
					return nil
				})
				if err != nil {
					return fail(f, CodeInvalid, storeExitError("index create failed", err))
				}
				return f.Success(result)
			})
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "CUE definition file")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

func newIndexListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
				specs, err := db.Store().GetIndexes(ctx)
				if err != nil {
					return fail(f, CodeInvalid, storeExitError("index list failed", err))
				}
				result := IndexList{Indexes: make([]IndexView, 0, len(specs))}
				for _, spec := range specs {
					result.Indexes = append(result.Indexes, newIndexView(spec))
				}
				return f.Success(result)
			})
		},
	}
}

func newIndexDropCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <name>",
		Short: "Drop an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			name := args[0]
			return opts.withDatabase(cmd, func(ctx context.Context, db *database.Database) error {
				err := db.InTransaction(ctx, func(t *keystore.Transaction) error {
					return db.Store().DeleteIndex(ctx, t, name)
				})
				if err != nil {
					return fail(f, CodeInvalid, storeExitError("index drop failed", err))
				}
				return f.Success(WriteResult{OK: true, Message: fmt.Sprintf("index %s dropped", name)})
			})
		},
	}
}

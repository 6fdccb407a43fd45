package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opal-lang/datacube/runtime/export"
	"github.com/opal-lang/datacube/runtime/snapshot"
)

func (a *app) exportCmd() *cobra.Command {
	var (
		snapshotDir string
		output      string
		format      string
	)
	cmd := &cobra.Command{
		Use:     "export NAME",
		Short:   "Write a saved result as Arrow IPC or JSON",
		Example: `  datacube export median_t --snapshot-dir ./snapshots -o median_t.arrow`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			store, err := a.store(ctx, snapshotDir)
			if err != nil {
				return err
			}
			if store == nil {
				return &CLIError{
					Type:    "usage",
					Message: "no snapshot store configured",
					Hint:    "pass --snapshot-dir or set snapshot.dir in the config",
				}
			}
			entry, err := store.Load(ctx, name)
			if errors.Is(err, snapshot.ErrNotFound) {
				names, _ := store.List(ctx)
				return &CLIError{
					Type:    "io",
					Message: fmt.Sprintf("no snapshot named %q", name),
					Hint:    fmt.Sprintf("saved results: %v", names),
				}
			}
			if err != nil {
				return err
			}

			var w io.Writer = a.stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return &CLIError{Type: "io", Message: err.Error()}
				}
				defer f.Close()
				w = f
			}

			switch format {
			case "arrow":
				err = export.WriteArrow(w, entry)
			case "json":
				err = writeJSON(w, toJSON(entry))
			default:
				return &CLIError{Type: "usage", Message: fmt.Sprintf("unknown format %q", format), Hint: "use arrow or json"}
			}
			if err != nil {
				return err
			}
			a.logger.Debug("exported result", "name", name, "format", format, "output", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "Directory of saved results")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, - for stdout")
	cmd.Flags().StringVar(&format, "format", "arrow", "Output format: arrow or json")
	return cmd
}

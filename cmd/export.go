package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refcanvas/refcanvas-cli/internal/export"
	"github.com/refcanvas/refcanvas-cli/internal/store"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export references in the decisions line format",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initCore(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		refs, err := e.store.ListReferences(ctx, store.ReferenceFilter{})
		if err != nil {
			return err
		}

		records := make([]export.Record, 0, len(refs))
		for i := range refs {
			records = append(records, export.FromReference(i+1, &refs[i]))
		}

		var w io.Writer = os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", exportOut)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		if err := export.Serialize(w, records); err != nil {
			return err
		}

		zap.L().Info("export complete", zap.Int("references", len(records)))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(exportCmd)
}

package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refcanvas/refcanvas-cli/internal/export"
)

var importCmd = &cobra.Command{
	Use:   "import <decisions-file>",
	Short: "Import references from a decisions file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close() //nolint:errcheck

		records, err := export.Parse(f)
		if err != nil {
			return err
		}

		e, err := initCore(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		for _, rec := range records {
			ref := export.ToReference(rec)
			if err := e.store.CreateReference(ctx, ref); err != nil {
				return err
			}
		}

		zap.L().Info("import complete",
			zap.String("file", args[0]),
			zap.Int("references", len(records)),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

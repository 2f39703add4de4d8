package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refcanvas/refcanvas-cli/internal/model"
)

var undoCmd = &cobra.Command{
	Use:   "undo <reference-id> <level>",
	Short: "Revert the most recent override on a field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initCore(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		ref, err := e.coordinator.Undo(ctx, args[0], model.Level(args[1]))
		if err != nil {
			return err
		}

		fmt.Printf("restored %s on reference %s (version %d)\n", args[1], ref.ID, ref.Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(undoCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refcanvas/refcanvas-cli/internal/model"
)

var (
	validateTitle   string
	validateAuthors []string
	validateYear    int
	validateRefID   string
)

var validateCmd = &cobra.Command{
	Use:   "validate <url>",
	Short: "Fetch and score one URL against a cited work",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initCore(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		expected := model.Expected{
			Title:   validateTitle,
			Authors: validateAuthors,
			Year:    validateYear,
		}
		if validateRefID != "" {
			ref, err := e.store.GetReference(ctx, validateRefID)
			if err != nil {
				return err
			}
			expected = ref.Expected()
		}

		res := e.engine.Validate(ctx, args[0], expected)

		fmt.Printf("score:      %d\n", res.Score)
		fmt.Printf("accessible: %v\n", res.Accessible)
		if res.Barrier != model.BarrierNone {
			fmt.Printf("barrier:    %s\n", res.Barrier)
		}
		fmt.Printf("matches:    %v (confidence %.2f)\n", res.ContentMatches, res.Confidence)
		fmt.Printf("reason:     %s\n", res.Reason)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateTitle, "title", "", "expected title")
	validateCmd.Flags().StringSliceVar(&validateAuthors, "author", nil, "expected author (repeatable)")
	validateCmd.Flags().IntVar(&validateYear, "year", 0, "expected year")
	validateCmd.Flags().StringVar(&validateRefID, "ref", "", "take expected identity from a stored reference id")
	rootCmd.AddCommand(validateCmd)
}

package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refcanvas/refcanvas-cli/internal/model"
	"github.com/refcanvas/refcanvas-cli/internal/query"
	"github.com/refcanvas/refcanvas-cli/internal/store"
)

var (
	enrichFinalize bool
	enrichStrategy string
	enrichID       string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run URL discovery for references without a primary source",
	Long:  "For each draft reference missing a primary URL, builds search queries, validates the candidates, and commits the ranked selection. References where no candidate qualifies are flagged for manual review.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initCore(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		var refs []model.Reference
		if enrichID != "" {
			ref, err := e.store.GetReference(ctx, enrichID)
			if err != nil {
				return err
			}
			refs = []model.Reference{*ref}
		} else {
			refs, err = e.store.ListReferences(ctx, store.ReferenceFilter{Status: model.StatusDraft})
			if err != nil {
				return err
			}
		}

		strategy := query.Strategy(enrichStrategy)
		enriched, flagged, finalized := 0, 0, 0
		for i := range refs {
			ref := &refs[i]
			if enrichID == "" && ref.URLs.URLs.Primary.URL != "" {
				continue
			}

			updated, review, err := e.coordinator.AutoRegenerate(ctx, ref.ID,
				func(ctx context.Context, r *model.Reference) (model.URLSet, bool, error) {
					round, err := e.discoverer.Run(ctx, r, strategy)
					if err != nil {
						return model.URLSet{}, false, err
					}
					return round.URLs, round.ManualReview, nil
				})
			if err != nil {
				zap.L().Error("discovery round failed",
					zap.String("reference_id", ref.ID),
					zap.Error(err),
				)
				continue
			}
			enriched++

			if review {
				flagged++
				continue
			}

			if enrichFinalize && updated.CanFinalize() {
				if err := e.store.SetStatus(ctx, ref.ID, model.StatusFinalized); err != nil {
					return err
				}
				finalized++
			}
		}

		zap.L().Info("enrichment complete",
			zap.Int("enriched", enriched),
			zap.Int("manual_review", flagged),
			zap.Int("finalized", finalized),
		)
		return nil
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichFinalize, "finalize", false, "finalize references whose primary URL validated")
	enrichCmd.Flags().StringVar(&enrichStrategy, "strategy", string(query.StrategyCanonical), "query strategy (canonical-v1 or keyword-v1)")
	enrichCmd.Flags().StringVar(&enrichID, "id", "", "enrich a single reference by id")
	rootCmd.AddCommand(enrichCmd)
}

package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/refcanvas/refcanvas-cli/internal/config"
	"github.com/refcanvas/refcanvas-cli/internal/model"
	"github.com/refcanvas/refcanvas-cli/internal/query"
	"github.com/refcanvas/refcanvas-cli/internal/rank"
	"github.com/refcanvas/refcanvas-cli/internal/resilience"
	"github.com/refcanvas/refcanvas-cli/pkg/search"
)

// resultsPerQuery caps how many hits each query contributes.
const resultsPerQuery = 5

// Validator scores one candidate URL against the expected work.
type Validator interface {
	Validate(ctx context.Context, rawURL string, expected model.Expected) model.ValidationResult
}

// Round is the full audit record of one discovery round.
type Round struct {
	Queries      []query.Query        `json:"queries"`
	Candidates   []model.URLCandidate `json:"candidates"`
	Outcome      rank.Outcome         `json:"-"`
	URLs         model.URLSet         `json:"urls"`
	ManualReview bool                 `json:"manual_review"`
	Reason       string               `json:"reason,omitempty"`
}

// Discoverer runs discovery rounds: query fan-out, candidate validation,
// ranking, selection.
type Discoverer struct {
	searcher      search.Client
	validator     Validator
	builder       *query.Builder
	ranker        *rank.Ranker
	retry         resilience.RetryConfig
	maxConcurrent int
}

// NewDiscoverer assembles a Discoverer from the pipeline components.
func NewDiscoverer(searcher search.Client, validator Validator, builder *query.Builder, ranker *rank.Ranker, cfg config.ValidateConfig) *Discoverer {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("search", "query")
	return &Discoverer{
		searcher:      searcher,
		validator:     validator,
		builder:       builder,
		ranker:        ranker,
		retry:         retry,
		maxConcurrent: maxConcurrent,
	}
}

// DiscoverURLs runs one canonical-strategy round and reports the selected
// set. Satisfies the coordinator's discovery dependency.
func (d *Discoverer) DiscoverURLs(ctx context.Context, ref *model.Reference) (model.URLSet, bool, error) {
	round, err := d.Run(ctx, ref, query.StrategyCanonical)
	if err != nil {
		return model.URLSet{}, false, err
	}
	return round.URLs, round.ManualReview, nil
}

// Run executes a discovery round with the given query strategy.
func (d *Discoverer) Run(ctx context.Context, ref *model.Reference, strategy query.Strategy) (*Round, error) {
	queries := d.builder.Build(ref, strategy)

	candidates, err := d.gather(ctx, queries)
	if err != nil {
		return nil, err
	}
	zap.L().Info("discovery round gathered",
		zap.String("reference_id", ref.ID),
		zap.Int("queries", len(queries)),
		zap.Int("candidates", len(candidates)),
	)

	d.validateAll(ctx, candidates, ref.Expected())

	outcome := d.ranker.Rank(candidates, ref.Relevance.Value)
	round := &Round{
		Queries:      queries,
		Candidates:   outcome.Candidates,
		Outcome:      outcome,
		URLs:         selectionSet(outcome),
		ManualReview: outcome.ManualReview,
		Reason:       outcome.Reason,
	}
	return round, nil
}

// gather fans queries out to the search client, deduplicating hits while
// preserving first-seen discovery order.
func (d *Discoverer) gather(ctx context.Context, queries []query.Query) ([]model.URLCandidate, error) {
	type hit struct {
		queryIdx int
		results  []search.Result
	}

	hits := make([]hit, 0, len(queries))
	var mu sync.Mutex
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxConcurrent)
	for i, q := range queries {
		g.Go(func() error {
			results, err := resilience.DoVal(gctx, d.retry,
				func(ctx context.Context) ([]search.Result, error) {
					return d.searcher.Search(ctx, q.Text, resultsPerQuery)
				})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One failing query does not sink the round.
				failures++
				zap.L().Warn("search query failed",
					zap.String("query", q.Text),
					zap.Error(err),
				)
				return nil
			}
			hits = append(hits, hit{queryIdx: i, results: results})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "enrich: search fan-out")
	}
	if failures == len(queries) {
		return nil, eris.New("enrich: every search query failed")
	}

	// Stable order: by query position, then hit position within the query.
	for i := 0; i < len(hits); i++ {
		for j := i + 1; j < len(hits); j++ {
			if hits[j].queryIdx < hits[i].queryIdx {
				hits[i], hits[j] = hits[j], hits[i]
			}
		}
	}

	var candidates []model.URLCandidate
	seen := make(map[string]bool)
	for _, h := range hits {
		for _, r := range h.results {
			norm := rank.Normalize(r.Link)
			if norm == "" || seen[norm] {
				continue
			}
			seen[norm] = true
			candidates = append(candidates, model.URLCandidate{
				URL:           r.Link,
				NormalizedURL: norm,
				Title:         r.Title,
				Snippet:       r.Snippet,
				Rank:          len(candidates),
			})
		}
	}
	return candidates, nil
}

// validateAll scores every candidate concurrently. Validation never
// returns an error; failures surface as FetchFailed results.
func (d *Discoverer) validateAll(ctx context.Context, candidates []model.URLCandidate, expected model.Expected) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxConcurrent)
	for i := range candidates {
		g.Go(func() error {
			result := d.validator.Validate(gctx, candidates[i].URL, expected)
			candidates[i].Validation = &result
			return nil
		})
	}
	g.Wait() //nolint:errcheck
}

// selectionSet converts a ranking outcome into the reference's URL set.
func selectionSet(outcome rank.Outcome) model.URLSet {
	now := time.Now().UTC()
	var set model.URLSet
	set.Primary = slotFor(outcome.Primary, now)
	set.Secondary = slotFor(outcome.Secondary, now)
	set.Tertiary = slotFor(outcome.Tertiary, now)
	return set
}

func slotFor(c *model.URLCandidate, at time.Time) model.URLSlot {
	if c == nil {
		return model.URLSlot{}
	}
	status := "accessible"
	if c.Validation != nil && c.Validation.Barrier != model.BarrierNone {
		status = string(c.Validation.Barrier)
	}
	return model.URLSlot{
		URL:              c.URL,
		Source:           model.SourceGenerated,
		ValidationStatus: status,
		Score:            c.Composite,
		ValidatedAt:      &at,
	}
}

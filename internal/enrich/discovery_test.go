package enrich

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refcanvas/refcanvas-cli/internal/config"
	"github.com/refcanvas/refcanvas-cli/internal/model"
	"github.com/refcanvas/refcanvas-cli/internal/query"
	"github.com/refcanvas/refcanvas-cli/internal/rank"
	"github.com/refcanvas/refcanvas-cli/pkg/search"
)

type mockSearcher struct {
	results map[string][]search.Result
	err     error
}

func (m *mockSearcher) Search(_ context.Context, q string, _ int) ([]search.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	for needle, results := range m.results {
		if strings.Contains(q, needle) {
			return results, nil
		}
	}
	return nil, nil
}

type mockValidator struct {
	byURL map[string]model.ValidationResult
}

func (m *mockValidator) Validate(_ context.Context, rawURL string, _ model.Expected) model.ValidationResult {
	if r, ok := m.byURL[rawURL]; ok {
		return r
	}
	return model.ValidationResult{FetchFailed: true, Reason: "fetch failed: no route"}
}

func testRankConfig() config.RankConfig {
	return config.RankConfig{
		PrimaryThreshold:   75,
		SecondaryThreshold: 60,
		FormatBonus:        10,
		KeywordBonusMax:    10,
	}
}

func newTestDiscoverer(t *testing.T, searcher search.Client, validator Validator) *Discoverer {
	t.Helper()
	builder, err := query.NewBuilder(config.QueryConfig{Total: 8, Primary: 4})
	require.NoError(t, err)
	ranker := rank.NewRanker(testRankConfig())
	return NewDiscoverer(searcher, validator, builder, ranker, config.ValidateConfig{MaxConcurrent: 3})
}

func testReference() *model.Reference {
	ref := &model.Reference{
		ID:      "ref-1",
		Title:   "Silent Spring",
		Authors: []string{"Carson, R."},
		Year:    1962,
	}
	ref.Relevance.SetGenerated("Documents pesticide bioaccumulation in food webs.", 1)
	return ref
}

func TestRunSelectsAccessibleOverBarriers(t *testing.T) {
	searcher := &mockSearcher{results: map[string][]search.Result{
		"pdf": {
			{Title: "Silent Spring full text", Link: "https://archive.org/details/silentspring", Snippet: "pesticide bioaccumulation"},
			{Title: "Silent Spring | Publisher", Link: "https://publisher.example/silent-spring", Snippet: "subscribe to continue"},
			{Title: "Not found", Link: "https://dead.example/old-page", Snippet: ""},
		},
	}}
	validator := &mockValidator{byURL: map[string]model.ValidationResult{
		"https://archive.org/details/silentspring": {Accessible: true, Score: 95, ContentMatches: true, Confidence: 0.9},
		"https://publisher.example/silent-spring":  {Score: 50, Barrier: model.BarrierPaywall, Confidence: 0.9},
		"https://dead.example/old-page":            {Score: 2, Barrier: model.BarrierSoft404, Confidence: 0.95},
	}}
	d := newTestDiscoverer(t, searcher, validator)

	round, err := d.Run(context.Background(), testReference(), query.StrategyCanonical)
	require.NoError(t, err)
	assert.False(t, round.ManualReview)
	assert.Equal(t, "https://archive.org/details/silentspring", round.URLs.Primary.URL)
	assert.Equal(t, "accessible", round.URLs.Primary.ValidationStatus)
	require.NotNil(t, round.URLs.Primary.ValidatedAt)
	// Paywalled and dead pages both sit under the secondary threshold.
	assert.Empty(t, round.URLs.Secondary.URL)
	assert.Len(t, round.Queries, 8)
}

func TestRunAllFetchFailuresFlagsManualReview(t *testing.T) {
	searcher := &mockSearcher{results: map[string][]search.Result{
		"pdf": {
			{Title: "gone", Link: "https://a.example/x"},
			{Title: "also gone", Link: "https://b.example/y"},
		},
	}}
	d := newTestDiscoverer(t, searcher, &mockValidator{})

	round, err := d.Run(context.Background(), testReference(), query.StrategyCanonical)
	require.NoError(t, err)
	assert.True(t, round.ManualReview)
	assert.Equal(t, "all candidates failed to fetch", round.Reason)
	assert.Empty(t, round.URLs.Primary.URL)
}

func TestRunNoResultsFlagsManualReview(t *testing.T) {
	d := newTestDiscoverer(t, &mockSearcher{}, &mockValidator{})

	round, err := d.Run(context.Background(), testReference(), query.StrategyCanonical)
	require.NoError(t, err)
	assert.True(t, round.ManualReview)
	assert.Equal(t, "no candidates discovered", round.Reason)
}

func TestGatherDeduplicatesAcrossQueries(t *testing.T) {
	dup := search.Result{Title: "same", Link: "https://x.example/doc?utm_source=feed"}
	searcher := &mockSearcher{results: map[string][]search.Result{
		"pdf":    {dup, {Title: "other", Link: "https://y.example/doc"}},
		"review": {{Title: "same again", Link: "https://x.example/doc"}},
	}}
	d := newTestDiscoverer(t, searcher, &mockValidator{})

	builder, err := query.NewBuilder(config.QueryConfig{Total: 8, Primary: 4})
	require.NoError(t, err)
	queries := builder.Build(testReference(), query.StrategyCanonical)

	candidates, err := d.gather(context.Background(), queries)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, 0, candidates[0].Rank)
	assert.Equal(t, 1, candidates[1].Rank)
}

func TestRunEverySearchFailing(t *testing.T) {
	d := newTestDiscoverer(t, &mockSearcher{err: assert.AnError}, &mockValidator{})

	_, err := d.Run(context.Background(), testReference(), query.StrategyCanonical)
	require.Error(t, err)
}

func TestDiscoverURLsImplementsCoordinatorContract(t *testing.T) {
	searcher := &mockSearcher{results: map[string][]search.Result{
		"pdf": {{Title: "Silent Spring", Link: "https://archive.org/details/silentspring"}},
	}}
	validator := &mockValidator{byURL: map[string]model.ValidationResult{
		"https://archive.org/details/silentspring": {Accessible: true, Score: 92, ContentMatches: true},
	}}
	d := newTestDiscoverer(t, searcher, validator)

	set, review, err := d.DiscoverURLs(context.Background(), testReference())
	require.NoError(t, err)
	assert.False(t, review)
	assert.Equal(t, "https://archive.org/details/silentspring", set.Primary.URL)
}

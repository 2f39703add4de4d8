package cascade

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refcanvas/refcanvas-cli/internal/model"
	"github.com/refcanvas/refcanvas-cli/internal/store"
)

type mockRelevanceGenerator struct {
	mu    sync.Mutex
	text  string
	meta  *model.GenerationMeta
	err   error
	calls int
}

func (m *mockRelevanceGenerator) GenerateRelevance(_ context.Context, _ *model.Reference) (string, *model.GenerationMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.text, m.meta, m.err
}

type mockURLDiscoverer struct {
	mu     sync.Mutex
	set    model.URLSet
	review bool
	err    error
	calls  int
}

func (m *mockURLDiscoverer) DiscoverURLs(_ context.Context, _ *model.Reference) (model.URLSet, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.set, m.review, m.err
}

func newTestCoordinator(t *testing.T) (*Coordinator, store.Store, *mockRelevanceGenerator, *mockURLDiscoverer) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	gen := &mockRelevanceGenerator{text: "regenerated relevance"}
	disc := &mockURLDiscoverer{set: model.URLSet{
		Primary: model.URLSlot{URL: "https://example.org/paper.pdf", Score: 92},
	}}
	return NewCoordinator(st, gen, disc), st, gen, disc
}

func seedRef(t *testing.T, st store.Store) *model.Reference {
	t.Helper()
	ref := &model.Reference{Title: "On Computable Numbers", Authors: []string{"Turing, A."}, Year: 1936}
	ref.Context.SetGenerated("Cited for the halting argument.", 1)
	ref.Relevance.SetGenerated("Establishes the undecidability result.", 1)
	require.NoError(t, st.CreateReference(context.Background(), ref))
	return ref
}

func TestContextEditCascadesThroughApproval(t *testing.T) {
	c, st, gen, disc := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("Cited in the new section 3."), true)
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Equal(t, model.LevelRelevance, res.Pending.Level)
	assert.Equal(t, model.TriggerCascadeFromContext, res.Pending.Trigger)
	assert.Equal(t, "regenerated relevance", res.Pending.Proposal.Text)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 0, disc.calls)

	// Context committed as override before the gate.
	got, err := st.GetReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cited in the new section 3.", got.Context.Value)
	assert.True(t, got.Context.Overridden)
	assert.Equal(t, "Establishes the undecidability result.", got.Relevance.Value)

	// Approve relevance: commits and proposes urls.
	res, err = c.Resume(ctx, res.Pending.Handle, model.DecisionApproved, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Equal(t, model.LevelURLs, res.Pending.Level)
	assert.Equal(t, model.TriggerCascadeFromRelevance, res.Pending.Trigger)
	assert.Equal(t, 1, disc.calls)

	got, err = st.GetReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "regenerated relevance", got.Relevance.Value)
	assert.Equal(t, model.SourceGenerated, got.Relevance.Source)

	// Approve urls: chain ends.
	res, err = c.Resume(ctx, res.Pending.Handle, model.DecisionApproved, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Pending)

	got, err = st.GetReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/paper.pdf", got.URLs.URLs.Primary.URL)

	changes, err := st.ListChanges(ctx, ref.ID)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, model.TriggerUserEdit, changes[0].Trigger)
	assert.Equal(t, model.TriggerCascadeFromContext, changes[1].Trigger)
	assert.Equal(t, model.DecisionApproved, changes[1].Decision)
	assert.Equal(t, model.TriggerCascadeFromRelevance, changes[2].Trigger)
}

func TestRejectStopsCascade(t *testing.T) {
	c, st, _, disc := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("new context"), true)
	require.NoError(t, err)
	require.NotNil(t, res.Pending)

	res, err = c.Resume(ctx, res.Pending.Handle, model.DecisionRejected, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Pending)
	assert.Equal(t, 0, disc.calls)

	got, err := st.GetReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "Establishes the undecidability result.", got.Relevance.Value)

	changes, err := st.ListChanges(ctx, ref.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, model.DecisionRejected, changes[1].Decision)
	assert.Equal(t, "regenerated relevance", changes[1].NewValue)
}

func TestModifyRetainsProposalAndCascades(t *testing.T) {
	c, st, _, disc := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("new context"), true)
	require.NoError(t, err)
	require.NotNil(t, res.Pending)

	adjusted := TextValue("the proposal, tightened up by hand")
	res, err = c.Resume(ctx, res.Pending.Handle, model.DecisionModified, &adjusted)
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Equal(t, model.LevelURLs, res.Pending.Level)
	assert.Equal(t, 1, disc.calls)

	got, err := st.GetReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "the proposal, tightened up by hand", got.Relevance.Value)
	assert.True(t, got.Relevance.Overridden)
	require.NotNil(t, got.Relevance.PriorValue)
	assert.Equal(t, "regenerated relevance", *got.Relevance.PriorValue)

	changes, err := st.ListChanges(ctx, ref.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, model.DecisionModified, changes[1].Decision)
	assert.Equal(t, "the proposal, tightened up by hand", changes[1].NewValue)
}

func TestModifyRequiresValue(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("new context"), true)
	require.NoError(t, err)

	_, err = c.Resume(ctx, res.Pending.Handle, model.DecisionModified, nil)
	require.Error(t, err)

	// The pending decision survives the failed resume.
	_, ok := c.PendingFor(ref.ID)
	assert.True(t, ok)
}

func TestConflictWhilePending(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("first edit"), true)
	require.NoError(t, err)
	require.NotNil(t, res.Pending)

	_, err = c.RequestFieldUpdate(ctx, ref.ID, model.LevelRelevance, TextValue("second edit"), true)
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ref.ID, ce.ReferenceID)
	assert.Equal(t, res.Pending.Handle, ce.Handle)

	// Undo is blocked by the same gate.
	_, err = c.Undo(ctx, ref.ID, model.LevelContext)
	assert.True(t, IsConflict(err))
}

func TestAbandonLeavesIgnoredRecord(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("new context"), true)
	require.NoError(t, err)
	require.NoError(t, c.Abandon(ctx, res.Pending.Handle))

	got, err := st.GetReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "Establishes the undecidability result.", got.Relevance.Value)

	changes, err := st.ListChanges(ctx, ref.ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, model.DecisionIgnored, changes[1].Decision)

	// Reference is editable again.
	_, err = c.RequestFieldUpdate(ctx, ref.ID, model.LevelRelevance, TextValue("manual relevance"), true)
	require.NoError(t, err)
}

func TestResumeUnknownHandle(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)

	_, err := c.Resume(context.Background(), "no-such-handle", model.DecisionApproved, nil)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.Error(t, c.Abandon(context.Background(), "no-such-handle"))
}

func TestURLEditHasNoDownstream(t *testing.T) {
	c, st, gen, _ := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelURLs, URLValue(model.URLSet{
		Primary: model.URLSlot{URL: "https://example.org/manual"},
	}), true)
	require.NoError(t, err)
	assert.Nil(t, res.Pending)
	assert.Equal(t, 0, gen.calls)

	got, err := st.GetReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/manual", got.URLs.URLs.Primary.URL)
	assert.True(t, got.URLs.Overridden)
}

func TestValueKindMismatch(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ref := seedRef(t, st)

	_, err := c.RequestFieldUpdate(context.Background(), ref.ID, model.LevelURLs, TextValue("not a url set"), true)
	require.Error(t, err)

	_, err = c.RequestFieldUpdate(context.Background(), ref.ID, model.LevelContext, URLValue(model.URLSet{}), true)
	require.Error(t, err)
}

func TestFinalizedReferenceRejectsEdits(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)
	require.NoError(t, st.SetStatus(ctx, ref.ID, model.StatusFinalized))

	_, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("too late"), true)
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestDiscoveryManualReviewFlagsOnApprove(t *testing.T) {
	c, st, _, disc := newTestCoordinator(t)
	disc.review = true
	disc.set = model.URLSet{}
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelRelevance, TextValue("edited relevance"), true)
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.True(t, res.Pending.ManualReview)

	_, err = c.Resume(ctx, res.Pending.Handle, model.DecisionApproved, nil)
	require.NoError(t, err)

	got, err := st.GetReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.True(t, got.ManualReview)
}

func TestUndoRestoresPriorValue(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("override one"), true)
	require.NoError(t, err)
	require.NoError(t, c.Abandon(ctx, res.Pending.Handle))

	got, err := c.Undo(ctx, ref.ID, model.LevelContext)
	require.NoError(t, err)
	assert.Equal(t, "Cited for the halting argument.", got.Context.Value)
	assert.False(t, got.Context.Overridden)

	// Undo depth is one.
	_, err = c.Undo(ctx, ref.ID, model.LevelContext)
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestConcurrentEditsHoldSinglePendingInvariant(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext,
				TextValue(fmt.Sprintf("edit %d", i)), true)
			results[i] = err
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, IsConflict(err), "unexpected error: %v", err)
	}
	// Exactly one edit wins the gate; the rest fail fast.
	assert.Equal(t, 1, succeeded)

	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, ref.ID, pending[0].ReferenceID)
}

// blockingDiscoverer parks inside DiscoverURLs until released, to hold a
// resume mid-flight.
type blockingDiscoverer struct {
	entered chan struct{}
	release chan struct{}
	set     model.URLSet
}

func (d *blockingDiscoverer) DiscoverURLs(_ context.Context, _ *model.Reference) (model.URLSet, bool, error) {
	close(d.entered)
	<-d.release
	return d.set, false, nil
}

func TestResumeHoldsGateUntilComplete(t *testing.T) {
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	disc := &blockingDiscoverer{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		set:     model.URLSet{Primary: model.URLSlot{URL: "https://example.org/paper.pdf"}},
	}
	c := NewCoordinator(st, &mockRelevanceGenerator{text: "regenerated relevance"}, disc)
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("new context"), true)
	require.NoError(t, err)
	require.NotNil(t, res.Pending)

	type outcome struct {
		res *UpdateResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := c.Resume(ctx, res.Pending.Handle, model.DecisionApproved, nil)
		done <- outcome{r, err}
	}()
	<-disc.entered

	// The resume is still committing; edits and undo must fail fast.
	_, err = c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("interleaved"), true)
	assert.True(t, IsConflict(err), "edit during resume: %v", err)
	_, err = c.Undo(ctx, ref.ID, model.LevelContext)
	assert.True(t, IsConflict(err), "undo during resume: %v", err)

	close(disc.release)
	out := <-done
	require.NoError(t, out.err)
	require.NotNil(t, out.res.Pending)

	// One resolvable proposal, not two.
	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, out.res.Pending.Handle, pending[0].Handle)
}

func TestEditWithoutRegenerationStaysIdle(t *testing.T) {
	c, st, gen, _ := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("quiet edit"), false)
	require.NoError(t, err)
	assert.Nil(t, res.Pending)
	assert.Equal(t, 0, gen.calls)

	got, err := st.GetReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "quiet edit", got.Context.Value)

	// No proposal was parked; the reference takes the next edit.
	_, ok := c.PendingFor(ref.ID)
	assert.False(t, ok)
	_, err = c.RequestFieldUpdate(ctx, ref.ID, model.LevelRelevance, TextValue("follow-up"), false)
	require.NoError(t, err)
}

func TestAutoRegenerateCommitsDirectly(t *testing.T) {
	c, st, _, disc := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	got, review, err := c.AutoRegenerate(ctx, ref.ID, nil)
	require.NoError(t, err)
	assert.False(t, review)
	assert.Equal(t, 1, disc.calls)
	assert.Equal(t, "https://example.org/paper.pdf", got.URLs.URLs.Primary.URL)
	assert.Equal(t, model.SourceGenerated, got.URLs.Source)

	// No approval gate: nothing pending, one auto_regenerate record.
	_, ok := c.PendingFor(ref.ID)
	assert.False(t, ok)
	changes, err := st.ListChanges(ctx, ref.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, model.TriggerAutoRegenerate, changes[0].Trigger)
}

func TestAutoRegenerateRespectsGateAndStatus(t *testing.T) {
	c, st, _, disc := newTestCoordinator(t)
	ctx := context.Background()
	ref := seedRef(t, st)

	res, err := c.RequestFieldUpdate(ctx, ref.ID, model.LevelContext, TextValue("new context"), true)
	require.NoError(t, err)

	_, _, err = c.AutoRegenerate(ctx, ref.ID, nil)
	assert.True(t, IsConflict(err))
	assert.Equal(t, 0, disc.calls)

	require.NoError(t, c.Abandon(ctx, res.Pending.Handle))
	require.NoError(t, st.SetStatus(ctx, ref.ID, model.StatusFinalized))
	_, _, err = c.AutoRegenerate(ctx, ref.ID, nil)
	assert.ErrorIs(t, err, ErrFinalized)
}

func TestAutoRegenerateFlagsManualReview(t *testing.T) {
	c, st, _, disc := newTestCoordinator(t)
	disc.review = true
	disc.set = model.URLSet{}
	ctx := context.Background()
	ref := seedRef(t, st)

	got, review, err := c.AutoRegenerate(ctx, ref.ID, func(ctx context.Context, r *model.Reference) (model.URLSet, bool, error) {
		return disc.DiscoverURLs(ctx, r)
	})
	require.NoError(t, err)
	assert.True(t, review)
	assert.True(t, got.ManualReview)

	stored, err := st.GetReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.True(t, stored.ManualReview)
}

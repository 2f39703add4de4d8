package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelDownstream(t *testing.T) {
	next, ok := LevelContext.Downstream()
	require.True(t, ok)
	assert.Equal(t, LevelRelevance, next)

	next, ok = LevelRelevance.Downstream()
	require.True(t, ok)
	assert.Equal(t, LevelURLs, next)

	_, ok = LevelURLs.Downstream()
	assert.False(t, ok)
}

func TestLevelValid(t *testing.T) {
	assert.True(t, LevelContext.Valid())
	assert.True(t, LevelURLs.Valid())
	assert.False(t, Level("citation").Valid())
}

func TestTrackedFieldOverrideAndUndo(t *testing.T) {
	var f TrackedField
	f.SetGenerated("machine text", 3)
	assert.Equal(t, SourceGenerated, f.Source)
	assert.Equal(t, 3, f.GeneratedAtVersion)

	f.Override("human text")
	assert.Equal(t, "human text", f.Value)
	assert.Equal(t, SourceOverridden, f.Source)
	assert.True(t, f.Overridden)
	require.NotNil(t, f.PriorValue)
	assert.Equal(t, "machine text", *f.PriorValue)

	// A second override replaces the retained value: undo depth is one.
	f.Override("newer human text")
	require.NotNil(t, f.PriorValue)
	assert.Equal(t, "human text", *f.PriorValue)

	require.True(t, f.UndoOverride())
	assert.Equal(t, "human text", f.Value)
	assert.False(t, f.Overridden)
	assert.Nil(t, f.PriorValue)

	assert.False(t, f.UndoOverride())
}

func TestSetGeneratedClearsOverrideHistory(t *testing.T) {
	var f TrackedField
	f.SetGenerated("v1", 1)
	f.Override("edited")
	f.SetGenerated("v2", 5)

	assert.False(t, f.Overridden)
	assert.Nil(t, f.PriorValue)
	assert.Equal(t, 5, f.GeneratedAtVersion)
	assert.False(t, f.UndoOverride())
}

func TestURLFieldOverrideAndUndo(t *testing.T) {
	var f URLField
	generated := URLSet{Primary: URLSlot{URL: "https://a.example/x"}}
	f.SetGenerated(generated, 2)

	manual := URLSet{Primary: URLSlot{URL: "https://b.example/y", Source: SourceOverridden}}
	f.Override(manual)
	assert.Equal(t, "https://b.example/y", f.URLs.Primary.URL)
	require.NotNil(t, f.Prior)
	assert.Equal(t, "https://a.example/x", f.Prior.Primary.URL)

	require.True(t, f.UndoOverride())
	assert.Equal(t, "https://a.example/x", f.URLs.Primary.URL)
	assert.False(t, f.UndoOverride())
}

func TestCitationRendering(t *testing.T) {
	ref := &Reference{
		Title:       "Silent Spring",
		Authors:     []string{"Carson, R."},
		Year:        1962,
		Publication: "Houghton Mifflin",
	}
	assert.Equal(t, "Carson, R. (1962). Silent Spring. Houghton Mifflin.", ref.Citation())

	bare := &Reference{Title: "Anonymous pamphlet"}
	assert.Equal(t, "Anonymous pamphlet.", bare.Citation())

	multi := &Reference{Title: "Work", Authors: []string{"A, B.", "C, D."}, Year: 2001}
	assert.Equal(t, "A, B., C, D. (2001). Work.", multi.Citation())
}

func TestCanFinalize(t *testing.T) {
	ref := &Reference{}
	assert.False(t, ref.CanFinalize())

	ref.URLs.URLs.Primary.URL = "https://a.example/x"
	assert.False(t, ref.CanFinalize(), "primary present but never validated")

	now := time.Now()
	ref.URLs.URLs.Primary.ValidatedAt = &now
	assert.True(t, ref.CanFinalize())
}

func TestCascadeTriggerFor(t *testing.T) {
	assert.Equal(t, TriggerCascadeFromContext, CascadeTriggerFor(LevelContext))
	assert.Equal(t, TriggerCascadeFromRelevance, CascadeTriggerFor(LevelRelevance))
}

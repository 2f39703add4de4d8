package model

import (
	"fmt"
	"strings"
	"time"
)

// Level identifies one of the three dependent fields of a reference.
// Propagation order is context → relevance → urls.
type Level string

const (
	LevelContext   Level = "context"
	LevelRelevance Level = "relevance"
	LevelURLs      Level = "urls"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelContext, LevelRelevance, LevelURLs:
		return true
	}
	return false
}

// Downstream returns the next dependent level, if any.
func (l Level) Downstream() (Level, bool) {
	switch l {
	case LevelContext:
		return LevelRelevance, true
	case LevelRelevance:
		return LevelURLs, true
	}
	return "", false
}

// FieldSource records whether a field value came from a generator or a user.
type FieldSource string

const (
	SourceGenerated  FieldSource = "generated"
	SourceOverridden FieldSource = "overridden"
)

// Status is the reference lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
)

// TrackedField is a dependent field value with override history and the
// upstream version it was generated against.
type TrackedField struct {
	Value              string      `json:"value"`
	Source             FieldSource `json:"source"`
	Overridden         bool        `json:"overridden"`
	PriorValue         *string     `json:"prior_value,omitempty"`
	GeneratedAtVersion int         `json:"generated_at_version"`
}

// SetGenerated replaces the value with a generator output produced against
// the given upstream version.
func (f *TrackedField) SetGenerated(value string, upstreamVersion int) {
	f.Value = value
	f.Source = SourceGenerated
	f.Overridden = false
	f.PriorValue = nil
	f.GeneratedAtVersion = upstreamVersion
}

// Override replaces the value with a user-supplied one, retaining the
// replaced value for single-level undo. A second override overwrites the
// retained value.
func (f *TrackedField) Override(value string) {
	prior := f.Value
	f.PriorValue = &prior
	f.Value = value
	f.Source = SourceOverridden
	f.Overridden = true
}

// UndoOverride restores the retained prior value. Returns false when there
// is nothing to undo.
func (f *TrackedField) UndoOverride() bool {
	if f.PriorValue == nil {
		return false
	}
	f.Value = *f.PriorValue
	f.PriorValue = nil
	f.Overridden = false
	f.Source = SourceGenerated
	return true
}

// GenerationMeta carries token accounting for a generated relevance text.
type GenerationMeta struct {
	Model        string  `json:"model,omitempty"`
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// URLSlot is one selected source link with its last validation outcome.
type URLSlot struct {
	URL              string     `json:"url,omitempty"`
	Source           FieldSource `json:"source,omitempty"`
	ValidationStatus string     `json:"validation_status,omitempty"`
	Score            int        `json:"score,omitempty"`
	ValidatedAt      *time.Time `json:"validated_at,omitempty"`
}

// URLSet holds the primary/secondary/tertiary selection for a reference.
type URLSet struct {
	Primary   URLSlot `json:"primary"`
	Secondary URLSlot `json:"secondary"`
	Tertiary  URLSlot `json:"tertiary"`
}

// URLField is the urls dependent field: a URLSet with the same override
// history and version stamp the text fields carry.
type URLField struct {
	URLs               URLSet      `json:"urls"`
	Source             FieldSource `json:"source"`
	Overridden         bool        `json:"overridden"`
	Prior              *URLSet     `json:"prior,omitempty"`
	GeneratedAtVersion int         `json:"generated_at_version"`
}

// SetGenerated replaces the URL set with a discovery result produced
// against the given upstream version.
func (f *URLField) SetGenerated(urls URLSet, upstreamVersion int) {
	f.URLs = urls
	f.Source = SourceGenerated
	f.Overridden = false
	f.Prior = nil
	f.GeneratedAtVersion = upstreamVersion
}

// Override replaces the URL set with a user-supplied one, retaining the
// replaced set for single-level undo.
func (f *URLField) Override(urls URLSet) {
	prior := f.URLs
	f.Prior = &prior
	f.URLs = urls
	f.Source = SourceOverridden
	f.Overridden = true
}

// UndoOverride restores the retained prior URL set.
func (f *URLField) UndoOverride() bool {
	if f.Prior == nil {
		return false
	}
	f.URLs = *f.Prior
	f.Prior = nil
	f.Overridden = false
	f.Source = SourceGenerated
	return true
}

// Reference is one citation record under enrichment.
type Reference struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Authors     []string          `json:"authors,omitempty"`
	Year        int               `json:"year,omitempty"`
	Publication string            `json:"publication,omitempty"`
	Identifiers map[string]string `json:"identifiers,omitempty"`

	Context       TrackedField    `json:"context"`
	Relevance     TrackedField    `json:"relevance"`
	RelevanceMeta *GenerationMeta `json:"relevance_meta,omitempty"`
	URLs          URLField        `json:"urls"`

	Status       Status    `json:"status"`
	ManualReview bool      `json:"manual_review"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Expected is the bibliographic identity a fetched document is checked
// against during validation.
type Expected struct {
	Title   string
	Authors []string
	Year    int
}

// Expected returns the reference's identity for content verification.
func (r *Reference) Expected() Expected {
	return Expected{Title: r.Title, Authors: r.Authors, Year: r.Year}
}

// Citation renders the inline bibliographic text used by the decisions
// line format and by query building.
func (r *Reference) Citation() string {
	var b strings.Builder
	if len(r.Authors) > 0 {
		b.WriteString(strings.Join(r.Authors, ", "))
	}
	if r.Year > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "(%d)", r.Year)
	}
	if b.Len() > 0 {
		b.WriteString(". ")
	}
	b.WriteString(r.Title)
	b.WriteString(".")
	if r.Publication != "" {
		b.WriteString(" ")
		b.WriteString(r.Publication)
		b.WriteString(".")
	}
	return b.String()
}

// CanFinalize reports whether the finalization invariant holds: a non-empty
// primary URL that has been validated at least once.
func (r *Reference) CanFinalize() bool {
	p := r.URLs.URLs.Primary
	return p.URL != "" && p.ValidatedAt != nil
}

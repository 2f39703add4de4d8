// Package store persists references and the append-only change log.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/refcanvas/refcanvas-cli/internal/model"
)

// ErrNotFound is returned when a reference id does not exist.
var ErrNotFound = eris.New("store: reference not found")

// ReferenceFilter specifies criteria for listing references.
type ReferenceFilter struct {
	Status       model.Status `json:"status,omitempty"`
	ManualReview *bool        `json:"manual_review,omitempty"`
	Limit        int          `json:"limit,omitempty"`
	Offset       int          `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment core.
// UpdateField must be atomic per field; AppendChange is insert-only.
type Store interface {
	// References
	CreateReference(ctx context.Context, ref *model.Reference) error
	GetReference(ctx context.Context, id string) (*model.Reference, error)
	ListReferences(ctx context.Context, filter ReferenceFilter) ([]model.Reference, error)

	// Field commits. payload is the tracked field struct for the level
	// (model.TrackedField for context/relevance, model.URLField for urls).
	UpdateField(ctx context.Context, refID string, level model.Level, payload any, newVersion int) error
	SetRelevanceMeta(ctx context.Context, refID string, meta *model.GenerationMeta) error
	SetStatus(ctx context.Context, refID string, status model.Status) error
	SetManualReview(ctx context.Context, refID string, flagged bool) error

	// Change log (append-only)
	AppendChange(ctx context.Context, rec *model.ChangeRecord) error
	ListChanges(ctx context.Context, refID string) ([]model.ChangeRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// fieldColumn maps a level to its storage column. Levels are a closed set;
// anything else is a caller bug.
func fieldColumn(level model.Level) (string, error) {
	switch level {
	case model.LevelContext:
		return "context", nil
	case model.LevelRelevance:
		return "relevance", nil
	case model.LevelURLs:
		return "urls", nil
	}
	return "", eris.Errorf("store: unknown level %q", level)
}

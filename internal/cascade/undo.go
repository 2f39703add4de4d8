package cascade

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/refcanvas/refcanvas-cli/internal/model"
)

// Undo reverts the most recent override at a level, restoring the retained
// prior value. Undo depth is one: a second undo at the same level fails
// until another override happens.
func (c *Coordinator) Undo(ctx context.Context, refID string, level model.Level) (*model.Reference, error) {
	if !level.Valid() {
		return nil, eris.Errorf("cascade: invalid level %q", level)
	}
	if err := c.acquire(refID); err != nil {
		return nil, err
	}
	defer c.release(refID)

	ref, err := c.store.GetReference(ctx, refID)
	if err != nil {
		return nil, err
	}

	oldValue := encodeCurrent(ref, level)
	newVersion := ref.Version + 1

	var payload any
	switch level {
	case model.LevelContext:
		if !ref.Context.UndoOverride() {
			return nil, eris.Wrapf(ErrNothingToUndo, "cascade: undo %s %s", refID, level)
		}
		payload = ref.Context
	case model.LevelRelevance:
		if !ref.Relevance.UndoOverride() {
			return nil, eris.Wrapf(ErrNothingToUndo, "cascade: undo %s %s", refID, level)
		}
		payload = ref.Relevance
	case model.LevelURLs:
		if !ref.URLs.UndoOverride() {
			return nil, eris.Wrapf(ErrNothingToUndo, "cascade: undo %s %s", refID, level)
		}
		payload = ref.URLs
	}

	if err := c.store.UpdateField(ctx, refID, level, payload, newVersion); err != nil {
		return nil, err
	}
	ref.Version = newVersion

	if err := c.store.AppendChange(ctx, &model.ChangeRecord{
		ReferenceID: refID,
		Level:       level,
		Field:       string(level),
		OldValue:    oldValue,
		NewValue:    encodeCurrent(ref, level),
		Trigger:     model.TriggerUserEdit,
	}); err != nil {
		return nil, err
	}

	zap.L().Info("override undone",
		zap.String("reference_id", refID),
		zap.String("level", string(level)),
	)
	return ref, nil
}

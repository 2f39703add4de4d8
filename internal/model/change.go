package model

import "time"

// Trigger identifies what caused a field transition.
type Trigger string

const (
	TriggerUserEdit             Trigger = "user_edit"
	TriggerCascadeFromContext   Trigger = "cascade_from_context"
	TriggerCascadeFromRelevance Trigger = "cascade_from_relevance"
	TriggerAutoRegenerate       Trigger = "auto_regenerate"
)

// CascadeTriggerFor returns the cascade trigger for a proposal whose
// upstream is the given level.
func CascadeTriggerFor(upstream Level) Trigger {
	if upstream == LevelRelevance {
		return TriggerCascadeFromRelevance
	}
	return TriggerCascadeFromContext
}

// Decision records how a proposed downstream value was resolved.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionModified Decision = "modified"
	DecisionIgnored  Decision = "ignored"
)

// ChangeRecord is one append-only audit entry. Records are written only by
// the cascade coordinator's commit path and never edited.
type ChangeRecord struct {
	ID                 string    `json:"id"`
	ReferenceID        string    `json:"reference_id"`
	Level              Level     `json:"level"`
	Field              string    `json:"field"`
	OldValue           string    `json:"old_value"`
	NewValue           string    `json:"new_value"`
	Trigger            Trigger   `json:"trigger"`
	TriggerReferenceID string    `json:"trigger_reference_id,omitempty"`
	Decision           Decision  `json:"decision,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Package cascade coordinates dependent-field updates for references.
// The dependency chain is context → relevance → urls: committing an
// upstream edit regenerates the next field down as a proposal that waits
// for an explicit decision before it is written.
package cascade

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/refcanvas/refcanvas-cli/internal/model"
	"github.com/refcanvas/refcanvas-cli/internal/store"
)

// RelevanceGenerator produces a relevance statement from a reference's
// bibliographic fields and citation context.
type RelevanceGenerator interface {
	GenerateRelevance(ctx context.Context, ref *model.Reference) (string, *model.GenerationMeta, error)
}

// URLDiscoverer runs a discovery round and returns the proposed URL set.
// The boolean reports whether the round ended in manual review.
type URLDiscoverer interface {
	DiscoverURLs(ctx context.Context, ref *model.Reference) (model.URLSet, bool, error)
}

// Value is a proposed or user-supplied field value: text for context and
// relevance, a URL set for urls. Exactly one side is populated.
type Value struct {
	Text string        `json:"text,omitempty"`
	URLs *model.URLSet `json:"urls,omitempty"`
}

// TextValue wraps a string for the text levels.
func TextValue(s string) Value { return Value{Text: s} }

// URLValue wraps a URL set for the urls level.
func URLValue(u model.URLSet) Value { return Value{URLs: &u} }

// PendingDecision is an unresolved downstream proposal. At most one exists
// per reference at any time.
type PendingDecision struct {
	Handle       string                `json:"handle"`
	ReferenceID  string                `json:"reference_id"`
	Level        model.Level           `json:"level"`
	Proposal     Value                 `json:"proposal"`
	Meta         *model.GenerationMeta `json:"meta,omitempty"`
	ManualReview bool                  `json:"manual_review,omitempty"`
	Trigger      model.Trigger         `json:"trigger"`
	CreatedAt    time.Time             `json:"created_at"`
}

// UpdateResult reports a committed edit and, when the edit has a
// downstream dependent, the proposal now awaiting a decision.
type UpdateResult struct {
	Reference *model.Reference `json:"reference"`
	Pending   *PendingDecision `json:"pending,omitempty"`
}

// Coordinator serializes edits per reference and drives the propagation
// state machine.
type Coordinator struct {
	store     store.Store
	relevance RelevanceGenerator
	urls      URLDiscoverer

	mu              sync.Mutex
	inflight        map[string]bool
	pendingByRef    map[string]*PendingDecision
	pendingByHandle map[string]*PendingDecision
}

// NewCoordinator creates a Coordinator over the given store and generators.
func NewCoordinator(st store.Store, relevance RelevanceGenerator, urls URLDiscoverer) *Coordinator {
	return &Coordinator{
		store:           st,
		relevance:       relevance,
		urls:            urls,
		inflight:        make(map[string]bool),
		pendingByRef:    make(map[string]*PendingDecision),
		pendingByHandle: make(map[string]*PendingDecision),
	}
}

// acquire claims exclusive processing of a reference. It fails fast with a
// ConflictError when the reference is mid-update or has an unresolved
// proposal.
func (c *Coordinator) acquire(refID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pendingByRef[refID]; ok {
		return &ConflictError{ReferenceID: refID, Handle: p.Handle}
	}
	if c.inflight[refID] {
		return &ConflictError{ReferenceID: refID}
	}
	c.inflight[refID] = true
	return nil
}

func (c *Coordinator) release(refID string) {
	c.mu.Lock()
	delete(c.inflight, refID)
	c.mu.Unlock()
}

// RequestFieldUpdate commits a user edit at the given level. When
// autoRegenerate is set and a downstream dependent exists, it regenerates
// that field and parks the result as a pending decision; otherwise the
// reference returns to idle with the stale dependents untouched.
func (c *Coordinator) RequestFieldUpdate(ctx context.Context, refID string, level model.Level, value Value, autoRegenerate bool) (*UpdateResult, error) {
	if !level.Valid() {
		return nil, eris.Errorf("cascade: invalid level %q", level)
	}
	if err := checkValueKind(level, value); err != nil {
		return nil, err
	}
	if err := c.acquire(refID); err != nil {
		return nil, err
	}
	defer c.release(refID)

	ref, err := c.store.GetReference(ctx, refID)
	if err != nil {
		return nil, err
	}
	if ref.Status == model.StatusFinalized {
		return nil, eris.Wrapf(ErrFinalized, "cascade: edit %s", refID)
	}

	oldValue := encodeCurrent(ref, level)
	if err := c.commitOverride(ctx, ref, level, value); err != nil {
		return nil, err
	}
	if err := c.store.AppendChange(ctx, &model.ChangeRecord{
		ReferenceID: refID,
		Level:       level,
		Field:       string(level),
		OldValue:    oldValue,
		NewValue:    encodeValue(level, value),
		Trigger:     model.TriggerUserEdit,
	}); err != nil {
		return nil, err
	}

	zap.L().Info("field updated",
		zap.String("reference_id", refID),
		zap.String("level", string(level)),
	)

	if !autoRegenerate {
		return &UpdateResult{Reference: ref}, nil
	}
	pending, err := c.propose(ctx, ref, level)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Reference: ref, Pending: pending}, nil
}

// propose regenerates the level downstream of upstream, if any, and
// registers the result as the reference's pending decision.
func (c *Coordinator) propose(ctx context.Context, ref *model.Reference, upstream model.Level) (*PendingDecision, error) {
	downstream, ok := upstream.Downstream()
	if !ok {
		return nil, nil
	}

	p := &PendingDecision{
		Handle:      uuid.New().String(),
		ReferenceID: ref.ID,
		Level:       downstream,
		Trigger:     model.CascadeTriggerFor(upstream),
		CreatedAt:   time.Now().UTC(),
	}

	switch downstream {
	case model.LevelRelevance:
		text, meta, err := c.relevance.GenerateRelevance(ctx, ref)
		if err != nil {
			return nil, eris.Wrap(err, "cascade: regenerate relevance")
		}
		p.Proposal = TextValue(text)
		p.Meta = meta
	case model.LevelURLs:
		set, review, err := c.urls.DiscoverURLs(ctx, ref)
		if err != nil {
			return nil, eris.Wrap(err, "cascade: rediscover urls")
		}
		p.Proposal = URLValue(set)
		p.ManualReview = review
	}

	c.mu.Lock()
	c.pendingByRef[ref.ID] = p
	c.pendingByHandle[p.Handle] = p
	c.mu.Unlock()

	zap.L().Info("proposal pending",
		zap.String("reference_id", ref.ID),
		zap.String("level", string(p.Level)),
		zap.String("handle", p.Handle),
	)
	return p, nil
}

// Resume resolves a pending decision. Approve commits the proposal as
// generated; reject leaves the field untouched; modify commits the
// caller's value as an override retaining the proposal for undo. Approve
// and modify continue the cascade to the next dependent level.
func (c *Coordinator) Resume(ctx context.Context, handle string, decision model.Decision, modified *Value) (*UpdateResult, error) {
	p, err := c.takePending(handle)
	if err != nil {
		return nil, err
	}
	defer c.release(p.ReferenceID)
	restore := true
	defer func() {
		if restore {
			c.putPending(p)
		}
	}()

	ref, err := c.store.GetReference(ctx, p.ReferenceID)
	if err != nil {
		return nil, err
	}
	oldValue := encodeCurrent(ref, p.Level)

	rec := &model.ChangeRecord{
		ReferenceID: p.ReferenceID,
		Level:       p.Level,
		Field:       string(p.Level),
		OldValue:    oldValue,
		NewValue:    encodeValue(p.Level, p.Proposal),
		Trigger:     p.Trigger,
		Decision:    decision,
	}

	cascades := false
	switch decision {
	case model.DecisionApproved:
		if err := c.commitGenerated(ctx, ref, p); err != nil {
			return nil, err
		}
		if p.ManualReview {
			if err := c.store.SetManualReview(ctx, ref.ID, true); err != nil {
				return nil, err
			}
			ref.ManualReview = true
		}
		cascades = true
	case model.DecisionRejected:
		// Field untouched; the record preserves what was proposed.
	case model.DecisionModified:
		if modified == nil {
			return nil, eris.New("cascade: modify decision requires a value")
		}
		if err := checkValueKind(p.Level, *modified); err != nil {
			return nil, err
		}
		if err := c.commitModified(ctx, ref, p, *modified); err != nil {
			return nil, err
		}
		rec.NewValue = encodeValue(p.Level, *modified)
		cascades = true
	default:
		return nil, eris.Errorf("cascade: invalid decision %q", decision)
	}

	if err := c.store.AppendChange(ctx, rec); err != nil {
		return nil, err
	}
	restore = false

	zap.L().Info("decision resolved",
		zap.String("reference_id", p.ReferenceID),
		zap.String("level", string(p.Level)),
		zap.String("decision", string(decision)),
	)

	var next *PendingDecision
	if cascades {
		next, err = c.propose(ctx, ref, p.Level)
		if err != nil {
			return nil, err
		}
	}
	return &UpdateResult{Reference: ref, Pending: next}, nil
}

// Abandon discards a pending decision without touching the field, leaving
// an ignored record in the change log.
func (c *Coordinator) Abandon(ctx context.Context, handle string) error {
	p, err := c.takePending(handle)
	if err != nil {
		return err
	}
	defer c.release(p.ReferenceID)

	ref, err := c.store.GetReference(ctx, p.ReferenceID)
	if err != nil {
		c.putPending(p)
		return err
	}
	if err := c.store.AppendChange(ctx, &model.ChangeRecord{
		ReferenceID: p.ReferenceID,
		Level:       p.Level,
		Field:       string(p.Level),
		OldValue:    encodeCurrent(ref, p.Level),
		NewValue:    encodeValue(p.Level, p.Proposal),
		Trigger:     p.Trigger,
		Decision:    model.DecisionIgnored,
	}); err != nil {
		c.putPending(p)
		return err
	}

	zap.L().Info("proposal abandoned",
		zap.String("reference_id", p.ReferenceID),
		zap.String("handle", handle),
	)
	return nil
}

// DiscoverFunc runs a discovery round for a reference. It lets batch
// callers choose a query strategy while the commit still goes through the
// coordinator.
type DiscoverFunc func(ctx context.Context, ref *model.Reference) (model.URLSet, bool, error)

// AutoRegenerate rediscovers a reference's URLs and commits the result
// directly, without an approval gate. The whole round runs under the
// per-reference gate and the change record carries the auto_regenerate
// trigger. A nil discover falls back to the coordinator's URLDiscoverer.
// The returned boolean reports whether the round ended in manual review.
func (c *Coordinator) AutoRegenerate(ctx context.Context, refID string, discover DiscoverFunc) (*model.Reference, bool, error) {
	if err := c.acquire(refID); err != nil {
		return nil, false, err
	}
	defer c.release(refID)

	ref, err := c.store.GetReference(ctx, refID)
	if err != nil {
		return nil, false, err
	}
	if ref.Status == model.StatusFinalized {
		return nil, false, eris.Wrapf(ErrFinalized, "cascade: regenerate %s", refID)
	}

	if discover == nil {
		discover = c.urls.DiscoverURLs
	}
	set, review, err := discover(ctx, ref)
	if err != nil {
		return nil, false, eris.Wrap(err, "cascade: rediscover urls")
	}

	oldValue := encodeCurrent(ref, model.LevelURLs)
	newVersion := ref.Version + 1
	ref.URLs.SetGenerated(set, ref.Version)
	if err := c.store.UpdateField(ctx, ref.ID, model.LevelURLs, ref.URLs, newVersion); err != nil {
		return nil, false, err
	}
	ref.Version = newVersion

	if err := c.store.AppendChange(ctx, &model.ChangeRecord{
		ReferenceID: refID,
		Level:       model.LevelURLs,
		Field:       string(model.LevelURLs),
		OldValue:    oldValue,
		NewValue:    encodeURLSet(set),
		Trigger:     model.TriggerAutoRegenerate,
	}); err != nil {
		return nil, false, err
	}

	if review {
		if err := c.store.SetManualReview(ctx, refID, true); err != nil {
			return nil, false, err
		}
		ref.ManualReview = true
	}

	zap.L().Info("urls regenerated",
		zap.String("reference_id", refID),
		zap.Bool("manual_review", review),
	)
	return ref, review, nil
}

// Pending returns all unresolved proposals, ordered by creation time.
func (c *Coordinator) Pending() []PendingDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingDecision, 0, len(c.pendingByRef))
	for _, p := range c.pendingByRef {
		out = append(out, *p)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.Before(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// PendingFor returns the reference's unresolved proposal, if any.
func (c *Coordinator) PendingFor(refID string) (PendingDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pendingByRef[refID]; ok {
		return *p, true
	}
	return PendingDecision{}, false
}

// takePending claims a pending decision for resolution. The reference is
// marked inflight so edits stay excluded until the caller releases it;
// otherwise the window between removing the pending entry and finishing
// the commit would admit a concurrent update.
func (c *Coordinator) takePending(handle string) (*PendingDecision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pendingByHandle[handle]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownHandle, "cascade: resume %s", handle)
	}
	delete(c.pendingByHandle, handle)
	delete(c.pendingByRef, p.ReferenceID)
	c.inflight[p.ReferenceID] = true
	return p, nil
}

func (c *Coordinator) putPending(p *PendingDecision) {
	c.mu.Lock()
	c.pendingByHandle[p.Handle] = p
	c.pendingByRef[p.ReferenceID] = p
	c.mu.Unlock()
}

// commitOverride writes a user edit into the level's field.
func (c *Coordinator) commitOverride(ctx context.Context, ref *model.Reference, level model.Level, value Value) error {
	newVersion := ref.Version + 1
	var payload any
	switch level {
	case model.LevelContext:
		ref.Context.Override(value.Text)
		payload = ref.Context
	case model.LevelRelevance:
		ref.Relevance.Override(value.Text)
		payload = ref.Relevance
	case model.LevelURLs:
		ref.URLs.Override(*value.URLs)
		payload = ref.URLs
	}
	if err := c.store.UpdateField(ctx, ref.ID, level, payload, newVersion); err != nil {
		return err
	}
	ref.Version = newVersion
	return nil
}

// commitGenerated writes an approved proposal as a generated value.
func (c *Coordinator) commitGenerated(ctx context.Context, ref *model.Reference, p *PendingDecision) error {
	newVersion := ref.Version + 1
	var payload any
	switch p.Level {
	case model.LevelRelevance:
		ref.Relevance.SetGenerated(p.Proposal.Text, ref.Version)
		payload = ref.Relevance
	case model.LevelURLs:
		ref.URLs.SetGenerated(*p.Proposal.URLs, ref.Version)
		payload = ref.URLs
	}
	if err := c.store.UpdateField(ctx, ref.ID, p.Level, payload, newVersion); err != nil {
		return err
	}
	ref.Version = newVersion
	if p.Level == model.LevelRelevance && p.Meta != nil {
		if err := c.store.SetRelevanceMeta(ctx, ref.ID, p.Meta); err != nil {
			return err
		}
		ref.RelevanceMeta = p.Meta
	}
	return nil
}

// commitModified writes a user-adjusted proposal as an override, retaining
// the unmodified proposal for undo.
func (c *Coordinator) commitModified(ctx context.Context, ref *model.Reference, p *PendingDecision, value Value) error {
	newVersion := ref.Version + 1
	var payload any
	switch p.Level {
	case model.LevelRelevance:
		proposed := p.Proposal.Text
		ref.Relevance.Value = value.Text
		ref.Relevance.Source = model.SourceOverridden
		ref.Relevance.Overridden = true
		ref.Relevance.PriorValue = &proposed
		payload = ref.Relevance
	case model.LevelURLs:
		proposed := *p.Proposal.URLs
		ref.URLs.URLs = *value.URLs
		ref.URLs.Source = model.SourceOverridden
		ref.URLs.Overridden = true
		ref.URLs.Prior = &proposed
		payload = ref.URLs
	}
	if err := c.store.UpdateField(ctx, ref.ID, p.Level, payload, newVersion); err != nil {
		return err
	}
	ref.Version = newVersion
	return nil
}

func checkValueKind(level model.Level, v Value) error {
	if level == model.LevelURLs {
		if v.URLs == nil {
			return eris.Errorf("cascade: level %s requires a url set", level)
		}
		return nil
	}
	if v.URLs != nil {
		return eris.Errorf("cascade: level %s takes text, not urls", level)
	}
	return nil
}

// encodeCurrent renders the reference's current value at a level for the
// change log.
func encodeCurrent(ref *model.Reference, level model.Level) string {
	switch level {
	case model.LevelContext:
		return ref.Context.Value
	case model.LevelRelevance:
		return ref.Relevance.Value
	case model.LevelURLs:
		return encodeURLSet(ref.URLs.URLs)
	}
	return ""
}

// encodeValue renders a Value for the change log.
func encodeValue(level model.Level, v Value) string {
	if level == model.LevelURLs && v.URLs != nil {
		return encodeURLSet(*v.URLs)
	}
	return v.Text
}

func encodeURLSet(set model.URLSet) string {
	data, err := json.Marshal(set)
	if err != nil {
		return ""
	}
	return string(data)
}

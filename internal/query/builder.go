// Package query turns bibliographic fields and relevance-text keywords
// into a fixed-size set of search-intent strings.
package query

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/refcanvas/refcanvas-cli/internal/config"
	"github.com/refcanvas/refcanvas-cli/internal/model"
)

// Intent tags what a query is hunting for.
type Intent string

const (
	// IntentPrimary biases toward the canonical full-text source.
	IntentPrimary Intent = "primary"
	// IntentSecondary biases toward discussion and review material.
	IntentSecondary Intent = "secondary"
)

// Strategy identifies the phrasing strategy a query came from, tracked so
// downstream analysis can tell which strategies keep failing validation.
type Strategy string

const (
	// StrategyCanonical is the default citation-driven phrasing.
	StrategyCanonical Strategy = "canonical-v1"
	// StrategyKeyword is the fallback phrasing built from relevance-text
	// keywords, used when canonical results consistently fail validation.
	StrategyKeyword Strategy = "keyword-v1"
)

// Query is one search-intent string.
type Query struct {
	Text     string   `json:"text"`
	Intent   Intent   `json:"intent"`
	Strategy Strategy `json:"strategy"`
}

// Builder produces exactly Total queries split across primary- and
// secondary-intent allocations.
type Builder struct {
	cfg config.QueryConfig
}

// NewBuilder validates the allocation and returns a Builder. Any split
// summing to Total is valid.
func NewBuilder(cfg config.QueryConfig) (*Builder, error) {
	if cfg.Total <= 0 {
		return nil, eris.Errorf("query: total must be positive, got %d", cfg.Total)
	}
	if cfg.Primary < 0 || cfg.Primary > cfg.Total {
		return nil, eris.Errorf("query: primary allocation %d out of range for total %d", cfg.Primary, cfg.Total)
	}
	return &Builder{cfg: cfg}, nil
}

// Build emits exactly cfg.Total queries for the reference: cfg.Primary
// primary-intent, the rest secondary-intent.
func (b *Builder) Build(ref *model.Reference, strategy Strategy) []Query {
	var primaries, secondaries []string
	switch strategy {
	case StrategyKeyword:
		primaries = keywordPrimaries(ref)
		secondaries = keywordSecondaries(ref)
	default:
		strategy = StrategyCanonical
		primaries = canonicalPrimaries(ref)
		secondaries = canonicalSecondaries(ref)
	}

	out := make([]Query, 0, b.cfg.Total)
	for i := 0; i < b.cfg.Primary; i++ {
		out = append(out, Query{
			Text:     primaries[i%len(primaries)],
			Intent:   IntentPrimary,
			Strategy: strategy,
		})
	}
	for i := 0; len(out) < b.cfg.Total; i++ {
		out = append(out, Query{
			Text:     secondaries[i%len(secondaries)],
			Intent:   IntentSecondary,
			Strategy: strategy,
		})
	}
	return out
}

func firstAuthor(ref *model.Reference) string {
	if len(ref.Authors) == 0 {
		return ""
	}
	return ref.Authors[0]
}

func canonicalPrimaries(ref *model.Reference) []string {
	author := firstAuthor(ref)
	qs := []string{
		strings.TrimSpace(fmt.Sprintf("%s %d %s pdf", author, ref.Year, ref.Title)),
		strings.TrimSpace(fmt.Sprintf("%s %d %s full text", author, ref.Year, ref.Title)),
		strings.TrimSpace(fmt.Sprintf("%q %s", ref.Title, author)),
		strings.TrimSpace(fmt.Sprintf("%q archive.org", ref.Title)),
	}
	if doi := ref.Identifiers["doi"]; doi != "" {
		qs = append([]string{doi}, qs...)
	}
	return qs
}

func canonicalSecondaries(ref *model.Reference) []string {
	author := firstAuthor(ref)
	return []string{
		strings.TrimSpace(fmt.Sprintf("%s %d review", author, ref.Year)),
		strings.TrimSpace(fmt.Sprintf("%q scholarly analysis", ref.Title)),
		strings.TrimSpace(fmt.Sprintf("%s %s discussion", author, ref.Title)),
		strings.TrimSpace(fmt.Sprintf("%q summary critique", ref.Title)),
	}
}

func keywordPrimaries(ref *model.Reference) []string {
	kw := strings.Join(relevanceKeywords(ref, 4), " ")
	author := firstAuthor(ref)
	return []string{
		strings.TrimSpace(fmt.Sprintf("%s %s pdf", author, kw)),
		strings.TrimSpace(fmt.Sprintf("%s %s %d", kw, author, ref.Year)),
		strings.TrimSpace(fmt.Sprintf("%q %s", ref.Title, kw)),
		strings.TrimSpace(fmt.Sprintf("%s %s full text", ref.Title, kw)),
	}
}

func keywordSecondaries(ref *model.Reference) []string {
	kw := strings.Join(relevanceKeywords(ref, 4), " ")
	return []string{
		strings.TrimSpace(fmt.Sprintf("%s review", kw)),
		strings.TrimSpace(fmt.Sprintf("%s %s commentary", firstAuthor(ref), kw)),
		strings.TrimSpace(fmt.Sprintf("%s analysis", kw)),
		strings.TrimSpace(fmt.Sprintf("%q %s", ref.Title, "response")),
	}
}

var queryStop = map[string]bool{
	"the": true, "and": true, "of": true, "in": true, "a": true, "an": true,
	"to": true, "for": true, "on": true, "with": true, "by": true,
	"this": true, "that": true, "from": true, "which": true, "into": true,
}

// relevanceKeywords pulls up to n significant terms from the reference's
// relevance text, falling back to title terms when relevance is empty.
func relevanceKeywords(ref *model.Reference, n int) []string {
	src := ref.Relevance.Value
	if src == "" {
		src = ref.Title
	}
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(src)) {
		w = strings.Trim(w, `.,;:"'()[]{}!?`)
		if len(w) <= 3 || queryStop[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == n {
			break
		}
	}
	return out
}

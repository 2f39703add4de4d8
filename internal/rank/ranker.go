package rank

import (
	"strings"

	"go.uber.org/zap"

	"github.com/refcanvas/refcanvas-cli/internal/config"
	"github.com/refcanvas/refcanvas-cli/internal/model"
)

// Outcome is the result of ranking one reference's candidate set.
type Outcome struct {
	Primary   *model.URLCandidate
	Secondary *model.URLCandidate
	Tertiary  *model.URLCandidate
	// ManualReview is set when no candidate clears the primary threshold,
	// or when every candidate failed to fetch. Reported, never thrown.
	ManualReview bool
	Reason       string
	// Candidates is the deduplicated set with composite scores and
	// selections filled in, kept as a per-round audit artifact.
	Candidates []model.URLCandidate
}

// Ranker deduplicates, scores, and selects validated candidates.
type Ranker struct {
	cfg config.RankConfig
}

// NewRanker creates a Ranker with the given thresholds.
func NewRanker(cfg config.RankConfig) *Ranker {
	return &Ranker{cfg: cfg}
}

// Rank selects primary/secondary/tertiary from validated candidates.
// relevanceText feeds the keyword-overlap bonus.
func (r *Ranker) Rank(candidates []model.URLCandidate, relevanceText string) Outcome {
	deduped := r.dedupe(candidates)

	usable := make([]int, 0, len(deduped))
	failed := 0
	for i := range deduped {
		c := &deduped[i]
		if c.Validation == nil || c.Validation.FetchFailed {
			failed++
			c.SelectedAs = model.SelectedRejected
			continue
		}
		c.Composite = r.composite(c, relevanceText)
		usable = append(usable, i)
	}

	if len(usable) == 0 {
		reason := "no candidates discovered"
		if failed > 0 {
			reason = "all candidates failed to fetch"
		}
		return Outcome{ManualReview: true, Reason: reason, Candidates: deduped}
	}

	// Highest composite first; discovery rank breaks ties.
	for i := 0; i < len(usable); i++ {
		for j := i + 1; j < len(usable); j++ {
			a, b := &deduped[usable[i]], &deduped[usable[j]]
			if b.Composite > a.Composite ||
				(b.Composite == a.Composite && b.Rank < a.Rank) {
				usable[i], usable[j] = usable[j], usable[i]
			}
		}
	}

	out := Outcome{Candidates: deduped}
	top := &deduped[usable[0]]
	if top.Composite < r.cfg.PrimaryThreshold {
		out.ManualReview = true
		out.Reason = "no candidate cleared the primary threshold"
		for _, i := range usable {
			deduped[i].SelectedAs = model.SelectedRejected
		}
		zap.L().Info("ranking complete: manual review",
			zap.Int("candidates", len(deduped)),
			zap.Int("best_composite", top.Composite),
			zap.Int("primary_threshold", r.cfg.PrimaryThreshold),
		)
		return out
	}

	top.SelectedAs = model.SelectedPrimary
	out.Primary = top

	for _, i := range usable[1:] {
		c := &deduped[i]
		if c.Composite < r.cfg.SecondaryThreshold {
			c.SelectedAs = model.SelectedRejected
			continue
		}
		switch {
		case out.Secondary == nil:
			c.SelectedAs = model.SelectedSecondary
			out.Secondary = c
		case out.Tertiary == nil:
			c.SelectedAs = model.SelectedTertiary
			out.Tertiary = c
		default:
			c.SelectedAs = model.SelectedRejected
		}
	}

	zap.L().Info("ranking complete",
		zap.Int("candidates", len(deduped)),
		zap.String("primary", out.Primary.URL),
		zap.Int("primary_composite", out.Primary.Composite),
		zap.Bool("has_secondary", out.Secondary != nil),
	)
	return out
}

// dedupe collapses candidates sharing a normalized URL, keeping the
// earliest discovery rank.
func (r *Ranker) dedupe(candidates []model.URLCandidate) []model.URLCandidate {
	seen := make(map[string]int)
	var out []model.URLCandidate
	for _, c := range candidates {
		if c.NormalizedURL == "" {
			c.NormalizedURL = Normalize(c.URL)
		}
		if i, ok := seen[c.NormalizedURL]; ok {
			if c.Rank < out[i].Rank {
				out[i].Rank = c.Rank
			}
			continue
		}
		seen[c.NormalizedURL] = len(out)
		out = append(out, c)
	}
	return out
}

// composite combines the validation score with a source-format bonus and a
// relevance-keyword overlap bonus, clamped to 100.
func (r *Ranker) composite(c *model.URLCandidate, relevanceText string) int {
	score := c.Validation.Score
	score += r.formatBonus(c.URL)
	score += r.keywordBonus(c, relevanceText)
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// formatBonus rewards direct document links over profile/listing pages at
// equal validation score.
func (r *Ranker) formatBonus(rawURL string) int {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.HasSuffix(lower, ".pdf"),
		strings.Contains(lower, "/pdf/"),
		strings.Contains(lower, "/fulltext"),
		strings.Contains(lower, "/article/"),
		strings.Contains(lower, "doi.org/"),
		strings.Contains(lower, "archive.org/details/"):
		return r.cfg.FormatBonus
	case strings.Contains(lower, "/search?"),
		strings.Contains(lower, "/profile/"),
		strings.Contains(lower, "/author/"),
		strings.Contains(lower, "/catalog?"):
		return -r.cfg.FormatBonus / 2
	}
	return 0
}

// keywordBonus grants up to KeywordBonusMax for relevance-text terms found
// in the candidate's title and snippet.
func (r *Ranker) keywordBonus(c *model.URLCandidate, relevanceText string) int {
	if relevanceText == "" || r.cfg.KeywordBonusMax == 0 {
		return 0
	}
	haystack := strings.ToLower(c.Title + " " + c.Snippet)
	terms := keywordTerms(relevanceText)
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			hits++
		}
	}
	bonus := hits * r.cfg.KeywordBonusMax / len(terms)
	if bonus > r.cfg.KeywordBonusMax {
		bonus = r.cfg.KeywordBonusMax
	}
	return bonus
}

var keywordStop = map[string]bool{
	"the": true, "and": true, "of": true, "in": true, "a": true, "an": true,
	"to": true, "for": true, "on": true, "with": true, "by": true,
	"this": true, "that": true, "from": true, "as": true, "its": true,
}

// keywordTerms extracts up to ten significant lowercase terms.
func keywordTerms(text string) []string {
	var terms []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, `.,;:"'()[]{}!?`)
		if len(w) <= 3 || keywordStop[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) == 10 {
			break
		}
	}
	return terms
}

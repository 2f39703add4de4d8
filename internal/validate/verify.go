package validate

import (
	"context"
	"strings"

	"github.com/refcanvas/refcanvas-cli/internal/model"
)

// Verifier checks whether retrieved text is the expected work. The
// completion-service verifier implements this; LexicalVerifier is the
// deterministic fallback.
type Verifier interface {
	VerifyMatch(ctx context.Context, expected model.Expected, text string) (float64, error)
}

var stopWords = map[string]bool{
	"the": true, "and": true, "of": true, "in": true, "a": true,
	"an": true, "to": true, "for": true, "on": true, "with": true,
	"by": true, "from": true, "this": true, "that": true,
}

// LexicalVerifier scores identity by weighted term overlap: title terms
// count 60%, author surname presence 40%.
type LexicalVerifier struct{}

// VerifyMatch never fails; it always produces a confidence in [0,1].
func (LexicalVerifier) VerifyMatch(_ context.Context, expected model.Expected, text string) (float64, error) {
	folded := Fold(text)

	titleTerms := significantTerms(expected.Title)
	titleHits := 0
	for _, t := range titleTerms {
		if strings.Contains(folded, t) {
			titleHits++
		}
	}
	titleFrac := 0.0
	if len(titleTerms) > 0 {
		titleFrac = float64(titleHits) / float64(len(titleTerms))
	}

	surnames := surnamesOf(expected.Authors)
	authorHits := 0
	for _, s := range surnames {
		if strings.Contains(folded, s) {
			authorHits++
		}
	}
	authorFrac := 0.0
	if len(surnames) > 0 {
		authorFrac = float64(authorHits) / float64(len(surnames))
	} else {
		// No author data: weight shifts entirely to the title.
		return titleFrac, nil
	}

	return 0.6*titleFrac + 0.4*authorFrac, nil
}

// significantTerms splits a title into folded terms longer than three
// characters, minus stop words.
func significantTerms(title string) []string {
	var terms []string
	for _, w := range strings.Fields(Fold(title)) {
		w = strings.Trim(w, `.,;:"'()[]{}!?`)
		if len(w) > 3 && !stopWords[w] {
			terms = append(terms, w)
		}
	}
	return terms
}

// surnamesOf extracts folded author surnames. "J. R. McNeill" and
// "McNeill, J. R." both yield "mcneill".
func surnamesOf(authors []string) []string {
	var out []string
	for _, a := range authors {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if i := strings.Index(a, ","); i >= 0 {
			a = a[:i]
		}
		fields := strings.Fields(a)
		if len(fields) == 0 {
			continue
		}
		surname := Fold(fields[len(fields)-1])
		if len(surname) > 1 {
			out = append(out, surname)
		}
	}
	return out
}

package validate

import (
	"regexp"

	"github.com/refcanvas/refcanvas-cli/internal/model"
)

// rule is one barrier detection pattern. Specificity feeds the result
// confidence: a literal "paywall" mention is more specific than a generic
// subscription prompt.
type rule struct {
	re          *regexp.Regexp
	name        string
	specificity float64
}

// Classifier is one barrier kind with its pattern set. Classifiers are
// data: adding a barrier type means adding an entry to Classifiers, not a
// code branch.
type Classifier struct {
	Kind  model.Barrier
	Rules []rule
}

// Classifiers returns the ordered classifier table. Evaluation order
// encodes precedence: soft-404 beats paywall beats login beats preview,
// and any match short-circuits accessible scoring.
func Classifiers() []Classifier {
	return barrierTable
}

var barrierTable = []Classifier{
	{
		Kind: model.BarrierSoft404,
		Rules: []rule{
			{re: regexp.MustCompile(`(?i)404.*not\s*found|not\s*found.*404`), name: "404 not found", specificity: 0.95},
			{re: regexp.MustCompile(`(?i)<title>[^<]*(404|not\s*found|error)[^<]*</title>`), name: "error in title", specificity: 0.9},
			{re: regexp.MustCompile(`(?i)page\s*not\s*found|cannot\s*find.*page`), name: "page not found", specificity: 0.85},
			{re: regexp.MustCompile(`(?i)doi\s*not\s*found|doi.*not\s*available`), name: "DOI not found", specificity: 0.9},
			{re: regexp.MustCompile(`(?i)document\s*not\s*found|article\s*not\s*available`), name: "document unavailable", specificity: 0.85},
			{re: regexp.MustCompile(`(?i)item\s*not\s*found|handle\s*not\s*found`), name: "item not found", specificity: 0.85},
			{re: regexp.MustCompile(`(?i)sorry.*couldn'?t\s*find|we\s*couldn'?t\s*locate`), name: "apology for not found", specificity: 0.7},
			{re: regexp.MustCompile(`(?i)oops.*nothing\s*here|there'?s\s*nothing\s*here`), name: "nothing here", specificity: 0.7},
		},
	},
	{
		Kind: model.BarrierPaywall,
		Rules: []rule{
			{re: regexp.MustCompile(`(?i)paywall|payment\s*required`), name: "paywall detected", specificity: 0.95},
			{re: regexp.MustCompile(`(?i)subscribe.*continue|subscription.*required`), name: "subscription required", specificity: 0.9},
			{re: regexp.MustCompile(`(?i)\$\d+(\.\d{2})?\s*(to\s*)?(access|view|read|download)`), name: "price to access", specificity: 0.9},
			{re: regexp.MustCompile(`(?i)purchase.*access|buy.*article|pay.*view`), name: "purchase required", specificity: 0.85},
			{re: regexp.MustCompile(`(?i)member(s)?\s*only|members?\s*exclusive`), name: "members only", specificity: 0.8},
			{re: regexp.MustCompile(`(?i)full\s*text.*\$|complete\s*article.*\$`), name: "paid full text", specificity: 0.85},
			{re: regexp.MustCompile(`(?i)become\s*a\s*(member|subscriber)`), name: "subscription prompt", specificity: 0.7},
			{re: regexp.MustCompile(`(?i)upgrade\s*to\s*(premium|pro|plus)`), name: "upgrade required", specificity: 0.7},
		},
	},
	{
		Kind: model.BarrierLogin,
		Rules: []rule{
			{re: regexp.MustCompile(`(?i)sign\s*in.*continue|log\s*in.*continue`), name: "login to continue", specificity: 0.9},
			{re: regexp.MustCompile(`(?i)authentication\s*required|login\s*required`), name: "authentication required", specificity: 0.9},
			{re: regexp.MustCompile(`(?i)institutional\s*access|institution\s*login`), name: "institutional access", specificity: 0.85},
			{re: regexp.MustCompile(`(?i)access.*through.*library`), name: "library access", specificity: 0.8},
			{re: regexp.MustCompile(`(?i)credentials\s*required|authorized\s*users?\s*only`), name: "credentials required", specificity: 0.85},
			{re: regexp.MustCompile(`(?i)please\s*(log\s*in|sign\s*in)`), name: "login prompt", specificity: 0.7},
			{re: regexp.MustCompile(`(?i)restricted\s*access|access\s*restricted`), name: "restricted access", specificity: 0.7},
		},
	},
	{
		Kind: model.BarrierPreview,
		Rules: []rule{
			{re: regexp.MustCompile(`(?i)limited\s*preview|preview\s*only`), name: "limited preview", specificity: 0.9},
			{re: regexp.MustCompile(`(?i)first\s*\d+\s*pages?|sample\s*pages?`), name: "sample pages", specificity: 0.8},
			{re: regexp.MustCompile(`(?i)table\s*of\s*contents\s*only`), name: "TOC only", specificity: 0.85},
			{re: regexp.MustCompile(`(?i)abstract\s*only|summary\s*only`), name: "abstract only", specificity: 0.85},
			{re: regexp.MustCompile(`(?i)partial\s*view|incomplete\s*view`), name: "partial view", specificity: 0.75},
			{re: regexp.MustCompile(`(?i)preview\s*unavailable|full\s*view\s*not\s*available`), name: "no full view", specificity: 0.75},
			{re: regexp.MustCompile(`(?i)\d+\s*of\s*\d+\s*pages\s*(shown|visible)`), name: "pages visible", specificity: 0.7},
		},
	},
}

// BarrierMatch is a positive classification outcome.
type BarrierMatch struct {
	Kind        model.Barrier
	RuleName    string
	Specificity float64
}

// DetectBarrier runs the classifier table against the text in precedence
// order. The first matching rule wins.
func DetectBarrier(text string) (BarrierMatch, bool) {
	for _, c := range barrierTable {
		for _, r := range c.Rules {
			if r.re.MatchString(text) {
				return BarrierMatch{Kind: c.Kind, RuleName: r.name, Specificity: r.specificity}, true
			}
		}
	}
	return BarrierMatch{}, false
}

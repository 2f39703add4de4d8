package model

// Barrier is a detected access obstruction in fetched content.
type Barrier string

const (
	BarrierNone    Barrier = ""
	BarrierSoft404 Barrier = "soft404"
	BarrierPaywall Barrier = "paywall"
	BarrierLogin   Barrier = "login"
	BarrierPreview Barrier = "preview"
)

// ValidationResult is the outcome of deep-validating one candidate URL.
// Barriers and content mismatches are classifications, not errors.
type ValidationResult struct {
	Accessible     bool    `json:"accessible"`
	Score          int     `json:"score"`
	Barrier        Barrier `json:"barrier,omitempty"`
	Confidence     float64 `json:"confidence"`
	ContentMatches bool    `json:"content_matches"`
	Reason         string  `json:"reason"`
	FetchFailed    bool    `json:"fetch_failed,omitempty"`
}

// Selection marks what a candidate was chosen as after ranking.
type Selection string

const (
	SelectedNone      Selection = ""
	SelectedPrimary   Selection = "primary"
	SelectedSecondary Selection = "secondary"
	SelectedTertiary  Selection = "tertiary"
	SelectedRejected  Selection = "rejected"
)

// URLCandidate is one discovered link, ephemeral per discovery round.
// Only the fields copied into Reference.URLs are authoritative.
type URLCandidate struct {
	URL           string            `json:"url"`
	NormalizedURL string            `json:"normalized_url"`
	Title         string            `json:"title,omitempty"`
	Snippet       string            `json:"snippet,omitempty"`
	Rank          int               `json:"rank"`
	Validation    *ValidationResult `json:"validation,omitempty"`
	Composite     int               `json:"composite,omitempty"`
	SelectedAs    Selection         `json:"selected_as,omitempty"`
}

package validate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/refcanvas/refcanvas-cli/internal/model"
	"github.com/refcanvas/refcanvas-cli/pkg/anthropic"
)

// maxVerifyExcerpt bounds how much page text is sent for verification.
const maxVerifyExcerpt = 4000

// AIVerifier checks content identity with a completion model. The engine
// falls back to the lexical verifier when this fails.
type AIVerifier struct {
	client anthropic.Client
	model  string
}

// NewAIVerifier creates a verifier using the given completion model.
func NewAIVerifier(client anthropic.Client, modelID string) *AIVerifier {
	return &AIVerifier{client: client, model: modelID}
}

const verifySystem = `You verify whether retrieved page text is a specific cited work. ` +
	`Answer on one line in the exact form "MATCH: NN | REASON: <short reason>" ` +
	`where NN is 0-100, the percentage confidence that the text is the cited work ` +
	`(not merely a page that mentions it).`

// VerifyMatch asks the model for a 0-100 match confidence and maps it to
// [0,1].
func (v *AIVerifier) VerifyMatch(ctx context.Context, expected model.Expected, text string) (float64, error) {
	excerpt := text
	if len(excerpt) > maxVerifyExcerpt {
		excerpt = excerpt[:maxVerifyExcerpt]
	}

	prompt := fmt.Sprintf("Cited work:\nTitle: %s\nAuthors: %s\nYear: %d\n\nRetrieved text:\n%s",
		expected.Title, strings.Join(expected.Authors, "; "), expected.Year, excerpt)

	resp, err := v.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     v.model,
		MaxTokens: 100,
		System:    verifySystem,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return 0, eris.Wrap(err, "validate: verify content match")
	}
	resp.Usage.LogCost(v.model, "verify")

	pct, err := parseMatchLine(resp.FirstText())
	if err != nil {
		return 0, err
	}
	return float64(pct) / 100, nil
}

var matchLineRe = regexp.MustCompile(`(?i)MATCH:\s*(\d{1,3})`)

// parseMatchLine extracts the NN from a "MATCH: NN | REASON: ..." reply.
func parseMatchLine(s string) (int, error) {
	m := matchLineRe.FindStringSubmatch(s)
	if m == nil {
		return 0, eris.Errorf("validate: unparseable verifier reply %q", firstLine(s))
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil || pct > 100 {
		return 0, eris.Errorf("validate: match value out of range in %q", firstLine(s))
	}
	return pct, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

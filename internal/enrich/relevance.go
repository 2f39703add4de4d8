// Package enrich runs the generation side of the pipeline: relevance
// statements from the completion service and URL discovery rounds over
// search, validation, and ranking.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/refcanvas/refcanvas-cli/internal/config"
	"github.com/refcanvas/refcanvas-cli/internal/model"
	"github.com/refcanvas/refcanvas-cli/pkg/anthropic"
)

// RelevanceWriter generates relevance statements from bibliographic fields
// and the citation context.
type RelevanceWriter struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

// NewRelevanceWriter creates a writer over the completion client.
func NewRelevanceWriter(client anthropic.Client, cfg config.AnthropicConfig) *RelevanceWriter {
	return &RelevanceWriter{client: client, cfg: cfg}
}

const relevanceSystem = `You write one-paragraph relevance statements for bibliography entries: ` +
	`why this specific work matters to the citing document, grounded in the citation context. ` +
	`Plain prose, no headers, no bullet points, no meta commentary.`

// GenerateRelevance produces a relevance statement for the reference
// against its current context, with token accounting.
func (w *RelevanceWriter) GenerateRelevance(ctx context.Context, ref *model.Reference) (string, *model.GenerationMeta, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Work: %s\n", ref.Citation())
	if ref.Context.Value != "" {
		fmt.Fprintf(&b, "Citation context: %s\n", ref.Context.Value)
	}
	fmt.Fprintf(&b, "Target length: about %d characters.", w.targetLength())

	resp, err := w.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     w.cfg.RelevanceModel,
		MaxTokens: 1024,
		System:    relevanceSystem,
		Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return "", nil, eris.Wrap(err, "enrich: generate relevance")
	}
	resp.Usage.LogCost(w.cfg.RelevanceModel, "relevance")

	text := strings.TrimSpace(resp.FirstText())
	if text == "" {
		return "", nil, eris.New("enrich: empty relevance completion")
	}

	meta := &model.GenerationMeta{
		Model:        w.cfg.RelevanceModel,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      resp.Usage.EstimateCost(w.cfg.RelevanceModel),
	}
	return text, meta, nil
}

func (w *RelevanceWriter) targetLength() int {
	if w.cfg.TargetLength > 0 {
		return w.cfg.TargetLength
	}
	return 280
}

package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstText(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "tool_use", Text: ""},
		{Type: "text", Text: "hello"},
		{Type: "text", Text: "ignored"},
	}}
	assert.Equal(t, "hello", resp.FirstText())

	empty := &MessageResponse{}
	assert.Equal(t, "", empty.FirstText())
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 100_000}

	assert.InDelta(t, 3.00+1.50, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.InDelta(t, 0.80+0.40, u.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)
	assert.Zero(t, u.EstimateCost("unknown-model"))
}

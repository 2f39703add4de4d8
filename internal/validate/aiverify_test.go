package validate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refcanvas/refcanvas-cli/pkg/anthropic"
)

type mockCompletion struct {
	lastReq anthropic.MessageRequest
	reply   string
	err     error
}

func (m *mockCompletion) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: m.reply}},
	}, nil
}

func TestParseMatchLine(t *testing.T) {
	cases := []struct {
		reply string
		want  int
	}{
		{"MATCH: 85 | REASON: title and author present", 85},
		{"match: 0 | REASON: unrelated page", 0},
		{"MATCH: 100 | REASON: full text", 100},
		{"Some preamble.\nMATCH: 42 | REASON: partial", 42},
	}
	for _, tc := range cases {
		got, err := parseMatchLine(tc.reply)
		require.NoError(t, err, tc.reply)
		assert.Equal(t, tc.want, got, tc.reply)
	}
}

func TestParseMatchLineRejectsGarbage(t *testing.T) {
	for _, reply := range []string{
		"I think this matches pretty well.",
		"MATCH: 250 | REASON: out of range",
		"",
	} {
		_, err := parseMatchLine(reply)
		assert.Error(t, err, reply)
	}
}

func TestAIVerifierMapsToUnitInterval(t *testing.T) {
	client := &mockCompletion{reply: "MATCH: 85 | REASON: title and author present"}
	v := NewAIVerifier(client, "claude-haiku-4-5-20251001")

	conf, err := v.VerifyMatch(context.Background(), expectedWork, "Silent Spring full text")
	require.NoError(t, err)
	assert.InDelta(t, 0.85, conf, 1e-9)

	assert.Contains(t, client.lastReq.Messages[0].Content, "Silent Spring")
	assert.Contains(t, client.lastReq.Messages[0].Content, "Carson, R.")
}

func TestAIVerifierTruncatesExcerpt(t *testing.T) {
	client := &mockCompletion{reply: "MATCH: 10 | REASON: noise"}
	v := NewAIVerifier(client, "m")

	long := strings.Repeat("y", 3*maxVerifyExcerpt)
	_, err := v.VerifyMatch(context.Background(), expectedWork, long)
	require.NoError(t, err)
	assert.Less(t, len(client.lastReq.Messages[0].Content), maxVerifyExcerpt+500)
}

func TestAIVerifierClientError(t *testing.T) {
	v := NewAIVerifier(&mockCompletion{err: assert.AnError}, "m")

	_, err := v.VerifyMatch(context.Background(), expectedWork, "text")
	require.Error(t, err)
}

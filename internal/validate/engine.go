package validate

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/refcanvas/refcanvas-cli/internal/config"
	"github.com/refcanvas/refcanvas-cli/internal/model"
)

// Engine validates one candidate URL: fetch, classify barriers, verify
// content identity, score. Scores depend only on retrieved bytes and
// expected metadata, never on the serving domain.
type Engine struct {
	fetcher  *Fetcher
	verifier Verifier
	fallback LexicalVerifier
	cfg      config.ValidateConfig
}

// NewEngine creates an Engine. verifier may be nil, in which case the
// deterministic lexical verifier is used for identity checks.
func NewEngine(fetcher *Fetcher, verifier Verifier, cfg config.ValidateConfig) *Engine {
	if fetcher == nil {
		fetcher = NewFetcher(FetcherOptions{
			Timeout:      time.Duration(cfg.TimeoutSecs) * time.Second,
			MaxRedirects: cfg.MaxRedirects,
			MaxBodyBytes: cfg.MaxBodyBytes,
		})
	}
	return &Engine{fetcher: fetcher, verifier: verifier, cfg: cfg}
}

// Validate fetches and scores a single URL against the expected work.
// Fetch failures yield score 0 with a reason; barriers and mismatches are
// classifications, not errors, so Validate itself never fails.
func (e *Engine) Validate(ctx context.Context, rawURL string, expected model.Expected) model.ValidationResult {
	fetched, err := e.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		zap.L().Debug("candidate fetch failed",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return model.ValidationResult{
			Accessible:  false,
			Score:       0,
			Barrier:     model.BarrierNone,
			FetchFailed: true,
			Reason:      fmt.Sprintf("fetch failed: %v", err),
		}
	}
	return e.Classify(ctx, fetched.Body, fetched.ContentType, expected)
}

// Classify scores already-fetched content. Split out from Validate so the
// scoring path is testable byte-for-byte without a network.
func (e *Engine) Classify(ctx context.Context, body []byte, contentType string, expected model.Expected) model.ValidationResult {
	text := ClassifiableText(body, contentType)

	// Barrier detection wins over any accessible-looking signal.
	if m, ok := DetectBarrier(text); ok {
		band := e.bandFor(m.Kind)
		return model.ValidationResult{
			Accessible: false,
			Score:      bandScore(band, m.Specificity),
			Barrier:    m.Kind,
			Confidence: m.Specificity,
			Reason:     fmt.Sprintf("%s: %s", barrierLabel(m.Kind), m.RuleName),
		}
	}

	confidence := e.verifyIdentity(ctx, expected, PlainText(body, contentType))
	matches := confidence >= e.cfg.MatchCutoff

	if matches {
		return model.ValidationResult{
			Accessible:     true,
			Score:          bandScore(e.cfg.Bands.Accessible, confidence),
			Barrier:        model.BarrierNone,
			Confidence:     confidence,
			ContentMatches: true,
			Reason:         fmt.Sprintf("accessible content, identity match (%.0f%%)", confidence*100),
		}
	}

	// Reachable but not demonstrably the right work: content mismatch
	// overrides apparent accessibility.
	score := bandScore(e.cfg.Bands.Accessible, confidence)
	if limit := e.cfg.Bands.MismatchCap; score >= limit {
		score = limit - 1
	}
	return model.ValidationResult{
		Accessible:     true,
		Score:          score,
		Barrier:        model.BarrierNone,
		Confidence:     confidence,
		ContentMatches: false,
		Reason:         fmt.Sprintf("content does not match expected work (%.0f%%)", confidence*100),
	}
}

// verifyIdentity consults the external verifier when configured, falling
// back to the lexical check on error.
func (e *Engine) verifyIdentity(ctx context.Context, expected model.Expected, text string) float64 {
	if e.verifier != nil {
		conf, err := e.verifier.VerifyMatch(ctx, expected, text)
		if err == nil {
			return conf
		}
		zap.L().Warn("semantic verifier failed, using lexical fallback",
			zap.Error(err),
		)
	}
	conf, _ := e.fallback.VerifyMatch(ctx, expected, text)
	return conf
}

func (e *Engine) bandFor(kind model.Barrier) config.ScoreBand {
	switch kind {
	case model.BarrierSoft404:
		return e.cfg.Bands.Soft404
	case model.BarrierPaywall:
		return e.cfg.Bands.Paywall
	case model.BarrierLogin:
		return e.cfg.Bands.Login
	case model.BarrierPreview:
		return e.cfg.Bands.Preview
	}
	return config.ScoreBand{}
}

// bandScore interpolates a confidence into an inclusive score band.
func bandScore(band config.ScoreBand, confidence float64) int {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return band.Low + int(math.Round(confidence*float64(band.High-band.Low)))
}

func barrierLabel(kind model.Barrier) string {
	switch kind {
	case model.BarrierSoft404:
		return "soft 404 detected"
	case model.BarrierPaywall:
		return "paywall detected"
	case model.BarrierLogin:
		return "login required"
	case model.BarrierPreview:
		return "preview only"
	}
	return "barrier detected"
}

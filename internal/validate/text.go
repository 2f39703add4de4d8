package validate

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// IsPDF reports whether the body is a PDF document, by magic bytes or
// declared content type.
func IsPDF(body []byte, contentType string) bool {
	return bytes.HasPrefix(body, []byte("%PDF-")) ||
		strings.Contains(contentType, "application/pdf")
}

// ClassifiableText returns the text the barrier classifiers run against.
// Markup is classifiable as-is (patterns like an error <title> depend on
// it); binary document formats get a printable-text scan first.
func ClassifiableText(body []byte, contentType string) string {
	if IsPDF(body, contentType) {
		return printableRuns(body)
	}
	return string(body)
}

// PlainText returns tag-stripped text for content identity verification.
func PlainText(body []byte, contentType string) string {
	if IsPDF(body, contentType) {
		return printableRuns(body)
	}
	s := scriptRe.ReplaceAllString(string(body), " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// printableRuns extracts printable character runs of length >= 4 from a
// binary body. Crude, but enough for identity and barrier phrases embedded
// in PDF text streams; OCR is out of scope.
func printableRuns(body []byte) string {
	var b strings.Builder
	var run []byte
	flush := func() {
		if len(run) >= 4 {
			b.Write(run)
			b.WriteByte(' ')
		}
		run = run[:0]
	}
	for _, c := range body {
		if c >= 0x20 && c < 0x7f {
			run = append(run, c)
		} else {
			flush()
		}
	}
	flush()
	return strings.TrimSpace(b.String())
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases and strips diacritics so that "Müller" matches "muller".
func Fold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF([]byte("%PDF-1.7 binary"), ""))
	assert.True(t, IsPDF([]byte("junk"), "application/pdf"))
	assert.False(t, IsPDF([]byte("<html></html>"), "text/html"))
}

func TestClassifiableTextKeepsMarkup(t *testing.T) {
	body := []byte("<html><title>404 Not Found</title></html>")
	// Markup survives so title-based classifiers can fire.
	assert.Contains(t, ClassifiableText(body, "text/html"), "<title>404 Not Found</title>")
}

func TestPlainTextStripsMarkup(t *testing.T) {
	body := []byte(`<html><head><script>var x = "paywall";</script>
		<style>.a{color:red}</style></head>
		<body><h1>Silent&nbsp;Spring</h1><p>by Rachel Carson</p></body></html>`)
	text := PlainText(body, "text/html")

	assert.Contains(t, text, "Silent")
	assert.Contains(t, text, "by Rachel Carson")
	// Script content must not leak into identity text.
	assert.NotContains(t, text, "paywall")
	assert.NotContains(t, text, "<")
}

func TestPrintableRunsFromPDF(t *testing.T) {
	body := append([]byte("%PDF-1.4\x00\x01\x02"), []byte("Silent Spring by Rachel Carson\x00\x03ab\x00")...)
	text := PlainText(body, "application/pdf")

	assert.Contains(t, text, "Silent Spring by Rachel Carson")
	// Runs shorter than four printable chars are noise, not text.
	assert.NotContains(t, text, "ab")
}

func TestFold(t *testing.T) {
	assert.Equal(t, "muller", Fold("Müller"))
	assert.Equal(t, "garcia marquez", Fold("García Márquez"))
	assert.Equal(t, "plain ascii", Fold("Plain ASCII"))
}

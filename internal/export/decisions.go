// Package export reads and writes the decisions line format: one block per
// reference with a bracketed id, the citation line carrying FLAGS and URL
// tokens, a Relevance line, and any recorded query lines. Serializing an
// unmodified parse reproduces the input byte for byte.
package export

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Record is one reference block in a decisions file.
type Record struct {
	ID           int      `json:"id"`
	Citation     string   `json:"citation"`
	Relevance    string   `json:"relevance,omitempty"`
	Flags        []string `json:"flags,omitempty"`
	PrimaryURL   string   `json:"primary_url,omitempty"`
	SecondaryURL string   `json:"secondary_url,omitempty"`
	TertiaryURL  string   `json:"tertiary_url,omitempty"`
	Queries      []string `json:"queries,omitempty"`
}

// Finalized reports whether the FINALIZED flag is set.
func (r *Record) Finalized() bool { return r.hasFlag("FINALIZED") }

// ManualReview reports whether the MANUAL_REVIEW flag is set.
func (r *Record) ManualReview() bool { return r.hasFlag("MANUAL_REVIEW") }

func (r *Record) hasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

var (
	headerRe    = regexp.MustCompile(`^\[(\d+)\]\s+(.*)$`)
	flagsRe     = regexp.MustCompile(`\s*FLAGS\[(.*?)\]`)
	primaryRe   = regexp.MustCompile(`\s*PRIMARY_URL\[(.*?)\]`)
	secondaryRe = regexp.MustCompile(`\s*SECONDARY_URL\[(.*?)\]`)
	tertiaryRe  = regexp.MustCompile(`\s*TERTIARY_URL\[(.*?)\]`)
)

// Parse reads a decisions file into records. Blank lines between blocks
// are tolerated; unrecognized continuation lines are an error so silent
// data loss cannot hide in a round-trip.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var records []Record
	var cur *Record
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := headerRe.FindStringSubmatch(trimmed); m != nil {
			id, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, eris.Wrapf(err, "export: line %d: bad id", lineNo)
			}
			rec, err := parseCitationLine(id, m[2])
			if err != nil {
				return nil, eris.Wrapf(err, "export: line %d", lineNo)
			}
			records = append(records, *rec)
			cur = &records[len(records)-1]
			continue
		}

		if cur == nil {
			return nil, eris.Errorf("export: line %d: content before first reference header", lineNo)
		}
		switch {
		case strings.HasPrefix(trimmed, "Relevance:"):
			cur.Relevance = strings.TrimSpace(strings.TrimPrefix(trimmed, "Relevance:"))
		case strings.HasPrefix(trimmed, "Q:"):
			cur.Queries = append(cur.Queries, strings.TrimSpace(strings.TrimPrefix(trimmed, "Q:")))
		default:
			return nil, eris.Errorf("export: line %d: unrecognized line %q", lineNo, trimmed)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "export: read decisions")
	}
	return records, nil
}

// parseCitationLine splits the header's citation text from its bracketed
// tokens.
func parseCitationLine(id int, line string) (*Record, error) {
	rec := &Record{ID: id}

	if m := flagsRe.FindStringSubmatch(line); m != nil {
		rec.Flags = strings.Fields(m[1])
		line = flagsRe.ReplaceAllString(line, "")
	}
	if m := primaryRe.FindStringSubmatch(line); m != nil {
		rec.PrimaryURL = m[1]
		line = primaryRe.ReplaceAllString(line, "")
	}
	if m := secondaryRe.FindStringSubmatch(line); m != nil {
		rec.SecondaryURL = m[1]
		line = secondaryRe.ReplaceAllString(line, "")
	}
	if m := tertiaryRe.FindStringSubmatch(line); m != nil {
		rec.TertiaryURL = m[1]
		line = tertiaryRe.ReplaceAllString(line, "")
	}

	rec.Citation = strings.TrimSpace(line)
	if rec.Citation == "" {
		return nil, eris.Errorf("export: reference %d has an empty citation", id)
	}
	return rec, nil
}

// Serialize writes records in canonical form: citation first, then FLAGS,
// then the URL tokens in priority order, one blank line between blocks.
// Parse accepts the bracketed tokens in any order, so serializing a
// hand-edited file normalizes it; the round trip is byte-exact once a
// file is in canonical form.
func Serialize(w io.Writer, records []Record) error {
	for i, rec := range records {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return eris.Wrap(err, "export: write decisions")
			}
		}
		if _, err := fmt.Fprintf(w, "[%d] %s\n", rec.ID, headerLine(&rec)); err != nil {
			return eris.Wrap(err, "export: write decisions")
		}
		if rec.Relevance != "" {
			if _, err := fmt.Fprintf(w, "Relevance: %s\n", rec.Relevance); err != nil {
				return eris.Wrap(err, "export: write decisions")
			}
		}
		for _, q := range rec.Queries {
			if _, err := fmt.Fprintf(w, "Q: %s\n", q); err != nil {
				return eris.Wrap(err, "export: write decisions")
			}
		}
	}
	return nil
}

func headerLine(rec *Record) string {
	var b strings.Builder
	b.WriteString(rec.Citation)
	if len(rec.Flags) > 0 {
		fmt.Fprintf(&b, " FLAGS[%s]", strings.Join(rec.Flags, " "))
	}
	if rec.PrimaryURL != "" {
		fmt.Fprintf(&b, " PRIMARY_URL[%s]", rec.PrimaryURL)
	}
	if rec.SecondaryURL != "" {
		fmt.Fprintf(&b, " SECONDARY_URL[%s]", rec.SecondaryURL)
	}
	if rec.TertiaryURL != "" {
		fmt.Fprintf(&b, " TERTIARY_URL[%s]", rec.TertiaryURL)
	}
	return b.String()
}

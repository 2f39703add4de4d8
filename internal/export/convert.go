package export

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/refcanvas/refcanvas-cli/internal/model"
)

// FromReference renders a reference as a decisions record. Record ids are
// the export ordinal, assigned by the caller.
func FromReference(id int, ref *model.Reference) Record {
	rec := Record{
		ID:        id,
		Citation:  ref.Citation(),
		Relevance: ref.Relevance.Value,
	}
	if ref.Status == model.StatusFinalized {
		rec.Flags = append(rec.Flags, "FINALIZED")
	}
	if ref.ManualReview {
		rec.Flags = append(rec.Flags, "MANUAL_REVIEW")
	}
	rec.PrimaryURL = ref.URLs.URLs.Primary.URL
	rec.SecondaryURL = ref.URLs.URLs.Secondary.URL
	rec.TertiaryURL = ref.URLs.URLs.Tertiary.URL
	return rec
}

// citationRe matches the "Author (Year). Title. Publication." convention.
// The year anchor keeps author initials from being mistaken for sentence
// breaks.
var citationRe = regexp.MustCompile(`^(.*?)\s*\((\d{4})\)\.\s*(.*)$`)

// ToReference seeds a reference from an imported record. Citations that do
// not follow the structured convention land whole in the title.
func ToReference(rec Record) *model.Reference {
	ref := &model.Reference{}

	if m := citationRe.FindStringSubmatch(rec.Citation); m != nil {
		if author := strings.TrimSpace(m[1]); author != "" {
			ref.Authors = splitAuthors(author)
		}
		ref.Year, _ = strconv.Atoi(m[2])
		rest := strings.SplitN(m[3], ". ", 2)
		ref.Title = strings.TrimSuffix(strings.TrimSpace(rest[0]), ".")
		if len(rest) > 1 {
			ref.Publication = strings.TrimSuffix(strings.TrimSpace(rest[1]), ".")
		}
	} else {
		ref.Title = strings.TrimSpace(rec.Citation)
	}

	ref.Relevance.SetGenerated(rec.Relevance, 0)

	var set model.URLSet
	set.Primary = importedSlot(rec.PrimaryURL)
	set.Secondary = importedSlot(rec.SecondaryURL)
	set.Tertiary = importedSlot(rec.TertiaryURL)
	ref.URLs.SetGenerated(set, 0)

	ref.Status = model.StatusDraft
	if rec.Finalized() {
		ref.Status = model.StatusFinalized
	}
	ref.ManualReview = rec.ManualReview()
	return ref
}

func importedSlot(url string) model.URLSlot {
	if url == "" {
		return model.URLSlot{}
	}
	// Imported URLs carry no validation history until revalidated.
	return model.URLSlot{URL: url, Source: model.SourceGenerated}
}

// splitAuthors breaks "A and B" or "A; B" author strings apart; a plain
// "Surname, I." string stays a single author.
func splitAuthors(s string) []string {
	for _, sep := range []string{"; ", " and "} {
		if strings.Contains(s, sep) {
			var out []string
			for _, a := range strings.Split(s, sep) {
				if a = strings.TrimSpace(a); a != "" {
					out = append(out, a)
				}
			}
			return out
		}
	}
	return []string{s}
}

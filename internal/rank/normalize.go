// Package rank selects primary/secondary/tertiary URLs from a validated
// candidate set. No acceptable candidate means the reference is flagged
// for manual review rather than guessed at.
package rank

import (
	"net/url"
	"sort"
	"strings"
)

// tracking parameters stripped before dedup.
var trackingParams = map[string]bool{
	"fbclid":       true,
	"gclid":        true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
	"source":       true,
	"utm_campaign": true,
	"utm_content":  true,
	"utm_medium":   true,
	"utm_source":   true,
	"utm_term":     true,
}

// Normalize produces the dedup key for a URL: lowercase scheme and host,
// fragment dropped, tracking parameters stripped, trailing slash trimmed.
// Unparseable URLs normalize to themselves.
func Normalize(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] {
			q.Del(k)
		}
	}
	// Re-encode sorted for a stable key.
	if len(q) == 0 {
		u.RawQuery = ""
	} else {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			for _, v := range q[k] {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

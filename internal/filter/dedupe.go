package filter

import (
	"net/url"
	"strings"

	"HeadlineBot/internal/domain"
)

var trackingParams = map[string]struct{}{
	"fbclid": {},
	"gclid":  {},
	"ocid":   {},
	"cmpid":  {},
}

// NormalizeURL produces the canonical key used for deduplication and uniqueness.
// Unparseable input falls back to the trimmed, lowercased string.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(raw)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.User = nil

	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			lower := strings.ToLower(key)
			if _, ok := trackingParams[lower]; ok || strings.HasPrefix(lower, "utm_") {
				query.Del(key)
			}
		}
		// Encode sorts by key.
		parsed.RawQuery = query.Encode()
	}

	if parsed.Path != "/" {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
		parsed.RawPath = ""
	}
	if parsed.Path == "/" && parsed.RawQuery == "" {
		parsed.Path = ""
	}

	return parsed.String()
}

// Dedupe keeps the first item for every normalized URL and rewrites the URL to its canonical form.
// Items without a URL are dropped. Running it twice yields the same slice.
func Dedupe(items []domain.IngestedItem) []domain.IngestedItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]domain.IngestedItem, 0, len(items))
	for _, item := range items {
		key := NormalizeURL(item.URL)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		item.URL = key
		out = append(out, item)
	}
	return out
}

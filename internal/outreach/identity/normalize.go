// Package identity maps ambiguous external identities (profile URLs, public
// slugs, provider ids) onto lead records. Matching is tiered and every match
// is tagged with the strategy that produced it so callers can judge
// confidence.
package identity

import (
	"net/url"
	"strings"
)

// NormalizeProfileURL reduces a profile URL to its equality key: protocol and
// www stripped, lowercased, trailing slash trimmed, query and fragment
// dropped. Returns "" when the input is empty or unusable.
func NormalizeProfileURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	lower := strings.ToLower(trimmed)
	lower = strings.TrimPrefix(lower, "https://")
	lower = strings.TrimPrefix(lower, "http://")
	lower = strings.TrimPrefix(lower, "www.")

	if idx := strings.IndexAny(lower, "?#"); idx >= 0 {
		lower = lower[:idx]
	}
	lower = strings.TrimRight(lower, "/")

	if lower == "" || !strings.Contains(lower, ".") {
		return ""
	}
	return lower
}

// ExtractSlug pulls a handle out of a profile URL, or accepts a bare
// handle-like token directly. The result is percent-decoded and lowercased.
// Returns "" when nothing handle-like can be found.
func ExtractSlug(urlOrIdentifier string) string {
	trimmed := strings.TrimSpace(urlOrIdentifier)
	if trimmed == "" {
		return ""
	}

	if !strings.Contains(trimmed, "/") && !strings.Contains(trimmed, ".") {
		// Bare token. Spaces disqualify it as a handle.
		if strings.ContainsAny(trimmed, " \t") {
			return ""
		}
		return decodeLower(trimmed)
	}

	normalized := NormalizeProfileURL(trimmed)
	if normalized == "" {
		return ""
	}

	slash := strings.Index(normalized, "/")
	if slash < 0 {
		return ""
	}
	segments := strings.Split(normalized[slash+1:], "/")

	// Prefer the segment following a profile-path marker ("/in/<slug>"),
	// otherwise take the last non-empty segment.
	for i, seg := range segments {
		if seg == "in" && i+1 < len(segments) && segments[i+1] != "" {
			return decodeLower(segments[i+1])
		}
	}
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return decodeLower(segments[i])
		}
	}
	return ""
}

func decodeLower(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		decoded = s
	}
	return strings.ToLower(decoded)
}

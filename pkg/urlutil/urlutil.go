// Package urlutil provides URL manipulation helpers that preserve the
// original encoding of upstream URLs. Go's url.ResolveReference re-encodes
// special characters, which breaks signed CDN URLs that use parentheses,
// brackets, or pre-encoded path segments; everything here works on the raw
// string instead.
package urlutil

import (
	"net/url"
	"strings"
)

// Resolve resolves a potentially relative URL against a base URL.
func Resolve(urlStr string, baseURL string) string {
	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr
	}

	// Base directory: strip query string and the last path segment.
	base := baseURL
	if idx := strings.Index(base, "?"); idx > 0 {
		base = base[:idx]
	}
	if lastSlash := strings.LastIndex(base, "/"); lastSlash > 0 {
		base = base[:lastSlash+1]
	}

	if strings.HasPrefix(urlStr, "/") {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return base + urlStr
		}
		return parsed.Scheme + "://" + parsed.Host + urlStr
	}

	if strings.HasPrefix(urlStr, "../") {
		result := base
		remaining := urlStr
		for strings.HasPrefix(remaining, "../") {
			remaining = remaining[3:]
			result = strings.TrimSuffix(result, "/")
			if lastSlash := strings.LastIndex(result, "/"); lastSlash > 0 {
				result = result[:lastSlash+1]
			}
		}
		return result + remaining
	}

	return base + urlStr
}

// BaseDirectory returns the directory portion of a URL (without the filename).
func BaseDirectory(urlStr string) string {
	if idx := strings.Index(urlStr, "?"); idx > 0 {
		urlStr = urlStr[:idx]
	}
	if lastSlash := strings.LastIndex(urlStr, "/"); lastSlash > 0 {
		return urlStr[:lastSlash+1]
	}
	return urlStr
}

// HasSegmentTemplate reports whether a URL carries a DASH template
// placeholder such as $Number$ or $Time$.
func HasSegmentTemplate(urlStr string) bool {
	return strings.Contains(urlStr, "$")
}

// SplitSegmentTemplate splits an absolute templated URL into its directory
// and the filename template the player substitutes itself. The directory
// always keeps its trailing slash so the template can be re-appended.
func SplitSegmentTemplate(absoluteURL string) (dir, nameTemplate string) {
	lastSlash := strings.LastIndex(absoluteURL, "/")
	if lastSlash < 0 {
		return absoluteURL, ""
	}
	return absoluteURL[:lastSlash+1], absoluteURL[lastSlash+1:]
}

// Hostname extracts the lowercased host (without port) from a URL string.
func Hostname(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// Package types defines core domain types used throughout the application.
package types

import "strings"

// StreamKind identifies the kind of upstream resource being proxied.
// The decision is made once at the request boundary; downstream code
// dispatches on the tag instead of re-sniffing URLs.
type StreamKind string

const (
	StreamKindHLS    StreamKind = "hls"
	StreamKindDASH   StreamKind = "dash"
	StreamKindBinary StreamKind = "binary"
)

// DetectStreamKind classifies an upstream URL.
func DetectStreamKind(urlStr string) StreamKind {
	lower := strings.ToLower(urlStr)
	if strings.Contains(lower, ".m3u8") {
		return StreamKindHLS
	}
	if strings.Contains(lower, ".mpd") || strings.Contains(lower, "format=mpd") {
		return StreamKindDASH
	}
	return StreamKindBinary
}

// StreamSource is the output of stream resolution for a catalog item:
// everything needed to seed the first manifest fetch.
type StreamSource struct {
	Title        string
	StreamingURL string
	BearerToken  string
	LicenseURL   string
}

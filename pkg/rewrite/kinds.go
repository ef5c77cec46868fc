package rewrite

import "addon-proxy-go/pkg/types"

// Embedding is the per-request wiring a rewriter needs: how to turn upstream
// URLs into proxy URLs for this particular session and credential.
type Embedding struct {
	// Embed rewrites a plain absolute URL.
	Embed Embedder
	// EmbedTemplate rewrites a templated DASH segment URL (directory
	// exchanged, $...$ tail preserved).
	EmbedTemplate func(directoryURL, nameTemplate string) string
	// LicenseProxyURL replaces the provider's Widevine license endpoint.
	LicenseProxyURL string
}

// HLS is the playlist rewriter registered for .m3u8 upstreams.
type HLS struct {
	// PreferQuality re-orders master variants by descending bandwidth.
	PreferQuality bool
	// TargetBandwidth, when set, collapses masters to the closest variant.
	TargetBandwidth int
}

func (HLS) Kind() types.StreamKind { return types.StreamKindHLS }

func (h HLS) Rewrite(text, upstreamURL string, em Embedding) (string, error) {
	if h.TargetBandwidth > 0 && IsMasterPlaylist(text) {
		text = FilterClosestBandwidth(text, h.TargetBandwidth)
	}
	return RewriteHLS(text, upstreamURL, em.Embed, h.PreferQuality), nil
}

// DASH is the manifest rewriter registered for .mpd upstreams.
type DASH struct{}

func (DASH) Kind() types.StreamKind { return types.StreamKindDASH }

func (DASH) Rewrite(text, upstreamURL string, em Embedding) (string, error) {
	return RewriteMPD(text, upstreamURL, em)
}

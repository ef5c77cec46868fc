// Package interfaces defines the core abstractions of the proxy. Handlers
// depend on these rather than on concrete services, so each piece can be
// stubbed in tests.
package interfaces

import (
	"context"
	"net/http"

	"addon-proxy-go/pkg/refcache"
	"addon-proxy-go/pkg/rewrite"
	"addon-proxy-go/pkg/token"
	"addon-proxy-go/pkg/types"
)

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StreamResolver turns a catalog item into a playable stream source.
type StreamResolver interface {
	ResolveLiveStream(ctx context.Context, session *token.Session, slug string) (*types.StreamSource, error)
}

// Rewriter rewrites one manifest kind. The kind decision is made once at the
// request boundary; everything downstream dispatches on the tag.
type Rewriter interface {
	Kind() types.StreamKind
	Rewrite(text, upstreamURL string, em rewrite.Embedding) (string, error)
}

// ShortReferencer is the short-reference store handlers resolve proxy
// sessions through.
type ShortReferencer interface {
	Shorten(b refcache.Bundle) string
	Extend(id string) (*refcache.Bundle, bool)
}

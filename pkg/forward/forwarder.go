// Package forward moves bytes between the player and the upstream CDN. It
// owns the header discipline of the proxy: which client headers travel
// upstream, which credentials may be attached per host, and which upstream
// headers are allowed back out.
package forward

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"addon-proxy-go/pkg/httpclient"
	"addon-proxy-go/pkg/logging"
	"addon-proxy-go/pkg/policy"
	"addon-proxy-go/pkg/urlutil"
)

// clientHeaders are the request headers a player may influence. Everything
// else from the client is dropped.
var clientHeaders = []string{
	"Range",
	"If-None-Match",
	"If-Modified-Since",
	"Accept",
	"User-Agent",
}

// responseHeaders is the allow-list of upstream headers passed back to the
// player. Upstream Set-Cookie, server banners and CORS must never leak out.
var responseHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Etag",
	"Last-Modified",
	"Cache-Control",
	"Content-Encoding",
	"Date",
}

// defaultUserAgent is sent when neither the player nor the credentials
// supply one. Some CDNs reject requests with no or obviously synthetic UAs.
const defaultUserAgent = "AppleTV6,2/11.1"

// Credentials carries the provider-facing identity for one upstream request.
// All fields are optional; empty values are simply not attached.
type Credentials struct {
	BearerToken string
	Cookie      string
	Origin      string
	Referer     string
	UserAgent   string
}

// Forwarder executes upstream requests and relays responses.
type Forwarder struct {
	client *httpclient.Client
	policy *policy.DomainPolicy
	log    *logging.Logger
}

func New(client *httpclient.Client, pol *policy.DomainPolicy, log *logging.Logger) *Forwarder {
	return &Forwarder{
		client: client,
		policy: pol,
		log:    log.WithComponent("forward"),
	}
}

// Fetch performs an upstream request. Conditional and range headers are
// copied from clientReq when present; credentials are attached only for
// hosts the domain policy clears. The caller owns the response body.
func (f *Forwarder) Fetch(ctx context.Context, method, upstreamURL string, body io.Reader, clientReq *http.Request, creds Credentials) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, upstreamURL, body)
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}

	if clientReq != nil {
		for _, h := range clientHeaders {
			if v := clientReq.Header.Get(h); v != "" {
				req.Header.Set(h, v)
			}
		}
	}
	if creds.UserAgent != "" {
		req.Header.Set("User-Agent", creds.UserAgent)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	if f.policy.RequiresProviderAuth(urlutil.Hostname(upstreamURL)) {
		if creds.BearerToken != "" {
			req.Header.Set("Authorization", "Bearer "+creds.BearerToken)
		}
		if creds.Cookie != "" {
			req.Header.Set("Cookie", creds.Cookie)
		}
		if creds.Origin != "" {
			req.Header.Set("Origin", creds.Origin)
		}
		if creds.Referer != "" {
			req.Header.Set("Referer", creds.Referer)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upstream request")
	}
	return resp, nil
}

// Relay fetches an upstream resource and writes it straight through to the
// player. Upstream HTTP errors pass through as-is; only a transport failure
// becomes a 502.
func (f *Forwarder) Relay(w http.ResponseWriter, r *http.Request, upstreamURL string, creds Credentials, isManifest bool) {
	method := r.Method
	if method != http.MethodGet && method != http.MethodHead {
		method = http.MethodGet
	}

	resp, err := f.Fetch(r.Context(), method, upstreamURL, nil, r, creds)
	if err != nil {
		f.log.WithError(err).Error("upstream fetch failed", "host", urlutil.Hostname(upstreamURL))
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	f.WriteResponse(w, r, resp, upstreamURL, isManifest)
}

// WriteResponse relays status, allow-listed headers and (for non-HEAD
// requests) the body of an upstream response.
func (f *Forwarder) WriteResponse(w http.ResponseWriter, r *http.Request, resp *http.Response, upstreamURL string, isManifest bool) {
	h := w.Header()
	for _, name := range responseHeaders {
		if v := resp.Header.Get(name); v != "" {
			h.Set(name, v)
		}
	}

	if ct := FixContentType(upstreamURL, resp.Header.Get("Content-Type")); ct != "" {
		h.Set("Content-Type", ct)
	}

	// The proxy decides caching, not the upstream: manifests rotate their
	// credentials on every fetch, segments are immutable once published.
	if isManifest {
		h.Set("Cache-Control", "no-store")
	} else if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent {
		h.Set("Cache-Control", "public, max-age=31536000, immutable")
	}

	// Players run in browser-like engines; the upstream CORS is replaced
	// with ours.
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Expose-Headers", "*")

	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Client went away mid-stream; nothing to send.
		f.log.Debug("relay interrupted", "error", err.Error())
	}
}

// FixContentType corrects upstream content types that players reject.
// CDNs routinely serve segments as application/octet-stream.
func FixContentType(upstreamURL, upstream string) string {
	path := upstreamURL
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	lower := strings.ToLower(path)

	switch {
	case strings.HasSuffix(lower, ".ts"):
		return "video/mp2t"
	case strings.HasSuffix(lower, ".m4s"), strings.HasSuffix(lower, ".m4v"), strings.HasSuffix(lower, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(lower, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(lower, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(lower, ".mpd"):
		return "application/dash+xml"
	}
	return upstream
}

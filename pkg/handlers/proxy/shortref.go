package proxy

import (
	"bytes"
	"net/http"
	"strings"

	"addon-proxy-go/pkg/forward"
	"addon-proxy-go/pkg/refcache"
	"addon-proxy-go/pkg/rewrite"
	"addon-proxy-go/pkg/types"
	"addon-proxy-go/pkg/urlutil"
)

// refState is everything a short-reference route needs once the sid has been
// resolved and the owning session verified.
type refState struct {
	bundle *refcache.Bundle
	creds  forward.Credentials
}

// resolveRef turns a sid path segment into usable proxy state. A cold cache
// or expired reference answers 403; a reference whose owning session no
// longer unseals answers 401.
func (h *Handlers) resolveRef(w http.ResponseWriter, r *http.Request) (*refState, bool) {
	sid := r.PathValue("sid")
	bundle, ok := h.refs.Extend(sid)
	if !ok {
		http.Error(w, "Invalid Session", http.StatusForbidden)
		return nil, false
	}

	sess, err := h.sealer.UnsealSession(bundle.OwnerKey, h.now())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	return &refState{
		bundle: bundle,
		creds:  providerCreds(sess, bundle.UpstreamToken),
	}, true
}

// refEmbedding builds the URL embedding for manifests served off the
// short-reference leg: every rewritten URL mints (or reuses) a reference
// owned by the same sealed session.
func (h *Handlers) refEmbedding(st *refState) rewrite.Embedding {
	origin := h.baseOrigin()

	mint := func(upstreamURL, template string) string {
		return h.refs.Shorten(refcache.Bundle{
			OwnerKey:         st.bundle.OwnerKey,
			UpstreamURL:      upstreamURL,
			UpstreamToken:    st.bundle.UpstreamToken,
			LicenseURL:       st.bundle.LicenseURL,
			FilenameTemplate: template,
		})
	}

	return rewrite.Embedding{
		Embed: func(abs string, _ rewrite.Target) string {
			endpoint := "seg"
			if types.DetectStreamKind(abs) == types.StreamKindHLS {
				endpoint = "hls"
			}
			return origin + "/proxy/" + mint(abs, "") + "/" + endpoint
		},
		EmbedTemplate: func(dir, nameTemplate string) string {
			return origin + "/proxy/" + mint(dir, nameTemplate) + "/file/" + nameTemplate
		},
		LicenseProxyURL: origin + "/proxy/" + mint(st.bundle.UpstreamURL, "") + "/license",
	}
}

// RefManifest serves rewritten HLS playlists and DASH manifests for a short
// reference. The manifest kind is fixed by the route, not sniffed.
func (h *Handlers) RefManifest(w http.ResponseWriter, r *http.Request) {
	st, ok := h.resolveRef(w, r)
	if !ok {
		return
	}

	kind := types.StreamKindHLS
	contentType := "application/vnd.apple.mpegurl"
	if strings.HasSuffix(r.URL.Path, "/mpd") {
		kind = types.StreamKindDASH
		contentType = "application/dash+xml"
	}

	h.serveManifest(w, r, kind, contentType, st.bundle.UpstreamURL, st.creds, h.refEmbedding(st), nil)
}

// serveManifest fetches, rewrites and writes one manifest. A non-nil pre
// filter runs on the raw text before rewriting. Upstream errors pass through
// with their status; a manifest that cannot be parsed is never served
// half-rewritten.
func (h *Handlers) serveManifest(w http.ResponseWriter, r *http.Request, kind types.StreamKind, contentType, upstreamURL string, creds forward.Credentials, em rewrite.Embedding, pre func(string) string) {
	resp, err := h.fwd.Fetch(r.Context(), http.MethodGet, upstreamURL, nil, r, creds)
	if err != nil {
		h.log.WithError(err).Error("manifest fetch failed", "host", urlutil.Hostname(upstreamURL))
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	body, err := readBody(resp.Body, maxManifestSize)
	if err != nil {
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")

	if resp.StatusCode >= 400 {
		w.WriteHeader(resp.StatusCode)
		return
	}

	// Redirects move the anchor for relative URL resolution.
	anchor := upstreamURL
	if resp.Request != nil && resp.Request.URL != nil {
		anchor = resp.Request.URL.String()
	}

	rw, ok := h.rewriters.Get(kind)
	if !ok {
		http.Error(w, "unsupported manifest kind", http.StatusBadGateway)
		return
	}
	text := string(body)
	if pre != nil {
		text = pre(text)
	}
	out, err := rw.Rewrite(text, anchor, em)
	if err != nil {
		h.log.WithError(err).Error("manifest rewrite failed", "kind", string(kind))
		http.Error(w, "invalid upstream manifest", http.StatusBadGateway)
		return
	}

	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		w.Write([]byte(out))
	}
}

// RefSegment relays one media object (segment, init blob, AES key).
func (h *Handlers) RefSegment(w http.ResponseWriter, r *http.Request) {
	st, ok := h.resolveRef(w, r)
	if !ok {
		return
	}
	h.fwd.Relay(w, r, st.bundle.UpstreamURL, st.creds, false)
}

// RefFile relays templated DASH segments: the reference stores the segment
// directory and the player-expanded filename rides the path tail.
func (h *Handlers) RefFile(w http.ResponseWriter, r *http.Request) {
	st, ok := h.resolveRef(w, r)
	if !ok {
		return
	}
	name := r.PathValue("template")
	if name == "" {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	target := st.bundle.UpstreamURL + name
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	h.fwd.Relay(w, r, target, st.creds, false)
}

// RefLicense relays a Widevine challenge to the license server bound to the
// reference.
func (h *Handlers) RefLicense(w http.ResponseWriter, r *http.Request) {
	st, ok := h.resolveRef(w, r)
	if !ok {
		return
	}
	if st.bundle.LicenseURL == "" {
		http.Error(w, "Missing License URL", http.StatusBadRequest)
		return
	}
	h.relayLicense(w, r, st.bundle.LicenseURL, st.creds)
}

func (h *Handlers) relayLicense(w http.ResponseWriter, r *http.Request, licenseURL string, creds forward.Credentials) {
	challenge, err := readBody(r.Body, maxChallengeSize)
	if err != nil {
		http.Error(w, "bad challenge", http.StatusBadRequest)
		return
	}

	resp, err := h.fwd.Fetch(r.Context(), http.MethodPost, licenseURL, bytes.NewReader(challenge), nil, creds)
	if err != nil {
		h.log.WithError(err).Error("license fetch failed", "host", urlutil.Hostname(licenseURL))
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}

	body, err := readBody(resp.Body, maxChallengeSize)
	if err != nil {
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

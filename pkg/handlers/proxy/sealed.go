package proxy

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"

	"addon-proxy-go/pkg/forward"
	"addon-proxy-go/pkg/paramount"
	"addon-proxy-go/pkg/remux"
	"addon-proxy-go/pkg/rewrite"
	"addon-proxy-go/pkg/token"
	"addon-proxy-go/pkg/types"
)

// sealedState is the verified input of a sealed-token route: the account
// session from the path key plus the upstream target from the query.
type sealedState struct {
	key   string
	sess  *token.Session
	grant *token.ProxyGrant
	url   string
}

// resolveSealed verifies the path key, the proxy grant and the target URL.
// A key or grant that does not unseal answers 401; a target that does not
// decode answers 400.
func (h *Handlers) resolveSealed(w http.ResponseWriter, r *http.Request) (*sealedState, bool) {
	key := r.PathValue("key")
	sess, err := h.sealer.UnsealSession(key, h.now())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	grant, err := h.sealer.UnsealGrant(r.URL.Query().Get("t"), h.now())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(r.URL.Query().Get("u"))
	if err != nil || len(raw) == 0 {
		http.Error(w, "Invalid URL", http.StatusBadRequest)
		return nil, false
	}

	return &sealedState{
		key:   key,
		sess:  sess,
		grant: grant,
		url:   string(raw),
	}, true
}

// sealedEmbedding rewrites manifest URLs back onto the sealed leg, carrying
// the same key and grant token the player arrived with.
func (h *Handlers) sealedEmbedding(st *sealedState, grantToken, bandwidth string) rewrite.Embedding {
	prefix := h.baseOrigin() + "/stremio/" + st.key + "/proxy/"

	embed := func(abs, endpoint string) string {
		q := url.Values{}
		q.Set("u", base64.RawURLEncoding.EncodeToString([]byte(abs)))
		q.Set("t", grantToken)
		if endpoint == "hls" && bandwidth != "" {
			q.Set("b", bandwidth)
		}
		return prefix + endpoint + "?" + q.Encode()
	}

	// LicenseProxyURL stays empty: this leg serves HLS only, and HLS key
	// URIs route through the seg endpoint like any other fetch.
	return rewrite.Embedding{
		Embed: func(abs string, _ rewrite.Target) string {
			endpoint := "seg"
			if types.DetectStreamKind(abs) == types.StreamKindHLS {
				endpoint = "hls"
			}
			return embed(abs, endpoint)
		},
	}
}

// SealedManifest serves a rewritten HLS playlist for a sealed target. An
// optional b query narrows a master playlist to the variant nearest that
// bandwidth before rewriting.
func (h *Handlers) SealedManifest(w http.ResponseWriter, r *http.Request) {
	st, ok := h.resolveSealed(w, r)
	if !ok {
		return
	}

	bandwidth := r.URL.Query().Get("b")
	var pre func(string) string
	if target, err := strconv.Atoi(bandwidth); err == nil && target > 0 {
		pre = func(text string) string {
			if !rewrite.IsMasterPlaylist(text) {
				return text
			}
			return rewrite.FilterClosestBandwidth(text, target)
		}
	}

	em := h.sealedEmbedding(st, r.URL.Query().Get("t"), bandwidth)
	creds := providerCreds(st.sess, st.grant.LsSession)
	h.serveManifest(w, r, types.StreamKindHLS, "application/vnd.apple.mpegurl", st.url, creds, em, pre)
}

// SealedSegment relays one media object for a sealed target.
func (h *Handlers) SealedSegment(w http.ResponseWriter, r *http.Request) {
	st, ok := h.resolveSealed(w, r)
	if !ok {
		return
	}
	h.fwd.Relay(w, r, st.url, providerCreds(st.sess, st.grant.LsSession), false)
}

// SealedLicense relays a Widevine challenge for a sealed target.
func (h *Handlers) SealedLicense(w http.ResponseWriter, r *http.Request) {
	st, ok := h.resolveSealed(w, r)
	if !ok {
		return
	}
	h.relayLicense(w, r, st.url, providerCreds(st.sess, st.grant.LsSession))
}

// SealedStream remuxes a sealed HLS target into a single MPEG-TS response
// for players that cannot follow playlists themselves.
func (h *Handlers) SealedStream(w http.ResponseWriter, r *http.Request) {
	st, ok := h.resolveSealed(w, r)
	if !ok {
		return
	}
	if h.remuxer == nil {
		http.Error(w, "remuxing disabled", http.StatusNotImplemented)
		return
	}

	err := h.remuxer.Serve(w, r, remux.Options{
		UpstreamURL: st.url,
		BearerToken: st.grant.LsSession,
		Cookie:      paramount.CookieHeader(st.sess.Cookies),
		Origin:      paramount.BaseURL,
		Quality:     r.URL.Query().Get("q"),
	})
	if err != nil {
		h.log.WithError(err).Error("remux failed")
	}
}

// SealedImage relays poster art without provider credentials. Images come
// off public CDNs; the grant only stops the route being an open relay.
func (h *Handlers) SealedImage(w http.ResponseWriter, r *http.Request) {
	st, ok := h.resolveSealed(w, r)
	if !ok {
		return
	}
	h.fwd.Relay(w, r, st.url, forward.Credentials{UserAgent: paramount.UserAgent}, false)
}

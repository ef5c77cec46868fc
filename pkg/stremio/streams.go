package stremio

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"addon-proxy-go/pkg/forward"
	"addon-proxy-go/pkg/paramount"
	"addon-proxy-go/pkg/refcache"
	"addon-proxy-go/pkg/rewrite"
	"addon-proxy-go/pkg/token"
	"addon-proxy-go/pkg/types"
)

const maxMasterPlaylistSize = 4 << 20

// Stream is one playable option in a stream listing.
type Stream struct {
	URL           string         `json:"url"`
	Name          string         `json:"name"`
	Title         string         `json:"title,omitempty"`
	BehaviorHints *BehaviorHints `json:"behaviorHints,omitempty"`
}

// BehaviorHints carries player guidance, including the Widevine license
// endpoint for DASH streams.
type BehaviorHints struct {
	NotWebReady bool       `json:"notWebReady,omitempty"`
	BingeGroup  string     `json:"bingeGroup,omitempty"`
	ProxyConfig *DRMConfig `json:"configuration,omitempty"`
}

type DRMConfig struct {
	DRM struct {
		Widevine struct {
			LicenseURL string `json:"licenseUrl"`
		} `json:"widevine"`
	} `json:"drm"`
}

type streamsResponse struct {
	Streams []Stream `json:"streams"`
}

// Streams resolves a live channel and publishes its playable options. Any
// failure degrades to an empty list so players fall through to other addons.
func (h *Handlers) Streams(w http.ResponseWriter, r *http.Request) {
	empty := streamsResponse{Streams: []Stream{}}

	sess, key, ok := h.sessionFromKey(r)
	if !ok {
		writeJSON(w, http.StatusOK, empty)
		return
	}
	if r.PathValue("type") != "tv" {
		writeJSON(w, http.StatusOK, empty)
		return
	}

	id := strings.TrimSuffix(r.PathValue("id"), ".json")
	slug, found := strings.CutPrefix(id, idPrefix)
	if !found || slug == "" {
		writeJSON(w, http.StatusOK, empty)
		return
	}

	src, err := h.resolver.ResolveLiveStream(r.Context(), sess, slug)
	if err != nil {
		h.log.WithError(err).Warn("stream resolution failed", "slug", slug)
		writeJSON(w, http.StatusOK, empty)
		return
	}

	writeJSON(w, http.StatusOK, streamsResponse{Streams: h.buildStreams(r, sess, key, src)})
}

// buildStreams turns one resolved source into the published stream list.
func (h *Handlers) buildStreams(r *http.Request, sess *token.Session, key string, src *types.StreamSource) []Stream {
	if types.DetectStreamKind(src.StreamingURL) == types.StreamKindDASH {
		return []Stream{h.dashStream(key, src)}
	}
	return h.hlsStreams(r, sess, key, src)
}

// dashStream routes DASH through the short-reference leg so the manifest,
// its segment templates and the license challenge all resolve off one sid.
func (h *Handlers) dashStream(key string, src *types.StreamSource) Stream {
	sid := h.refs.Shorten(refcache.Bundle{
		OwnerKey:      key,
		UpstreamURL:   src.StreamingURL,
		UpstreamToken: src.BearerToken,
		LicenseURL:    src.LicenseURL,
	})

	hints := &BehaviorHints{NotWebReady: true, ProxyConfig: &DRMConfig{}}
	hints.ProxyConfig.DRM.Widevine.LicenseURL = h.baseOrigin() + "/proxy/" + sid + "/license"

	return Stream{
		URL:           h.baseOrigin() + "/proxy/" + sid + "/mpd",
		Name:          "Paramount+",
		Title:         src.Title,
		BehaviorHints: hints,
	}
}

// hlsStreams publishes the auto-quality proxy stream, one entry per master
// variant when the master can be listed, and the MPEG-TS remux fallback.
func (h *Handlers) hlsStreams(r *http.Request, sess *token.Session, key string, src *types.StreamSource) []Stream {
	grant, err := h.sealer.Seal(token.NewGrant(src.BearerToken, h.cfg.GrantTTL, h.now()))
	if err != nil {
		h.log.WithError(err).Error("sealing proxy grant failed")
		return []Stream{}
	}

	sealed := func(endpoint string, extra url.Values) string {
		q := url.Values{}
		q.Set("u", base64.RawURLEncoding.EncodeToString([]byte(src.StreamingURL)))
		q.Set("t", grant)
		for k, vs := range extra {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		return h.baseOrigin() + "/stremio/" + key + "/proxy/" + endpoint + "?" + q.Encode()
	}

	streams := []Stream{{
		URL:   sealed("hls", nil),
		Name:  "Paramount+",
		Title: src.Title + " (Auto)",
		BehaviorHints: &BehaviorHints{
			NotWebReady: true,
			BingeGroup:  "pplus-" + src.Title,
		},
	}}

	for _, v := range h.masterVariants(r, sess, src) {
		streams = append(streams, Stream{
			URL:   sealed("hls", url.Values{"b": []string{strconv.Itoa(v.Bandwidth)}}),
			Name:  "Paramount+",
			Title: src.Title + " (" + v.Label() + ")",
			BehaviorHints: &BehaviorHints{
				NotWebReady: true,
				BingeGroup:  "pplus-" + src.Title,
			},
		})
	}

	streams = append(streams, Stream{
		URL:   sealed("stream", nil),
		Name:  "Paramount+ TS",
		Title: src.Title + " (MPEG-TS remux)",
		BehaviorHints: &BehaviorHints{
			NotWebReady: true,
			BingeGroup:  "pplus-" + src.Title,
		},
	})
	return streams
}

// masterVariants fetches the master playlist and lists its variants. Failure
// is tolerated; the auto stream still plays.
func (h *Handlers) masterVariants(r *http.Request, sess *token.Session, src *types.StreamSource) []rewrite.Variant {
	resp, err := h.fwd.Fetch(r.Context(), http.MethodGet, src.StreamingURL, nil, nil, forward.Credentials{
		BearerToken: src.BearerToken,
		Cookie:      paramount.CookieHeader(sess.Cookies),
		Origin:      paramount.BaseURL,
		Referer:     paramount.BaseURL,
		UserAgent:   paramount.UserAgent,
	})
	if err != nil {
		h.log.WithError(err).Warn("master playlist fetch failed")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMasterPlaylistSize))
	if err != nil {
		return nil
	}
	text := string(body)
	if !rewrite.IsMasterPlaylist(text) {
		return nil
	}

	variants, err := rewrite.ListVariants(text, src.StreamingURL)
	if err != nil {
		h.log.WithError(err).Warn("variant listing failed")
		return nil
	}
	return variants
}

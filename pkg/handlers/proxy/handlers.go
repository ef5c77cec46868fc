// Package proxy implements the HTTP surface of the media proxy: the
// short-reference leg (/proxy/{sid}/...) used inside rewritten manifests and
// the sealed-token leg (/stremio/{key}/proxy/...) published to players.
package proxy

import (
	"io"
	"net/http"
	"strings"
	"time"

	"addon-proxy-go/pkg/config"
	"addon-proxy-go/pkg/forward"
	"addon-proxy-go/pkg/interfaces"
	"addon-proxy-go/pkg/logging"
	"addon-proxy-go/pkg/paramount"
	"addon-proxy-go/pkg/registry"
	"addon-proxy-go/pkg/remux"
	"addon-proxy-go/pkg/token"
)

// maxManifestSize bounds how much manifest text is buffered for rewriting.
const maxManifestSize = 20 << 20

// maxChallengeSize bounds license challenge bodies.
const maxChallengeSize = 1 << 20

// Handlers carries the shared dependencies of all proxy routes.
type Handlers struct {
	cfg       *config.Config
	log       *logging.Logger
	sealer    *token.Sealer
	refs      interfaces.ShortReferencer
	rewriters *registry.Rewriters
	fwd       *forward.Forwarder
	remuxer   *remux.Remuxer

	now func() time.Time
}

func New(cfg *config.Config, log *logging.Logger, sealer *token.Sealer, refs interfaces.ShortReferencer, rewriters *registry.Rewriters, fwd *forward.Forwarder, remuxer *remux.Remuxer) *Handlers {
	return &Handlers{
		cfg:       cfg,
		log:       log.WithComponent("proxy"),
		sealer:    sealer,
		refs:      refs,
		rewriters: rewriters,
		fwd:       fwd,
		remuxer:   remuxer,
		now:       time.Now,
	}
}

// Register wires every proxy route into the mux. GET patterns also serve
// HEAD; the handlers suppress bodies themselves.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /proxy/{sid}/hls", h.RefManifest)
	mux.HandleFunc("GET /proxy/{sid}/mpd", h.RefManifest)
	mux.HandleFunc("GET /proxy/{sid}/seg", h.RefSegment)
	mux.HandleFunc("GET /proxy/{sid}/file/{template...}", h.RefFile)
	mux.HandleFunc("POST /proxy/{sid}/license", h.RefLicense)

	mux.HandleFunc("GET /stremio/{key}/proxy/hls", h.SealedManifest)
	mux.HandleFunc("GET /stremio/{key}/proxy/seg", h.SealedSegment)
	mux.HandleFunc("GET /stremio/{key}/proxy/stream", h.SealedStream)
	mux.HandleFunc("GET /stremio/{key}/proxy/img", h.SealedImage)
	mux.HandleFunc("POST /stremio/{key}/proxy/license", h.SealedLicense)
}

// baseOrigin is the externally visible origin rewritten URLs point at.
func (h *Handlers) baseOrigin() string {
	return strings.TrimRight(h.cfg.BaseURL, "/")
}

// providerCreds assembles upstream credentials from a session plus the
// per-stream bearer. The forwarder still gates attachment per host.
func providerCreds(sess *token.Session, bearer string) forward.Credentials {
	return forward.Credentials{
		BearerToken: bearer,
		Cookie:      paramount.CookieHeader(sess.Cookies),
		Origin:      paramount.BaseURL,
		Referer:     paramount.BaseURL,
		UserAgent:   paramount.UserAgent,
	}
}

// readBody drains a bounded request or response body.
func readBody(rc io.ReadCloser, limit int64) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, limit))
}

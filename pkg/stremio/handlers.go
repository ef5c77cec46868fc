// Package stremio implements the addon surface: the personalized manifest,
// the stream listing for live channels, and the device-code login flow that
// mints the sealed session key carried in every addon URL.
package stremio

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"addon-proxy-go/pkg/config"
	"addon-proxy-go/pkg/forward"
	"addon-proxy-go/pkg/interfaces"
	"addon-proxy-go/pkg/logging"
	"addon-proxy-go/pkg/paramount"
	"addon-proxy-go/pkg/token"
)

// sessionTTL is how long a minted session key stays valid.
const sessionTTL = 30 * 24 * time.Hour

// idPrefix namespaces catalog item ids so foreign ids are rejected cheaply.
const idPrefix = "pplus:"

// Authenticator is the provider login flow the device-code endpoints drive.
type Authenticator interface {
	StartDeviceAuth(ctx context.Context) (*paramount.DeviceAuth, error)
	PollDeviceAuth(ctx context.Context, auth *paramount.DeviceAuth) ([]string, bool, error)
	PickProfileID(ctx context.Context, cookies []string) (int64, error)
	SwitchProfile(ctx context.Context, cookies []string, profileID int64) ([]string, error)
}

// Handlers carries the shared dependencies of the addon routes.
type Handlers struct {
	cfg      *config.Config
	log      *logging.Logger
	sealer   *token.Sealer
	refs     interfaces.ShortReferencer
	resolver interfaces.StreamResolver
	auth     Authenticator
	fwd      *forward.Forwarder

	now func() time.Time
}

func New(cfg *config.Config, log *logging.Logger, sealer *token.Sealer, refs interfaces.ShortReferencer, resolver interfaces.StreamResolver, auth Authenticator, fwd *forward.Forwarder) *Handlers {
	return &Handlers{
		cfg:      cfg,
		log:      log.WithComponent("stremio"),
		sealer:   sealer,
		refs:     refs,
		resolver: resolver,
		auth:     auth,
		fwd:      fwd,
		now:      time.Now,
	}
}

// Register wires the addon routes into the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stremio/{key}/manifest.json", h.Manifest)
	mux.HandleFunc("GET /stremio/{key}/catalog/{rest...}", h.EmptyCatalog)
	mux.HandleFunc("GET /stremio/{key}/meta/{rest...}", h.EmptyMeta)
	mux.HandleFunc("GET /stremio/{key}/stream/{type}/{id...}", h.Streams)

	mux.HandleFunc("GET /auth/device/start", h.DeviceStart)
	mux.HandleFunc("GET /auth/device/poll", h.DevicePoll)

	mux.HandleFunc("GET /{$}", h.Landing)
}

func (h *Handlers) baseOrigin() string {
	return strings.TrimRight(h.cfg.BaseURL, "/")
}

// sessionFromKey unseals the key path segment. Addon routes degrade to empty
// payloads on failure instead of erroring, so players show nothing rather
// than a broken addon.
func (h *Handlers) sessionFromKey(r *http.Request) (*token.Session, string, bool) {
	key := r.PathValue("key")
	sess, err := h.sealer.UnsealSession(key, h.now())
	if err != nil {
		return nil, "", false
	}
	return sess, key, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// manifestPayload is the addon descriptor players fetch on install.
type manifestPayload struct {
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Resources   []string `json:"resources"`
	Types       []string `json:"types"`
	IDPrefixes  []string `json:"idPrefixes"`
	Catalogs    []any    `json:"catalogs"`
}

// Manifest serves the personalized addon descriptor. The key is validated so
// an uninstalled or expired key fails at install time, not first playback.
func (h *Handlers) Manifest(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.sessionFromKey(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid key"})
		return
	}

	writeJSON(w, http.StatusOK, manifestPayload{
		ID:          "community.paramountplus.live",
		Version:     "1.0.0",
		Name:        "Paramount+ Live",
		Description: "Live channels from a linked Paramount+ account",
		Resources:   []string{"stream"},
		Types:       []string{"tv"},
		IDPrefixes:  []string{idPrefix},
		Catalogs:    []any{},
	})
}

// EmptyCatalog answers catalog requests with no metas. Discovery happens
// outside the addon; only stream resolution is served here.
func (h *Handlers) EmptyCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"metas": []any{}})
}

// EmptyMeta answers meta requests with an empty object.
func (h *Handlers) EmptyMeta(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"meta": map[string]any{}})
}

// Landing serves a minimal install page pointing at the device-code flow.
func (h *Handlers) Landing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!doctype html>
<html>
<head><title>Paramount+ Live Addon</title></head>
<body>
<h1>Paramount+ Live Addon</h1>
<p>Link your account to get a personal addon URL:</p>
<ol>
<li>Open <code>/auth/device/start</code> and note the activation code.</li>
<li>Enter the code at <a href="https://www.paramountplus.com/activate">paramountplus.com/activate</a>.</li>
<li>Poll <code>/auth/device/poll?token=...</code> until it returns your manifest URL.</li>
</ol>
</body>
</html>
`))
}

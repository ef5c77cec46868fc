// Package app assembles the application: configuration, logging, outbound
// transport, the rewrite registry and every HTTP route.
package app

import (
	"os"

	"addon-proxy-go/pkg/config"
	"addon-proxy-go/pkg/forward"
	"addon-proxy-go/pkg/handlers/proxy"
	"addon-proxy-go/pkg/httpclient"
	"addon-proxy-go/pkg/logging"
	"addon-proxy-go/pkg/paramount"
	"addon-proxy-go/pkg/policy"
	"addon-proxy-go/pkg/refcache"
	"addon-proxy-go/pkg/registry"
	"addon-proxy-go/pkg/remux"
	"addon-proxy-go/pkg/rewrite"
	"addon-proxy-go/pkg/server"
	"addon-proxy-go/pkg/stremio"
	"addon-proxy-go/pkg/token"
)

// App is the assembled application.
type App struct {
	cfg  *config.Config
	log  *logging.Logger
	refs *refcache.MemoryCache
	srv  *server.Server
}

// New loads configuration and wires every component.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogJSON, os.Stdout)

	sealer, err := token.NewSealer(cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	client := httpclient.New(cfg, log)
	pol := policy.New(cfg.AdHostSuffixes)
	fwd := forward.New(client, pol, log)
	refs := refcache.New(refcache.DefaultTTL)

	rewriters := registry.NewRewriters()
	hls := rewrite.HLS{PreferQuality: cfg.QualityMode == config.QualityPrefer}
	if cfg.QualityMode == config.QualityClosest {
		hls.TargetBandwidth = cfg.TargetBandwidth
	}
	rewriters.Register(hls)
	rewriters.Register(rewrite.DASH{})

	provider := paramount.NewClient(client, log)
	remuxer := remux.New(cfg, log)

	srv := server.New(cfg, log)
	proxy.New(cfg, log, sealer, refs, rewriters, fwd, remuxer).Register(srv.Router())
	stremio.New(cfg, log, sealer, refs, provider, provider, fwd).Register(srv.Router())

	log.Info("application wired",
		"baseUrl", cfg.BaseURL,
		"qualityMode", string(cfg.QualityMode),
	)

	return &App{cfg: cfg, log: log, refs: refs, srv: srv}, nil
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	defer a.refs.Close()
	return a.srv.Start()
}

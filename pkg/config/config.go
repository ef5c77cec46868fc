// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// QualityMode selects how master playlist variants are post-processed.
type QualityMode string

const (
	// QualityOriginal keeps variants in manifest order.
	QualityOriginal QualityMode = "original"
	// QualityPrefer sorts variants by descending bandwidth.
	QualityPrefer QualityMode = "prefer-quality"
	// QualityClosest keeps the single variant nearest TargetBandwidth.
	QualityClosest QualityMode = "closest-bandwidth"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Secret used to derive the token sealing key. Required.
	SecretKey string

	// Proxy grant lifetime embedded into rewritten manifests.
	GrantTTL time.Duration

	// Quality selection
	QualityMode     QualityMode
	TargetBandwidth int

	// Ad-stitcher host suffixes that must never receive provider credentials.
	AdHostSuffixes []string

	// Outbound transport
	GlobalProxies   []string
	TransportRoutes []TransportRoute
	UTLSDomains     []string
	RequestTimeout  time.Duration

	// External remux helper
	StreamlinkPath string
	FFmpegPath     string

	// Logging
	LogLevel string
	LogJSON  bool
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Load reads configuration from environment variables.
// It fails when SECRET_KEY is absent: sealed tokens are worthless without a
// stable key, so the process must not come up half-configured.
func Load() (*Config, error) {
	secret := os.Getenv("SECRET_KEY")
	if secret == "" {
		return nil, errors.New("SECRET_KEY is required")
	}

	port := getEnvInt("PORT", 7860)
	cfg := &Config{
		Port:            port,
		BaseURL:         getEnvString("BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
		ReadTimeout:     getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		SecretKey:       secret,
		GrantTTL:        getEnvDuration("GRANT_TTL", 45*time.Minute),
		QualityMode:     parseQualityMode(os.Getenv("QUALITY_MODE")),
		TargetBandwidth: getEnvInt("TARGET_BANDWIDTH", 0),
		AdHostSuffixes:  getEnvStringSlice("AD_HOST_SUFFIXES", nil),
		GlobalProxies:   getEnvStringSlice("GLOBAL_PROXIES", nil),
		UTLSDomains:     getEnvStringSlice("UTLS_DOMAINS", nil),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		StreamlinkPath:  getEnvString("STREAMLINK_PATH", "streamlink"),
		FFmpegPath:      getEnvString("FFMPEG_PATH", "/usr/bin/ffmpeg"),
		LogLevel:        getEnvString("LOG_LEVEL", "info"),
		LogJSON:         getEnvBool("LOG_JSON", false),
	}

	cfg.TransportRoutes = parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES"))

	if cfg.QualityMode == QualityClosest && cfg.TargetBandwidth <= 0 {
		return nil, errors.New("QUALITY_MODE=closest-bandwidth requires TARGET_BANDWIDTH")
	}

	return cfg, nil
}

func parseQualityMode(s string) QualityMode {
	switch QualityMode(strings.ToLower(strings.TrimSpace(s))) {
	case QualityPrefer:
		return QualityPrefer
	case QualityClosest:
		return QualityClosest
	default:
		return QualityOriginal
	}
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		fields := strings.Split(part, ", ")
		for _, field := range fields {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			value := strings.TrimSpace(kv[1])

			switch strings.ToUpper(key) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.ToLower(value) == "true"
			case "DIRECT":
				route.Direct = strings.ToLower(value) == "true"
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Seconds first, duration string as fallback
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}

// Package remux wraps an external streamlink process that pulls an HLS
// stream and repackages it as a single MPEG-TS byte stream. Players that
// cannot drive HLS through a proxy (older TV clients) get one continuous
// transport stream instead.
package remux

import (
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"addon-proxy-go/pkg/config"
	"addon-proxy-go/pkg/logging"
)

// Remuxer spawns and tracks streamlink processes. Every process is bound to
// one client request and dies with it.
type Remuxer struct {
	streamlinkPath string
	ffmpegPath     string
	log            *logging.Logger

	mu     sync.Mutex
	active int
}

type Options struct {
	UpstreamURL string
	BearerToken string
	Cookie      string
	UserAgent   string
	// Origin is sent as both Origin and Referer when set.
	Origin string
	// Quality is a streamlink quality selector; empty means "best".
	Quality string
}

func New(cfg *config.Config, log *logging.Logger) *Remuxer {
	return &Remuxer{
		streamlinkPath: cfg.StreamlinkPath,
		ffmpegPath:     cfg.FFmpegPath,
		log:            log.WithComponent("remux"),
	}
}

// ActiveStreams reports the number of running remux processes.
func (r *Remuxer) ActiveStreams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Serve streams remuxed MPEG-TS to the client until either side quits. The
// process is killed through the request context when the player disconnects.
func (r *Remuxer) Serve(w http.ResponseWriter, req *http.Request, opts Options) error {
	h := w.Header()
	h.Set("Content-Type", "video/mp2t")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	// HEAD never needs a process; answering from headers alone keeps probes
	// from leaking live children.
	if req.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	args := r.buildArgs(opts)

	cmd := exec.CommandContext(req.Context(), r.streamlinkPath, args...)
	cmd.Stderr = &processLogger{log: r.log}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "streamlink stdout")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start streamlink")
	}

	r.mu.Lock()
	r.active++
	r.mu.Unlock()
	started := time.Now()
	r.log.Info("remux started", "quality", orBest(opts.Quality))

	defer func() {
		_ = cmd.Wait()
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
		r.log.Info("remux finished", "duration", time.Since(started).String())
	}()

	w.WriteHeader(http.StatusOK)

	buf := make([]byte, 64*1024)
	flusher, _ := w.(http.Flusher)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Player disconnected; context cancellation kills the child.
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return errors.Wrap(readErr, "read streamlink output")
		}
	}
}

func (r *Remuxer) buildArgs(opts Options) []string {
	args := []string{
		"--stdout",
		"--hls-live-restart",
		"--hls-segment-stream-data",
		"--stream-segment-threads", "3",
		"--hls-live-edge", "1",

		"--ffmpeg-ffmpeg", r.ffmpegPath,
		"--ffmpeg-fout", "mpegts",
		"--ffmpeg-video-transcode", "copy",
		"--ffmpeg-audio-transcode", "copy",

		"--http-header", "Cache-Control=no-store",
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = "AppleTV6,2/11.1"
	}
	args = append(args, "--http-header", "User-Agent="+ua)

	if opts.Origin != "" {
		args = append(args,
			"--http-header", "Origin="+opts.Origin,
			"--http-header", "Referer="+opts.Origin+"/",
		)
	}
	if opts.BearerToken != "" {
		args = append(args, "--http-header", "Authorization=Bearer "+strings.TrimSpace(opts.BearerToken))
	}
	if opts.Cookie != "" {
		args = append(args, "--http-header", "Cookie="+strings.TrimSpace(opts.Cookie))
	}

	return append(args, opts.UpstreamURL, orBest(opts.Quality))
}

func orBest(q string) string {
	if q == "" {
		return "best"
	}
	return q
}

type processLogger struct {
	log *logging.Logger
}

func (l *processLogger) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		l.log.Debug("streamlink output", "output", msg)
	}
	return len(p), nil
}

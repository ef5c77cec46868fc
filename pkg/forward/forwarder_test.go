package forward

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"addon-proxy-go/pkg/config"
	"addon-proxy-go/pkg/httpclient"
	"addon-proxy-go/pkg/logging"
	"addon-proxy-go/pkg/policy"
)

func newTestForwarder(t *testing.T, pol *policy.DomainPolicy) *Forwarder {
	t.Helper()
	log := logging.New("error", false, io.Discard)
	client := httpclient.New(&config.Config{}, log)
	if pol == nil {
		pol = policy.New(nil)
	}
	return New(client, pol, log)
}

func TestRelayPassesThroughStatusAndHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Etag", `"abc"`)
		w.Header().Set("Set-Cookie", "secret=1")
		w.Header().Set("X-Powered-By", "origin")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("segmentdata"))
	}))
	defer upstream.Close()

	f := newTestForwarder(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy/seg", nil)

	f.Relay(rec, req, upstream.URL+"/seg.m4s", Credentials{}, false)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "segmentdata" {
		t.Errorf("body = %q", got)
	}
	if rec.Header().Get("Etag") != `"abc"` {
		t.Error("allow-listed Etag header dropped")
	}
	if rec.Header().Get("Set-Cookie") != "" {
		t.Error("upstream Set-Cookie leaked to the player")
	}
	if rec.Header().Get("X-Powered-By") != "" {
		t.Error("non-allow-listed header leaked")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS not re-asserted")
	}
	if rec.Header().Get("Cache-Control") != "public, max-age=31536000, immutable" {
		t.Errorf("segment cache policy = %q", rec.Header().Get("Cache-Control"))
	}
}

func TestRelayManifestNeverCached(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer upstream.Close()

	f := newTestForwarder(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy/hls", nil)

	f.Relay(rec, req, upstream.URL+"/master.m3u8", Credentials{}, true)

	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("manifest cache policy = %q, want no-store", rec.Header().Get("Cache-Control"))
	}
	if rec.Header().Get("Content-Type") != "application/vnd.apple.mpegurl" {
		t.Errorf("manifest content type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestRelayHeadHasNoBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("should not reach the client"))
	}))
	defer upstream.Close()

	f := newTestForwarder(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/proxy/seg", nil)

	f.Relay(rec, req, upstream.URL+"/seg.ts", Credentials{}, false)

	if rec.Body.Len() != 0 {
		t.Errorf("HEAD response carried %d body bytes", rec.Body.Len())
	}
	if rec.Header().Get("Content-Type") != "video/mp2t" {
		t.Errorf("content type = %q, want video/mp2t", rec.Header().Get("Content-Type"))
	}
}

func TestRelayRangePassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=0-99" {
			t.Errorf("upstream got Range %q", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Range", "bytes 0-99/1000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 100))
	}))
	defer upstream.Close()

	f := newTestForwarder(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/proxy/seg", nil)
	req.Header.Set("Range", "bytes=0-99")

	f.Relay(rec, req, upstream.URL+"/seg.m4s", Credentials{}, false)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Header().Get("Content-Range") != "bytes 0-99/1000" {
		t.Errorf("Content-Range = %q", rec.Header().Get("Content-Range"))
	}
}

func TestCredentialsGatedByPolicy(t *testing.T) {
	var gotAuth, gotCookie string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
	}))
	defer upstream.Close()

	creds := Credentials{BearerToken: "tok", Cookie: "CBS_COM=abc"}
	req := httptest.NewRequest(http.MethodGet, "/proxy/seg", nil)

	f := newTestForwarder(t, nil)
	f.Relay(httptest.NewRecorder(), req, upstream.URL+"/seg.ts", creds, false)
	if gotAuth != "Bearer tok" || gotCookie != "CBS_COM=abc" {
		t.Errorf("provider host missing credentials: auth=%q cookie=%q", gotAuth, gotCookie)
	}

	// Same upstream re-classified as an ad host: nothing may be attached.
	gotAuth, gotCookie = "", ""
	adPolicy := policy.New([]string{"127.0.0.1"})
	f = newTestForwarder(t, adPolicy)
	f.Relay(httptest.NewRecorder(), req, upstream.URL+"/seg.ts", creds, false)
	if gotAuth != "" || gotCookie != "" {
		t.Errorf("ad host received credentials: auth=%q cookie=%q", gotAuth, gotCookie)
	}
}

func TestUpstreamErrorStatusPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer upstream.Close()

	f := newTestForwarder(t, nil)
	rec := httptest.NewRecorder()

	f.Relay(rec, httptest.NewRequest(http.MethodGet, "/proxy/seg", nil), upstream.URL+"/x.ts", Credentials{}, false)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want upstream 404 passed through", rec.Code)
	}
}

func TestTransportFailureIs502(t *testing.T) {
	f := newTestForwarder(t, nil)
	rec := httptest.NewRecorder()

	f.Relay(rec, httptest.NewRequest(http.MethodGet, "/proxy/seg", nil), "http://127.0.0.1:1/x.ts", Credentials{}, false)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestFixContentType(t *testing.T) {
	tests := []struct {
		url      string
		upstream string
		expected string
	}{
		{"https://cdn.example/a/seg.ts?auth=1", "application/octet-stream", "video/mp2t"},
		{"https://cdn.example/a/seg.m4s", "", "video/mp4"},
		{"https://cdn.example/a/init.mp4", "binary/octet-stream", "video/mp4"},
		{"https://cdn.example/a/audio.m4a", "", "audio/mp4"},
		{"https://cdn.example/a/master.m3u8", "text/plain", "application/vnd.apple.mpegurl"},
		{"https://cdn.example/a/stream.mpd", "text/xml", "application/dash+xml"},
		{"https://cdn.example/a/license", "application/octet-stream", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := FixContentType(tt.url, tt.upstream); got != tt.expected {
			t.Errorf("FixContentType(%q) = %q, want %q", tt.url, got, tt.expected)
		}
	}
}

package rewrite

import (
	"strings"
	"testing"
)

// testEmbedder records every URL it is handed and emits a recognizable proxy
// prefix per target.
func testEmbedder(seen *[]string) Embedder {
	return func(absoluteURL string, target Target) string {
		if seen != nil {
			*seen = append(*seen, absoluteURL)
		}
		if target == TargetKey {
			return "https://proxy.example/license?u=" + absoluteURL
		}
		return "https://proxy.example/fetch?u=" + absoluteURL
	}
}

func TestIsMasterPlaylist(t *testing.T) {
	master := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nvar.m3u8\n"
	media := "#EXTM3U\n#EXTINF:6.0,\nseg1.ts\n"

	if !IsMasterPlaylist(master) {
		t.Error("master playlist not detected")
	}
	if IsMasterPlaylist(media) {
		t.Error("media playlist misdetected as master")
	}
}

func TestRewriteMasterVariants(t *testing.T) {
	in := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:6",
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",URI="audio/en.m3u8"`,
		`#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=1280x720,AUDIO="aud"`,
		"hi/var.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=200000,RESOLUTION=640x360",
		"lo/var.m3u8",
		`#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=90000,URI="iframe.m3u8"`,
		"",
	}, "\n")

	var seen []string
	out := RewriteHLS(in, "https://cdn.example/live/master.m3u8", testEmbedder(&seen), false)
	lines := strings.Split(out, "\n")

	want := []string{
		"#EXTM3U",
		"#EXT-X-VERSION:6",
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",URI="https://proxy.example/fetch?u=https://cdn.example/live/audio/en.m3u8"`,
		`#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=1280x720,AUDIO="aud"`,
		"https://proxy.example/fetch?u=https://cdn.example/live/hi/var.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=200000,RESOLUTION=640x360",
		"https://proxy.example/fetch?u=https://cdn.example/live/lo/var.m3u8",
		`#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=90000,URI="https://proxy.example/fetch?u=https://cdn.example/live/iframe.m3u8"`,
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), out)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	for _, u := range seen {
		if strings.Contains(u, "..") || !strings.HasPrefix(u, "https://") {
			t.Errorf("embedder handed non-absolute URL %q", u)
		}
	}
}

func TestRewriteMasterPreferQuality(t *testing.T) {
	in := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-STREAM-INF:BANDWIDTH=200000",
		"lo.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=2000000",
		"hi.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000",
		"mid.m3u8",
	}, "\n")

	out := RewriteHLS(in, "https://cdn.example/m.m3u8", testEmbedder(nil), true)

	hi := strings.Index(out, "BANDWIDTH=2000000")
	mid := strings.Index(out, "BANDWIDTH=800000")
	lo := strings.Index(out, "BANDWIDTH=200000\n")
	if !(hi < mid && mid < lo) {
		t.Errorf("variants not sorted by descending bandwidth:\n%s", out)
	}
}

func TestRewriteMediaPlaylist(t *testing.T) {
	in := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:6",
		`#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example/k1",IV=0x0`,
		`#EXT-X-MAP:URI="init.mp4"`,
		"#EXTINF:6.0,",
		"seg1.ts",
		"#EXTINF:6.0,",
		"https://ads.example/ad/seg2.ts",
		"",
		"#EXT-X-ENDLIST",
	}, "\n")

	out := RewriteHLS(in, "https://cdn.example/live/chunks.m3u8", testEmbedder(nil), false)
	lines := strings.Split(out, "\n")

	want := []string{
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:6",
		`#EXT-X-KEY:METHOD=AES-128,URI="https://proxy.example/license?u=https://keys.example/k1",IV=0x0`,
		`#EXT-X-MAP:URI="https://proxy.example/fetch?u=https://cdn.example/live/init.mp4"`,
		"#EXTINF:6.0,",
		"https://proxy.example/fetch?u=https://cdn.example/live/seg1.ts",
		"#EXTINF:6.0,",
		"https://proxy.example/fetch?u=https://ads.example/ad/seg2.ts",
		"#EXT-X-ENDLIST",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), out)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRewriteMediaKeepsComments(t *testing.T) {
	in := "#EXTM3U\n# some comment\n#EXTINF:6.0,\nseg.ts\n"
	out := RewriteHLS(in, "https://cdn.example/c.m3u8", testEmbedder(nil), false)

	if !strings.Contains(out, "# some comment") {
		t.Errorf("comment line dropped:\n%s", out)
	}
}

func TestFilterClosestBandwidth(t *testing.T) {
	in := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:6",
		"#EXT-X-INDEPENDENT-SEGMENTS",
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",URI="audio.m3u8"`,
		"#EXT-X-STREAM-INF:BANDWIDTH=200000",
		"lo.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000",
		"mid.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=2000000",
		"hi.m3u8",
	}, "\n")

	out := FilterClosestBandwidth(in, 900000)

	if !strings.Contains(out, "mid.m3u8") {
		t.Errorf("closest variant missing:\n%s", out)
	}
	if strings.Contains(out, "lo.m3u8") || strings.Contains(out, "hi.m3u8") {
		t.Errorf("non-closest variants survived the filter:\n%s", out)
	}
	for _, tag := range []string{
		"#EXTM3U",
		"#EXT-X-VERSION:6",
		"#EXT-X-INDEPENDENT-SEGMENTS",
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",URI="audio.m3u8"`,
	} {
		if !strings.Contains(out, tag) {
			t.Errorf("non-variant tag %q not preserved verbatim:\n%s", tag, out)
		}
	}
}

func TestFilterClosestBandwidthNoVariants(t *testing.T) {
	in := "#EXTM3U\n#EXTINF:6.0,\nseg.ts\n"
	if out := FilterClosestBandwidth(in, 900000); out != in {
		t.Errorf("playlist without variants changed:\n%s", out)
	}
}

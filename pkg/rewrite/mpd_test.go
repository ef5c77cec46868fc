package rewrite

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

const testMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" xsi:schemaLocation="urn:mpeg:dash:schema:mpd:2011 DASH-MPD.xsd" type="static" mediaPresentationDuration="PT30S">
  <Period>
    <AdaptationSet mimeType="video/mp4" segmentAlignment="TRUE" maxWidth="1920">
      <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011" value="cenc"/>
      <ContentProtection schemeIdUri="urn:uuid:EDEF8BA9-79D6-4ACE-A3C8-27DCD51D21ED">
        <cenc:pssh>  AAAB
  CCDD  </cenc:pssh>
      </ContentProtection>
      <ContentProtection schemeIdUri="urn:uuid:9a04f079-9840-4286-ab92-e65be0885f95"/>
      <SegmentTemplate initialization="init/video.mp4" media="seg/video_$Number$.m4s" startNumber="1" timescale="90000"/>
      <Representation id="v1" bandwidth="800000"/>
    </AdaptationSet>
    <AdaptationSet mimeType="audio/mp4" subsegmentAlignment="1" bitstreamSwitching="TRUE">
      <ContentProtection schemeIdUri="urn:uuid:9a04f079-9840-4286-ab92-e65be0885f95"/>
      <SegmentTemplate initialization="audio_init.mp4" media="audio_$Time$.m4s"/>
    </AdaptationSet>
  </Period>
</MPD>`

func testMPDEmbedding() Embedding {
	return Embedding{
		Embed: func(absoluteURL string, _ Target) string {
			return "https://proxy.example/fetch?u=" + absoluteURL
		},
		EmbedTemplate: func(directoryURL, nameTemplate string) string {
			return "https://proxy.example/file/REF20CHARS1234567890/" + nameTemplate
		},
		LicenseProxyURL: "https://proxy.example/license/REF20CHARS1234567890",
	}
}

func TestMPDRewriteMalformed(t *testing.T) {
	for _, in := range []string{"not xml at all <", "<Other/>"} {
		if _, err := RewriteMPD(in, "https://cdn.example/live/stream.mpd", testMPDEmbedding()); !errors.Is(err, ErrMalformedManifest) {
			t.Errorf("Rewrite(%q) error = %v, want ErrMalformedManifest", in, err)
		}
	}
}

func TestMPDRewrite(t *testing.T) {
	out, err := RewriteMPD(testMPD, "https://cdn.example/live/stream.mpd", testMPDEmbedding())
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}

	t.Run("namespaces", func(t *testing.T) {
		if !strings.Contains(out, `xmlns:dash="urn:mpeg:dash:schema:mpd:2011"`) {
			t.Error("dash namespace missing")
		}
		if !strings.Contains(out, `xmlns:cenc="urn:mpeg:cenc:2013"`) {
			t.Error("cenc namespace missing")
		}
		if strings.Contains(out, "schemaLocation") {
			t.Error("xsi:schemaLocation not stripped")
		}
	})

	t.Run("alignment normalized", func(t *testing.T) {
		if !strings.Contains(out, `segmentAlignment="true"`) || strings.Contains(out, `"TRUE"`) {
			t.Error("segmentAlignment not normalized")
		}
		if !strings.Contains(out, `subsegmentAlignment="true"`) {
			t.Error("subsegmentAlignment not normalized")
		}
		if !strings.Contains(out, `bitstreamSwitching="true"`) {
			t.Error("bitstreamSwitching not normalized")
		}
	})

	t.Run("unknown attributes preserved", func(t *testing.T) {
		for _, attr := range []string{`maxWidth="1920"`, `startNumber="1"`, `timescale="90000"`, `bandwidth="800000"`} {
			if !strings.Contains(out, attr) {
				t.Errorf("attribute %s lost in rewrite", attr)
			}
		}
	})

	t.Run("content protection", func(t *testing.T) {
		if got := strings.Count(out, "<ContentProtection"); got != 2 {
			t.Errorf("ContentProtection count = %d, want 2 (widevine set only)", got)
		}
		if !strings.Contains(out, "<cenc:pssh>AAABCCDD</cenc:pssh>") {
			t.Error("pssh not whitespace-stripped")
		}
		if !strings.Contains(out, `value="Widevine"`) {
			t.Error("widevine descriptor value missing")
		}
		if !strings.Contains(out, "<dash:Laurl>https://proxy.example/license/REF20CHARS1234567890</dash:Laurl>") {
			t.Error("dash:Laurl missing")
		}
		if !strings.Contains(out, "<Laurl>https://proxy.example/license/REF20CHARS1234567890</Laurl>") {
			t.Error("plain Laurl missing")
		}
		if !strings.Contains(out, `value="cenc"`) {
			t.Error("mp4protection descriptor missing")
		}
		if strings.Contains(out, "9a04f079") {
			t.Error("non-widevine DRM system survived")
		}
	})

	t.Run("segment templates", func(t *testing.T) {
		if !strings.Contains(out, `media="https://proxy.example/file/REF20CHARS1234567890/video_$Number$.m4s"`) {
			t.Error("templated media URL not split through the proxy")
		}
		if !strings.Contains(out, `media="https://proxy.example/file/REF20CHARS1234567890/audio_$Time$.m4s"`) {
			t.Error("templated audio URL not split through the proxy")
		}
		if !strings.Contains(out, "https://proxy.example/fetch?u=https://cdn.example/live/init/video.mp4") {
			t.Error("plain initialization URL not proxied")
		}
		if strings.Contains(out, `media="seg/`) {
			t.Error("relative media URL leaked unrewritten")
		}
	})
}

func TestMPDRewriteDropsProtectionWithoutPSSH(t *testing.T) {
	in := `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011"><Period><AdaptationSet>
  <ContentProtection schemeIdUri="urn:uuid:9a04f079-9840-4286-ab92-e65be0885f95"/>
  <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011" value="cenc"/>
  <SegmentTemplate media="s_$Number$.m4s"/>
</AdaptationSet></Period></MPD>`

	out, err := RewriteMPD(in, "https://cdn.example/s.mpd", testMPDEmbedding())
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if strings.Contains(out, "ContentProtection") {
		t.Errorf("ContentProtection kept without a widevine pssh:\n%s", out)
	}
}

func TestMPDRewriteBaseURL(t *testing.T) {
	in := `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011">
  <BaseURL>https://edge.cdn.example/live/</BaseURL>
  <Period><AdaptationSet>
    <SegmentTemplate initialization="video/init.mp4" media="video/s_$Number$.m4s"/>
  </AdaptationSet></Period>
</MPD>`

	out, err := RewriteMPD(in, "https://origin.example/s.mpd", testMPDEmbedding())
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if strings.Contains(out, "<BaseURL>") {
		t.Error("BaseURL element survived; players would bypass the proxy")
	}
	if !strings.Contains(out, "https://proxy.example/fetch?u=https://edge.cdn.example/live/video/init.mp4") {
		t.Errorf("initialization not resolved against BaseURL:\n%s", out)
	}
}

package registry

import (
	"testing"

	"addon-proxy-go/pkg/rewrite"
	"addon-proxy-go/pkg/types"
)

func TestRewriterDispatch(t *testing.T) {
	r := NewRewriters()
	r.Register(rewrite.HLS{})
	r.Register(rewrite.DASH{})

	tests := []struct {
		url      string
		expected types.StreamKind
		found    bool
	}{
		{"https://cdn.example/live/master.m3u8?x=1", types.StreamKindHLS, true},
		{"https://cdn.example/live/stream.mpd", types.StreamKindDASH, true},
		{"https://cdn.example/live/seg_001.ts", types.StreamKindBinary, false},
	}
	for _, tt := range tests {
		rw, ok := r.ForURL(tt.url)
		if ok != tt.found {
			t.Errorf("ForURL(%q) found = %v, want %v", tt.url, ok, tt.found)
			continue
		}
		if ok && rw.Kind() != tt.expected {
			t.Errorf("ForURL(%q) kind = %v, want %v", tt.url, rw.Kind(), tt.expected)
		}
	}

	if got := len(r.All()); got != 2 {
		t.Errorf("All() = %d rewriters, want 2", got)
	}
}

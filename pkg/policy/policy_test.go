package policy

import "testing"

func TestRequiresProviderAuth(t *testing.T) {
	p := New(nil)

	tests := []struct {
		name     string
		hostname string
		expected bool
	}{
		{"provider host", "link.theplatform.paramountplus.com", true},
		{"provider cdn", "cbsivideo.com", true},
		{"license partner", "cbsi.live.ott.irdeto.com", true},
		{"ad stitcher", "dai.google.com", false},
		{"ad syndication", "pagead2.googlesyndication.com", false},
		{"doubleclick", "ad.doubleclick.net", false},
		{"suffix must match on label boundary", "notgoogle.com", true},
		{"empty hostname", "", false},
		{"case insensitive", "DAI.GOOGLE.COM", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.RequiresProviderAuth(tt.hostname); got != tt.expected {
				t.Errorf("RequiresProviderAuth(%q) = %v, want %v", tt.hostname, got, tt.expected)
			}
		})
	}
}

func TestExtraSuffixesFromConfig(t *testing.T) {
	p := New([]string{"adserver.example"})

	if p.RequiresProviderAuth("edge.adserver.example") {
		t.Error("configured ad suffix still receives credentials")
	}
	if !p.RequiresProviderAuth("cdn.provider.example") {
		t.Error("unrelated host lost credentials")
	}
}

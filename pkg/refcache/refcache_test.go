package refcache

import (
	"testing"
	"time"
)

func newTestCache() *MemoryCache {
	c := New(DefaultTTL)
	c.Close() // no background sweep in tests; deadlines are checked on read
	return c
}

func TestShortenIsDeterministicAndIdempotent(t *testing.T) {
	c := newTestCache()

	b := Bundle{
		OwnerKey:      "owner",
		UpstreamURL:   "https://cdn.example/path/",
		UpstreamToken: "bearer",
		LicenseURL:    "https://lic.example/widevine",
	}

	id1 := c.Shorten(b)
	id2 := c.Shorten(b)

	if id1 != id2 {
		t.Errorf("ids differ: %q vs %q", id1, id2)
	}
	if len(id1) != 20 {
		t.Errorf("id length = %d, want 20", len(id1))
	}
	if id1 != stringsUpper(id1) {
		t.Errorf("id not uppercased: %q", id1)
	}
	if c.Len() != 1 {
		t.Errorf("cache has %d entries, want 1", c.Len())
	}
}

func TestDifferentBundlesGetDifferentIDs(t *testing.T) {
	c := newTestCache()

	a := c.Shorten(Bundle{OwnerKey: "k", UpstreamURL: "https://cdn.example/a/", UpstreamToken: "t"})
	b := c.Shorten(Bundle{OwnerKey: "k", UpstreamURL: "https://cdn.example/b/", UpstreamToken: "t"})

	if a == b {
		t.Errorf("distinct bundles mapped to the same id %q", a)
	}
}

func TestExtendUnknownID(t *testing.T) {
	c := newTestCache()

	if got, ok := c.Extend("DOESNOTEXIST12345678"); ok || got != nil {
		t.Errorf("Extend on unknown id = (%v, %v), want (nil, false)", got, ok)
	}
}

func TestExtendReturnsBundle(t *testing.T) {
	c := newTestCache()

	in := Bundle{
		OwnerKey:         "owner",
		UpstreamURL:      "https://cdn.example/path/",
		UpstreamToken:    "bearer",
		FilenameTemplate: "seg_$Number$.m4s",
	}
	id := c.Shorten(in)

	out, ok := c.Extend(id)
	if !ok {
		t.Fatal("Extend miss on freshly inserted id")
	}
	if *out != in {
		t.Errorf("Extend = %+v, want %+v", out, in)
	}
}

func TestExpiryIndependentOfUse(t *testing.T) {
	c := newTestCache()
	base := time.Now()
	c.now = func() time.Time { return base }

	b := Bundle{OwnerKey: "k", UpstreamURL: "https://cdn.example/", UpstreamToken: "t"}
	id := c.Shorten(b)

	// Re-inserting late must not refresh the original deadline.
	c.now = func() time.Time { return base.Add(23 * time.Hour) }
	c.Shorten(b)
	if _, ok := c.Extend(id); !ok {
		t.Fatal("entry expired before its TTL")
	}

	c.now = func() time.Time { return base.Add(DefaultTTL + time.Minute) }
	if _, ok := c.Extend(id); ok {
		t.Error("entry resolvable after its TTL")
	}
}

func stringsUpper(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'a' && r <= 'z' {
			out[i] = r - 32
		}
	}
	return string(out)
}

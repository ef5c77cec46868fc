// Package policy decides which upstream hosts may receive the user's
// provider credentials. Live streams are server-side ad-stitched: segment
// URLs jump between the provider's CDN and third-party ad servers, and
// sending the bearer token or session cookies to an ad server would hand the
// account to a third party. Every outbound credential attach must go through
// this check first.
package policy

import "strings"

// defaultAdSuffixes covers the ad-insertion infrastructure observed in
// stitched manifests.
var defaultAdSuffixes = []string{
	"google.com",
	"googlesyndication.com",
	"doubleclick.net",
}

// DomainPolicy gates credential attachment per upstream hostname.
type DomainPolicy struct {
	adSuffixes []string
}

// New builds a policy. Extra ad-host suffixes from configuration are added
// to the built-in list; there is no way to shrink it.
func New(extraAdSuffixes []string) *DomainPolicy {
	suffixes := make([]string, 0, len(defaultAdSuffixes)+len(extraAdSuffixes))
	suffixes = append(suffixes, defaultAdSuffixes...)
	for _, s := range extraAdSuffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			suffixes = append(suffixes, s)
		}
	}
	return &DomainPolicy{adSuffixes: suffixes}
}

// RequiresProviderAuth reports whether Authorization, Cookie, Origin and
// Referer may be attached for the given hostname. Ad-stitcher hosts get
// false; the provider's own domains and its license partner get true.
func (p *DomainPolicy) RequiresProviderAuth(hostname string) bool {
	h := strings.ToLower(strings.TrimSpace(hostname))
	if h == "" {
		return false
	}
	for _, suffix := range p.adSuffixes {
		if h == suffix || strings.HasSuffix(h, "."+suffix) {
			return false
		}
	}
	return true
}

// Package rewrite transforms HLS playlists and DASH manifests so that every
// URI inside them routes back through the proxy.
package rewrite

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"addon-proxy-go/pkg/urlutil"
)

// Target tells the embedder what a rewritten URI points at, for the cases the
// URL alone cannot reveal.
type Target int

const (
	// TargetAuto lets the embedder sniff manifest vs segment from the URL.
	TargetAuto Target = iota
	// TargetKey marks decryption-key and license URIs.
	TargetKey
)

// Embedder turns an absolute upstream URL into a proxy URL carrying the
// request credential. The rewriters stay agnostic of how the credential is
// represented (sealed token, short reference, raw base64).
type Embedder func(absoluteURL string, target Target) string

// Variant is one quality option captured from a master playlist.
type Variant struct {
	Info       string
	URL        string
	Bandwidth  int
	Width      int
	Height     int
	AudioGroup string
}

var (
	bandwidthRE  = regexp.MustCompile(`BANDWIDTH=(\d+)`)
	resolutionRE = regexp.MustCompile(`RESOLUTION=(\d+)x(\d+)`)
	audioRE      = regexp.MustCompile(`AUDIO="([^"]+)"`)
	uriAttrRE    = regexp.MustCompile(`URI=["']([^"']+)["']`)
)

// IsMasterPlaylist reports whether an HLS document is a master playlist.
func IsMasterPlaylist(text string) bool {
	return strings.Contains(text, "#EXT-X-STREAM-INF")
}

// RewriteHLS rewrites every URI in an HLS playlist into a proxy URL. The
// upstream URL the playlist was fetched from anchors relative resolution.
// preferQuality re-orders variants by descending bandwidth (stable).
func RewriteHLS(text, upstreamURL string, embed Embedder, preferQuality bool) string {
	if IsMasterPlaylist(text) {
		return rewriteMaster(text, upstreamURL, embed, preferQuality)
	}
	return rewriteMedia(text, upstreamURL, embed)
}

func rewriteMaster(text, upstreamURL string, embed Embedder, preferQuality bool) string {
	lines := strings.Split(text, "\n")

	var headerLines []string
	var variants []Variant
	var iframeVariants []Variant

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			v := parseVariantInfo(line)
			// The following non-comment line is the variant URL.
			if i+1 < len(lines) {
				next := strings.TrimSpace(lines[i+1])
				if next != "" && !strings.HasPrefix(next, "#") {
					v.Info = line
					v.URL = embed(urlutil.Resolve(next, upstreamURL), TargetAuto)
					variants = append(variants, v)
					i++
				}
			}

		case strings.HasPrefix(line, "#EXT-X-I-FRAME-STREAM-INF"):
			v := parseVariantInfo(line)
			v.Info = rewriteURIAttr(line, upstreamURL, embed, TargetAuto)
			iframeVariants = append(iframeVariants, v)

		case strings.HasPrefix(line, "#EXT"):
			headerLines = append(headerLines, rewriteURIAttr(line, upstreamURL, embed, tagTarget(line)))

		case strings.HasPrefix(line, "#"):
			headerLines = append(headerLines, line)

		default:
			// A stray URL line without a preceding STREAM-INF tag. Should not
			// happen in a master, but proxy it rather than leak it.
			headerLines = append(headerLines, embed(urlutil.Resolve(line, upstreamURL), TargetAuto))
		}
	}

	if preferQuality {
		sort.SliceStable(variants, func(i, j int) bool {
			return variants[i].Bandwidth > variants[j].Bandwidth
		})
		sort.SliceStable(iframeVariants, func(i, j int) bool {
			return iframeVariants[i].Bandwidth > iframeVariants[j].Bandwidth
		})
	}

	out := make([]string, 0, len(headerLines)+2*len(variants)+len(iframeVariants))
	out = append(out, headerLines...)
	for _, v := range variants {
		out = append(out, v.Info, v.URL)
	}
	for _, v := range iframeVariants {
		out = append(out, v.Info)
	}
	return strings.Join(out, "\n")
}

func rewriteMedia(text, upstreamURL string, embed Embedder) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXT") {
			out = append(out, rewriteURIAttr(line, upstreamURL, embed, tagTarget(line)))
			continue
		}
		if strings.HasPrefix(line, "#") {
			out = append(out, line)
			continue
		}

		out = append(out, embed(urlutil.Resolve(line, upstreamURL), TargetAuto))
	}
	return strings.Join(out, "\n")
}

// FilterClosestBandwidth reduces a master playlist to the single variant
// whose bandwidth is nearest the target. Non-variant tags pass through
// verbatim, grouped header tags first, then media tags, then the rest.
func FilterClosestBandwidth(text string, targetBandwidth int) string {
	lines := strings.Split(text, "\n")

	var variants []Variant
	var otherTags []string

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			if i+1 < len(lines) {
				next := strings.TrimSpace(lines[i+1])
				if next != "" && !strings.HasPrefix(next, "#") {
					v := parseVariantInfo(line)
					v.Info = line
					v.URL = next
					variants = append(variants, v)
					i++
					continue
				}
			}
			continue
		}
		otherTags = append(otherTags, line)
	}

	if len(variants) == 0 {
		return text
	}

	closest := variants[0]
	for _, v := range variants[1:] {
		if abs(v.Bandwidth-targetBandwidth) < abs(closest.Bandwidth-targetBandwidth) {
			closest = v
		}
	}

	var header, media, global []string
	for _, tag := range otherTags {
		switch {
		case strings.HasPrefix(tag, "#EXTM3U"), strings.HasPrefix(tag, "#EXT-X-VERSION"):
			header = append(header, tag)
		case strings.HasPrefix(tag, "#EXT-X-MEDIA"):
			media = append(media, tag)
		default:
			global = append(global, tag)
		}
	}

	out := make([]string, 0, len(otherTags)+2)
	out = append(out, header...)
	out = append(out, media...)
	out = append(out, global...)
	out = append(out, closest.Info, closest.URL)
	return strings.Join(out, "\n") + "\n"
}

// rewriteURIAttr rewrites the URI="..." attribute of a tag line in place.
// Lines without the attribute pass through unchanged.
func rewriteURIAttr(line, upstreamURL string, embed Embedder, target Target) string {
	m := uriAttrRE.FindStringSubmatchIndex(line)
	if m == nil {
		return line
	}
	uri := line[m[2]:m[3]]
	rewritten := embed(urlutil.Resolve(uri, upstreamURL), target)
	return line[:m[2]] + rewritten + line[m[3]:]
}

// tagTarget classifies URI-carrying tags: key tags route to the license leg,
// everything else (media tracks, init maps) is sniffed from the URL.
func tagTarget(line string) Target {
	if strings.HasPrefix(line, "#EXT-X-KEY") || strings.HasPrefix(line, "#EXT-X-SESSION-KEY") {
		return TargetKey
	}
	return TargetAuto
}

func parseVariantInfo(line string) Variant {
	v := Variant{}
	if m := bandwidthRE.FindStringSubmatch(line); m != nil {
		v.Bandwidth, _ = strconv.Atoi(m[1])
	}
	if m := resolutionRE.FindStringSubmatch(line); m != nil {
		v.Width, _ = strconv.Atoi(m[1])
		v.Height, _ = strconv.Atoi(m[2])
	}
	if m := audioRE.FindStringSubmatch(line); m != nil {
		v.AudioGroup = m[1]
	}
	return v
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

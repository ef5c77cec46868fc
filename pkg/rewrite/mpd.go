package rewrite

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/pkg/errors"

	"addon-proxy-go/pkg/urlutil"
)

// ErrMalformedManifest is returned when a manifest cannot be parsed. The
// rewriters fail closed: a document that cannot be rewritten is never served
// half-rewritten, since any missed URI would leak the upstream origin.
var ErrMalformedManifest = errors.New("malformed manifest")

const (
	widevineSchemeID = "urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"
	mp4ProtectionID  = "urn:mpeg:dash:mp4protection:2011"

	dashNS = "urn:mpeg:dash:schema:mpd:2011"
	cencNS = "urn:mpeg:cenc:2013"
)

// RewriteMPD parses, rewrites and re-serializes a DASH manifest fetched from
// upstreamURL, preserving every attribute it does not understand.
func RewriteMPD(text, upstreamURL string, em Embedding) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return "", errors.Wrap(ErrMalformedManifest, err.Error())
	}

	root := doc.SelectElement("MPD")
	if root == nil {
		return "", errors.Wrap(ErrMalformedManifest, "no MPD root element")
	}

	root.CreateAttr("xmlns:dash", dashNS)
	root.CreateAttr("xmlns:cenc", cencNS)
	root.RemoveAttr("xsi:schemaLocation")

	// Fold BaseURL into the resolution anchor so every rewritten URL is
	// absolute from the player's point of view.
	anchor := upstreamURL
	for _, base := range root.SelectElements("BaseURL") {
		anchor = urlutil.Resolve(strings.TrimSpace(base.Text()), anchor)
		root.RemoveChild(base)
	}

	for _, period := range root.SelectElements("Period") {
		periodAnchor := anchor
		for _, base := range period.SelectElements("BaseURL") {
			periodAnchor = urlutil.Resolve(strings.TrimSpace(base.Text()), periodAnchor)
			period.RemoveChild(base)
		}
		for _, as := range period.SelectElements("AdaptationSet") {
			rewriteAdaptationSet(as, periodAnchor, em)
		}
	}

	out, err := doc.WriteToString()
	if err != nil {
		return "", errors.Wrap(err, "serialize mpd")
	}
	// Some encoders pad attribute values with non-breaking spaces, which
	// trips strict players.
	out = strings.ReplaceAll(out, "\u00a0", " ")
	return strings.TrimSpace(out), nil
}

func rewriteAdaptationSet(as *etree.Element, anchor string, em Embedding) {
	normalizeAlignment(as)
	rewriteContentProtection(as, em)

	for _, st := range as.SelectElements("SegmentTemplate") {
		rewriteSegmentTemplate(st, anchor, em)
	}
	for _, rep := range as.SelectElements("Representation") {
		normalizeAlignment(rep)
		for _, st := range rep.SelectElements("SegmentTemplate") {
			rewriteSegmentTemplate(st, anchor, em)
		}
	}
}

// normalizeAlignment forces alignment flags to "true". Upstream emits
// "TRUE"/"1" variants that some players reject.
func normalizeAlignment(el *etree.Element) {
	for _, name := range []string{"segmentAlignment", "subsegmentAlignment", "bitstreamSwitching"} {
		if attr := el.SelectAttr(name); attr != nil {
			el.CreateAttr(name, "true")
		}
	}
}

// rewriteContentProtection collapses the advertised DRM systems down to
// Widevine through the license proxy. When no Widevine PSSH is present the
// protection elements are dropped entirely rather than left pointing at an
// unreachable license server.
func rewriteContentProtection(as *etree.Element, em Embedding) {
	cps := as.SelectElements("ContentProtection")
	if len(cps) == 0 {
		return
	}

	var pssh string
	for _, cp := range cps {
		scheme := strings.ToLower(cp.SelectAttrValue("schemeIdUri", ""))
		if scheme != widevineSchemeID {
			continue
		}
		if el := cp.SelectElement("cenc:pssh"); el != nil {
			pssh = stripWhitespace(el.Text())
		}
	}

	for _, cp := range cps {
		as.RemoveChild(cp)
	}
	if pssh == "" {
		return
	}

	widevine := etree.NewElement("ContentProtection")
	widevine.CreateAttr("schemeIdUri", widevineSchemeID)
	widevine.CreateAttr("value", "Widevine")
	widevine.CreateElement("cenc:pssh").SetText(pssh)
	widevine.CreateElement("dash:Laurl").SetText(em.LicenseProxyURL)
	widevine.CreateElement("Laurl").SetText(em.LicenseProxyURL)

	common := etree.NewElement("ContentProtection")
	common.CreateAttr("schemeIdUri", mp4ProtectionID)
	common.CreateAttr("value", "cenc")

	as.InsertChildAt(0, widevine)
	as.InsertChildAt(0, common)
}

func rewriteSegmentTemplate(st *etree.Element, anchor string, em Embedding) {
	for _, name := range []string{"initialization", "media"} {
		attr := st.SelectAttr(name)
		if attr == nil || attr.Value == "" {
			continue
		}
		st.CreateAttr(name, rewriteTemplateURL(attr.Value, anchor, em))
	}
}

// rewriteTemplateURL maps a segment URL to its proxy form. Templated URLs
// keep their $...$ tail intact: only the directory is exchanged, the player
// still expands $Number$/$Time$ itself.
func rewriteTemplateURL(raw, anchor string, em Embedding) string {
	abs := urlutil.Resolve(raw, anchor)
	if !urlutil.HasSegmentTemplate(abs) {
		return em.Embed(abs, TargetAuto)
	}
	dir, name := urlutil.SplitSegmentTemplate(abs)
	return em.EmbedTemplate(dir, name)
}

func stripWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

package paramount

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"addon-proxy-go/pkg/token"
	"addon-proxy-go/pkg/types"
)

// ErrNoStream is returned when the provider has no playable stream for a
// catalog item.
var ErrNoStream = errors.New("no playable stream")

// LiveChannel is one entry of the provider's live channel listing.
type LiveChannel struct {
	Slug        string
	Name        string
	ProgramName string
	ContentID   string
	LogoPath    string
}

// LiveChannels fetches the live channel listing. The response shape drifts
// between API versions, so every known nesting is probed.
func (c *Client) LiveChannels(ctx context.Context, session *token.Session) ([]LiveChannel, error) {
	q := url.Values{"at": {atToken}, "locale": {locale}}
	body, err := c.get(ctx, "/apps-api/v3.0/androidphone/live/channels.json?"+q.Encode(), session.Cookies)
	if err != nil {
		return nil, errors.Wrap(err, "live channels")
	}

	var listing gjson.Result
	for _, path := range []string{"channels", "data.channels", "data.listings", "data.data.listings"} {
		if r := gjson.GetBytes(body, path); r.IsArray() {
			listing = r
			break
		}
	}

	var channels []LiveChannel
	listing.ForEach(func(_, e gjson.Result) bool {
		ch := LiveChannel{
			Slug:     e.Get("slug").String(),
			Name:     e.Get("channelName").String(),
			LogoPath: e.Get("filePathLogo").String(),
		}
		if ch.Slug == "" || ch.Name == "" {
			return true
		}
		program := e.Get("currentListing.0")
		if !program.Exists() {
			program = e.Get("upcomingListing.0")
		}
		ch.ProgramName = program.Get("title").String()
		for _, path := range []string{"videoContentId", "contentId"} {
			if id := program.Get(path).String(); id != "" {
				ch.ContentID = id
				break
			}
		}
		if ch.ContentID == "" {
			ch.ContentID = firstString(e, "videoContentId", "contentId")
		}
		channels = append(channels, ch)
		return true
	})
	return channels, nil
}

// ResolveLiveStream turns a channel slug into a playable stream source.
func (c *Client) ResolveLiveStream(ctx context.Context, session *token.Session, slug string) (*types.StreamSource, error) {
	channels, err := c.LiveChannels(ctx, session)
	if err != nil {
		return nil, err
	}

	var channel *LiveChannel
	for i := range channels {
		if channels[i].Slug == slug {
			channel = &channels[i]
			break
		}
	}
	if channel == nil || channel.ContentID == "" {
		return nil, errors.Wrapf(ErrNoStream, "unknown channel %q", slug)
	}

	src, err := c.StreamData(ctx, session, channel.ContentID)
	if err != nil {
		return nil, err
	}

	title := channel.Name
	if channel.ProgramName != "" && !strings.EqualFold(channel.ProgramName, channel.Name) {
		title = channel.Name + " — " + channel.ProgramName
	}
	src.Title = title
	return src, nil
}

// StreamData asks the DRM gateway for a playback token. The response carries
// the manifest URL somewhere in a shifting structure plus the ls_session
// bearer and, for DASH, the Widevine license endpoint.
func (c *Client) StreamData(ctx context.Context, session *token.Session, contentID string) (*types.StreamSource, error) {
	q := url.Values{"at": {atToken}, "contentId": {contentID}, "locale": {locale}}
	body, err := c.get(ctx, "/apps-api/v3.1/androidphone/irdeto-control/session-token.json?"+q.Encode(), session.Cookies)
	if err != nil {
		return nil, errors.Wrap(err, "session token")
	}

	manifestURL := PickManifestURL(body)
	lsSession := gjson.GetBytes(body, "ls_session").String()
	if manifestURL == "" || lsSession == "" {
		return nil, errors.Wrapf(ErrNoStream, "content %s", contentID)
	}

	return &types.StreamSource{
		StreamingURL: manifestURL,
		BearerToken:  lsSession,
		LicenseURL:   gjson.GetBytes(body, "url").String(),
	}, nil
}

// PickManifestURL finds the playback manifest URL in a token response. Known
// fields are tried first, then every string in the document is scanned; a
// document whose only URL is the license endpoint has no manifest.
func PickManifestURL(body []byte) string {
	known := []string{"streamingUrl", "hls.url", "hlsUrl", "playback.hls", "playback.url", "manifestUrl"}
	var candidates []string
	for _, path := range known {
		if v := gjson.GetBytes(body, path).String(); v != "" {
			candidates = append(candidates, v)
		}
	}
	collectStrings(gjson.ParseBytes(body), &candidates)

	for _, u := range candidates {
		if IsLicenseURL(u) {
			continue
		}
		if strings.Contains(u, ".m3u8") || strings.Contains(u, ".mpd") {
			return u
		}
	}
	return ""
}

// IsLicenseURL reports whether a URL points at the Widevine license
// endpoint rather than a manifest.
func IsLicenseURL(u string) bool {
	return strings.Contains(strings.ToLower(u), "getlicense")
}

func collectStrings(r gjson.Result, out *[]string) {
	switch {
	case r.Type == gjson.String:
		*out = append(*out, r.String())
	case r.IsArray() || r.IsObject():
		r.ForEach(func(_, v gjson.Result) bool {
			collectStrings(v, out)
			return true
		})
	}
}

func firstString(e gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := e.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}

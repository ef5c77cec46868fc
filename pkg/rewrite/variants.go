package rewrite

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
	"github.com/pkg/errors"

	"addon-proxy-go/pkg/urlutil"
)

// ListVariants parses a master playlist and returns its quality options with
// absolute URLs, sorted by descending bandwidth. A media playlist yields an
// empty list.
func ListVariants(text, upstreamURL string) ([]Variant, error) {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(text), true)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedManifest, err.Error())
	}
	if listType != m3u8.MASTER {
		return nil, nil
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return nil, errors.Wrap(ErrMalformedManifest, "unexpected playlist type")
	}

	variants := make([]Variant, 0, len(master.Variants))
	for _, mv := range master.Variants {
		if mv == nil || mv.URI == "" || mv.Iframe {
			continue
		}
		v := Variant{
			URL:        urlutil.Resolve(mv.URI, upstreamURL),
			Bandwidth:  int(mv.Bandwidth),
			AudioGroup: mv.Audio,
		}
		if parts := strings.SplitN(mv.Resolution, "x", 2); len(parts) == 2 {
			v.Width, _ = strconv.Atoi(parts[0])
			v.Height, _ = strconv.Atoi(parts[1])
		}
		variants = append(variants, v)
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})
	return variants, nil
}

// Label renders a human-readable quality name for stream pickers.
func (v Variant) Label() string {
	if v.Height > 0 {
		return fmt.Sprintf("%dp", v.Height)
	}
	if v.Bandwidth > 0 {
		return fmt.Sprintf("%.1f Mbps", float64(v.Bandwidth)/1e6)
	}
	return "Auto"
}

// Package m3u8 parses HLS master and media playlists. Grounded on the
// teacher's internal/downloader/hls package: master-vs-media detection
// via #EXT-X-STREAM-INF, bandwidth-based variant selection, and
// relative-URL resolution for segments, generalized here to feed the
// Playlist Resolver and the Segment Downloader rather than being
// hard-wired to one downloader implementation.
package m3u8

import (
	"bufio"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Variant is one entry of a master playlist: either a video stream
// declared by #EXT-X-STREAM-INF (Type == ""), or an alternate audio/
// subtitle rendition declared by #EXT-X-MEDIA (Type == "AUDIO" or
// "SUBTITLES"), per RFC 8216 §4.3.4.1.
type Variant struct {
	URL       string
	Bandwidth int
	Height    int
	Language  string
	Type      string
}

// Segment is one entry of a media playlist.
type Segment struct {
	URL      string
	Duration float64
}

// MediaPlaylist is a parsed, ordered sequence of segments.
type MediaPlaylist struct {
	Segments []Segment
}

var (
	streamInfRe  = regexp.MustCompile(`#EXT-X-STREAM-INF:(.*)`)
	bandwidthRe  = regexp.MustCompile(`BANDWIDTH=(\d+)`)
	resolutionRe = regexp.MustCompile(`RESOLUTION=\d+x(\d+)`)
	extinfRe     = regexp.MustCompile(`#EXTINF:([\d.]+)`)
	mediaRe      = regexp.MustCompile(`#EXT-X-MEDIA:(.*)`)
	mediaTypeRe  = regexp.MustCompile(`TYPE=([A-Z-]+)`)
	mediaLangRe  = regexp.MustCompile(`LANGUAGE="([^"]+)"`)
	mediaURIRe   = regexp.MustCompile(`URI="([^"]+)"`)
)

// IsMasterPlaylist reports whether body declares variant streams rather
// than listing segments directly.
func IsMasterPlaylist(body string) bool {
	return strings.Contains(body, "#EXT-X-STREAM-INF")
}

// ParseMaster extracts every variant stream, resolving relative variant
// URLs against baseURL.
func ParseMaster(body, baseURL string) ([]Variant, error) {
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var variants []Variant
	var pending *Variant

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m := mediaRe.FindStringSubmatch(line); m != nil {
			attrs := m[1]
			typeMatch := mediaTypeRe.FindStringSubmatch(attrs)
			uriMatch := mediaURIRe.FindStringSubmatch(attrs)
			if typeMatch == nil || uriMatch == nil {
				continue
			}
			mediaType := typeMatch[1]
			if mediaType != "AUDIO" && mediaType != "SUBTITLES" {
				continue // CLOSED-CAPTIONS and VIDEO renditions carry no fetchable URI here
			}
			resolved, err := resolveURL(baseURL, uriMatch[1])
			if err != nil {
				return nil, fmt.Errorf("resolve rendition uri %q: %w", uriMatch[1], err)
			}
			v := Variant{URL: resolved, Type: mediaType}
			if lm := mediaLangRe.FindStringSubmatch(attrs); lm != nil {
				v.Language = lm[1]
			}
			variants = append(variants, v)
			continue
		}
		if m := streamInfRe.FindStringSubmatch(line); m != nil {
			attrs := m[1]
			v := Variant{}
			if bm := bandwidthRe.FindStringSubmatch(attrs); bm != nil {
				v.Bandwidth, _ = strconv.Atoi(bm[1])
			}
			if rm := resolutionRe.FindStringSubmatch(attrs); rm != nil {
				v.Height, _ = strconv.Atoi(rm[1])
			}
			pending = &v
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if pending != nil {
			resolved, err := resolveURL(baseURL, line)
			if err != nil {
				return nil, fmt.Errorf("resolve variant url %q: %w", line, err)
			}
			pending.URL = resolved
			variants = append(variants, *pending)
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(VideoVariants(variants)) == 0 {
		return nil, fmt.Errorf("no variants found in master playlist")
	}
	return variants, nil
}

// VideoVariants filters variants down to the video stream entries
// declared by #EXT-X-STREAM-INF, excluding alternate audio/subtitle
// renditions. Quality selection (SelectBestVariant/SelectVariantByHeight)
// operates only over this subset.
func VideoVariants(variants []Variant) []Variant {
	out := make([]Variant, 0, len(variants))
	for _, v := range variants {
		if v.Type == "" {
			out = append(out, v)
		}
	}
	return out
}

// AudioRenditions returns the available #EXT-X-MEDIA TYPE=AUDIO
// renditions keyed by language.
func AudioRenditions(variants []Variant) map[string]string {
	return renditionsByLanguage(variants, "AUDIO")
}

// SubtitleRenditions returns the available #EXT-X-MEDIA TYPE=SUBTITLES
// renditions keyed by language.
func SubtitleRenditions(variants []Variant) map[string]string {
	return renditionsByLanguage(variants, "SUBTITLES")
}

func renditionsByLanguage(variants []Variant, mediaType string) map[string]string {
	out := map[string]string{}
	for _, v := range variants {
		if v.Type == mediaType && v.Language != "" {
			out[v.Language] = v.URL
		}
	}
	return out
}

// ParseMedia extracts the ordered segment list from a media playlist,
// resolving relative segment URLs against baseURL. The returned sequence
// is finite, per §4.4 step 1.
func ParseMedia(body, baseURL string) (*MediaPlaylist, error) {
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var segments []Segment
	var pendingDuration float64

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m := extinfRe.FindStringSubmatch(line); m != nil {
			pendingDuration, _ = strconv.ParseFloat(m[1], 64)
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		resolved, err := resolveURL(baseURL, line)
		if err != nil {
			return nil, fmt.Errorf("resolve segment url %q: %w", line, err)
		}
		segments = append(segments, Segment{URL: resolved, Duration: pendingDuration})
		pendingDuration = 0
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &MediaPlaylist{Segments: segments}, nil
}

// SelectBestVariant picks the highest-bandwidth variant, per §4.3's
// quality == "best" rule.
func SelectBestVariant(variants []Variant) Variant {
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

// SelectVariantByHeight implements §4.3's non-"best" rule: pick the
// variant whose reported height equals want, falling back to the
// nearest-not-exceeding, then the highest available if none fits.
func SelectVariantByHeight(variants []Variant, want int) Variant {
	for _, v := range variants {
		if v.Height == want {
			return v
		}
	}
	var nearestBelow *Variant
	for i := range variants {
		v := &variants[i]
		if v.Height > 0 && v.Height < want {
			if nearestBelow == nil || v.Height > nearestBelow.Height {
				nearestBelow = v
			}
		}
	}
	if nearestBelow != nil {
		return *nearestBelow
	}
	return SelectBestVariant(variants)
}

func resolveURL(base, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// Package resolver implements the Playlist Resolver (§4.3): turns a
// (catalogueId, kind, season?, episode?) tuple into an ordered set of
// PlaylistDescriptors. Grounded on the teacher's
// internal/providers/movies/hdrezka goquery-based embed-page scraping,
// generalized to target the configured provider base URL: the embed URL
// is built from the base URL and the request tuple, and the manifest is
// located by a generic DOM/script scan rather than site-specific selectors.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stormino/vixsrc-downloader/internal/apperrors"
	"github.com/stormino/vixsrc-downloader/internal/fetch"
	"github.com/stormino/vixsrc-downloader/internal/m3u8"
	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

// sentinelNotFoundTokens are body substrings that mark a definite
// missing-content response even on a 200 status.
var sentinelNotFoundTokens = []string{"content not found", "video not found", "page not found"}

// Request is the Resolver's input.
type Request struct {
	CatalogueID string
	Kind        taskmodel.Kind
	Season      int
	Episode     int
	Languages   []string
	Quality     taskmodel.Quality
}

// Result carries the descriptors plus per-language miss bookkeeping so
// callers can populate result.metadata.missingLanguages /
// result.metadata.missingSubtitles.
type Result struct {
	Descriptors     []taskmodel.PlaylistDescriptor
	MissingAudio    []string // requested languages with no AUDIO rendition
	MissingSubtitle []string // requested languages with no SUBTITLES rendition
}

// Resolver resolves catalogue identifiers into playlist descriptors.
type Resolver struct {
	baseURL string
	fetcher *fetch.Fetcher
}

// New builds a Resolver against the configured provider base URL.
func New(baseURL string, fetcher *fetch.Fetcher) *Resolver {
	return &Resolver{baseURL: strings.TrimRight(baseURL, "/"), fetcher: fetcher}
}

func (r *Resolver) embedURL(req Request) string {
	if req.Kind == taskmodel.KindTV {
		return fmt.Sprintf("%s/embed/%s/%d/%d", r.baseURL, req.CatalogueID, req.Season, req.Episode)
	}
	return fmt.Sprintf("%s/embed/%s", r.baseURL, req.CatalogueID)
}

// Resolve fetches the embed page, locates the master manifest, and
// builds the exactly-one-VIDEO-plus-N-AUDIO-plus-N-SUBTITLE descriptor
// set per §4.3's policy.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	embedURL := r.embedURL(req)

	resp, err := r.fetcher.Fetch(ctx, fetch.Request{Method: "GET", URL: embedURL})
	if err != nil {
		return nil, &apperrors.PlaylistExtractionError{EmbedURL: embedURL, CatalogueID: req.CatalogueID, Err: err}
	}

	if resp.StatusCode == 404 {
		return nil, &apperrors.NotFound{What: "catalogue id " + req.CatalogueID}
	}
	body := string(resp.Body)
	lowerBody := strings.ToLower(body)
	for _, token := range sentinelNotFoundTokens {
		if strings.Contains(lowerBody, token) {
			return nil, &apperrors.NotFound{What: "catalogue id " + req.CatalogueID}
		}
	}

	manifestURL, err := locateManifestURL(body, embedURL)
	if err != nil {
		return nil, &apperrors.PlaylistExtractionError{EmbedURL: embedURL, CatalogueID: req.CatalogueID, Err: err}
	}

	manifestResp, err := r.fetcher.Fetch(ctx, fetch.Request{Method: "GET", URL: manifestURL})
	if err != nil {
		return nil, &apperrors.PlaylistExtractionError{EmbedURL: embedURL, CatalogueID: req.CatalogueID, Err: err}
	}

	manifestBody := string(manifestResp.Body)
	if !m3u8.IsMasterPlaylist(manifestBody) {
		return nil, &apperrors.PlaylistExtractionError{EmbedURL: embedURL, CatalogueID: req.CatalogueID, Err: fmt.Errorf("manifest is not a master playlist")}
	}

	variants, err := m3u8.ParseMaster(manifestBody, manifestURL)
	if err != nil {
		return nil, &apperrors.PlaylistExtractionError{EmbedURL: embedURL, CatalogueID: req.CatalogueID, Err: err}
	}

	videoVariants := m3u8.VideoVariants(variants)

	var videoVariant m3u8.Variant
	if req.Quality == taskmodel.BestQuality || req.Quality == "" {
		videoVariant = m3u8.SelectBestVariant(videoVariants)
	} else {
		height := 0
		fmt.Sscanf(string(req.Quality), "%d", &height)
		videoVariant = m3u8.SelectVariantByHeight(videoVariants, height)
	}

	result := &Result{
		Descriptors: []taskmodel.PlaylistDescriptor{
			{URL: videoVariant.URL, Kind: taskmodel.KindVideo, Verified: true},
		},
	}

	// Language selection for audio/subtitle (§4.3): one descriptor per
	// requested language that is actually available, preserving the
	// caller's order; a miss is recorded, not an error.
	availableAudio := m3u8.AudioRenditions(variants)
	for _, lang := range req.Languages {
		if url, ok := availableAudio[lang]; ok {
			result.Descriptors = append(result.Descriptors, taskmodel.PlaylistDescriptor{
				URL: url, Kind: taskmodel.KindAudio, Language: lang, Verified: true,
			})
		} else {
			result.MissingAudio = append(result.MissingAudio, lang)
		}
	}

	availableSubtitles := m3u8.SubtitleRenditions(variants)
	for _, lang := range req.Languages {
		if url, ok := availableSubtitles[lang]; ok {
			result.Descriptors = append(result.Descriptors, taskmodel.PlaylistDescriptor{
				URL: url, Kind: taskmodel.KindSubtitle, Language: lang, Verified: true,
			})
		} else {
			result.MissingSubtitle = append(result.MissingSubtitle, lang)
		}
	}

	return dedupe(result), nil
}

func dedupe(r *Result) *Result {
	seen := map[string]bool{}
	out := r.Descriptors[:0]
	for _, d := range r.Descriptors {
		key := string(d.Kind) + "|" + d.Language
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	r.Descriptors = out
	return r
}

// locateManifestURL scans the embed page for the master manifest URL.
// Grounded on hdrezka.go's goquery.Find/.Each DOM-walking idiom: this
// looks for a <source>/<video> tag carrying the manifest, then falls
// back to a regex scan of inline <script> bodies for a bare .m3u8 URL,
// since provider embed pages commonly hide the manifest in a JS blob
// rather than markup. A relative URL is resolved against baseURL.
func locateManifestURL(body, baseURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse embed page: %w", err)
	}

	resolve := func(ref string) (string, error) {
		base, err := url.Parse(baseURL)
		if err != nil {
			return "", fmt.Errorf("parse embed url: %w", err)
		}
		refURL, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("parse manifest url %q: %w", ref, err)
		}
		return base.ResolveReference(refURL).String(), nil
	}

	var found string
	doc.Find("source[src], video[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, ok := s.Attr("src")
		if ok && strings.Contains(src, ".m3u8") {
			found = src
			return false
		}
		return true
	})
	if found != "" {
		return resolve(found)
	}

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if idx := strings.Index(text, ".m3u8"); idx >= 0 {
			start := strings.LastIndexAny(text[:idx], "\"'")
			if start < 0 {
				return true
			}
			end := idx + len(".m3u8")
			found = text[start+1 : end]
			return false
		}
		return true
	})
	if found == "" {
		return "", fmt.Errorf("no manifest url found in embed page")
	}
	return resolve(found)
}

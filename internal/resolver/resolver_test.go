package resolver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormino/vixsrc-downloader/internal/apperrors"
	"github.com/stormino/vixsrc-downloader/internal/fetch"
	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
360p.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720
720p.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
1080p.m3u8
`

const masterPlaylistWithRenditions = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="en",NAME="English",URI="audio.en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="ja",NAME="Japanese",URI="audio.ja.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",LANGUAGE="en",NAME="English",URI="subs.en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,AUDIO="aud",SUBTITLES="subs"
360p.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,AUDIO="aud",SUBTITLES="subs"
1080p.m3u8
`

func newFetcher(t *testing.T, baseURL string) *fetch.Fetcher {
	t.Helper()
	f, err := fetch.New(fetch.Config{BaseURL: baseURL, TimeoutSeconds: 5}, nil, nil)
	require.NoError(t, err)
	return f
}

func TestResolve_HappyPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><video src="/hls/master.m3u8"></video></body></html>`))
	})
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(masterPlaylist))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(srv.URL, newFetcher(t, srv.URL))
	result, err := r.Resolve(t.Context(), Request{
		CatalogueID: "abc123",
		Kind:        taskmodel.KindMovie,
		Quality:     taskmodel.BestQuality,
	})
	require.NoError(t, err)
	require.Len(t, result.Descriptors, 1)
	assert.Equal(t, taskmodel.KindVideo, result.Descriptors[0].Kind)
	assert.Contains(t, result.Descriptors[0].URL, "1080p.m3u8")
}

func TestResolve_ScriptTagManifest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><script>var src = "/hls/master.m3u8";</script></body></html>`))
	})
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(masterPlaylist))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(srv.URL, newFetcher(t, srv.URL))
	result, err := r.Resolve(t.Context(), Request{CatalogueID: "abc123", Kind: taskmodel.KindMovie})
	require.NoError(t, err)
	require.Len(t, result.Descriptors, 1)
}

func TestResolve_NotFoundStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(srv.URL, newFetcher(t, srv.URL))
	_, err := r.Resolve(t.Context(), Request{CatalogueID: "missing", Kind: taskmodel.KindMovie})
	require.Error(t, err)
	var nf *apperrors.NotFound
	assert.ErrorAs(t, err, &nf)
}

func TestResolve_SentinelNotFoundBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Video not found</body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(srv.URL, newFetcher(t, srv.URL))
	_, err := r.Resolve(t.Context(), Request{CatalogueID: "missing", Kind: taskmodel.KindMovie})
	require.Error(t, err)
	var nf *apperrors.NotFound
	assert.ErrorAs(t, err, &nf)
}

func TestResolve_NoManifestFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>nothing here</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(srv.URL, newFetcher(t, srv.URL))
	_, err := r.Resolve(t.Context(), Request{CatalogueID: "abc123", Kind: taskmodel.KindMovie})
	require.Error(t, err)
	var pe *apperrors.PlaylistExtractionError
	assert.ErrorAs(t, err, &pe)
}

func TestResolve_TVEmbedURLIncludesSeasonEpisode(t *testing.T) {
	var requestedPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/show1/2/5", func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		w.Write([]byte(`<html><body><video src="/hls/master.m3u8"></video></body></html>`))
	})
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(masterPlaylist))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(srv.URL, newFetcher(t, srv.URL))
	_, err := r.Resolve(t.Context(), Request{
		CatalogueID: "show1",
		Kind:        taskmodel.KindTV,
		Season:      2,
		Episode:     5,
	})
	require.NoError(t, err)
	assert.Equal(t, "/embed/show1/2/5", requestedPath)
}

func TestResolve_AudioAndSubtitleDescriptors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><video src="/hls/master.m3u8"></video></body></html>`))
	})
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(masterPlaylistWithRenditions))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(srv.URL, newFetcher(t, srv.URL))
	result, err := r.Resolve(t.Context(), Request{
		CatalogueID: "abc123",
		Kind:        taskmodel.KindMovie,
		Quality:     taskmodel.BestQuality,
		Languages:   []string{"en"},
	})
	require.NoError(t, err)
	require.Len(t, result.Descriptors, 3)

	byKind := map[taskmodel.SubTaskKind][]taskmodel.PlaylistDescriptor{}
	for _, d := range result.Descriptors {
		byKind[d.Kind] = append(byKind[d.Kind], d)
	}
	require.Len(t, byKind[taskmodel.KindVideo], 1)
	assert.Contains(t, byKind[taskmodel.KindVideo][0].URL, "1080p.m3u8")
	require.Len(t, byKind[taskmodel.KindAudio], 1)
	assert.Contains(t, byKind[taskmodel.KindAudio][0].URL, "audio.en.m3u8")
	require.Len(t, byKind[taskmodel.KindSubtitle], 1)
	assert.Contains(t, byKind[taskmodel.KindSubtitle][0].URL, "subs.en.m3u8")
	assert.Empty(t, result.MissingAudio)
	assert.Empty(t, result.MissingSubtitle)
}

func TestResolve_MissingLanguageReported(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><video src="/hls/master.m3u8"></video></body></html>`))
	})
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(masterPlaylistWithRenditions))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New(srv.URL, newFetcher(t, srv.URL))
	result, err := r.Resolve(t.Context(), Request{
		CatalogueID: "abc123",
		Kind:        taskmodel.KindMovie,
		Quality:     taskmodel.BestQuality,
		Languages:   []string{"en", "fr"},
	})
	require.NoError(t, err)

	var audioLangs, subLangs []string
	for _, d := range result.Descriptors {
		switch d.Kind {
		case taskmodel.KindAudio:
			audioLangs = append(audioLangs, d.Language)
		case taskmodel.KindSubtitle:
			subLangs = append(subLangs, d.Language)
		}
	}
	assert.Equal(t, []string{"en"}, audioLangs)
	assert.Equal(t, []string{"en"}, subLangs)
	assert.Equal(t, []string{"fr"}, result.MissingAudio)
	assert.Equal(t, []string{"fr"}, result.MissingSubtitle)
}

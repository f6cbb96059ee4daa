package segment_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormino/vixsrc-downloader/internal/fetch"
	"github.com/stormino/vixsrc-downloader/internal/segment"
	"github.com/stormino/vixsrc-downloader/internal/taskmodel"
)

func newTestServer(t *testing.T, segmentBodies map[string]string, fail map[string]bool) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:1,\nseg0.ts\n#EXTINF:1,\nseg1.ts\n#EXTINF:1,\nseg2.ts\n#EXT-X-ENDLIST\n")
	})
	for name, body := range segmentBodies {
		body := body
		name := name
		mux.HandleFunc("/"+name, func(w http.ResponseWriter, r *http.Request) {
			if fail[name] {
				w.WriteHeader(500)
				return
			}
			fmt.Fprint(w, body)
		})
	}
	return httptest.NewServer(mux)
}

func newTestDownloader(t *testing.T) *segment.Downloader {
	t.Helper()
	f, err := fetch.New(fetch.Config{
		TimeoutSeconds:         5,
		UserAgent:              "test",
		RetryDelayMs:           1,
		MaxRetryDelayMs:        5,
		RetryBackoffMultiplier: 2,
		MaxRetries:             1,
	}, nil, nil)
	require.NoError(t, err)
	return segment.New(f, nil, segment.Config{SegmentConcurrency: 2})
}

func TestDownloadTrack_GathersSegmentsInOrder(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"seg0.ts": "AAA",
		"seg1.ts": "BBB",
		"seg2.ts": "CCC",
	}, nil)
	defer srv.Close()

	d := newTestDownloader(t)
	tempPath := filepath.Join(t.TempDir(), "video.ts")

	var samples int
	result := d.DownloadTrack(context.Background(), srv.URL+"/playlist.m3u8", tempPath, func(downloaded, total int64, speed, eta, pct float64) {
		samples++
	})

	require.Equal(t, taskmodel.ResultSuccess, result.Kind)

	data, err := os.ReadFile(tempPath)
	require.NoError(t, err)
	assert.Equal(t, "AAABBBCCC", string(data))
	assert.Greater(t, samples, 0)
}

func TestDownloadTrack_PlaylistNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDownloader(t)
	tempPath := filepath.Join(t.TempDir(), "video.ts")

	result := d.DownloadTrack(context.Background(), srv.URL+"/playlist.m3u8", tempPath, nil)
	assert.Equal(t, taskmodel.ResultNotFound, result.Kind)
}

func TestDownloadTrack_SegmentFailureRemovesPartialFile(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"seg0.ts": "AAA",
		"seg1.ts": "BBB",
		"seg2.ts": "CCC",
	}, map[string]bool{"seg1.ts": true})
	defer srv.Close()

	d := newTestDownloader(t)
	tempPath := filepath.Join(t.TempDir(), "video.ts")

	result := d.DownloadTrack(context.Background(), srv.URL+"/playlist.m3u8", tempPath, nil)
	assert.Equal(t, taskmodel.ResultFailed, result.Kind)

	_, err := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(err), "no partial file should be promoted on failure")
}

func TestDownloadTrack_CancellationDeletesTempFile(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"seg0.ts": "AAA",
		"seg1.ts": "BBB",
		"seg2.ts": "CCC",
	}, nil)
	defer srv.Close()

	d := newTestDownloader(t)
	tempPath := filepath.Join(t.TempDir(), "video.ts")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := d.DownloadTrack(ctx, srv.URL+"/playlist.m3u8", tempPath, nil)
	assert.Equal(t, taskmodel.ResultCancel, result.Kind)

	_, err := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(err), "no temp file should remain after cancellation")
}

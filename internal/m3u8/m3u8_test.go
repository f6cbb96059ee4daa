package m3u8_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormino/vixsrc-downloader/internal/m3u8"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720
mid/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080
high/index.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:10
#EXTINF:9.009,
segment0.ts
#EXTINF:9.009,
segment1.ts
#EXT-X-ENDLIST
`

func TestIsMasterPlaylist(t *testing.T) {
	assert.True(t, m3u8.IsMasterPlaylist(masterPlaylist))
	assert.False(t, m3u8.IsMasterPlaylist(mediaPlaylist))
}

func TestParseMaster(t *testing.T) {
	variants, err := m3u8.ParseMaster(masterPlaylist, "https://cdn.example.com/stream/master.m3u8")
	require.NoError(t, err)
	require.Len(t, variants, 3)
	assert.Equal(t, "https://cdn.example.com/stream/high/index.m3u8", variants[2].URL)
	assert.Equal(t, 1080, variants[2].Height)
}

func TestSelectBestVariant(t *testing.T) {
	variants, err := m3u8.ParseMaster(masterPlaylist, "https://cdn.example.com/stream/master.m3u8")
	require.NoError(t, err)
	best := m3u8.SelectBestVariant(variants)
	assert.Equal(t, 5000000, best.Bandwidth)
}

func TestSelectVariantByHeight_ExactAndFallback(t *testing.T) {
	variants, err := m3u8.ParseMaster(masterPlaylist, "https://cdn.example.com/stream/master.m3u8")
	require.NoError(t, err)

	exact := m3u8.SelectVariantByHeight(variants, 720)
	assert.Equal(t, 720, exact.Height)

	nearestBelow := m3u8.SelectVariantByHeight(variants, 900)
	assert.Equal(t, 720, nearestBelow.Height)

	noneFits := m3u8.SelectVariantByHeight(variants, 100)
	assert.Equal(t, 1080, noneFits.Height) // below the lowest variant -> highest available
}

const masterPlaylistWithRenditions = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="en",NAME="English",URI="audio.en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="ja",NAME="Japanese",URI="audio.ja.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",LANGUAGE="en",NAME="English",URI="subs.en.m3u8"
#EXT-X-MEDIA:TYPE=CLOSED-CAPTIONS,GROUP-ID="cc",LANGUAGE="en",NAME="CC"
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,AUDIO="aud",SUBTITLES="subs"
high/index.m3u8
`

func TestParseMaster_AlternateRenditions(t *testing.T) {
	variants, err := m3u8.ParseMaster(masterPlaylistWithRenditions, "https://cdn.example.com/stream/master.m3u8")
	require.NoError(t, err)

	video := m3u8.VideoVariants(variants)
	require.Len(t, video, 1)
	assert.Equal(t, 1080, video[0].Height)

	audio := m3u8.AudioRenditions(variants)
	assert.Equal(t, "https://cdn.example.com/stream/audio.en.m3u8", audio["en"])
	assert.Equal(t, "https://cdn.example.com/stream/audio.ja.m3u8", audio["ja"])

	subs := m3u8.SubtitleRenditions(variants)
	assert.Equal(t, "https://cdn.example.com/stream/subs.en.m3u8", subs["en"])
	assert.NotContains(t, subs, "ja")

	// CLOSED-CAPTIONS renditions carry no URI and select neither map.
	assert.NotContains(t, audio, "cc")
	assert.NotContains(t, subs, "cc")
}

func TestParseMedia(t *testing.T) {
	media, err := m3u8.ParseMedia(mediaPlaylist, "https://cdn.example.com/stream/high/index.m3u8")
	require.NoError(t, err)
	require.Len(t, media.Segments, 2)
	assert.Equal(t, "https://cdn.example.com/stream/high/segment0.ts", media.Segments[0].URL)
	assert.InDelta(t, 9.009, media.Segments[0].Duration, 0.001)
}

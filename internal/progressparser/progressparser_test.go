package progressparser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormino/vixsrc-downloader/internal/progressparser"
)

func TestFeed_DurationThenFrameLine(t *testing.T) {
	p := progressparser.New()

	_, ok := p.Feed("  Duration: 00:10:00.00, start: 0.000000, bitrate: 128 kb/s")
	assert.False(t, ok)

	upd, ok := p.Feed("frame= 1200 fps=30 q=-1.0 size=   20480kB time=00:05:00.00 bitrate=5000.0kbits/s speed=1x")
	require.True(t, ok)
	assert.Equal(t, int64(20480*1024), upd.DownloadedBytes)
	assert.InDelta(t, 50.0, upd.Progress, 0.01)
}

func TestFeed_UnknownDurationYieldsUnknownProgress(t *testing.T) {
	p := progressparser.New()
	upd, ok := p.Feed("frame= 10 size=1024kB time=00:00:01.00 bitrate=100kbits/s")
	require.True(t, ok)
	assert.Equal(t, -1.0, upd.Progress)
}

func TestFeed_IrrelevantLineYieldsNoUpdate(t *testing.T) {
	p := progressparser.New()
	_, ok := p.Feed("Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'pipe:0':")
	assert.False(t, ok)
}

func TestReset_ClearsLatentDuration(t *testing.T) {
	p := progressparser.New()
	p.Feed("Duration: 00:10:00.00, start: 0.000000, bitrate: 128 kb/s")

	p.Reset()
	upd, ok := p.Feed("frame= 10 size=1024kB time=00:05:00.00 bitrate=100kbits/s")
	require.True(t, ok)
	assert.Equal(t, -1.0, upd.Progress, "duration state must be cleared by Reset")
}

func TestFeed_IdenticalInputAfterResetYieldsIdenticalUpdate(t *testing.T) {
	p := progressparser.New()
	p.Feed("Duration: 00:10:00.00, start: 0.000000, bitrate: 128 kb/s")
	first, ok := p.Feed("frame= 10 size=1024kB time=00:05:00.00 bitrate=100kbits/s")
	require.True(t, ok)

	p.Reset()
	p.Feed("Duration: 00:10:00.00, start: 0.000000, bitrate: 128 kb/s")
	second, ok := p.Feed("frame= 10 size=1024kB time=00:05:00.00 bitrate=100kbits/s")
	require.True(t, ok)

	assert.Equal(t, first, second)
}

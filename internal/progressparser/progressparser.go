// Package progressparser implements the stateful, line-oriented muxer
// stderr parser (§4.7). Grounded on the teacher's
// worker.monitorFFmpegProgress, but the teacher parses ffmpeg's
// machine-readable "-progress pipe:1" key=value stream (out_time=,
// total_size=); this spec targets ffmpeg's default human stderr format
// ("Duration: ..." / "frame=... size=... time=... bitrate=..."), so the
// regex set is authored fresh against that format while keeping the
// same bufio.Scanner-driven, Feed-one-line-at-a-time shape.
package progressparser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d{2}):(\d{2}):(\d{2})\.(\d+)`)
	sizeRe     = regexp.MustCompile(`size=\s*(\d+(?:\.\d+)?)\s*([a-zA-Z]+)`)
	timeRe     = regexp.MustCompile(`time=\s*(\d{2}):(\d{2}):(\d{2})\.(\d+)`)
	bitrateRe  = regexp.MustCompile(`bitrate=\s*([\d.]+\w*/s|N/A)`)
)

// Update is the structured sample produced by Feed.
type Update struct {
	DownloadedBytes int64
	Bitrate         string
	Progress        float64 // 0..100, -1 if unknown
	CurrentSeconds  float64
}

// Parser holds latent state (total duration) across Feed calls within
// one muxer invocation; Reset clears it between invocations.
type Parser struct {
	totalDurationSeconds float64
	haveDuration         bool
}

// New returns a fresh Parser.
func New() *Parser {
	return &Parser{}
}

// Reset clears duration and size state between muxer invocations within
// the same process, per §4.7.
func (p *Parser) Reset() {
	p.totalDurationSeconds = 0
	p.haveDuration = false
}

// Feed parses one stderr line. Returns (update, true) when the line
// carried a progress sample, (zero, false) otherwise.
func (p *Parser) Feed(line string) (Update, bool) {
	if m := durationRe.FindStringSubmatch(line); m != nil {
		if !strings.Contains(line, "N/A") {
			p.totalDurationSeconds = hmsToSeconds(m[1], m[2], m[3], m[4])
			p.haveDuration = true
		}
		return Update{}, false
	}

	sizeMatch := sizeRe.FindStringSubmatch(line)
	timeMatch := timeRe.FindStringSubmatch(line)
	bitrateMatch := bitrateRe.FindStringSubmatch(line)
	if sizeMatch == nil || timeMatch == nil || bitrateMatch == nil {
		return Update{}, false
	}

	bytes := parseSizeToBytes(sizeMatch[1], sizeMatch[2])
	currentSeconds := hmsToSeconds(timeMatch[1], timeMatch[2], timeMatch[3], timeMatch[4])

	progress := -1.0
	if p.haveDuration && p.totalDurationSeconds > 0 {
		progress = clamp((currentSeconds/p.totalDurationSeconds)*100, 0, 100)
	}

	return Update{
		DownloadedBytes: bytes,
		Bitrate:         bitrateMatch[1],
		Progress:        progress,
		CurrentSeconds:  currentSeconds,
	}, true
}

func hmsToSeconds(h, m, s, frac string) float64 {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	ss, _ := strconv.Atoi(s)
	// frac is centiseconds (two digits) in ffmpeg's HH:MM:SS.ff format.
	cs, _ := strconv.Atoi(frac)
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second
	return d.Seconds() + float64(cs)/100.0
}

// parseSizeToBytes converts an ffmpeg size token to bytes. Per §9's
// documented convention, both kB (decimal) and KB (binary) are treated
// as ×1024 — this matches the muxer's emitted units even though it
// contradicts the decimal formatter used elsewhere for display.
func parseSizeToBytes(value, unit string) int64 {
	f, _ := strconv.ParseFloat(value, 64)
	switch strings.ToLower(unit) {
	case "kb":
		return int64(f * 1024)
	case "mb":
		return int64(f * 1024 * 1024)
	case "gb":
		return int64(f * 1024 * 1024 * 1024)
	default:
		return int64(f)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package fetch implements the Retryable Fetcher (§4.2): a single HTTP
// request wrapped in exponential backoff with jitter, a status-code-
// driven retry policy, a per-host cookie jar, and browser-imitating
// headers. Grounded on the teacher's internal/providers/http.Client,
// which wraps resty the same way; extended here with the cookie jar,
// the cloudflare-challenge detector, cenkalti/backoff's jittered
// exponential schedule in place of resty's fixed retry wait, and an
// x/time/rate limiter that paces outbound attempts per Fetcher.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/stormino/vixsrc-downloader/internal/apperrors"
	"github.com/stormino/vixsrc-downloader/internal/clock"
)

// requestsPerSecond caps the rate of outbound requests per Fetcher so a
// retry storm against one host never turns into a hammering loop; it is
// deliberately generous since the backoff schedule already spaces out
// retries, this is a backstop, not the primary pacing mechanism.
const requestsPerSecond = 10

// retryableStatuses is the set from §4.2: {500,502,503,504,429}.
var retryableStatuses = map[int]bool{500: true, 502: true, 503: true, 504: true, 429: true}

// Config mirrors the extractor.* table in §6.
type Config struct {
	BaseURL                string
	TimeoutSeconds         int
	UserAgent              string
	RetryDelayMs           int
	MaxRetries             int // 0 means unbounded ("retry forever until cancelled")
	MaxRetryDelayMs        int
	RetryBackoffMultiplier float64
}

// Request is the input to Fetch.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
}

// Response is the output of a successful Fetch.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Fetcher performs retried, cookie-aware HTTP requests.
type Fetcher struct {
	client  *resty.Client
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	limiter *rate.Limiter
}

// New builds a Fetcher with a fresh per-process cookie jar and
// browser-imitating default headers. Accept-Encoding is deliberately
// never set (§9 design note).
func New(cfg Config, clk clock.Clock, logger *slog.Logger) (*Fetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	httpClient := &http.Client{Jar: jar}
	c := resty.NewWithClient(httpClient)
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c.SetTimeout(timeout)
	c.SetHeader("User-Agent", cfg.UserAgent)
	c.SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	c.SetHeader("Accept-Language", "en-US,en;q=0.9")
	c.SetHeader("Sec-Fetch-Site", "same-origin")
	c.SetHeader("Sec-Fetch-Mode", "navigate")
	c.SetHeader("Sec-Fetch-Dest", "document")
	c.SetHeader("Cache-Control", "max-age=0")
	c.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{
		client:  c,
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}, nil
}

// backOff builds the per-call jittered exponential schedule from config,
// per §4.2: delay(n) = min(retryDelayMs * multiplier^n, maxRetryDelayMs),
// then randomized by up to ±25% of that value.
func (f *Fetcher) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0.25
	b.InitialInterval = time.Duration(f.cfg.RetryDelayMs) * time.Millisecond
	b.Multiplier = f.cfg.RetryBackoffMultiplier
	if b.Multiplier <= 0 {
		b.Multiplier = 2
	}
	b.MaxInterval = time.Duration(f.cfg.MaxRetryDelayMs) * time.Millisecond
	b.MaxElapsedTime = 0 // unbounded; callers provide cancellation

	if f.cfg.MaxRetries > 0 {
		return backoff.WithMaxRetries(b, uint64(f.cfg.MaxRetries))
	}
	return b
}

// Fetch performs req with retry, honoring ctx cancellation at every wait
// point. Returns TransportError if the final attempt still fails with an
// I/O error.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	var lastErr error

	operation := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}

		r := f.client.R().SetContext(ctx)
		for k, v := range req.Headers {
			r.SetHeader(k, v)
		}

		method := req.Method
		if method == "" {
			method = http.MethodGet
		}

		rr, err := r.Execute(method, req.URL)
		if err != nil {
			lastErr = err
			return err
		}

		status := rr.StatusCode()
		if f.isCloudflareChallenge(status, rr.Body()) {
			f.logger.Warn("cloudflare challenge detected, not solving",
				"url", req.URL, "status", status)
			resp = &Response{StatusCode: status, Body: rr.Body(), Header: rr.Header()}
			return nil
		}

		if retryableStatuses[status] {
			lastErr = fmt.Errorf("retryable status %d", status)
			return lastErr
		}

		resp = &Response{StatusCode: status, Body: rr.Body(), Header: rr.Header()}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		f.logger.Debug("retrying request", "url", req.URL, "wait", wait, "err", err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(f.backOff(), ctx), notify)
	if err != nil {
		return nil, &apperrors.TransportError{URL: req.URL, Err: lastErr}
	}
	return resp, nil
}

func (f *Fetcher) isCloudflareChallenge(status int, body []byte) bool {
	if status != 403 && status != 503 {
		return false
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "cloudflare") || strings.Contains(lower, "cf-browser-verification")
}

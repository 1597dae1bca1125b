// Package httpx issues HTTP requests with bounded retries, transparent
// brotli/gzip decoding and a typed error for non-2xx responses.
package httpx

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
)

const UserAgent = "lms-course-sync/1.0"

var ErrBodyTooLarge = errors.New("httpx: response body too large")

// HTTPError is returned for non-2xx responses. URL has its query removed
// so tokens passed as parameters never reach logs.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s %s: %s", e.StatusCode, e.Method, redact(e.URL), snippet(e.Body, 300))
}

// Temporary reports whether a later attempt may succeed (5xx, 429, 408,
// or a Canvas throttle).
func (e *HTTPError) Temporary() bool {
	switch {
	case e.StatusCode >= 500, e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	}
	return throttled(e.StatusCode, e.Body)
}

// throttled recognizes Canvas rate limiting, which is reported as 403 with
// a "Rate Limit Exceeded" body rather than 429.
func throttled(status int, body []byte) bool {
	return status == http.StatusForbidden && bytes.Contains(bytes.ToLower(body), []byte("rate limit exceeded"))
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

func snippet(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

type RetryConfig struct {
	// MaxAttempts counts the first request. Zero selects DefaultRetryConfig.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retry5xx retries every 5xx in addition to RetryStatuses.
	Retry5xx      bool
	RetryStatuses map[int]bool
	// MaxBodyBytes caps the decoded body. Zero means unlimited.
	MaxBodyBytes int64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    20 * time.Second,
		Retry5xx:    true,
		RetryStatuses: map[int]bool{
			http.StatusTooManyRequests: true,
			http.StatusRequestTimeout:  true,
			http.StatusTooEarly:        true,
		},
	}
}

// NoRetry issues each request exactly once.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1, RetryStatuses: map[int]bool{}}
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
		cfg.Retry5xx = def.Retry5xx
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.RetryStatuses == nil {
		cfg.RetryStatuses = def.RetryStatuses
	}
	return cfg
}

// DoWithRetry sends the request built by buildReq, retrying transient
// failures. The body is always drained and closed so connections are
// reused; the decoded body is returned alongside the response, including
// for *HTTPError results.
func DoWithRetry(
	ctx context.Context,
	client *http.Client,
	buildReq func(context.Context) (*http.Request, error),
	cfg RetryConfig,
) (*http.Response, []byte, error) {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, backoff(attempt-1, cfg, lastRetryAfter(lastErr))); err != nil {
				return nil, nil, err
			}
		}

		req, err := buildReq(ctx)
		if err != nil {
			return nil, nil, err
		}
		if req.Header.Get("Accept-Encoding") == "" {
			req.Header.Set("Accept-Encoding", "br, gzip")
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", UserAgent)
		}

		resp, err := client.Do(req)
		if err != nil {
			if !isRetryableNetErr(err) {
				return nil, nil, err
			}
			lastErr = err
			continue
		}

		body, err := readAndClose(resp, cfg.MaxBodyBytes)
		if err != nil {
			if !isRetryableNetErr(err) {
				return resp, body, err
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, body, nil
		}

		herr := &HTTPError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       body,
		}
		if !isRetryableStatus(resp.StatusCode, body, cfg) || attempt == cfg.MaxAttempts {
			return resp, body, herr
		}
		lastErr = herr
	}

	if lastErr == nil {
		lastErr = errors.New("httpx: request failed")
	}
	return nil, nil, lastErr
}

func lastRetryAfter(err error) time.Duration {
	if herr, ok := IsHTTPError(err); ok {
		return ParseRetryAfter(&http.Response{Header: herr.Header})
	}
	return 0
}

func readAndClose(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return raw, err
	}
	if limit > 0 && int64(len(raw)) > limit {
		return nil, ErrBodyTooLarge
	}
	out, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return out, err
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, ErrBodyTooLarge
	}
	return out, nil
}

// decodeBody undoes a Content-Encoding we asked for ourselves. Once the
// Accept-Encoding header is set by hand http.Transport stops decoding gzip.
func decodeBody(encoding string, raw []byte) ([]byte, error) {
	var zr io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "br":
		zr = brotli.NewReader(bytes.NewReader(raw))
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return raw, fmt.Errorf("httpx: gzip decode: %w", err)
		}
		defer gz.Close()
		zr = gz
	default:
		return raw, nil
	}
	out, err := io.ReadAll(zr)
	if err != nil {
		return raw, fmt.Errorf("httpx: %s decode: %w", encoding, err)
	}
	return out, nil
}

func isRetryableStatus(code int, body []byte, cfg RetryConfig) bool {
	switch {
	case cfg.MaxAttempts <= 1:
		return false
	case cfg.RetryStatuses[code]:
		return true
	case cfg.Retry5xx && code >= 500 && code <= 599:
		return true
	}
	return throttled(code, body)
}

// backoff is exponential from BaseDelay, capped at MaxDelay, with up to
// 20% jitter. A positive Retry-After wins, still capped.
func backoff(retry int, cfg RetryConfig, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, cfg.MaxDelay)
	}
	d := cfg.BaseDelay << (retry - 1)
	if d <= 0 || d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d + time.Duration(rand.Int64N(int64(d)/5+1))
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isRetryableNetErr(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return false
}

// IsHTTPError reports whether err wraps a non-2xx response and returns it.
func IsHTTPError(err error) (*HTTPError, bool) {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr, true
	}
	return nil, false
}

// ParseRetryAfter reads Retry-After as seconds or an HTTP date. Missing,
// invalid or past values yield 0.
func ParseRetryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

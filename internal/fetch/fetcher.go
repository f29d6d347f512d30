package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pricesync/internal/agent"
)

const maxBodySize = 10 << 20 // results and product pages, 10MB is generous

// PermanentError marks a URL that must not be retried again within the
// same reconciliation run: a non-429 4xx, or retries exhausted.
type PermanentError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent fetch failure for %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("permanent fetch failure for %s: %v", e.URL, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// transientStatus lists response codes worth retrying.
func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Options configures retry and pacing behaviour.
type Options struct {
	RequestsPerMinute int
	MaxRetries        uint64
	BackoffBase       time.Duration
	Timeout           time.Duration
}

func (o *Options) withDefaults() {
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = 30
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 4
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
}

// Fetcher wraps a pooled HTTP client with a shared pacing gate, retry
// with jittered exponential backoff, and per-request user-agent rotation.
// One Fetcher is shared by all crawl workers; the limiter is the only
// mutable state and synchronizes internally.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	agents  *agent.Pool
	opts    Options
	logger  *zap.Logger
}

func New(opts Options, agents *agent.Pool, logger *zap.Logger) *Fetcher {
	opts.withDefaults()
	interval := time.Minute / time.Duration(opts.RequestsPerMinute)
	return &Fetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		agents:  agents,
		opts:    opts,
		logger:  logger,
	}
}

// Fetch retrieves a URL, waiting on the pacing gate before every attempt.
// Transient failures (429, selected 5xx, connection errors) are retried
// with backoff up to MaxRetries; everything else returns a PermanentError
// immediately. On success the body and status code are returned.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	var (
		body   []byte
		status int
	)

	op := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		b, code, err := f.doFetch(ctx, url)
		status = code
		if err != nil {
			if transientStatus(code) {
				f.logger.Warn("transient fetch failure, will retry",
					zap.String("url", url), zap.Int("status", code))
				return err
			}
			var pe *PermanentError
			if errors.As(err, &pe) {
				return backoff.Permanent(err)
			}
			// Connection-level errors are transient unless the context is done.
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			f.logger.Warn("connection error, will retry",
				zap.String("url", url), zap.Error(err))
			return err
		}
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.opts.BackoffBase
	bo.MaxInterval = 30 * time.Second

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, f.opts.MaxRetries), ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, status, ctx.Err()
		}
		if IsPermanent(err) {
			return nil, status, err
		}
		// Retries exhausted on a transient condition: permanent for this run.
		return nil, status, &PermanentError{URL: url, StatusCode: status, Err: err}
	}
	return body, status, nil
}

func (f *Fetcher) doFetch(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, &PermanentError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.agents.Pick())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if transientStatus(resp.StatusCode) {
			return nil, resp.StatusCode, fmt.Errorf("transient status %d for %s", resp.StatusCode, url)
		}
		return nil, resp.StatusCode, &PermanentError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

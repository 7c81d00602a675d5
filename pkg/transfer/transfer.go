// Package transfer downloads one remote file to one local path with bounded
// retries and linear backoff.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"lmsfetch/pkg/domain"
)

// Doer is the HTTP primitive used to issue GET requests.
// *httpclient.HTTPClient and *http.Client both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrTimeout is returned (wrapped) when an attempt makes no progress within
// the per-attempt timeout.
var ErrTimeout = errors.New("transfer attempt timed out")

// Config controls retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts per file.
	MaxAttempts int

	// AttemptTimeout bounds waiting for response headers and any stall while
	// streaming the body.
	AttemptTimeout time.Duration

	// BackoffStep is multiplied by the attempt number to get the delay before
	// the next attempt (1s, 2s, ... for the default step).
	BackoffStep time.Duration
}

// DefaultConfig returns 3 attempts, a 30s attempt timeout and a 1s backoff step.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		AttemptTimeout: 30 * time.Second,
		BackoffStep:    time.Second,
	}
}

// Option customizes a Fetcher
type Option func(*Fetcher)

// WithLimiter waits on limiter before every attempt.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(f *Fetcher) { f.limiter = limiter }
}

// WithVerifier runs verify on the written file; an error fails the attempt.
func WithVerifier(verify func(path string) error) Option {
	return func(f *Fetcher) { f.verify = verify }
}

// WithSleeper replaces the backoff sleep. Tests use it to record delays.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// Fetcher downloads files with retries. It is safe to reuse across files
// but is meant to be driven sequentially.
type Fetcher struct {
	client  Doer
	cfg     Config
	limiter *rate.Limiter
	verify  func(path string) error
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Fetcher. Zero fields in cfg fall back to DefaultConfig values.
func New(client Doer, cfg Config, opts ...Option) *Fetcher {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = def.BackoffStep
	}

	f := &Fetcher{
		client: client,
		cfg:    cfg,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads rawURL into dest. The destination is truncated by each
// attempt, so a partial file left by a failed attempt is overwritten.
//
// On success the returned Outcome reports the attempts used and bytes written,
// and every byte has been synced to disk. After MaxAttempts failures it
// returns a *TransferError wrapping the last cause. A destination that cannot
// be created fails the file after one attempt without contacting the server.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string) (domain.Outcome, error) {
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		attempts = attempt

		n, err := f.attempt(ctx, rawURL, dest)
		if err == nil {
			return domain.Outcome{Success: true, Attempts: attempt, Bytes: n}, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			lastErr = perm.err
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < f.cfg.MaxAttempts {
			log.Printf("Fetcher: Retry attempt %d of %d for %s: %v", attempt, f.cfg.MaxAttempts, rawURL, err)
			if err := f.sleep(ctx, time.Duration(attempt)*f.cfg.BackoffStep); err != nil {
				lastErr = err
				break
			}
		}
	}

	terr := &TransferError{URL: rawURL, Attempts: attempts, Err: lastErr}
	return domain.Outcome{Attempts: attempts, Err: terr}, terr
}

// attempt truncates dest, performs one GET and streams the body into it
func (f *Fetcher) attempt(ctx context.Context, rawURL, dest string) (int64, error) {
	file, err := os.Create(dest)
	if err != nil {
		return 0, &permanentError{err: fmt.Errorf("failed to create destination: %w", err)}
	}
	closed := false
	defer func() {
		if !closed {
			file.Close()
		}
	}()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("rate limiter: %w", err)
		}
	}

	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	timeout := f.cfg.AttemptTimeout
	timer := time.AfterFunc(timeout, func() { cancel(ErrTimeout) })
	defer timer.Stop()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, attemptError(attemptCtx, timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, &StatusError{
			Method:     req.Method,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	timer.Reset(timeout)
	closed = true
	n, err := writeFile(file, &progressReader{r: resp.Body, onRead: func() { timer.Reset(timeout) }})
	if err != nil {
		return n, attemptError(attemptCtx, timeout, err)
	}

	if f.verify != nil {
		if err := f.verify(dest); err != nil {
			return n, fmt.Errorf("downloaded file failed verification: %w", err)
		}
	}

	return n, nil
}

// writeFile copies r into file and syncs before closing it
func writeFile(file *os.File, r io.Reader) (int64, error) {
	n, err := io.Copy(file, r)
	if err != nil {
		file.Close()
		return n, fmt.Errorf("failed to write body: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return n, fmt.Errorf("failed to sync destination: %w", err)
	}
	if err := file.Close(); err != nil {
		return n, fmt.Errorf("failed to close destination: %w", err)
	}
	return n, nil
}

// attemptError reports an attempt-timeout as ErrTimeout instead of a bare cancellation
func attemptError(attemptCtx context.Context, timeout time.Duration, err error) error {
	if errors.Is(context.Cause(attemptCtx), ErrTimeout) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, err)
	}
	return err
}

// progressReader calls onRead whenever bytes arrive
type progressReader struct {
	r      io.Reader
	onRead func()
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.onRead()
	}
	return n, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// snippet trims and truncates a response body for error messages
func snippet(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

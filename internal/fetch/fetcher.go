// Package fetch downloads raw build logs over HTTP with a timeout, a size
// cutoff and an outbound request rate limit.
package fetch

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel errors for log fetch failures.
var (
	ErrLogTimeout     = errors.New("log fetch timeout")
	ErrLogTooLarge    = errors.New("log too large")
	ErrLogNotFound    = errors.New("log not found")
	ErrLogUnreachable = errors.New("log unreachable")
)

// Fetcher opens a raw log for streaming. The caller closes the reader.
// Errors returned by Read are classified with the same sentinels; a log
// that grows past the size cutoff while streaming fails with ErrLogTooLarge.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher implements Fetcher over plain HTTP(S). Gzip-compressed logs
// are decompressed transparently.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	limiter  *rate.Limiter
}

// NewHTTPFetcher creates a fetcher. rps <= 0 disables rate limiting.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64, rps float64) *HTTPFetcher {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for rate limiter: %v", ErrLogTimeout, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrLogUnreachable, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrLogNotFound, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrLogUnreachable, resp.StatusCode)
	}

	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: content length %d exceeds %d", ErrLogTooLarge, resp.ContentLength, f.maxBytes)
	}

	r, err := decompress(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	return &body{r: r, closer: resp.Body, max: f.maxBytes, remaining: f.maxBytes}, nil
}

// decompress sniffs the gzip magic number and wraps the stream when found.
func decompress(rc io.Reader) (io.Reader, error) {
	br := bufio.NewReader(rc)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, classifyError(err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip log: %w", classifyError(err))
		}
		return zr, nil
	}
	return br, nil
}

// body enforces the size cutoff on the decoded stream and classifies
// transport errors surfacing mid-read.
type body struct {
	r         io.Reader
	closer    io.Closer
	max       int64
	remaining int64
}

func (b *body) Read(p []byte) (int, error) {
	if b.max > 0 {
		if b.remaining <= 0 {
			var probe [1]byte
			n, err := b.r.Read(probe[:])
			if n > 0 {
				return 0, fmt.Errorf("%w: exceeded %d bytes while streaming", ErrLogTooLarge, b.max)
			}
			return 0, b.readErr(err)
		}
		if int64(len(p)) > b.remaining {
			p = p[:b.remaining]
		}
	}
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	return n, b.readErr(err)
}

func (b *body) readErr(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	return classifyError(err)
}

func (b *body) Close() error {
	return b.closer.Close()
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrLogTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrLogTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrLogUnreachable, err)
	}

	return err
}

var _ Fetcher = (*HTTPFetcher)(nil)

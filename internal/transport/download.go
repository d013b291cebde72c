package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// Request describes one file download.
type Request struct {
	URL      string
	Dir      string
	FileName string
	// Tag groups requests for Cancel. May be empty.
	Tag    string
	Policy Policy
}

// Path is where the download is written.
func (r Request) Path() string {
	return filepath.Join(r.Dir, r.FileName)
}

// Listener receives download events. OnStart fires first; exactly one of
// OnSuccess, OnError or OnCancel fires last. OnProgress is never called after
// the terminal event.
type Listener interface {
	OnStart()
	OnProgress(current, total int64)
	OnSuccess()
	OnError(err error)
	OnCancel()
}

// Download starts fetching req.URL into req.Path() in the background and
// reports to l. Cancelling ctx or calling Cancel(req.Tag) aborts it.
func (c *Client) Download(ctx context.Context, req Request, l Listener) {
	ctx, cancel := context.WithCancel(ctx)
	id := c.register(req.Tag, cancel)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer c.unregister(req.Tag, id)
		c.run(ctx, req, l)
	}()
}

func (c *Client) run(ctx context.Context, req Request, l Listener) {
	l.OnStart()

	if req.URL == "" {
		l.OnError(errors.New("empty download url"))
		return
	}

	if err := os.MkdirAll(req.Dir, 0755); err != nil {
		l.OnError(fmt.Errorf("failed to create directory %s: %w", req.Dir, err))
		return
	}

	f, err := os.OpenFile(req.Path(), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		l.OnError(fmt.Errorf("failed to create %s: %w", req.Path(), err))
		return
	}

	p := req.Policy
	var written int64
	var lastErr error
	for attempt := 0; attempt <= p.RetryCount; attempt++ {
		if attempt > 0 {
			if sleep(ctx, p.RetryDelay) != nil {
				break
			}
			c.logger.Debug("Retrying %s from byte %d (attempt %d/%d): %v",
				req.FileName, written, attempt+1, p.RetryCount+1, lastErr)
		}

		written, lastErr = c.fetch(ctx, req, f, written, l)
		if lastErr == nil || ctx.Err() != nil || !isTransient(lastErr) {
			break
		}
	}

	closeErr := f.Close()

	switch {
	case ctx.Err() != nil:
		l.OnCancel()
	case lastErr != nil:
		l.OnError(lastErr)
	case closeErr != nil:
		l.OnError(fmt.Errorf("failed to close %s: %w", req.Path(), closeErr))
	default:
		l.OnSuccess()
	}
}

// fetch performs one attempt. When offset > 0 it asks the server to resume;
// a server that ignores the range gets the file rewritten from the start.
func (c *Client) fetch(ctx context.Context, req Request, f *os.File, offset int64, l Listener) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return offset, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient(req.Policy).Do(httpReq)
	if err != nil {
		return offset, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		offset = 0
		if err := f.Truncate(0); err != nil {
			return 0, err
		}
	default:
		return offset, &StatusError{URL: httpReq.URL.Redacted(), Code: resp.StatusCode}
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}

	total := contentTotal(resp, offset)

	var body io.Reader = resp.Body
	if req.Policy.RateLimit > 0 {
		body = newLimitedReader(ctx, body, req.Policy.RateLimit)
	}

	pw := &progressWriter{w: f, current: offset, total: total, l: l}
	if _, err := io.Copy(pw, body); err != nil {
		return pw.current, err
	}
	if total > 0 && pw.current < total {
		return pw.current, io.ErrUnexpectedEOF
	}
	return pw.current, nil
}

// contentTotal returns the full size of the resource, or 0 if unknown.
func contentTotal(resp *http.Response, offset int64) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		// Content-Range: bytes 100-199/200
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if i := strings.LastIndexByte(cr, '/'); i >= 0 {
				if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
					return n
				}
			}
		}
	}
	if resp.ContentLength < 0 {
		return 0
	}
	return offset + resp.ContentLength
}

type progressWriter struct {
	w       io.Writer
	current int64
	total   int64
	l       Listener
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.current += int64(n)
	total := p.total
	if total > 0 && p.current > total {
		total = p.current
	}
	if n > 0 {
		p.l.OnProgress(p.current, total)
	}
	return n, err
}

type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func newLimitedReader(ctx context.Context, r io.Reader, bytesPerSec int) *limitedReader {
	burst := bytesPerSec
	if burst < 32*1024 {
		burst = 32 * 1024
	}
	return &limitedReader{
		ctx:     ctx,
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
	}
}

func (lr *limitedReader) Read(b []byte) (int, error) {
	if len(b) > lr.limiter.Burst() {
		b = b[:lr.limiter.Burst()]
	}
	n, err := lr.r.Read(b)
	if n > 0 {
		if werr := lr.limiter.WaitN(lr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

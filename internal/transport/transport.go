// Package transport is the HTTP side of a transfer: structured GET lookups
// and streaming file downloads with progress callbacks, timeouts, retries and
// tag-based cancellation.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"musictransfer/internal/logger"
)

// Policy controls timeouts and retries of a single request.
type Policy struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RetryCount     int
	RetryDelay     time.Duration
	// RateLimit caps the download in bytes per second; 0 means unlimited.
	RateLimit int
}

// DefaultPolicy is 3 retries 1s apart with 60s connect/read/write timeouts.
func DefaultPolicy() Policy {
	return Policy{
		ConnectTimeout: 60 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   60 * time.Second,
		RetryCount:     3,
		RetryDelay:     time.Second,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.Code)
}

// Client issues lookups and downloads. The zero value is not usable; call New.
type Client struct {
	userAgent string
	policy    Policy
	logger    *logger.Logger
	custom    *http.Client

	mu      sync.Mutex
	clients map[Policy]*http.Client
	tags    map[string]map[uint64]context.CancelFunc
	nextID  uint64
	wg      sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithPolicy sets the policy used by GetJSON.
func WithPolicy(p Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithLogger sets the logger for retry and cancellation messages.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithHTTPClient bypasses the per-policy clients. Timeouts from Policy are
// then up to the supplied client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.custom = hc
	}
}

// New creates a Client with the given options.
func New(options ...Option) *Client {
	c := &Client{
		userAgent: "musictransfer/1.0",
		policy:    DefaultPolicy(),
		logger:    logger.Discard(),
		clients:   make(map[Policy]*http.Client),
		tags:      make(map[string]map[uint64]context.CancelFunc),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// GetJSON fetches rawURL with params and decodes the JSON body into out.
// Network errors are retried according to the client's policy; HTTP status
// errors other than 408, 429 and 5xx are not.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	reqURL := rawURL
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", rawURL, params.Encode())
	}

	return c.get(ctx, reqURL, "application/json", func(r io.Reader) error {
		if err := json.NewDecoder(r).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

// GetBytes fetches rawURL into memory, reading at most limit bytes.
func (c *Client) GetBytes(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	var data []byte
	err := c.get(ctx, rawURL, "*/*", func(r io.Reader) error {
		var err error
		data, err = io.ReadAll(io.LimitReader(r, limit))
		return err
	})
	return data, err
}

func (c *Client) get(ctx context.Context, reqURL, accept string, read func(io.Reader) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.policy.RetryCount; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.policy.RetryDelay); err != nil {
				return lastErr
			}
			c.logger.Debug("Retrying %s (attempt %d): %v", reqURL, attempt+1, lastErr)
		}

		lastErr = c.getOnce(ctx, reqURL, accept, read)
		if lastErr == nil || !isTransient(lastErr) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) getOnce(ctx context.Context, reqURL, accept string, read func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient(c.policy).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: req.URL.Redacted(), Code: resp.StatusCode}
	}
	return read(resp.Body)
}

// Cancel aborts every in-flight download registered under tag and returns
// how many were cancelled.
func (c *Client) Cancel(tag string) int {
	c.mu.Lock()
	calls := c.tags[tag]
	delete(c.tags, tag)
	c.mu.Unlock()

	for _, cancel := range calls {
		cancel()
	}
	if len(calls) > 0 {
		c.logger.Debug("Cancelled %d transfer(s) tagged %s", len(calls), tag)
	}
	return len(calls)
}

// Wait blocks until every download started by this client has finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) register(tag string, cancel context.CancelFunc) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if tag == "" {
		return id
	}
	if c.tags[tag] == nil {
		c.tags[tag] = make(map[uint64]context.CancelFunc)
	}
	c.tags[tag][id] = cancel
	return id
}

func (c *Client) unregister(tag string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if calls, ok := c.tags[tag]; ok {
		delete(calls, id)
		if len(calls) == 0 {
			delete(c.tags, tag)
		}
	}
}

// httpClient returns a client whose dialer enforces p's timeouts.
// Clients are shared per policy so connections are reused.
func (c *Client) httpClient(p Policy) *http.Client {
	if c.custom != nil {
		return c.custom
	}

	key := Policy{ConnectTimeout: p.ConnectTimeout, ReadTimeout: p.ReadTimeout, WriteTimeout: p.WriteTimeout}

	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[key]; ok {
		return hc
	}

	dialer := &net.Dialer{Timeout: p.ConnectTimeout, KeepAlive: 30 * time.Second}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &deadlineConn{Conn: conn, read: p.ReadTimeout, write: p.WriteTimeout}, nil
	}
	tr.TLSHandshakeTimeout = p.ConnectTimeout
	tr.ResponseHeaderTimeout = p.ReadTimeout

	hc := &http.Client{Transport: tr}
	c.clients[key] = hc
	return hc
}

// deadlineConn pushes the read/write deadline forward before every I/O, so
// the timeouts bound each stall rather than the whole transfer.
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.write > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.write)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

// isTransient reports whether err is worth another attempt: network
// failures, truncated bodies, 5xx, 408 and 429.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 ||
			statusErr.Code == http.StatusRequestTimeout ||
			statusErr.Code == http.StatusTooManyRequests
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package client provides the outbound HTTP client used to fetch target pages.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"frame-proxy-go/internal/config"
	"frame-proxy-go/internal/metrics"
	"frame-proxy-go/internal/model"
)

// ErrBodyTooLarge is returned when an upstream body exceeds upstream.max_body_bytes.
var ErrBodyTooLarge = errors.New("upstream body exceeds size limit")

// UpstreamClient fetches target pages. Redirects are never followed; the
// 3xx response is returned to the caller as is.
type UpstreamClient struct {
	httpClient   *http.Client
	maxBodyBytes int64
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// Accept-Encoding is chosen by the proxy and bodies are decoded in decode.go.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return NewUpstreamClientWithTransport(transport, cfg, logger, m)
}

// NewUpstreamClientWithTransport creates an UpstreamClient on top of rt.
func NewUpstreamClientWithTransport(rt http.RoundTripper, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: rt,
			Timeout:   cfg.Upstream.Timeout(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBodyBytes: cfg.Upstream.MaxBodyBytes,
		logger:       logger.With("component", "upstream_client"),
		metrics:      m,
	}
}

// Do executes req and returns the fully read, decoded response.
func (c *UpstreamClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	method := metrics.NormalizeMethod(req.Method)
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	raw, err := readLimited(resp.Body, c.maxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	header := resp.Header.Clone()
	body, err := decodeBody(raw, header.Values("Content-Encoding"), c.maxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("decode upstream body: %w", err)
	}
	if len(header.Values("Content-Encoding")) > 0 {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     model.HeaderFromHTTP(header),
		Body:       body,
	}, nil
}

// Fetch issues a GET for target with exactly the given header set.
// The provided context controls the lifetime of the upstream request.
func (c *UpstreamClient) Fetch(ctx context.Context, target string, header http.Header) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}

// readLimited reads r fully, failing once more than limit bytes arrive.
// A limit of zero or less disables the check.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, ErrBodyTooLarge
	}
	return b, nil
}

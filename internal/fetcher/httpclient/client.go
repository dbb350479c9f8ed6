// Package httpclient executes single outbound source calls through a
// ratelimit.Gate and classifies failures into the records error taxonomy.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/records-resolver/internal/metrics"
	"github.com/JakeFAU/records-resolver/internal/policy/ratelimit"
	"github.com/JakeFAU/records-resolver/internal/records"
)

const (
	defaultUserAgent = "records-resolver/0.1"
	defaultMaxBody   = 32 << 20
	errorBodyLimit   = 512
)

// ErrBodyTooLarge is returned when a 2xx body exceeds Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// Config controls the shared transport.
type Config struct {
	UserAgent    string
	MaxBodyBytes int64
	Transport    http.RoundTripper
}

// Request is one outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response carries the fully read body of a 2xx reply.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Client performs gated fetches. It never retries.
type Client struct {
	http      *http.Client
	userAgent string
	maxBody   int64
}

// New builds a Client.
func New(cfg Config) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = NewTransport()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &Client{
		http:      &http.Client{Transport: transport},
		userAgent: ua,
		maxBody:   maxBody,
	}
}

// Fetch runs req through gate. Non-2xx replies become *records.HTTPStatusError;
// transport failures wrap records.ErrNetwork; the gate deadline yields
// records.ErrTimeout.
func (c *Client) Fetch(ctx context.Context, gate *ratelimit.Gate, req Request) (Response, error) {
	var resp Response
	start := time.Now()
	err := gate.Do(ctx, func(callCtx context.Context) error {
		var fetchErr error
		resp, fetchErr = c.do(callCtx, req)
		return fetchErr
	})
	metrics.ObserveFetch(gate.Name(), time.Since(start))
	if err != nil {
		metrics.ObserveFetchError(gate.Name(), classify(err))
		return Response{}, err
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w: %v", method, req.URL, records.ErrNetwork, err)
	}
	defer httpResp.Body.Close() //nolint:errcheck // body fully consumed below

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBody+1))
	if err != nil {
		return Response{}, fmt.Errorf("read body %s: %w: %v", req.URL, records.ErrNetwork, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		snippet := data
		if len(snippet) > errorBodyLimit {
			snippet = snippet[:errorBodyLimit]
		}
		return Response{}, &records.HTTPStatusError{Code: httpResp.StatusCode, Body: string(snippet)}
	}
	if int64(len(data)) > c.maxBody {
		return Response{}, fmt.Errorf("%s %s: %w (%d bytes)", method, req.URL, ErrBodyTooLarge, c.maxBody)
	}
	return Response{
		URL:        httpResp.Request.URL.String(),
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       data,
	}, nil
}

func classify(err error) string {
	var statusErr *records.HTTPStatusError
	switch {
	case errors.Is(err, records.ErrTimeout):
		return "timeout"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("http_%dxx", statusErr.Code/100)
	case errors.Is(err, records.ErrNetwork):
		return "network"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}

// NewTransport returns a pooled transport shared by all sources.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/policy/ratelimit"
	"github.com/JakeFAU/records-resolver/internal/records"
)

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "records-resolver/0.1", r.Header.Get("User-Agent"))
		require.Equal(t, "yes", r.Header.Get("X-Test"))
		_, _ = w.Write([]byte(`[{"parcel_id":"1"}]`))
	}))
	defer srv.Close()

	c := New(Config{})
	gate := ratelimit.NewGate("assessor", ratelimit.Policy{Timeout: time.Second}, zap.NewNop())
	resp, err := c.Fetch(context.Background(), gate, Request{
		URL:    srv.URL,
		Header: http.Header{"X-Test": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[{"parcel_id":"1"}]`, string(resp.Body))
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/exact" {
			_, _ = w.Write([]byte("0123456789"))
			return
		}
		_, _ = w.Write([]byte("0123456789A"))
	}))
	defer srv.Close()

	c := New(Config{MaxBodyBytes: 10})
	gate := ratelimit.NewGate("assessor", ratelimit.Policy{Timeout: time.Second}, zap.NewNop())
	resp, err := c.Fetch(context.Background(), gate, Request{URL: srv.URL + "/exact"})
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(resp.Body))

	_, err = c.Fetch(context.Background(), gate, Request{URL: srv.URL + "/big"})
	require.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestFetchClassifiesHTTPStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{})
	gate := ratelimit.NewGate("recorder", ratelimit.Policy{}, zap.NewNop())
	_, err := c.Fetch(context.Background(), gate, Request{URL: srv.URL})
	var statusErr *records.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	require.Contains(t, statusErr.Body, "slow down")
	require.True(t, records.IsTransient(err))
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{})
	gate := ratelimit.NewGate("court", ratelimit.Policy{Timeout: 30 * time.Millisecond}, zap.NewNop())
	_, err := c.Fetch(context.Background(), gate, Request{URL: srv.URL})
	require.ErrorIs(t, err, records.ErrTimeout)
}

func TestFetchNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{})
	gate := ratelimit.NewGate("registry", ratelimit.Policy{Timeout: time.Second}, zap.NewNop())
	_, err := c.Fetch(context.Background(), gate, Request{URL: url})
	require.ErrorIs(t, err, records.ErrNetwork)
	require.Equal(t, "network", classify(err))
}

func TestGateTransportBuffersBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<table></table>"))
	}))
	defer srv.Close()

	gate := ratelimit.NewGate("court", ratelimit.Policy{Timeout: time.Second}, zap.NewNop())
	client := &http.Client{Transport: &GateTransport{Gate: gate}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "<table></table>", string(data))
}

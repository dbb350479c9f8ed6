package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/JakeFAU/records-resolver/internal/policy/ratelimit"
	"github.com/JakeFAU/records-resolver/internal/records"
)

// GateTransport routes every round trip through a ratelimit.Gate so
// collector-driven fetches obey the same per-source policy as Client.Fetch.
type GateTransport struct {
	Base http.RoundTripper
	Gate *ratelimit.Gate
}

// RoundTrip implements http.RoundTripper. The body is buffered inside the gate
// so the per-call deadline covers the full read.
func (t *GateTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	var resp *http.Response
	err := t.Gate.Do(req.Context(), func(ctx context.Context) error {
		r, err := base.RoundTrip(req.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("%s: %w: %v", req.URL, records.ErrNetwork, err)
		}
		defer r.Body.Close() //nolint:errcheck // replaced by buffered body
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("read body %s: %w: %v", req.URL, records.ErrNetwork, err)
		}
		r.Body = io.NopCloser(bytes.NewReader(data))
		r.ContentLength = int64(len(data))
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://assessor.example.gov/path", "assessor.example.gov"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if jobsTotal == nil || recordsUpsertedTotal == nil || resolutionMatchesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpersIncrementCounters(t *testing.T) {
	Init()

	before := testutil.ToFloat64(recordsUpsertedTotal.WithLabelValues("property", "created"))
	ObserveUpsert("property", "created")
	if got := testutil.ToFloat64(recordsUpsertedTotal.WithLabelValues("property", "created")); got != before+1 {
		t.Errorf("expected upsert counter %v, got %v", before+1, got)
	}

	beforeMatch := testutil.ToFloat64(resolutionMatchesTotal.WithLabelValues("exact_name_address"))
	ObserveMatch("exact_name_address")
	if got := testutil.ToFloat64(resolutionMatchesTotal.WithLabelValues("exact_name_address")); got != beforeMatch+1 {
		t.Errorf("expected match counter %v, got %v", beforeMatch+1, got)
	}

	ObserveRateLimitDelay("cook-assessor", 150*time.Millisecond)
	if n := testutil.CollectAndCount(rateLimitDelaysSeconds); n == 0 {
		t.Error("expected rate limit histogram to be observed")
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://example.com", "https://records.county.gov", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}

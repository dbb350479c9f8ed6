package court

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/policy/ratelimit"
	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/source"
)

const docketPage = `<html><body>
<table class="cases"><tbody>
<tr>
  <td class="case-number">2024-PR-000381</td>
  <td class="case-type">Probate</td>
  <td class="filed-date">05/03/2024</td>
  <td class="status">Open</td>
  <td class="parties"><ul><li>ESTATE OF CHEN MARGARET (Decedent)</li><li>CHEN ROBERT (Petitioner)</li></ul></td>
</tr>
<tr>
  <td class="case-number">2024-DR-001200</td>
  <td class="case-type">Dissolution</td>
  <td class="filed-date">02/11/2024</td>
  <td class="parties">GARCIA ELENA (Petitioner); GARCIA LUIS (Respondent)</td>
</tr>
<tr>
  <td class="case-number">2024-CV-000999</td>
  <td class="case-type">Civil</td>
  <td class="filed-date">not a date</td>
  <td class="parties">DOE JANE (Plaintiff)</td>
</tr>
</tbody></table>
</body></html>`

func newAdapter(t *testing.T, url string) *Adapter {
	t.Helper()
	gate := ratelimit.NewGate("sangamon-il/court_cases", ratelimit.Policy{Timeout: 2 * time.Second}, zap.NewNop())
	retry := &source.ExponentialRetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return New(Config{BaseURL: url, Path: "/dockets"}, gate, nil, retry, nil, nil, zap.NewNop())
}

func TestFetchCourtCasesParsesDocketTable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/dockets", r.URL.Path)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(docketPage))
	}))
	defer srv.Close()

	batch, err := newAdapter(t, srv.URL).FetchCourtCases(context.Background(), source.Query{Jurisdiction: "sangamon-il"})
	require.NoError(t, err)
	require.Len(t, batch.CourtCases, 2)
	require.Len(t, batch.Rejects, 1)
	require.Equal(t, "filed_date", batch.Rejects[0].Field)

	probate := batch.CourtCases[0]
	require.Equal(t, "probate", probate.CaseType)
	require.Equal(t, "open", probate.Status)
	require.Equal(t, time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), probate.FiledDate)
	require.Equal(t, []records.Party{
		{Name: "ESTATE OF CHEN MARGARET", Role: "decedent"},
		{Name: "CHEN ROBERT", Role: "petitioner"},
	}, probate.Parties)

	divorce := batch.CourtCases[1]
	require.Len(t, divorce.Parties, 2)
	require.Equal(t, "respondent", divorce.Parties[1].Role)
}

func TestFetchCourtCasesRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(docketPage))
	}))
	defer srv.Close()

	batch, err := newAdapter(t, srv.URL).FetchCourtCases(context.Background(), source.Query{Jurisdiction: "j", MaxRecords: 1})
	require.NoError(t, err)
	require.Len(t, batch.CourtCases, 1)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetchCourtCasesSurfacesHTTPStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newAdapter(t, srv.URL).FetchCourtCases(context.Background(), source.Query{Jurisdiction: "j"})
	var statusErr *records.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.Code)
}

func TestParseParties(t *testing.T) {
	t.Parallel()

	got := ParseParties([]string{" SMITH JOHN (Defendant) ", "", "ACME BANK"})
	require.Equal(t, []records.Party{
		{Name: "SMITH JOHN", Role: "defendant"},
		{Name: "ACME BANK"},
	}, got)
}

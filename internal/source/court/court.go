// Package court scrapes HTML court docket pages into court case records using
// a colly collector whose transport runs through the source's rate-limit gate.
package court

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/fetcher/httpclient"
	"github.com/JakeFAU/records-resolver/internal/metrics"
	"github.com/JakeFAU/records-resolver/internal/policy/ratelimit"
	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/source"
)

// Kind is the configuration name of this adapter.
const Kind = "court_html"

const defaultRowSelector = "table.cases tbody tr"

var defaultSelectors = map[string]string{
	"case_number": "td.case-number",
	"case_type":   "td.case-type",
	"filed_date":  "td.filed-date",
	"status":      "td.status",
	"parcel_id":   "td.parcel-id",
	"parties":     "td.parties",
}

var partyPattern = regexp.MustCompile(`^(.*?)\s*\(([^()]+)\)\s*$`)

func init() {
	source.RegisterKind(Kind, func(env source.Env, phase source.Phase, cfg source.SourceConfig) (any, error) {
		if phase != source.PhaseCourtCases {
			return nil, fmt.Errorf("%s only serves %s", Kind, source.PhaseCourtCases)
		}
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("base_url is required for %s", Kind)
		}
		gate := env.Gate(phase, cfg.Policy)
		return New(Config{
			BaseURL:   cfg.BaseURL,
			Path:      cfg.Path,
			Dataset:   cfg.Dataset,
			PageSize:  cfg.PageSize,
			Selectors: cfg.Fields,
			Params:    cfg.Params,
			UserAgent: "records-resolver/1.0",
		}, gate, env.Transport, env.Retry, env.Archive, env.Clock, env.Logger), nil
	})
}

// Config controls where docket pages live and how their tables are read.
// Selectors override the default CSS selectors per canonical field; the
// "row" key overrides the row selector.
type Config struct {
	BaseURL   string
	Path      string
	Dataset   string
	PageSize  int
	Selectors map[string]string
	Params    map[string]string
	UserAgent string
	Timeout   time.Duration
}

// Adapter implements source.CourtSource.
type Adapter struct {
	cfg       Config
	gate      *ratelimit.Gate
	transport http.RoundTripper
	retry     source.RetryPolicy
	archive   *source.Archiver
	clock     records.Clock
	logger    *zap.Logger
}

// New builds a court adapter. A nil transport uses a pooled default.
func New(
	cfg Config,
	gate *ratelimit.Gate,
	transport http.RoundTripper,
	retry source.RetryPolicy,
	archive *source.Archiver,
	clock records.Clock,
	logger *zap.Logger,
) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transport == nil {
		transport = httpclient.NewTransport()
	}
	return &Adapter{
		cfg:       cfg,
		gate:      gate,
		transport: transport,
		retry:     retry,
		archive:   archive,
		clock:     clock,
		logger:    logger.Named("court"),
	}
}

func (a *Adapter) selector(field string) string {
	if s := a.cfg.Selectors[field]; s != "" {
		return s
	}
	return defaultSelectors[field]
}

// FetchCourtCases implements source.CourtSource.
func (a *Adapter) FetchCourtCases(ctx context.Context, q source.Query) (source.Batch, error) {
	target, err := source.BuildURL(a.cfg.BaseURL, a.cfg.Path, source.ParamsFromQuery(q, a.cfg.Dataset, a.cfg.Params), a.cfg.PageSize)
	if err != nil {
		return source.Batch{}, err
	}

	var page scrapedPage
	err = source.WithRetry(ctx, a.retry, a.logger, func(ctx context.Context) error {
		var visitErr error
		page, visitErr = a.visit(ctx, target)
		return visitErr
	})
	if err != nil {
		return source.Batch{}, fmt.Errorf("fetch dockets %s: %w", a.gate.Name(), err)
	}

	uri, archErr := a.archive.Archive(ctx, q.Jurisdiction, a.gate.Name(), "text/html", page.body)
	if archErr != nil {
		a.logger.Warn("archive payload failed", zap.String("source", a.gate.Name()), zap.Error(archErr))
	}

	batch := a.mapRows(q, page.rows)
	batch.ArchiveURI = uri
	a.logger.Debug("court cases mapped",
		zap.String("jurisdiction", q.Jurisdiction),
		zap.Int("mapped", len(batch.CourtCases)),
		zap.Int("rejected", len(batch.Rejects)),
	)
	return batch, nil
}

type scrapedRow struct {
	fields  source.Row
	parties []string
}

type scrapedPage struct {
	body []byte
	rows []scrapedRow
}

// visit fetches one docket page with a fresh collector.
func (a *Adapter) visit(ctx context.Context, target string) (scrapedPage, error) {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	if a.cfg.UserAgent != "" {
		collector.UserAgent = a.cfg.UserAgent
	}
	timeout := a.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(&httpclient.GateTransport{Base: a.transport, Gate: a.gate})

	var (
		mu       sync.Mutex
		page     scrapedPage
		fetchErr error
	)
	rowSelector := a.cfg.Selectors["row"]
	if rowSelector == "" {
		rowSelector = defaultRowSelector
	}

	collector.OnResponse(func(r *colly.Response) {
		mu.Lock()
		defer mu.Unlock()
		page.body = append([]byte(nil), r.Body...)
	})
	collector.OnHTML(rowSelector, func(e *colly.HTMLElement) {
		row := scrapedRow{fields: source.Row{}}
		for field := range defaultSelectors {
			if field == "parties" {
				continue
			}
			if text := e.ChildText(a.selector(field)); text != "" {
				row.fields[field] = text
			}
		}
		partySel := a.selector("parties")
		if items := e.ChildTexts(partySel + " li"); len(items) > 0 {
			row.parties = items
		} else if cell := e.ChildText(partySel); cell != "" {
			row.parties = strings.Split(cell, ";")
		}
		mu.Lock()
		defer mu.Unlock()
		page.rows = append(page.rows, row)
	})
	collector.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if r != nil && r.StatusCode >= 300 {
			body := string(r.Body)
			if len(body) > 512 {
				body = body[:512]
			}
			fetchErr = &records.HTTPStatusError{Code: r.StatusCode, Body: body}
			return
		}
		fetchErr = err
	})

	if err := collector.Visit(target); err != nil {
		mu.Lock()
		defer mu.Unlock()
		if fetchErr != nil {
			return scrapedPage{}, fetchErr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return scrapedPage{}, err
		}
		return scrapedPage{}, fmt.Errorf("visit %s: %w", target, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if fetchErr != nil {
		return scrapedPage{}, fetchErr
	}
	return page, nil
}

func (a *Adapter) mapRows(q source.Query, rows []scrapedRow) source.Batch {
	var batch source.Batch
	mapper := source.Mapper{Source: a.gate.Name()}
	now := time.Now().UTC()
	if a.clock != nil {
		now = a.clock.Now()
	}
	for _, row := range rows {
		if q.Capped(len(batch.CourtCases)) {
			break
		}
		r := mapper.Reader(row.fields)
		c := records.CourtCase{
			Jurisdiction: q.Jurisdiction,
			CaseNumber:   r.Key("case_number"),
			CaseType:     strings.ToLower(r.Required("case_type")),
			FiledDate:    r.RequiredDate("filed_date"),
			Status:       strings.ToLower(r.String("status")),
			ParcelID:     r.String("parcel_id"),
			Parties:      ParseParties(row.parties),
			JobID:        q.JobID,
			ScrapedAt:    now,
		}
		ferr := r.Err()
		if ferr == nil && len(c.Parties) == 0 {
			ferr = &records.SourceFormatError{Source: a.gate.Name(), Key: c.CaseNumber, Field: "parties", Reason: "no parties"}
		}
		if ferr != nil {
			batch.Rejects = append(batch.Rejects, ferr)
			metrics.ObserveRejected(a.gate.Name())
			continue
		}
		if !q.InRange(c.FiledDate) {
			continue
		}
		batch.CourtCases = append(batch.CourtCases, c)
	}
	return batch
}

// ParseParties reads "NAME (Role)" entries. Entries without a role are kept
// with an empty role.
func ParseParties(raw []string) []records.Party {
	var out []records.Party
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if m := partyPattern.FindStringSubmatch(entry); m != nil {
			out = append(out, records.Party{Name: strings.TrimSpace(m[1]), Role: strings.ToLower(strings.TrimSpace(m[2]))})
			continue
		}
		out = append(out, records.Party{Name: entry})
	}
	return out
}

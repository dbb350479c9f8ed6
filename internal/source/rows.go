package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/fetcher/httpclient"
	"github.com/JakeFAU/records-resolver/internal/policy/ratelimit"
	"github.com/JakeFAU/records-resolver/internal/records"
)

// Row is one tabular row from a public data endpoint.
type Row map[string]any

// Params are the lookup parameters for a row fetch.
type Params struct {
	Jurisdiction string
	Dataset      string
	From         *time.Time
	To           *time.Time
	Limit        int
	Extra        map[string]string
}

// RowSource fetches tabular rows keyed by jurisdiction.
type RowSource interface {
	FetchRows(ctx context.Context, params Params) ([]Row, error)
}

// HTTPRowSource reads JSON rows from a configurable endpoint. The body may be
// a bare array or an object with a "rows", "data" or "results" array.
type HTTPRowSource struct {
	client   *httpclient.Client
	gate     *ratelimit.Gate
	retry    RetryPolicy
	archive  *Archiver
	baseURL  string
	path     string
	logger   *zap.Logger
	pageSize int
}

// HTTPRowSourceConfig wires an HTTPRowSource.
type HTTPRowSourceConfig struct {
	BaseURL  string
	Path     string
	PageSize int
}

// NewHTTPRowSource builds a RowSource over one gate.
func NewHTTPRowSource(
	cfg HTTPRowSourceConfig,
	client *httpclient.Client,
	gate *ratelimit.Gate,
	retry RetryPolicy,
	archive *Archiver,
	logger *zap.Logger,
) (*HTTPRowSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required for %s", gate.Name())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRowSource{
		client:   client,
		gate:     gate,
		retry:    retry,
		archive:  archive,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		path:     cfg.Path,
		logger:   logger,
		pageSize: cfg.PageSize,
	}, nil
}

// FetchRows implements RowSource.
func (s *HTTPRowSource) FetchRows(ctx context.Context, params Params) ([]Row, error) {
	rows, _, err := s.FetchRowsArchived(ctx, params)
	return rows, err
}

// FetchRowsArchived fetches rows and reports where the raw payload was archived.
func (s *HTTPRowSource) FetchRowsArchived(ctx context.Context, params Params) ([]Row, string, error) {
	target, err := s.buildURL(params)
	if err != nil {
		return nil, "", err
	}
	var resp httpclient.Response
	err = WithRetry(ctx, s.retry, s.logger, func(ctx context.Context) error {
		var fetchErr error
		resp, fetchErr = s.client.Fetch(ctx, s.gate, httpclient.Request{
			URL:    target,
			Header: map[string][]string{"Accept": {"application/json"}},
		})
		return fetchErr
	})
	if err != nil {
		return nil, "", fmt.Errorf("fetch rows %s: %w", s.gate.Name(), err)
	}

	uri, archErr := s.archive.Archive(ctx, params.Jurisdiction, s.gate.Name(), "application/json", resp.Body)
	if archErr != nil {
		s.logger.Warn("archive payload failed", zap.String("source", s.gate.Name()), zap.Error(archErr))
	}

	rows, err := decodeRows(resp.Body)
	if err != nil {
		return nil, uri, &records.SourceFormatError{Source: s.gate.Name(), Field: "body", Reason: err.Error()}
	}
	s.logger.Debug("rows fetched",
		zap.String("source", s.gate.Name()),
		zap.Int("rows", len(rows)),
		zap.String("archive_uri", uri),
	)
	return rows, uri, nil
}

func (s *HTTPRowSource) buildURL(params Params) (string, error) {
	return BuildURL(s.baseURL, s.path, params, s.pageSize)
}

// BuildURL joins base and path and encodes params as query arguments. A zero
// params.Limit falls back to pageSize.
func BuildURL(base, p string, params Params, pageSize int) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/"))
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	q := u.Query()
	if params.Jurisdiction != "" {
		q.Set("jurisdiction", params.Jurisdiction)
	}
	if params.Dataset != "" {
		q.Set("dataset", params.Dataset)
	}
	if params.From != nil {
		q.Set("from", params.From.Format("2006-01-02"))
	}
	if params.To != nil {
		q.Set("to", params.To.Format("2006-01-02"))
	}
	limit := params.Limit
	if limit <= 0 {
		limit = pageSize
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	for k, v := range params.Extra {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func decodeRows(body []byte) ([]Row, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var rows []Row
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode row array: %w", err)
		}
		return rows, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode row envelope: %w", err)
	}
	for _, key := range []string{"rows", "data", "results"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var rows []Row
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("no rows, data or results array in payload")
}

// ParamsFromQuery maps an adapter query onto row params.
func ParamsFromQuery(q Query, dataset string, extra map[string]string) Params {
	return Params{
		Jurisdiction: q.Jurisdiction,
		Dataset:      dataset,
		From:         q.From,
		To:           q.To,
		Limit:        q.MaxRecords,
		Extra:        extra,
	}
}

type archivedRowSource interface {
	FetchRowsArchived(ctx context.Context, params Params) ([]Row, string, error)
}

// Fetch reads rows from any RowSource, reporting the archive URI when the
// source archives its payloads.
func Fetch(ctx context.Context, rows RowSource, params Params) ([]Row, string, error) {
	if archived, ok := rows.(archivedRowSource); ok {
		return archived.FetchRowsArchived(ctx, params)
	}
	out, err := rows.FetchRows(ctx, params)
	return out, "", err
}

// Package recorder maps county recorder instrument rows into document records.
package recorder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/metrics"
	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/source"
)

// Kind is the configuration name of this adapter.
const Kind = "recorder_json"

func init() {
	source.RegisterKind(Kind, func(env source.Env, phase source.Phase, cfg source.SourceConfig) (any, error) {
		if phase != source.PhaseDocuments {
			return nil, fmt.Errorf("%s only serves %s", Kind, source.PhaseDocuments)
		}
		gate := env.Gate(phase, cfg.Policy)
		rows, err := source.NewHTTPRowSource(source.HTTPRowSourceConfig{
			BaseURL:  cfg.BaseURL,
			Path:     cfg.Path,
			PageSize: cfg.PageSize,
		}, env.Client, gate, env.Retry, env.Archive, env.Logger)
		if err != nil {
			return nil, err
		}
		return New(rows, gate.Name(), cfg, env.Clock, env.Logger), nil
	})
}

// Adapter implements source.DocumentSource.
type Adapter struct {
	rows    source.RowSource
	name    string
	dataset string
	extra   map[string]string
	fields  source.Fields
	clock   records.Clock
	logger  *zap.Logger
}

// New builds a recorder adapter over any RowSource.
func New(rows source.RowSource, name string, cfg source.SourceConfig, clock records.Clock, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		rows:    rows,
		name:    name,
		dataset: cfg.Dataset,
		extra:   cfg.Params,
		fields:  cfg.Fields,
		clock:   clock,
		logger:  logger.Named("recorder"),
	}
}

// FetchDocuments implements source.DocumentSource. Rows recorded outside the
// query's date range are skipped.
func (a *Adapter) FetchDocuments(ctx context.Context, q source.Query) (source.Batch, error) {
	rows, uri, err := source.Fetch(ctx, a.rows, source.ParamsFromQuery(q, a.dataset, a.extra))
	if err != nil {
		return source.Batch{}, err
	}
	batch := source.Batch{ArchiveURI: uri}
	mapper := source.Mapper{Source: a.name, Fields: a.fields}
	now := time.Now().UTC()
	if a.clock != nil {
		now = a.clock.Now()
	}
	for _, row := range rows {
		if q.Capped(len(batch.Documents)) {
			break
		}
		r := mapper.Reader(row)
		d := records.Document{
			Jurisdiction:   q.Jurisdiction,
			DocumentNumber: r.Key("document_number"),
			DocumentType:   strings.ToLower(r.Required("document_type")),
			RecordedDate:   r.RequiredDate("recorded_date"),
			Grantors:       r.Strings("grantors"),
			Grantees:       r.Strings("grantees"),
			Amount:         r.Money("amount"),
			ParcelID:       r.String("parcel_id"),
			JobID:          q.JobID,
			ScrapedAt:      now,
		}
		ferr := r.Err()
		if ferr == nil && len(d.Grantors) == 0 && len(d.Grantees) == 0 {
			ferr = &records.SourceFormatError{Source: a.name, Key: d.DocumentNumber, Field: "grantors", Reason: "no parties"}
		}
		if ferr != nil {
			batch.Rejects = append(batch.Rejects, ferr)
			metrics.ObserveRejected(a.name)
			continue
		}
		if !q.InRange(d.RecordedDate) {
			continue
		}
		batch.Documents = append(batch.Documents, d)
	}
	a.logger.Debug("documents mapped",
		zap.String("jurisdiction", q.Jurisdiction),
		zap.Int("mapped", len(batch.Documents)),
		zap.Int("rejected", len(batch.Rejects)),
	)
	return batch, nil
}

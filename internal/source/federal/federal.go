// Package federal maps professional and federal registry rows (broker, adviser
// and license lookups) into professional records.
package federal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/metrics"
	"github.com/JakeFAU/records-resolver/internal/records"
	"github.com/JakeFAU/records-resolver/internal/source"
)

// Kind is the configuration name of this adapter.
const Kind = "registry_json"

func init() {
	source.RegisterKind(Kind, func(env source.Env, phase source.Phase, cfg source.SourceConfig) (any, error) {
		if phase != source.PhaseProfessionals {
			return nil, fmt.Errorf("%s only serves %s", Kind, source.PhaseProfessionals)
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

// Adapter implements source.ProfessionalSource.
type Adapter struct {
	rows    source.RowSource
	name    string
	dataset string
	extra   map[string]string
	fields  source.Fields
	clock   records.Clock
	logger  *zap.Logger
}

// New builds a registry adapter over any RowSource.
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
		logger:  logger.Named("federal"),
	}
}

// FetchProfessionals implements source.ProfessionalSource.
func (a *Adapter) FetchProfessionals(ctx context.Context, q source.Query) (source.Batch, error) {
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
		if q.Capped(len(batch.Professionals)) {
			break
		}
		r := mapper.Reader(row)
		p := records.Professional{
			Jurisdiction: q.Jurisdiction,
			RegistryID:   r.Key("registry_id"),
			Name:         r.Required("name"),
			Company:      r.String("company"),
			Title:        r.String("title"),
			City:         r.String("city"),
			State:        r.String("state"),
			Phones:       r.Strings("phones"),
			Emails:       r.Strings("emails"),
			JobID:        q.JobID,
			ScrapedAt:    now,
		}
		if ferr := r.Err(); ferr != nil {
			batch.Rejects = append(batch.Rejects, ferr)
			metrics.ObserveRejected(a.name)
			continue
		}
		batch.Professionals = append(batch.Professionals, p)
	}
	a.logger.Debug("professionals mapped",
		zap.String("jurisdiction", q.Jurisdiction),
		zap.Int("mapped", len(batch.Professionals)),
		zap.Int("rejected", len(batch.Rejects)),
	)
	return batch, nil
}

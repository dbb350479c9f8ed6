// Package assessor maps county assessor parcel rows into property records.
package assessor

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
const Kind = "assessor_json"

func init() {
	source.RegisterKind(Kind, func(env source.Env, phase source.Phase, cfg source.SourceConfig) (any, error) {
		if phase != source.PhaseProperties {
			return nil, fmt.Errorf("%s only serves %s", Kind, source.PhaseProperties)
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

// Adapter implements source.PropertySource.
type Adapter struct {
	rows    source.RowSource
	name    string
	dataset string
	extra   map[string]string
	fields  source.Fields
	clock   records.Clock
	logger  *zap.Logger
}

// New builds an assessor adapter over any RowSource.
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
		logger:  logger.Named("assessor"),
	}
}

// FetchProperties implements source.PropertySource.
func (a *Adapter) FetchProperties(ctx context.Context, q source.Query) (source.Batch, error) {
	rows, uri, err := source.Fetch(ctx, a.rows, source.ParamsFromQuery(q, a.dataset, a.extra))
	if err != nil {
		return source.Batch{}, err
	}
	batch := source.Batch{ArchiveURI: uri}
	mapper := source.Mapper{Source: a.name, Fields: a.fields}
	now := a.now()
	for _, row := range rows {
		if q.Capped(len(batch.Properties)) {
			break
		}
		r := mapper.Reader(row)
		p := records.Property{
			Jurisdiction:   q.Jurisdiction,
			ParcelID:       r.Key("parcel_id"),
			OwnerName:      r.Required("owner_name"),
			SitusAddress:   r.Address("situs"),
			MailingAddress: r.Address("mailing"),
			PropertyType:   r.String("property_type"),
			AssessedValue:  r.Money("assessed_value"),
			MarketValue:    r.Money("market_value"),
			LastSalePrice:  r.Money("last_sale_price"),
			LastSaleDate:   r.Date("last_sale_date"),
			PurchaseDate:   r.Date("purchase_date"),
			JobID:          q.JobID,
			ScrapedAt:      now,
		}
		if ferr := r.Err(); ferr != nil {
			batch.Rejects = append(batch.Rejects, ferr)
			metrics.ObserveRejected(a.name)
			continue
		}
		if p.MailingAddress.IsZero() {
			p.MailingAddress = p.SitusAddress
		}
		batch.Properties = append(batch.Properties, p)
	}
	a.logger.Debug("properties mapped",
		zap.String("jurisdiction", q.Jurisdiction),
		zap.Int("mapped", len(batch.Properties)),
		zap.Int("rejected", len(batch.Rejects)),
	)
	return batch, nil
}

func (a *Adapter) now() time.Time {
	if a.clock == nil {
		return time.Now().UTC()
	}
	return a.clock.Now()
}

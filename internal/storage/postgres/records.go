package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/records-resolver/internal/records"
)

var tables = map[records.RecordKind]string{
	records.KindProperty:     "properties",
	records.KindDocument:     "documents",
	records.KindCourtCase:    "court_cases",
	records.KindProfessional: "professionals",
}

// kindOrder is lexical so cross-table results sort like the memory store.
var kindOrder = []records.RecordKind{
	records.KindCourtCase,
	records.KindDocument,
	records.KindProfessional,
	records.KindProperty,
}

const upsertRecordSQL = `
INSERT INTO %s (jurisdiction, natural_key, parcel_id, job_id, scraped_at, payload)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (jurisdiction, natural_key) DO UPDATE SET
	parcel_id  = EXCLUDED.parcel_id,
	job_id     = EXCLUDED.job_id,
	scraped_at = EXCLUDED.scraped_at,
	payload    = EXCLUDED.payload,
	updated_at = now()
RETURNING (xmax = 0) AS inserted`

func (s *Store) upsertRecord(ctx context.Context, rec records.Record, parcelID, jobID string) (records.UpsertOutcome, error) {
	ref := rec.Ref()
	if ref.Jurisdiction == "" || ref.NaturalKey == "" {
		return 0, fmt.Errorf("%s natural key is required", ref.Kind)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", ref, err)
	}
	var inserted bool
	err = s.pool.QueryRow(ctx, fmt.Sprintf(upsertRecordSQL, tables[ref.Kind]),
		ref.Jurisdiction,
		ref.NaturalKey,
		parcelID,
		jobID,
		rec.Scraped(),
		payload,
	).Scan(&inserted)
	if err != nil {
		return 0, classify("upsert "+ref.String(), err)
	}
	if inserted {
		return records.OutcomeCreated, nil
	}
	return records.OutcomeUpdated, nil
}

// UpsertProperty implements records.RecordStore.
func (s *Store) UpsertProperty(ctx context.Context, p records.Property) (records.UpsertOutcome, error) {
	return s.upsertRecord(ctx, p, p.ParcelID, p.JobID)
}

// UpsertDocument implements records.RecordStore.
func (s *Store) UpsertDocument(ctx context.Context, d records.Document) (records.UpsertOutcome, error) {
	return s.upsertRecord(ctx, d, d.ParcelID, d.JobID)
}

// UpsertCourtCase implements records.RecordStore.
func (s *Store) UpsertCourtCase(ctx context.Context, c records.CourtCase) (records.UpsertOutcome, error) {
	return s.upsertRecord(ctx, c, c.ParcelID, c.JobID)
}

// UpsertProfessional implements records.RecordStore.
func (s *Store) UpsertProfessional(ctx context.Context, p records.Professional) (records.UpsertOutcome, error) {
	return s.upsertRecord(ctx, p, "", p.JobID)
}

// QueryRecords implements records.RecordStore. Results are ordered by kind,
// jurisdiction and natural key.
func (s *Store) QueryRecords(ctx context.Context, f records.Filter) ([]records.Record, error) {
	kinds := kindOrder
	if f.Kind != "" {
		if _, ok := tables[f.Kind]; !ok {
			return nil, fmt.Errorf("unknown record kind %q", f.Kind)
		}
		kinds = []records.RecordKind{f.Kind}
	}

	out := make([]records.Record, 0)
	for _, kind := range kinds {
		remaining := 0
		if f.Limit > 0 {
			remaining = f.Limit - len(out)
			if remaining <= 0 {
				break
			}
		}
		sql, args := recordQuery(tables[kind], f, remaining)
		rows, err := s.pool.Query(ctx, sql, args...)
		if err != nil {
			return nil, classify("query "+tables[kind], err)
		}
		recs, err := collectRecords(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func recordQuery(table string, f records.Filter, limit int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Jurisdiction != "" {
		add("jurisdiction = $%d", f.Jurisdiction)
	}
	if f.ParcelID != "" {
		add("parcel_id = $%d", f.ParcelID)
	}
	if f.JobID != "" {
		add("job_id = $%d", f.JobID)
	}
	if !f.Since.IsZero() {
		add("scraped_at >= $%d", f.Since)
	}

	var b strings.Builder
	b.WriteString("SELECT payload FROM ")
	b.WriteString(table)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY jurisdiction, natural_key")
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func collectRecords(kind records.RecordKind, rows pgx.Rows) ([]records.Record, error) {
	defer rows.Close()
	var out []records.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, classify("scan "+string(kind), err)
		}
		rec, err := decodeRecord(kind, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read "+string(kind), err)
	}
	return out, nil
}

func decodeRecord(kind records.RecordKind, payload []byte) (records.Record, error) {
	var (
		rec records.Record
		err error
	)
	switch kind {
	case records.KindProperty:
		var p records.Property
		err = json.Unmarshal(payload, &p)
		rec = p
	case records.KindDocument:
		var d records.Document
		err = json.Unmarshal(payload, &d)
		rec = d
	case records.KindCourtCase:
		var c records.CourtCase
		err = json.Unmarshal(payload, &c)
		rec = c
	case records.KindProfessional:
		var p records.Professional
		err = json.Unmarshal(payload, &p)
		rec = p
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return rec, nil
}

// GetRecord implements records.RecordStore.
func (s *Store) GetRecord(ctx context.Context, ref records.RecordRef) (records.Record, error) {
	table, ok := tables[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", ref.Kind)
	}
	var payload []byte
	err := s.pool.QueryRow(ctx,
		"SELECT payload FROM "+table+" WHERE jurisdiction = $1 AND natural_key = $2",
		ref.Jurisdiction, ref.NaturalKey,
	).Scan(&payload)
	if err != nil {
		return nil, classify("record "+ref.String(), err)
	}
	return decodeRecord(ref.Kind, payload)
}

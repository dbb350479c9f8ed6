package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/records-resolver/internal/records"
)

// AppendSignals implements records.SignalStore. Identical signals are stored once.
func (s *Store) AppendSignals(ctx context.Context, signals []records.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	return s.inTx(ctx, "append signals", func(tx pgx.Tx) error {
		for _, sig := range signals {
			live, err := resolveID(ctx, tx, sig.EntityID)
			if err != nil {
				return err
			}
			sig.EntityID = live
			payload, err := json.Marshal(sig)
			if err != nil {
				return fmt.Errorf("marshal signal: %w", err)
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO signals (entity_id, signal_type, source, detected_at, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT DO NOTHING`,
				live, string(sig.Type), sig.Source, sig.DetectedAt, payload,
			); err != nil {
				return classify("append signal "+string(sig.Type), err)
			}
		}
		return nil
	})
}

// ListSignals implements records.SignalStore, oldest first.
func (s *Store) ListSignals(ctx context.Context, entityID string) ([]records.Signal, error) {
	live, err := resolveID(ctx, s.pool, entityID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM signals WHERE entity_id = $1 ORDER BY detected_at, signal_type, source`, live)
	if err != nil {
		return nil, classify("signals of "+live, err)
	}
	defer rows.Close()
	out := make([]records.Signal, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, classify("scan signal", err)
		}
		var sig records.Signal
		if err := json.Unmarshal(payload, &sig); err != nil {
			return nil, fmt.Errorf("decode signal payload: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read signals", err)
	}
	return out, nil
}

// SaveScore implements records.SignalStore.
func (s *Store) SaveScore(ctx context.Context, entityID string, score float64) error {
	live, err := resolveID(ctx, s.pool, entityID)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE entities SET score = $2, updated_at = now() WHERE id = $1`, live, score,
	); err != nil {
		return classify("score "+live, err)
	}
	return nil
}

// SaveJobResult implements records.JobStore. Results are append-only.
func (s *Store) SaveJobResult(ctx context.Context, result records.JobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO job_results (job_id, jurisdiction_id, status, started_at, completed_at, payload)
VALUES ($1, $2, $3, $4, $5, $6)`,
		result.JobID, result.JurisdictionID, string(result.Status),
		result.StartedAt, result.CompletedAt, payload,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("job result %s already recorded", result.JobID)
	}
	if err != nil {
		return classify("save job "+result.JobID, err)
	}
	return nil
}

// GetJobResult implements records.JobStore.
func (s *Store) GetJobResult(ctx context.Context, jobID string) (records.JobResult, error) {
	var payload []byte
	if err := s.pool.QueryRow(ctx, `SELECT payload FROM job_results WHERE job_id = $1`, jobID).Scan(&payload); err != nil {
		return records.JobResult{}, classify("job "+jobID, err)
	}
	var result records.JobResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return records.JobResult{}, fmt.Errorf("decode job result: %w", err)
	}
	return result, nil
}

// ListJobResults implements records.JobStore, newest first.
func (s *Store) ListJobResults(ctx context.Context, jurisdictionID string, limit int) ([]records.JobResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT payload FROM job_results
WHERE $1 = '' OR jurisdiction_id = $1
ORDER BY completed_at DESC, job_id DESC
LIMIT $2`, jurisdictionID, limitArg(limit))
	if err != nil {
		return nil, classify("list jobs", err)
	}
	defer rows.Close()
	out := make([]records.JobResult, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, classify("scan job", err)
		}
		var result records.JobResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read jobs", err)
	}
	return out, nil
}

const resolveReviewSQL = `
DELETE FROM review_queue
WHERE kind = $1 AND jurisdiction = $2 AND natural_key = $3 AND mention = $4`

// EnqueueReview implements records.ReviewStore. A mention is queued once.
func (s *Store) EnqueueReview(ctx context.Context, item records.ReviewItem) error {
	r := item.Record
	_, err := s.pool.Exec(ctx, `
INSERT INTO review_queue (id, kind, jurisdiction, natural_key, mention, candidate_id, confidence, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT DO NOTHING`,
		item.ID, string(r.Kind), r.Jurisdiction, r.NaturalKey, item.Mention,
		item.CandidateID, item.Confidence, item.Reason, item.CreatedAt,
	)
	if err != nil {
		return classify("enqueue review "+r.String(), err)
	}
	return nil
}

// ResolveReview implements records.ReviewStore.
func (s *Store) ResolveReview(ctx context.Context, ref records.RecordRef, mention string) error {
	_, err := s.pool.Exec(ctx, resolveReviewSQL, string(ref.Kind), ref.Jurisdiction, ref.NaturalKey, mention)
	if err != nil {
		return classify("resolve review "+ref.String(), err)
	}
	return nil
}

// ListReview implements records.ReviewStore, oldest first.
func (s *Store) ListReview(ctx context.Context, limit int) ([]records.ReviewItem, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, kind, jurisdiction, natural_key, mention, candidate_id, confidence, reason, created_at
FROM review_queue ORDER BY created_at, id LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, classify("list review", err)
	}
	defer rows.Close()
	out := make([]records.ReviewItem, 0)
	for rows.Next() {
		var (
			item records.ReviewItem
			kind string
		)
		if err := rows.Scan(
			&item.ID, &kind, &item.Record.Jurisdiction, &item.Record.NaturalKey, &item.Mention,
			&item.CandidateID, &item.Confidence, &item.Reason, &item.CreatedAt,
		); err != nil {
			return nil, classify("scan review", err)
		}
		item.Record.Kind = records.RecordKind(kind)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read review", err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/records-resolver/internal/records"
)

const maxRedirectHops = 32

const resolveSQL = `
WITH RECURSIVE chain (id, redirect_to, depth) AS (
	SELECT id, redirect_to, 0 FROM entities WHERE id = $1
	UNION ALL
	SELECT e.id, e.redirect_to, c.depth + 1
	FROM entities e JOIN chain c ON e.id = c.redirect_to
	WHERE c.depth < $2
)
SELECT id FROM chain WHERE redirect_to IS NULL LIMIT 1`

const upsertEntitySQL = `
INSERT INTO entities (id, redirect_to, payload, score)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	redirect_to = EXCLUDED.redirect_to,
	payload     = EXCLUDED.payload,
	updated_at  = now()`

const linkColumns = "kind, jurisdiction, natural_key, mention, entity_id, layer, confidence, linked_at"

func resolveID(ctx context.Context, q querier, id string) (string, error) {
	var live string
	if err := q.QueryRow(ctx, resolveSQL, id, maxRedirectHops).Scan(&live); err != nil {
		return "", classify("resolve entity "+id, err)
	}
	return live, nil
}

func saveEntity(ctx context.Context, q querier, e records.Entity) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", e.ID, err)
	}
	if _, err := q.Exec(ctx, upsertEntitySQL, e.ID, nullable(e.RedirectTo), payload, e.Score); err != nil {
		return classify("save entity "+e.ID, err)
	}
	if _, err := q.Exec(ctx, `DELETE FROM entity_keys WHERE entity_id = $1`, e.ID); err != nil {
		return classify("clear keys "+e.ID, err)
	}
	if e.Tombstoned() || len(e.BlockingKeys) == 0 {
		return nil
	}
	if _, err := q.Exec(ctx,
		`INSERT INTO entity_keys (key, entity_id) SELECT unnest($1::text[]), $2 ON CONFLICT DO NOTHING`,
		e.BlockingKeys, e.ID,
	); err != nil {
		return classify("index keys "+e.ID, err)
	}
	return nil
}

func scanEntity(row pgx.Row) (records.Entity, error) {
	var (
		payload []byte
		score   float64
		e       records.Entity
	)
	if err := row.Scan(&payload, &score); err != nil {
		return e, err
	}
	if err := json.Unmarshal(payload, &e); err != nil {
		return e, fmt.Errorf("decode entity payload: %w", err)
	}
	e.Score = score
	return e, nil
}

func collectEntities(rows pgx.Rows) ([]records.Entity, error) {
	defer rows.Close()
	out := make([]records.Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, classify("scan entity", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read entities", err)
	}
	return out, nil
}

// SaveEntity implements records.EntityStore.
func (s *Store) SaveEntity(ctx context.Context, e records.Entity) error {
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	return s.inTx(ctx, "save entity "+e.ID, func(tx pgx.Tx) error {
		return saveEntity(ctx, tx, e)
	})
}

// GetEntity implements records.EntityStore.
func (s *Store) GetEntity(ctx context.Context, id string) (records.Entity, error) {
	live, err := resolveID(ctx, s.pool, id)
	if err != nil {
		return records.Entity{}, err
	}
	e, err := scanEntity(s.pool.QueryRow(ctx, `SELECT payload, score FROM entities WHERE id = $1`, live))
	if err != nil {
		return records.Entity{}, classify("entity "+live, err)
	}
	return e, nil
}

// ResolveEntityID implements records.EntityStore.
func (s *Store) ResolveEntityID(ctx context.Context, id string) (string, error) {
	return resolveID(ctx, s.pool, id)
}

// FindCandidates implements records.EntityStore. Only live entities are returned.
func (s *Store) FindCandidates(ctx context.Context, keys []string) ([]records.Entity, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT e.payload, e.score FROM entities e
WHERE e.redirect_to IS NULL
  AND EXISTS (SELECT 1 FROM entity_keys k WHERE k.entity_id = e.id AND k.key = ANY($1))
ORDER BY e.id`, keys)
	if err != nil {
		return nil, classify("find candidates", err)
	}
	return collectEntities(rows)
}

// LinkRecord implements records.EntityStore.
func (s *Store) LinkRecord(ctx context.Context, link records.RecordLink) error {
	r := link.Record
	_, err := s.pool.Exec(ctx, `
INSERT INTO record_links (`+linkColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (kind, jurisdiction, natural_key, mention) DO UPDATE SET
	entity_id  = EXCLUDED.entity_id,
	layer      = EXCLUDED.layer,
	confidence = EXCLUDED.confidence,
	linked_at  = EXCLUDED.linked_at`,
		string(r.Kind), r.Jurisdiction, r.NaturalKey, link.Mention,
		link.EntityID, string(link.Layer), link.Confidence, link.LinkedAt,
	)
	if err != nil {
		return classify("link "+r.String(), err)
	}
	return nil
}

func collectLinks(rows pgx.Rows) ([]records.RecordLink, error) {
	defer rows.Close()
	out := make([]records.RecordLink, 0)
	for rows.Next() {
		var (
			l           records.RecordLink
			kind, layer string
		)
		if err := rows.Scan(
			&kind, &l.Record.Jurisdiction, &l.Record.NaturalKey, &l.Mention,
			&l.EntityID, &layer, &l.Confidence, &l.LinkedAt,
		); err != nil {
			return nil, classify("scan link", err)
		}
		l.Record.Kind = records.RecordKind(kind)
		l.Layer = records.MatchLayer(layer)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read links", err)
	}
	return out, nil
}

// RecordLinks implements records.EntityStore.
func (s *Store) RecordLinks(ctx context.Context, ref records.RecordRef) ([]records.RecordLink, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+linkColumns+` FROM record_links
WHERE kind = $1 AND jurisdiction = $2 AND natural_key = $3
ORDER BY mention`,
		string(ref.Kind), ref.Jurisdiction, ref.NaturalKey,
	)
	if err != nil {
		return nil, classify("links of "+ref.String(), err)
	}
	return collectLinks(rows)
}

// LinkedRecords implements records.EntityStore.
func (s *Store) LinkedRecords(ctx context.Context, entityID string) ([]records.RecordLink, error) {
	live, err := resolveID(ctx, s.pool, entityID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+linkColumns+` FROM record_links WHERE entity_id = $1
ORDER BY kind, jurisdiction, natural_key, mention`, live)
	if err != nil {
		return nil, classify("records of "+live, err)
	}
	return collectLinks(rows)
}

// lockLive locks an entity row and fails if it has been merged away.
func lockLive(ctx context.Context, tx pgx.Tx, id string) error {
	var redirect *string
	if err := tx.QueryRow(ctx, `SELECT redirect_to FROM entities WHERE id = $1 FOR UPDATE`, id).Scan(&redirect); err != nil {
		return classify("lock entity "+id, err)
	}
	if redirect != nil {
		return fmt.Errorf("entity %s already merged into %s", id, *redirect)
	}
	return nil
}

// MergeEntities implements records.EntityStore in one transaction. Rows are
// locked in id order so concurrent merges cannot deadlock.
func (s *Store) MergeEntities(ctx context.Context, survivor records.Entity, loserID string) error {
	if survivor.ID == loserID {
		return fmt.Errorf("cannot merge entity %s into itself", loserID)
	}
	first, second := survivor.ID, loserID
	if second < first {
		first, second = second, first
	}
	return s.inTx(ctx, "merge "+loserID+" into "+survivor.ID, func(tx pgx.Tx) error {
		if err := lockLive(ctx, tx, first); err != nil {
			return err
		}
		if err := lockLive(ctx, tx, second); err != nil {
			return err
		}
		if err := saveEntity(ctx, tx, survivor); err != nil {
			return err
		}
		steps := []struct {
			name string
			sql  string
			args []any
		}{
			{"tombstone", `UPDATE entities SET redirect_to = $1, payload = payload || jsonb_build_object('redirect_to', $1::text), updated_at = now() WHERE id = $2`, []any{survivor.ID, loserID}},
			{"drop keys", `DELETE FROM entity_keys WHERE entity_id = $1`, []any{loserID}},
			{"move links", `UPDATE record_links SET entity_id = $1 WHERE entity_id = $2`, []any{survivor.ID, loserID}},
			{"copy signals", `
INSERT INTO signals (entity_id, signal_type, source, detected_at, payload)
SELECT $1, signal_type, source, detected_at, jsonb_set(payload, '{entity_id}', to_jsonb($1::text))
FROM signals WHERE entity_id = $2
ON CONFLICT DO NOTHING`, []any{survivor.ID, loserID}},
			{"drop signals", `DELETE FROM signals WHERE entity_id = $1`, []any{loserID}},
			{"rekey household", `
INSERT INTO household_edges (a, b, relation, evidence, created_at)
SELECT LEAST(na, nb), GREATEST(na, nb), relation, evidence, created_at FROM (
	SELECT CASE WHEN a = $2 THEN $1::text ELSE a END AS na,
	       CASE WHEN b = $2 THEN $1::text ELSE b END AS nb,
	       relation, evidence, created_at
	FROM household_edges WHERE a = $2 OR b = $2
) moved
WHERE na <> nb
ON CONFLICT (a, b, relation) DO NOTHING`, []any{survivor.ID, loserID}},
			{"drop household", `DELETE FROM household_edges WHERE a = $1 OR b = $1`, []any{loserID}},
		}
		for _, step := range steps {
			if _, err := tx.Exec(ctx, step.sql, step.args...); err != nil {
				return classify("merge "+step.name, err)
			}
		}
		return nil
	})
}

// AddHouseholdEdge implements records.EntityStore.
func (s *Store) AddHouseholdEdge(ctx context.Context, edge records.HouseholdEdge) error {
	edge = edge.Canonical()
	if edge.A == "" || edge.A == edge.B {
		return fmt.Errorf("household edge needs two distinct entities")
	}
	evidence, err := json.Marshal(edge.Evidence)
	if err != nil {
		return fmt.Errorf("marshal edge evidence: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO household_edges (a, b, relation, evidence, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (a, b, relation) DO NOTHING`,
		edge.A, edge.B, edge.Relation, evidence, edge.CreatedAt,
	)
	if err != nil {
		return classify("household "+edge.A+"/"+edge.B, err)
	}
	return nil
}

// Household implements records.EntityStore.
func (s *Store) Household(ctx context.Context, entityID string) ([]records.HouseholdEdge, error) {
	live, err := resolveID(ctx, s.pool, entityID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
SELECT a, b, relation, evidence, created_at FROM household_edges
WHERE a = $1 OR b = $1 ORDER BY a, b`, live)
	if err != nil {
		return nil, classify("household of "+live, err)
	}
	defer rows.Close()
	out := make([]records.HouseholdEdge, 0)
	for rows.Next() {
		var (
			edge     records.HouseholdEdge
			evidence []byte
		)
		if err := rows.Scan(&edge.A, &edge.B, &edge.Relation, &evidence, &edge.CreatedAt); err != nil {
			return nil, classify("scan household", err)
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &edge.Evidence); err != nil {
				return nil, fmt.Errorf("decode edge evidence: %w", err)
			}
		}
		out = append(out, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read household", err)
	}
	return out, nil
}

// ListEntities implements records.EntityStore.
func (s *Store) ListEntities(ctx context.Context, limit int) ([]records.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload, score FROM entities WHERE redirect_to IS NULL ORDER BY id LIMIT $1`,
		limitArg(limit),
	)
	if err != nil {
		return nil, classify("list entities", err)
	}
	return collectEntities(rows)
}

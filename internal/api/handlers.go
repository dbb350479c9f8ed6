package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/fleet"
	"github.com/JakeFAU/records-resolver/internal/records"
)

const (
	defaultReviewLimit = 100
	maxReviewLimit     = 1000
	maxOptionsBody     = 64 << 10
)

// decodeOptions reads run options from the body. An empty body enables every
// phase.
func decodeOptions(r *http.Request) (records.Options, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOptionsBody))
	if err != nil {
		return records.Options{}, err
	}
	if len(body) == 0 {
		return records.AllPhases(), nil
	}
	var opts records.Options
	if err := json.Unmarshal(body, &opts); err != nil {
		return records.Options{}, err
	}
	if opts.MaxRecords < 0 {
		return records.Options{}, errors.New("max_records must be >= 0")
	}
	if opts.From != nil && opts.To != nil && opts.To.Before(*opts.From) {
		return records.Options{}, errors.New("to must not be before from")
	}
	return opts, nil
}

func wantsWait(r *http.Request) bool {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return wait
}

func (s *Server) listJurisdictions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jurisdictions": s.fleet.Jurisdictions()})
}

func (s *Server) runJurisdiction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	opts, err := decodeOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid options: "+err.Error())
		return
	}
	jobID, done, err := s.fleet.Start(r.Context(), id, opts)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			writeError(w, http.StatusNotFound, "jurisdiction not found")
			return
		}
		if errors.Is(err, fleet.ErrDraining) {
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !wantsWait(r) {
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "jurisdiction_id": id})
		return
	}
	select {
	case result := <-done:
		writeJSON(w, http.StatusOK, result)
	case <-r.Context().Done():
		// The job keeps running; the client can poll /v1/jobs/{id}.
		s.logger.Info("client left before job finished", zap.String("job_id", jobID))
	}
}

func (s *Server) runFleet(w http.ResponseWriter, r *http.Request) {
	opts, err := decodeOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid options: "+err.Error())
		return
	}
	select {
	case s.runs <- struct{}{}:
	default:
		writeError(w, http.StatusConflict, "a fleet run is already in progress")
		return
	}

	if wantsWait(r) {
		defer func() { <-s.runs }()
		writeJSON(w, http.StatusOK, map[string]any{"outcomes": s.fleet.RunAll(r.Context(), opts)})
		return
	}
	ctx := context.WithoutCancel(r.Context())
	go func() {
		defer func() { <-s.runs }()
		outcomes := s.fleet.RunAll(ctx, opts)
		s.logger.Info("fleet run finished", zap.Int("jurisdictions", len(outcomes)))
	}()
	ids := make([]string, 0)
	for _, j := range s.fleet.Jurisdictions() {
		ids = append(ids, j.ID)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jurisdictions": ids})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if snap, ok := s.fleet.ActiveJob(id); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	result, err := s.store.GetJobResult(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type entityResponse struct {
	Entity         records.Entity          `json:"entity"`
	Household      []records.HouseholdEdge `json:"household"`
	RedirectedFrom string                  `json:"redirected_from,omitempty"`
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entity, err := s.store.GetEntity(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "entity not found")
		return
	}
	household, err := s.store.Household(r.Context(), entity.ID)
	if err != nil {
		s.writeStoreError(w, err, "entity not found")
		return
	}
	resp := entityResponse{Entity: entity, Household: household}
	if entity.ID != id {
		resp.RedirectedFrom = id
	}
	writeJSON(w, http.StatusOK, resp)
}

type signalsResponse struct {
	EntityID string           `json:"entity_id"`
	Score    float64          `json:"score"`
	Active   []records.Signal `json:"active"`
	History  []records.Signal `json:"history"`
}

func (s *Server) getSignals(w http.ResponseWriter, r *http.Request) {
	entity, err := s.store.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err, "entity not found")
		return
	}
	history, err := s.store.ListSignals(r.Context(), entity.ID)
	if err != nil {
		s.writeStoreError(w, err, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, signalsResponse{
		EntityID: entity.ID,
		Score:    entity.Score,
		Active:   records.ActiveSignals(history),
		History:  history,
	})
}

func (s *Server) listReview(w http.ResponseWriter, r *http.Request) {
	limit := defaultReviewLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxReviewLimit)
	}
	items, err := s.store.ListReview(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, records.ErrNotFound) && notFound != "":
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, records.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		s.logger.Error("store read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

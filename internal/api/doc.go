// Package api hosts the thin HTTP layer over the fleet orchestrator and the
// store gateway. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jurisdictions/{id}/run and /v1/fleet/run to trigger jobs.
//   - GET /v1/jobs/{id}, /v1/entities/{id}, /v1/entities/{id}/signals and
//     /v1/review for read-only access to results.
package api

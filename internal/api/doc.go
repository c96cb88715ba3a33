// Package api hosts the operational HTTP surface. Routes:
//   - GET /healthz and /readyz for probes; readiness pings the run store.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/v1/runs, /api/v1/runs/{run_id} and
//     /api/v1/runs/{run_id}/kinds for read-only run history via the
//     RunRepository interface.
//
// Crawl runs are started from the CLI, not over HTTP.
package api

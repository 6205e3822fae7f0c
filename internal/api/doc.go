// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/v1/search for read-through dossier lookups.
//   - POST /api/v1/runs to reserve a run ID, GET /api/v1/runs and
//     /api/v1/runs/{run_id} to poll progress via store.RunRepository.
//   - /api/v1/cache/... for cache statistics and maintenance.
package api

// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/documents and /v1/documents/batch to refine documents that
//     were fetched elsewhere.
//   - POST /v1/ingest to start a fetch-and-refine session through the
//     workflow client.
//   - GET /v1/stats, /v1/stats/report and /v1/dedup/stats for session
//     metrics.
//   - GET, DELETE /v1/cache and GET /v1/cache/policy for URL cache rows.
package api

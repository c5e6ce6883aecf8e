// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/campuses/{campus_id}/listings for the public search.
//   - /v1/universities, /v1/campuses and /v1/campuses/{campus_id}/ingest for
//     administration, guarded by X-API-Key when auth is enabled.
package api

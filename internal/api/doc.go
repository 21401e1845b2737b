// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sites lists configured sites.
//   - POST /v1/sites/{name}/runs queues a pipeline run and answers 202.
//   - GET /v1/jobs and /v1/jobs/{id} report job status.
package api

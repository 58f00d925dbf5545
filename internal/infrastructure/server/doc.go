// Package server wires configuration, logging, metrics, the event loop,
// the viewer and the HTTP API into one runnable server.
//
// Routes:
//
//	GET    /                  service banner
//	GET    /health            health, metrics snapshot, breaker states
//	GET    /metrics           Prometheus exposition
//	GET    /v1/curls          cache subdomain label for ?host=
//	GET    /v1/cache-url      cache URL from query parameters
//	POST   /v1/cache-url      cache URL from a JSON body
//	POST   /v1/prefetch       warm the cache for publisher URLs
//	GET    /v1/sessions       live attachments
//	GET    /v1/sessions/:id   one attachment
//	DELETE /v1/sessions/:id   detach
//	GET    /v1/bridge         WebSocket bridge for the host page
package server

// Package prefetch warms the AMP cache by fetching native (/c/) cache URLs
// before a document is shown, and reports whether each response is an AMP
// document.
//
// Requests go through resty over a retrying transport, a shared rate
// limiter, and a circuit breaker per cache host.
package prefetch

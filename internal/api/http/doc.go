// Package http provides the REST handlers of the viewer service: cache URL
// building, curls label lookup, cache warming, session listing and
// teardown, and health.
package http

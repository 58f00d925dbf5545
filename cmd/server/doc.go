// Package main runs the AMP viewer server.
//
// The server hosts the viewer API: cache URL construction, curls labels,
// cache warming, session inspection and the websocket bridge that host
// pages use to attach AMP documents.
//
// Configuration comes from the environment (see internal/infrastructure/config).
// Flags override a few values:
//
//	./server -port 8080
//	./server -dev          # console logs at debug level
//
// SIGINT and SIGTERM trigger a graceful shutdown.
package main

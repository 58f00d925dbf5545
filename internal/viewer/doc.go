// Package viewer attaches AMP documents to a host: it builds each
// document's cache URL, runs the messaging handshake with its frame, keeps
// the navigation history and relays broadcasts between documents.
package viewer

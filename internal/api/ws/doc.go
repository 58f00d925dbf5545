// Package ws bridges a host page to the viewer over a WebSocket.
//
// The page embeds cache documents in iframes but the handshake runs on the
// server: each connection acts as the page's window, and every attached
// iframe gets a server-side Frame whose postMessage calls become frames on
// the socket. Ports transferred by polling probes are relayed as numbered
// channels.
//
// Frames (client to server):
//   - attach{url, strategy, params}: build the cache URL and start a session
//   - detach{id}: tear an attachment down
//   - message{origin, source, data}: a window message from an iframe
//   - port{channel, data}: a message on a transferred channel
//   - popstate{state}: browser history navigation
//   - visibility{id, state, prerenderSize}: visibility change
//   - ping
//
// Frames (server to client):
//   - attach{id, frame, src, origin}: point the new iframe at src
//   - post{frame, target, channel, data}: postMessage into an iframe
//   - port{channel, data}: relay on a transferred channel
//   - history{state, url}: push a history entry
//   - event{frame, name, data, rsvp}: application request from a document
//   - error{message}, pong
//
// Attachments made over a connection are detached when it closes.
package ws

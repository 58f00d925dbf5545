// Package cacheurl builds AMP cache URLs for publisher documents.
//
// A cache URL is assembled from the curls label of the publisher host, the
// cache root domain, an entry point path (/v/ for the browser viewer, /c/
// for native shells), an "s/" marker for https publishers, the publisher
// host, path and query, and a fragment carrying the viewer init params:
//
//	https://www-example-com.cdn.ampproject.org/v/s/www.example.com/a?x=1&amp_js_v=0.1#origin=...
//
// Example Usage:
//
//	b := cacheurl.NewBuilder(cacheurl.Options{})
//	u, err := b.Build("https://www.example.com/a", cacheurl.NewInitParams("origin", "http://localhost:8000"), cacheurl.ModeViewer)
//	if err != nil {
//		return err // wraps cacheurl.ErrInvalidURL
//	}
//	iframe.Src = u.String()
//	session := messaging.NewSession(loop, messaging.Config{Origin: u.Origin(), ...})
package cacheurl

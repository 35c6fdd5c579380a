// Package videocache implements the progressive-download engine of the proxy.
//
// A Resource is the single-writer/multi-reader primitive: exactly one
// background fetch appends origin bytes to the cache store while any number
// of connections block in Read until the bytes they need are on disk, the
// resource completes, or the fetch fails. Waiting is tied to one condition
// variable guarding (available, completed, error).
//
// A Responder serves one request on one connection. It writes the raw
// HTTP/1.1 header block, decides whether the requested range is worth
// serving from cache, and streams the body through one of a closed set of
// strategies: cached, live or hybrid. The Registry shares one Responder per
// URL among concurrent connections and tears it down when the last one ends.
package videocache

// Package source models the remote media origin. A Source reports the
// resource length and MIME type, can be (re)opened at an arbitrary byte
// offset and yields sequential chunks until io.EOF. Every handle is owned by
// exactly one fetch; Clone hands out a fresh private handle that shares the
// probed metadata, so concurrent fetches never share a response body.
//
// HTTP(S) origins are served through the shared upstream http.Client with
// Range requests; s3:// origins go through the AWS SDK with ranged GetObject
// calls. Probed metadata can be persisted through an InfoStorage so completed
// resources replay without contacting the origin.
package source

// Package cache holds the on-disk side of the proxy. Every proxied resource is
// backed by one append-only file: bytes are appended by the single background
// fetch while any number of readers call ReadAt concurrently. Incomplete files
// carry a ".download" suffix and are renamed to their final name once the
// origin reports end-of-stream, so a completed file on disk is always whole.
// The Manager maps origin URLs to file names, persists probed source info as
// JSON sidecars and trims completed files oldest-first when the configured
// budget is exceeded.
package cache

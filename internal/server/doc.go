// Package server hosts the Fiber HTTP service that fronts the media cache.
// It attaches the recover and request-id middlewares, routes every non
// diagnostics path to the injected ProxyHandler, and builds the shared
// upstream http.Client. Diagnostics endpoints under /-/ live in the routes
// subpackage so the proxy package never depends on them.
package server

// Package metrics exposes Prometheus instrumentation for the proxy.
//
// The Collector owns a private registry so tests and embedded uses never
// collide with the global default registry. A disabled Collector keeps the
// same API and records nothing, which lets callers instrument unconditionally.
package metrics

// Package pkgmetrics exposes the Prometheus instruments of the upload
// pipeline and the HTTP handler that serves them.
package pkgmetrics

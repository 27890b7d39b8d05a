// Package pkgroutine contains helpers for running goroutines safely.
//
// The Manager type limits concurrency, collects returned errors, and turns
// panics into errors so that background work does not crash the process
// silently. It serves both as the background runner and as the bounded worker
// pool behind concurrent chunk uploads.
package pkgroutine

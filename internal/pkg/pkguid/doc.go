// Package pkguid provides helpers for generating unique identifiers.
//
// The codebase uses these interfaces to avoid hard-coding a specific UID
// strategy:
//   - String IDs (UUIDv7) for request correlation and event IDs.
//   - Numeric IDs (Snowflake) for upload runs.
package pkguid

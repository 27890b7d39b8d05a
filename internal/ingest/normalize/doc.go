// Package normalize turns a raw CSV payload into an entity.RecordSet.
//
// Currency columns are stripped of "$" and "," and parsed as decimals, the
// transaction timestamp column is reduced to a calendar date, and pandas-style
// null tokens become nulls. A value that cannot be cleaned is replaced with
// null and counted in Stats; it never fails the run.
package normalize

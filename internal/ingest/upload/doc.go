// Package upload moves a normalized record set into remote storage.
//
// Plan splits rows into contiguous chunks, Uploader.Upload sends them through
// a Client and reports failed spans, and Uploader.RetryFailedChunks re-sends
// those spans with smaller chunk sizes until they succeed or the retry levels
// run out. Rows that never succeed come back as a record set in their
// original order.
package upload

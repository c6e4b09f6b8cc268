// Package progress carries pipeline events from ingest workers to pluggable
// sinks. Workers emit through a non-blocking Hub that batches events on a
// background goroutine, so slow sinks never stall document processing.
package progress

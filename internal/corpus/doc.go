// Package corpus defines the document, chunk and collaborator types shared by
// the cleaning, deduplication, chunking and metrics subsystems of the
// corpus-refinery pipeline.
package corpus
